package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

// BulkActionRequest is the request body for POST /rules/bulk-action.
type BulkActionRequest struct {
	Action  domain.RuleAction `json:"action"`
	RuleIDs []string          `json:"ruleIds"`
}

// ListRules handles GET /rules?status&category&search.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RuleFilter{
		Status:   domain.RuleStatus(q.Get("status")),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}

	rules, err := h.svc.Lifecycle.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

// ListActiveRules handles GET /rules/active.
func (h *Handler) ListActiveRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.Lifecycle.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

// ListPendingRules handles GET /rules/pending-approval.
func (h *Handler) ListPendingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.Lifecycle.ListPendingApproval(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

// ListRulesByCategory handles GET /rules/category/{category}.
func (h *Handler) ListRulesByCategory(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.Lifecycle.ListByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.Lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rule)
}

// GetRuleByCode handles GET /rules/code/{code}.
func (h *Handler) GetRuleByCode(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.Lifecycle.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules. The rule is stored as DRAFT.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var input domain.Rule
	if err := decodeJSON(r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := h.svc.Lifecycle.Create(r.Context(), &input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var input domain.Rule
	if err := decodeJSON(r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := h.svc.Lifecycle.Update(r.Context(), chi.URLParam(r, "id"), &input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{id}. Only DRAFT rules are deleted.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Lifecycle.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// TransitionRule returns the handler for one lifecycle action.
func (h *Handler) TransitionRule(action domain.RuleAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := h.svc.Lifecycle.Transition(r.Context(), chi.URLParam(r, "id"), action)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, rule)
	}
}

// ValidateRule handles POST /rules/validate.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var input domain.Rule
	if err := decodeJSON(r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, h.svc.Lifecycle.Validate(&input))
}

// BulkRuleAction handles POST /rules/bulk-action.
func (h *Handler) BulkRuleAction(w http.ResponseWriter, r *http.Request) {
	var req BulkActionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Lifecycle.BulkAction(r.Context(), req.Action, req.RuleIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// RuleStatistics handles GET /rules/statistics.
func (h *Handler) RuleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Lifecycle.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// RuleMetadata handles GET /rules/metadata.
func (h *Handler) RuleMetadata(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.svc.Lifecycle.Metadata())
}
