package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/settlement"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date or an RFC3339 timestamp. A bare date
// used as an upper bound covers the whole day.
func parseDate(raw string, upper bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		if upper {
			t = t.Add(24 * time.Hour)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.Errorf(domain.KindValidation, "invalid date %q, want YYYY-MM-DD or RFC3339", raw)
	}
	return t, nil
}

// ListSettlements handles GET /settlements?status&customerCode&dateFrom&dateTo.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseDate(q.Get("dateFrom"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseDate(q.Get("dateTo"), true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.svc.Settlements.List(r.Context(), domain.SettlementFilter{
		Status:       domain.SettlementStatus(q.Get("status")),
		CustomerCode: q.Get("customerCode"),
		From:         from,
		To:           to,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// CreateSettlement handles POST /settlements.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var input domain.Settlement
	if err := decodeJSON(r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.svc.Settlements.Create(r.Context(), &input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, s)
}

// GetSettlement handles GET /settlements/{id}.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Settlements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

// TransitionSettlement returns the handler for one settlement action. The
// review body is optional.
func (h *Handler) TransitionSettlement(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var review settlement.Review
		if err := decodeJSON(r, &review, true); err != nil {
			writeError(w, r, err)
			return
		}

		s, err := h.svc.Settlements.Transition(r.Context(), chi.URLParam(r, "id"), action, review)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, s)
	}
}
