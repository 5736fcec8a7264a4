package api

import (
	"net/http"
	"time"

	"github.com/opensource-finance/chargeflow/internal/cache"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     Services
	started time.Time
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:     svc,
		started: time.Now().UTC(),
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.svc.Repo != nil {
		checks["database"] = "up"
		if err := h.svc.Repo.Ping(r.Context()); err != nil {
			checks["database"] = "down"
			status = "degraded"
		}
	}
	if h.svc.Cache != nil {
		checks["cache"] = "up"
		if err := h.svc.Cache.Ping(r.Context()); err != nil {
			checks["cache"] = "down"
			status = "degraded"
		}
	}
	if h.svc.Bus != nil {
		checks["bus"] = "up"
		if err := h.svc.Bus.Ping(r.Context()); err != nil {
			checks["bus"] = "down"
			status = "degraded"
		}
	}

	body := map[string]any{
		"status":  status,
		"version": h.svc.Version,
		"checks":  checks,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if s, ok := h.svc.Cache.(interface{ Stats() cache.Stats }); ok {
		body["cacheStats"] = s.Stats()
	}
	if h.svc.RuleSync != nil {
		body["ruleSync"] = h.svc.RuleSync.GetStats()
	}

	writeData(w, http.StatusOK, body)
}

// Welcome returns the service banner.
func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"service": "Chargeflow Charge Management",
		"message": "Welcome to the charge rule lifecycle and calculation engine",
		"version": h.svc.Version,
		"time":    time.Now().UTC(),
	})
}

// DatabaseTest pings the repository.
func (h *Handler) DatabaseTest(w http.ResponseWriter, r *http.Request) {
	if h.svc.Repo == nil {
		writeError(w, r, domain.Errorf(domain.KindInternal, "repository not available"))
		return
	}

	start := time.Now()
	if err := h.svc.Repo.Ping(r.Context()); err != nil {
		writeError(w, r, domain.Wrap(domain.KindInternal, err, "database ping failed"))
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"connected": true,
		"latencyMs": time.Since(start).Milliseconds(),
	})
}
