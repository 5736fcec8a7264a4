package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/chargeflow/internal/batch"
	"github.com/opensource-finance/chargeflow/internal/charges"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/harness"
	"github.com/opensource-finance/chargeflow/internal/lifecycle"
	"github.com/opensource-finance/chargeflow/internal/settlement"
	"github.com/opensource-finance/chargeflow/internal/stats"
	"github.com/opensource-finance/chargeflow/internal/users"
	"github.com/opensource-finance/chargeflow/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAPIRoot prefixes every REST route when the config names none.
const DefaultAPIRoot = "/charge-mgmt/api"

// Services are the components the handlers delegate to.
type Services struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Engine      *charges.Engine
	Lifecycle   *lifecycle.Service
	Batch       *batch.Processor
	Harness     *harness.Harness
	Settlements *settlement.Workflow
	Users       *users.Service
	Stats       *stats.Tracker
	RuleSync    *worker.Worker
	Version     string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc Services) *Server {
	handler := NewHandler(svc)
	router := chi.NewRouter()

	router.Use(
		CORS(cfg.CORSOrigins),
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware,
		middleware.RealIP,
		middleware.Compress(5),
	)
	if cfg.RateLimit > 0 {
		router.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
	}

	router.Handle("/metrics", promhttp.Handler())

	root := cfg.APIRoot
	if root == "" {
		root = DefaultAPIRoot
	}

	router.Route(root, func(r chi.Router) {
		r.Get("/health", handler.Health)
		r.Get("/welcome", handler.Welcome)
		r.Get("/database/test", handler.DatabaseTest)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Get("/active", handler.ListActiveRules)
			r.Get("/pending-approval", handler.ListPendingRules)
			r.Get("/statistics", handler.RuleStatistics)
			r.Get("/metadata", handler.RuleMetadata)
			r.Get("/category/{category}", handler.ListRulesByCategory)
			r.Get("/code/{code}", handler.GetRuleByCode)
			r.Post("/validate", handler.ValidateRule)
			r.Post("/bulk-action", handler.BulkRuleAction)

			r.Get("/{id}", handler.GetRule)
			r.Put("/{id}", handler.UpdateRule)
			r.Delete("/{id}", handler.DeleteRule)
			r.Post("/{id}/approve", handler.TransitionRule(domain.ActionApprove))
			r.Post("/{id}/deactivate", handler.TransitionRule(domain.ActionDeactivate))
			r.Post("/{id}/reactivate", handler.TransitionRule(domain.ActionReactivate))
		})

		r.Route("/charges", func(r chi.Router) {
			r.Post("/calculate", handler.Calculate)
			r.Post("/validate", handler.ValidateTransaction)
			r.Post("/bulk-calculate", handler.BulkCalculate)
			r.Post("/test", handler.RunTest)
			r.Get("/quick-test", handler.QuickTest)
			r.Post("/simulate", handler.Simulate)
			r.Get("/test-scenarios", handler.TestScenarios)
			r.Get("/sample-requests", handler.SampleRequests)
			r.Get("/statistics", handler.ChargeStatistics)
			r.Get("/health", handler.ChargeHealth)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", handler.ListSettlements)
			r.Post("/", handler.CreateSettlement)
			r.Get("/{id}", handler.GetSettlement)
			r.Post("/{id}/approve", handler.TransitionSettlement(settlement.ActionApprove))
			r.Post("/{id}/reject", handler.TransitionSettlement(settlement.ActionReject))
			r.Post("/{id}/process", handler.TransitionSettlement(settlement.ActionProcess))
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", handler.ListUsers)
			r.Post("/", handler.CreateUser)
			r.Get("/{id}", handler.GetUser)
			r.Put("/{id}", handler.UpdateUser)
			r.Delete("/{id}", handler.DeleteUser)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
