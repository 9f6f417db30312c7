package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/metrics"
	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// RouterConfig holds every dependency the HTTP surface needs.
type RouterConfig struct {
	Engine  *taskengine.Engine
	Inv     *inventory.Inventory
	Pool    *rpc.Pool
	Audit   AuditQuerier // nil disables GET /audit/tasks
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// NewRouter builds the fully configured Chi router (spec.md §6 + §4.9).
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/", (&healthHandler{pool: cfg.Pool}).ServeHTTP)

	r.Post("/command", (&commandHandler{
		engine:  cfg.Engine,
		inv:     cfg.Inv,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}).ServeHTTP)

	r.Get("/task/{task_id}", (&taskStatusHandler{engine: cfg.Engine}).ServeHTTP)
	r.Get("/queue/status", (&queueStatusHandler{engine: cfg.Engine}).ServeHTTP)

	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	if cfg.Audit != nil {
		r.Get("/audit/tasks", (&auditTasksHandler{store: cfg.Audit}).ServeHTTP)
	}

	return r
}
