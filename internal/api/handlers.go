package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

type taskStatusHandler struct {
	engine *taskengine.Engine
}

func (h *taskStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snap, err := h.engine.Status(taskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, snap)
}

type queueStatusHandler struct {
	engine *taskengine.Engine
}

func (h *queueStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.engine.QueueStatus())
}

type healthHandler struct {
	pool *rpc.Pool
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, envelope{
		"status": "ok",
		"robots": h.pool.Health(),
	})
}

type auditTasksHandler struct {
	store AuditQuerier
}

// AuditQuerier matches internal/audit.Store's ListTasksJSON signature, kept as
// an interface here so the HTTP layer does not import gorm-backed types it
// does not otherwise need.
type AuditQuerier interface {
	ListTasksJSON(limit int, cmdType, status string) (any, error)
}

func (h *auditTasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cmdType := r.URL.Query().Get("cmd_type")
	status := r.URL.Query().Get("status")

	records, err := h.store.ListTasksJSON(limit, cmdType, status)
	if err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, records)
}
