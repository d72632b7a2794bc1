package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seaward/benguela/internal/store"
	"github.com/seaward/benguela/internal/workflow"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	catalog *workflow.Catalog
	wfStore *workflow.Store
	engine  *workflow.Engine
	runs    *store.Store // nil when no archive database is configured
	logger  *zap.Logger
}

// NewHandler creates a new API handler. runs may be nil.
func NewHandler(
	catalog *workflow.Catalog,
	wfStore *workflow.Store,
	engine *workflow.Engine,
	runs *store.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		catalog: catalog,
		wfStore: wfStore,
		engine:  engine,
		runs:    runs,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/templates", h.listTemplates)

		r.Post("/workflows", h.createWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/execute", h.executeWorkflow)
		r.Post("/workflows/{id}/cancel", h.cancelWorkflow)

		r.Get("/metrics", h.getMetrics)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "benguela"})
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

type createWorkflowRequest struct {
	TemplateID string                    `json:"template_id"`
	Name       string                    `json:"name,omitempty"`
	Overrides  map[string]map[string]any `json:"overrides,omitempty"`
	ScheduleAt string                    `json:"schedule_at,omitempty"` // RFC 3339
	CreatedBy  string                    `json:"created_by,omitempty"`
	Priority   string                    `json:"priority,omitempty"`
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.TemplateID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "template_id is required"})
		return
	}

	opts := workflow.InstantiateOptions{
		Name:      req.Name,
		Overrides: req.Overrides,
		CreatedBy: req.CreatedBy,
		Priority:  workflow.Priority(req.Priority),
	}
	if req.ScheduleAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduleAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "schedule_at must be RFC 3339"})
			return
		}
		opts.ScheduleAt = &at
	}

	wf, err := h.catalog.Instantiate(req.TemplateID, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	h.wfStore.Add(wf)
	writeJSON(w, http.StatusCreated, wf.Snapshot())
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	var out []workflow.Summary
	switch state := r.URL.Query().Get("state"); state {
	case "active":
		out = h.wfStore.ListActive()
	case "completed":
		out = h.wfStore.ListCompleted()
	case "scheduled":
		out = h.wfStore.ListScheduled()
	case "", "all":
		out = h.wfStore.ListAll()
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown state " + strconv.Quote(state)})
		return
	}
	if out == nil {
		out = []workflow.Summary{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := h.engine.Status(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	receipt, err := h.engine.Execute(id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, workflow.ErrAlreadyRunning), errors.Is(err, workflow.ErrFinished):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := h.engine.Cancel(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"cancelled":   cancelled,
	})
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wfStore.SnapshotMetrics())
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run archive not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*workflow.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run archive not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
