// Package api exposes the pipeline engine over HTTP: dataset listing, run
// triggering, backfill, and run inspection.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lakeflow/internal/domain"
	"lakeflow/internal/pipeline"
)

// engine defines the pipeline operations used by the API handler.
type engine interface {
	TriggerRun(ctx context.Context, dataset string, iv domain.Interval, triggerType string) (*domain.DagRun, error)
	Backfill(ctx context.Context, dataset string, from, to domain.Interval) ([]pipeline.BackfillResult, error)
	CancelRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (*domain.DagRun, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.DagRun, int64, error)
	ListTaskRuns(ctx context.Context, runID string) ([]domain.TaskRun, error)
	Registry() *pipeline.Registry
}

// Handler serves the HTTP API.
type Handler struct {
	engine engine
	logger *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(e engine, logger *slog.Logger) *Handler {
	return &Handler{engine: e, logger: logger}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/datasets", h.ListDatasets)
		r.Post("/datasets/{name}/runs", h.TriggerRun)
		r.Post("/datasets/{name}/backfill", h.Backfill)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Get("/runs/{runID}/tasks", h.ListTaskRuns)
		r.Post("/runs/{runID}/cancel", h.CancelRun)
	})

	return r
}

// === Wire shapes ===

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type datasetResponse struct {
	Name          string `json:"name"`
	Schedule      string `json:"schedule,omitempty"`
	Granularity   string `json:"granularity"`
	Table         string `json:"table"`
	ExternalTable string `json:"external_table"`
}

type runResponse struct {
	ID           string     `json:"id"`
	Dataset      string     `json:"dataset"`
	Interval     string     `json:"interval"`
	Status       string     `json:"status"`
	TriggerType  string     `json:"trigger_type"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type taskRunResponse struct {
	ID           string     `json:"id"`
	TaskName     string     `json:"task_name"`
	Status       string     `json:"status"`
	Attempt      int        `json:"attempt"`
	ErrorClass   *string    `json:"error_class,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type runListResponse struct {
	Data  []runResponse `json:"data"`
	Total int64         `json:"total"`
}

type triggerRequest struct {
	Interval string `json:"interval"`
}

type backfillRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type backfillEntry struct {
	Interval string `json:"interval"`
	RunID    string `json:"run_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runToAPI(r domain.DagRun) runResponse {
	return runResponse{
		ID:           r.ID,
		Dataset:      r.Dataset,
		Interval:     r.Interval.Key(),
		Status:       r.Status,
		TriggerType:  r.TriggerType,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		CreatedAt:    r.CreatedAt,
	}
}

func taskRunToAPI(tr domain.TaskRun) taskRunResponse {
	return taskRunResponse{
		ID:           tr.ID,
		TaskName:     tr.TaskName,
		Status:       tr.Status,
		Attempt:      tr.Attempt,
		ErrorClass:   tr.ErrorClass,
		ErrorMessage: tr.ErrorMessage,
		StartedAt:    tr.StartedAt,
		FinishedAt:   tr.FinishedAt,
	}
}

// === Handlers ===

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDatasets returns the registered datasets.
func (h *Handler) ListDatasets(w http.ResponseWriter, _ *http.Request) {
	datasets := h.engine.Registry().Datasets()
	out := make([]datasetResponse, len(datasets))
	for i, ds := range datasets {
		out[i] = datasetResponse{
			Name:          ds.Name,
			Schedule:      ds.Schedule,
			Granularity:   string(ds.Granularity),
			Table:         ds.Table,
			ExternalTable: ds.ExternalTable,
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// TriggerRun starts a manual run for one interval.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	iv, err := h.parseInterval(name, req.Interval)
	if err != nil {
		h.writeError(w, err)
		return
	}

	run, err := h.engine.TriggerRun(r.Context(), name, iv, domain.TriggerTypeManual)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, runToAPI(*run))
}

// Backfill runs the DAG for every interval in the requested range. The
// request blocks until all intervals have finished.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	from, err := h.parseInterval(name, req.From)
	if err != nil {
		h.writeError(w, err)
		return
	}
	to, err := h.parseInterval(name, req.To)
	if err != nil {
		h.writeError(w, err)
		return
	}

	results, err := h.engine.Backfill(r.Context(), name, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]backfillEntry, len(results))
	for i, res := range results {
		entry := backfillEntry{Interval: res.Interval.Key(), RunID: res.RunID, Status: res.Status}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out[i] = entry
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ListRuns returns a filtered, paginated run list.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RunFilter{}
	if v := q.Get("dataset"); v != "" {
		filter.Dataset = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, domain.ErrValidation("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, domain.ErrValidation("invalid offset %q", v))
			return
		}
		filter.Offset = n
	}

	runs, total, err := h.engine.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := make([]runResponse, len(runs))
	for i, run := range runs {
		data[i] = runToAPI(run)
	}
	h.writeJSON(w, http.StatusOK, runListResponse{Data: data, Total: total})
}

// GetRun returns one run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runToAPI(*run))
}

// ListTaskRuns returns the per-task records of one run.
func (h *Handler) ListTaskRuns(w http.ResponseWriter, r *http.Request) {
	taskRuns, err := h.engine.ListTaskRuns(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]taskRunResponse, len(taskRuns))
	for i, tr := range taskRuns {
		out[i] = taskRunToAPI(tr)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CancelRun requests cancellation of an active run.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// === Helpers ===

// parseInterval parses an interval key using the dataset's granularity.
func (h *Handler) parseInterval(dataset, key string) (domain.Interval, error) {
	if key == "" {
		return domain.Interval{}, domain.ErrValidation("interval is required")
	}
	ds, _, _, err := h.engine.Registry().Lookup(dataset)
	if err != nil {
		return domain.Interval{}, err
	}
	return domain.ParseInterval(key, ds.Granularity)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorBody{Code: status, Message: err.Error()})
}
