package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/asaengine/pkg/events"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// TaskStore is the subset of durable storage the HTTP surface needs.
// pkg/store's sqlx and bbolt implementations both satisfy it.
type TaskStore interface {
	CreateTask(ctx context.Context, task *types.Task) error
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	ListTasksByPrincipal(ctx context.Context, principal string, limit int) ([]*types.Task, error)
	CreateFeedback(ctx context.Context, fb *types.Feedback) error
}

// Coordinator is the subset of queue admission and control the HTTP
// surface needs; pkg/queue's in-memory and Redis coordinators both
// satisfy it.
type Coordinator interface {
	CanAdmit(ctx context.Context, principal string) (ok bool, reason string, err error)
	Enqueue(ctx context.Context, taskID, principal string, priority types.Priority) (*types.JobHandle, error)
	Cancel(ctx context.Context, handleID string) error
	StatusOf(ctx context.Context, handleID string) (types.JobHandle, error)
}

// progressPercent is the static status -> completion-percentage map the
// progress endpoint reports. Terminal states are pinned to 0 or 100.
var progressPercent = map[types.State]int{
	types.StateQueued:                  0,
	types.StateInit:                    5,
	types.StateCloningRepo:             15,
	types.StateIndexingCode:            25,
	types.StateVerifyingBugBehavior:    35,
	types.StateRunningTestsBeforeFix:   45,
	types.StateGeneratingFix:           60,
	types.StateRunningTestsAfterFix:    75,
	types.StateVerifyingFixBehavior:    85,
	types.StateCreatingPRBranch:        95,
	types.StateRetry:                   60,
	types.StateCompleted:               100,
	types.StateFailed:                  100,
	types.StateTimeout:                 100,
	types.StateCancelled:               0,
}

// Server is the engine's HTTP API: a thin chi router translating requests
// into store/queue/broker calls and back into JSON.
type Server struct {
	store    TaskStore
	queue    Coordinator
	broker   *events.Broker
	validate *validator.Validate
	router   chi.Router
	logger   zerolog.Logger
}

// NewServer builds a Server wired to store, queue, and broker.
func NewServer(store TaskStore, queue Coordinator, broker *events.Broker) *Server {
	s := &Server{
		store:    store,
		queue:    queue,
		broker:   broker,
		validate: validator.New(),
		logger:   log.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the http.Handler to pass to http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Principal"},
	}))

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.submitTask)
		r.Get("/", s.listTasks)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Get("/logs", s.getLogs)
			r.Get("/progress", s.getProgress)
			r.Get("/handle", s.getHandle)
			r.Get("/events", s.streamEvents)
			r.Post("/cancel", s.cancelTask)
			r.Post("/feedback", s.submitFeedback)
		})
	})

	return r
}

// metricsMiddleware records APIRequestsTotal and APIRequestDuration for
// every request, keyed by the chi route pattern rather than the raw path
// so /tasks/{taskID} doesn't fragment into one series per task id.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

type submitTaskRequest struct {
	RepoURL        string `json:"repo_url" validate:"required"`
	BugDescription string `json:"bug_description" validate:"required"`
	TestCommand    string `json:"test_command"`
}

func principalFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Principal"))
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RepoURL = strings.TrimSpace(req.RepoURL)
	req.BugDescription = strings.TrimSpace(req.BugDescription)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	principal := principalFromRequest(r)

	ok, reason, err := s.queue.CanAdmit(ctx, principal)
	if err != nil {
		s.logger.Error().Err(err).Msg("admission check failed")
		writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}

	now := time.Now()
	task := &types.Task{
		ID:             uuid.NewString(),
		RepoURL:        req.RepoURL,
		BugDescription: req.BugDescription,
		TestCommand:    req.TestCommand,
		Principal:      principal,
		Status:         types.StateQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	handle, err := s.queue.Enqueue(ctx, task.ID, principal, types.PriorityNormal)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	task.JobHandleID = handle.ID

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("persist task failed")
		writeError(w, http.StatusInternalServerError, "failed to persist task")
		return
	}

	s.broker.Publish(&events.TaskEvent{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Type:   events.EventTaskQueued,
		State:  task.Status,
	})

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := s.store.ListTasksByPrincipal(r.Context(), principal, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) loadTaskOr404(w http.ResponseWriter, r *http.Request) *types.Task {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.LoadTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return nil
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return nil
	}
	return task
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}

	logText := task.Log
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			logText = tailLines(logText, n)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"log": logText})
}

func tailLines(text string, n int) string {
	if text == "" {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

type progressResponse struct {
	Status             types.State `json:"status"`
	ProgressPercentage int         `json:"progress_percentage"`
	DurationSeconds    float64     `json:"duration_seconds"`
	CurrentStep        string      `json:"current_step"`
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}

	end := time.Now()
	if task.Status.IsTerminal() {
		end = task.UpdatedAt
	}

	writeJSON(w, http.StatusOK, progressResponse{
		Status:             task.Status,
		ProgressPercentage: progressPercent[task.Status],
		DurationSeconds:    end.Sub(task.CreatedAt).Seconds(),
		CurrentStep:        currentStep(task.Status),
	})
}

func currentStep(state types.State) string {
	return strings.ToLower(strings.ReplaceAll(string(state), "_", " "))
}

func (s *Server) getHandle(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}
	if task.JobHandleID == "" {
		writeError(w, http.StatusNotFound, "task has no job handle")
		return
	}

	handle, err := s.queue.StatusOf(r.Context(), task.JobHandleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job handle")
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}
	if task.JobHandleID == "" {
		writeError(w, http.StatusConflict, "task has no job handle to cancel")
		return
	}

	if err := s.queue.Cancel(r.Context(), task.JobHandleID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	s.broker.Publish(&events.TaskEvent{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Type:   events.EventTaskCancelled,
		State:  task.Status,
	})

	w.WriteHeader(http.StatusAccepted)
}

type submitFeedbackRequest struct {
	Rating  types.FeedbackRating `json:"rating" validate:"required,oneof=up down"`
	Comment string               `json:"comment"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	task := s.loadTaskOr404(w, r)
	if task == nil {
		return
	}

	var req submitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fb := &types.Feedback{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Principal: principalFromRequest(r),
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateFeedback(r.Context(), fb); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe(taskID)
	defer s.broker.Unsubscribe(taskID, sub)

	ctx := r.Context()
	bw := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", event.Type, payload)
			bw.Flush()
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
