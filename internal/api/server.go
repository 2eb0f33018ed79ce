// Package api exposes the agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/pipeline"
)

// WorkflowRunner runs workflow jobs
type WorkflowRunner interface {
	Run(ctx context.Context, job *model.Job) (*model.JobResult, error)
	Workflows() []string
}

// Pinger reports store health
type Pinger interface {
	Ping() error
}

// actionAliases maps request actions onto workflow names.
var actionAliases = map[string]string{
	"analyze":        pipeline.WorkflowFull,
	"analysis":       pipeline.WorkflowFull,
	"tasks":          pipeline.WorkflowCreateTasks,
	"monitor_daily":  pipeline.WorkflowDailyMeasure,
	"monitor_weekly": pipeline.WorkflowWeeklyMeasure,
	"evaluation":     pipeline.WorkflowEvaluate,
}

type Server struct {
	logger  *zap.Logger
	runner  WorkflowRunner
	chat    *Chat
	health  Pinger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewServer(logger *zap.Logger, runner WorkflowRunner, chat *Chat, health Pinger, m *metrics.Metrics, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Server{
		logger:  logger.Named("api"),
		runner:  runner,
		chat:    chat,
		health:  health,
		metrics: m,
		timeout: timeout,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware(routePattern))
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Post("/chat", s.handleChat)
	r.Post("/maintenance/workflow", s.handleWorkflow)
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type chatRequest struct {
	Query string `json:"query"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "invalid JSON body"})
		return
	}

	answer, err := s.chat.Answer(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("Failed to answer query", zap.String("query", req.Query), zap.Error(err))
		writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

type workflowRequest struct {
	Action      string   `json:"action"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	UseDatabase *bool    `json:"use_database,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
}

type workflowResponse struct {
	Status    model.JobStatus `json:"status"`
	Workflow  string          `json:"workflow,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, workflowResponse{Status: model.JobStatusFailed, Error: "invalid JSON body"})
		return
	}

	workflow := strings.TrimSpace(strings.ToLower(req.Action))
	if alias, ok := actionAliases[workflow]; ok {
		workflow = alias
	}

	job, err := pipeline.NewJob(workflow, pipeline.Payload{
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Mode:        req.Mode,
		UseDatabase: req.UseDatabase,
		Threshold:   req.Threshold,
		Metric:      req.Metric,
		Dimensions:  req.Dimensions,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, workflowResponse{Status: model.JobStatusFailed, Error: err.Error()})
		return
	}

	result, err := s.runner.Run(r.Context(), job)
	if err != nil {
		writeJSON(w, http.StatusOK, workflowResponse{
			Status:    model.JobStatusFailed,
			Workflow:  workflow,
			Error:     err.Error() + "; available actions: " + strings.Join(s.runner.Workflows(), ", "),
			ErrorKind: model.KindOf(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, workflowResponse{
		Status:    result.Status,
		Workflow:  workflow,
		JobID:     result.JobID,
		Result:    result.Result,
		Error:     result.Error,
		ErrorKind: result.ErrorKind,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
