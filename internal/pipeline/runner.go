// Package pipeline runs named workflows and records every run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

// Handler executes one workflow. The returned value is stored as the run
// result.
type Handler interface {
	Execute(ctx context.Context, job *model.Job) (interface{}, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *model.Job) (interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, job *model.Job) (interface{}, error) {
	return f(ctx, job)
}

// RunStore records run history
type RunStore interface {
	StoreRun(ctx context.Context, run *storage.RunHistory) error
	UpdateRun(ctx context.Context, run *storage.RunHistory) error
}

// Runner dispatches jobs to registered handlers
type Runner struct {
	logger    *zap.Logger
	history   RunStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	sampler   Sampler

	mu       sync.RWMutex
	handlers map[string]Handler
	running  sync.Map
}

func NewRunner(logger *zap.Logger, history RunStore, publisher events.Publisher, m *metrics.Metrics) *Runner {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		logger:    logger.Named("runner"),
		history:   history,
		publisher: publisher,
		metrics:   m,
		sampler:   SampleResources,
		handlers:  make(map[string]Handler),
	}
}

// RegisterHandler registers a workflow handler
func (r *Runner) RegisterHandler(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Workflows lists the registered workflow names.
func (r *Runner) Workflows() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Running returns the jobs currently executing.
func (r *Runner) Running() []*model.Job {
	var jobs []*model.Job
	r.running.Range(func(key, value interface{}) bool {
		if job, ok := value.(*model.Job); ok {
			jobs = append(jobs, job)
		}
		return true
	})
	return jobs
}

// NewJob builds a job for workflow with payload marshalled to JSON.
func NewJob(workflow string, payload interface{}) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.New().String(),
		Name:      workflow,
		CreatedAt: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		job.Payload = data
	}
	return job, nil
}

// Run executes job synchronously. The error is non-nil only when the job
// cannot be started; handler failures are reported in the result.
func (r *Runner) Run(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	r.mu.RLock()
	handler, ok := r.handlers[job.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.KindInvalidInput, "run", "unknown workflow: %s", job.Name)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("workflow", job.Name))
	startTime := time.Now()

	history := &storage.RunHistory{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Workflow:  job.Name,
		Status:    model.JobStatusRunning,
		Payload:   job.Payload,
		StartedAt: startTime,
	}
	if snapshot, err := r.sampler(ctx); err != nil {
		logger.Warn("Failed to sample resources", zap.Error(err))
	} else if data, err := json.Marshal(snapshot); err == nil {
		history.Metadata = data
	}

	if err := r.history.StoreRun(ctx, history); err != nil {
		logger.Error("Failed to store run history", zap.Error(err))
	}

	r.running.Store(job.ID, job)
	defer r.running.Delete(job.ID)

	logger.Info("Running workflow")
	value, runErr := r.execute(ctx, handler, job)
	endTime := time.Now()

	result := &model.JobResult{
		JobID:       job.ID,
		Name:        job.Name,
		Status:      model.JobStatusCompleted,
		CompletedAt: endTime,
	}
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			logger.Error("Failed to marshal workflow result", zap.Error(err))
		} else {
			result.Result = data
		}
	}
	if runErr != nil {
		result.Status = model.JobStatusFailed
		result.Error = runErr.Error()
		result.ErrorKind = model.KindOf(runErr)
	}

	history.Status = result.Status
	history.Result = result.Result
	history.Error = result.Error
	history.CompletedAt = &endTime
	history.Duration = endTime.Sub(startTime)
	if err := r.history.UpdateRun(ctx, history); err != nil {
		logger.Error("Failed to update run history", zap.Error(err))
	}

	r.metrics.RunFinished(job.Name, string(result.Status), history.Duration)
	if err := r.publisher.Publish(ctx, events.SubjectRunCompleted, result); err != nil {
		logger.Warn("Failed to publish run result", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("Workflow failed",
			zap.String("error_kind", string(result.ErrorKind)),
			zap.Duration("duration", history.Duration),
			zap.Error(runErr))
	} else {
		logger.Info("Workflow completed", zap.Duration("duration", history.Duration))
	}
	return result, nil
}

func (r *Runner) execute(ctx context.Context, handler Handler, job *model.Job) (value interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			value = nil
			err = fmt.Errorf("workflow %s panicked: %v", job.Name, p)
		}
	}()
	return handler.Execute(ctx, job)
}
