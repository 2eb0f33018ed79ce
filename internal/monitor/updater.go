package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
)

// ExtensionDays is how long an extended task keeps being monitored.
const ExtensionDays = 14

// EvaluationStore is the persistence the updater needs
type EvaluationStore interface {
	ListMeasurements(ctx context.Context, taskID string) ([]model.Measurement, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	SaveEvaluation(ctx context.Context, e *model.Evaluation) error
}

// Notifier tells people about an evaluation outcome
type Notifier interface {
	NotifyDecision(ctx context.Context, task *model.Task, e *model.Evaluation) error
}

// Updater evaluates tasks at the end of their window and applies decisions
type Updater struct {
	logger    *zap.Logger
	store     EvaluationStore
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewUpdater(logger *zap.Logger, store EvaluationStore, notifier Notifier, publisher events.Publisher, m *metrics.Metrics) *Updater {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Updater{
		logger:    logger.Named("updater"),
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// Apply changes task according to the decision in e.
func Apply(task *model.Task, e *model.Evaluation, now time.Time) {
	switch e.Decision.Action {
	case model.ActionClose:
		task.Status = model.TaskStatusClosed
		task.MonitorStatus = model.MonitorStatusCompleted
	case model.ActionExtend:
		task.Status = model.TaskStatusExtended
		task.MonitorStatus = model.MonitorStatusActive
		task.MonitorEndDate = dateOf(task.MonitorEndDate).AddDate(0, 0, ExtensionDays)
		task.ExtensionCount++
	case model.ActionReview:
		task.Status = model.TaskStatusReview
		task.MonitorStatus = model.MonitorStatusPaused
	case model.ActionIntervene:
		task.Status = model.TaskStatusIntervene
		task.MonitorStatus = model.MonitorStatusPaused
	}
	if e.Decision.Explanation != "" {
		task.Notes = e.Decision.Explanation
	}
	task.UpdatedAt = now
}

// Evaluate summarizes the task's measurements, decides, applies the decision
// and records the evaluation.
func (u *Updater) Evaluate(ctx context.Context, task model.Task) (*model.Evaluation, error) {
	logger := u.logger.With(zap.String("task_id", task.ID))

	ms, err := u.store.ListMeasurements(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}

	summary := Summarize(task, ms)
	now := u.now()
	eval := &model.Evaluation{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		Summary:     summary,
		Decision:    Decide(summary),
		EvaluatedAt: now,
	}

	Apply(&task, eval, now)
	if err := u.store.UpdateTask(ctx, &task); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if err := u.store.SaveEvaluation(ctx, eval); err != nil {
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}

	u.metrics.TaskEvaluated(string(eval.Decision.Action))
	if err := u.publisher.Publish(ctx, events.SubjectTaskEvaluated, eval); err != nil {
		logger.Warn("Failed to publish evaluation", zap.Error(err))
	}
	if u.notifier != nil {
		if err := u.notifier.NotifyDecision(ctx, &task, eval); err != nil {
			logger.Warn("Failed to send notification", zap.Error(err))
		}
	}

	logger.Info("Evaluated task",
		zap.String("action", string(eval.Decision.Action)),
		zap.String("confidence", string(eval.Decision.Confidence)),
		zap.Float64("improvement_pct", summary.ImprovementPct),
		zap.Int("measurements", summary.MeasurementCount),
		zap.String("task_status", string(task.Status)))
	return eval, nil
}

// EvaluationRun is the outcome of evaluating a batch of tasks
type EvaluationRun struct {
	Evaluations []model.Evaluation           `json:"evaluations"`
	Actions     map[model.DecisionAction]int `json:"actions"`
	Failed      int                          `json:"failed"`
}

// EvaluateAll evaluates every task, logging and counting failures.
func (u *Updater) EvaluateAll(ctx context.Context, tasks []model.Task) *EvaluationRun {
	run := &EvaluationRun{Actions: make(map[model.DecisionAction]int)}
	for _, t := range tasks {
		eval, err := u.Evaluate(ctx, t)
		if err != nil {
			u.logger.Error("Failed to evaluate task", zap.String("task_id", t.ID), zap.Error(err))
			run.Failed++
			continue
		}
		run.Evaluations = append(run.Evaluations, *eval)
		run.Actions[eval.Decision.Action]++
	}
	return run
}
