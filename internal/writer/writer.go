// Package writer persists findings and turns them into monitored tasks.
package writer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

// Store is the persistence the writer needs
type Store interface {
	SaveFindings(ctx context.Context, findings []model.Finding) error
	ListFindings(ctx context.Context, filter storage.FindingFilter) ([]model.Finding, error)
	SetFindingStatus(ctx context.Context, id string, status model.FindingStatus) error
	CreateTaskFromFinding(ctx context.Context, task *model.Task, baseline *model.Measurement) (bool, error)
	TaskForFinding(ctx context.Context, findingID string) (*model.Task, error)
	SavePerformanceRows(ctx context.Context, rows []storage.PerformanceRow) error
	SaveParetoSnapshot(ctx context.Context, id, runID, metric string, threshold float64, recordCount int, result interface{}, createdAt time.Time) error
	CreateScheduledMaintenance(ctx context.Context, job *model.ScheduledMaintenance) (bool, error)
	OpenMaintenanceCounts(ctx context.Context) (map[string]int, error)
	ListMechanics(ctx context.Context, activeOnly bool) ([]model.Mechanic, error)
}

// Writer persists findings, tasks and scheduled maintenance
type Writer struct {
	logger    *zap.Logger
	store     Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewWriter(logger *zap.Logger, store Store, publisher events.Publisher, m *metrics.Metrics) *Writer {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Writer{
		logger:    logger.Named("writer"),
		store:     store,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// MonitoringSchedule returns the measurement frequency and end date for a
// task on issue starting at start.
func MonitoringSchedule(issue model.IssueType, start time.Time) (model.MonitorFrequency, time.Time) {
	switch issue {
	case model.IssueResponseTime:
		return model.FrequencyDaily, start.AddDate(0, 0, 14)
	case model.IssueRepairTime:
		return model.FrequencyWeekly, start.AddDate(0, 0, 28)
	default:
		return model.FrequencyWeekly, start.AddDate(0, 0, 21)
	}
}

// SaveFindings stamps findings with runID, stores them and publishes one
// event per finding.
func (w *Writer) SaveFindings(ctx context.Context, runID string, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	counts := make(map[model.AnalysisType]int)
	for i := range findings {
		if findings[i].RunID == "" {
			findings[i].RunID = runID
		}
		counts[findings[i].AnalysisType]++
	}
	if err := w.store.SaveFindings(ctx, findings); err != nil {
		return model.WrapError(model.KindStorage, "save_findings", err)
	}
	for t, n := range counts {
		w.metrics.FindingsWritten(string(t), n)
	}
	for _, f := range findings {
		if err := w.publisher.Publish(ctx, events.SubjectFindingCreated, f); err != nil {
			w.logger.Warn("Failed to publish finding", zap.String("finding_id", f.ID), zap.Error(err))
		}
	}
	w.logger.Info("Saved findings", zap.String("run_id", runID), zap.Int("count", len(findings)))
	return nil
}

// BuildTask derives the task and baseline measurement for finding. Findings
// without a mechanic or machine are rejected with KindInvalidInput.
func BuildTask(f model.Finding, today time.Time) (*model.Task, *model.Measurement, error) {
	if !f.HasEntity() {
		return nil, nil, model.NewError(model.KindInvalidInput, "build_task", "finding %s names no mechanic or machine", f.ID)
	}
	d := f.Details
	issue := f.IssueType
	if issue == "" {
		issue = model.ClassifyIssue(f.AnalysisType)
	}

	start := dateOf(today)
	freq, end := MonitoringSchedule(issue, start)

	task := &model.Task{
		ID:               uuid.New().String(),
		FindingID:        f.ID,
		IssueType:        issue,
		AnalysisType:     f.AnalysisType,
		MechanicName:     d.MechanicName,
		EmployeeNumber:   d.EmployeeNumber,
		MachineNumber:    d.MachineNumber,
		MachineType:      d.MachineType,
		Reason:           d.Reason,
		Status:           model.TaskStatusOpen,
		MonitorFrequency: freq,
		MonitorStartDate: start,
		MonitorEndDate:   end,
		MonitorStatus:    model.MonitorStatusActive,
		Notes:            "Auto-created from finding. Original issue: " + f.Summary,
		CreatedAt:        today,
		UpdatedAt:        today,
	}
	if d.MechanicName != "" || d.MechanicID != "" {
		task.EntityType = model.EntityMechanic
		task.EntityID = d.MechanicID
		if task.EntityID == "" {
			task.EntityID = d.MechanicName
		}
	} else {
		task.EntityType = model.EntityMachine
		task.EntityID = d.MachineNumber
	}
	task.Title = Title(task)

	baseline := &model.Measurement{
		ID:              uuid.New().String(),
		TaskID:          task.ID,
		MeasurementDate: start,
		Value:           baselineValue(baselineRate(issue, d, freq)),
		IsBaseline:      true,
		SampleCount:     d.SampleCount,
		Notes:           "Baseline measurement from finding",
		CreatedAt:       today,
	}
	return task, baseline, nil
}

// Title formats "<Issue>: <name> (#<emp>) - <machine> - <reason>".
func Title(t *model.Task) string {
	name := t.MechanicName
	if t.EntityType == model.EntityMachine {
		name = "Machine " + t.MachineNumber
	} else {
		emp := t.EmployeeNumber
		if emp == "" {
			emp = "Unknown"
		}
		name = fmt.Sprintf("%s (#%s)", name, emp)
	}
	machine := t.MachineType
	if machine == "" {
		machine = "All machines"
	}
	reason := t.Reason
	if reason == "" {
		reason = "All reasons"
	}
	return fmt.Sprintf("%s: %s - %s - %s", t.IssueType.Title(), name, machine, reason)
}

// baselineRate puts repeat counts, taken over the whole analysis period, on
// the scale of one measurement window. Averages are returned as they are.
func baselineRate(issue model.IssueType, d model.FindingDetails, freq model.MonitorFrequency) float64 {
	if issue != model.IssueRepeatFailure || d.PeriodDays <= 0 {
		return d.Value
	}
	return d.Value / d.PeriodDays * float64(freq.Days())
}

func baselineValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return analyzer.Round(v, 2)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateTask creates the task for finding unless one exists. created is
// false when the finding already had a task; the existing task is returned.
func (w *Writer) CreateTask(ctx context.Context, f model.Finding, today time.Time) (*model.Task, bool, error) {
	task, baseline, err := BuildTask(f, today)
	if err != nil {
		return nil, false, err
	}

	created, err := w.store.CreateTaskFromFinding(ctx, task, baseline)
	if err != nil {
		return nil, false, model.WrapError(model.KindStorage, "create_task", err)
	}
	if !created {
		existing, err := w.store.TaskForFinding(ctx, f.ID)
		if err != nil {
			return nil, false, err
		}
		w.logger.Debug("Task already exists for finding",
			zap.String("finding_id", f.ID),
			zap.String("task_id", existing.ID))
		return existing, false, nil
	}

	w.metrics.TaskCreated(string(task.IssueType))
	if err := w.publisher.Publish(ctx, events.SubjectTaskCreated, task); err != nil {
		w.logger.Warn("Failed to publish task", zap.String("task_id", task.ID), zap.Error(err))
	}
	w.logger.Info("Created task",
		zap.String("task_id", task.ID),
		zap.String("finding_id", f.ID),
		zap.String("issue_type", string(task.IssueType)),
		zap.String("entity", task.EntityID),
		zap.Time("monitor_end_date", task.MonitorEndDate))
	return task, true, nil
}

// TaskBatch is the outcome of a task creation pass
type TaskBatch struct {
	Created  []model.Task `json:"created"`
	Existing int          `json:"existing"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
}

// CreateTasksFromNewFindings creates tasks for every finding still in the New
// state. Findings without an entity are moved to No_Task and counted as
// skipped; individual failures are logged and counted.
func (w *Writer) CreateTasksFromNewFindings(ctx context.Context, today time.Time) (*TaskBatch, error) {
	findings, err := w.store.ListFindings(ctx, storage.FindingFilter{Status: model.FindingStatusNew})
	if err != nil {
		return nil, model.WrapError(model.KindStorage, "list_new_findings", err)
	}

	batch := &TaskBatch{}
	for _, f := range findings {
		task, created, err := w.CreateTask(ctx, f, today)
		switch {
		case model.KindOf(err) == model.KindInvalidInput:
			if err := w.store.SetFindingStatus(ctx, f.ID, model.FindingStatusNoTask); err != nil {
				w.logger.Error("Failed to close finding", zap.String("finding_id", f.ID), zap.Error(err))
				batch.Failed++
				continue
			}
			batch.Skipped++
		case err != nil:
			w.logger.Error("Failed to create task", zap.String("finding_id", f.ID), zap.Error(err))
			batch.Failed++
		case created:
			batch.Created = append(batch.Created, *task)
		default:
			batch.Existing++
		}
	}
	w.logger.Info("Processed new findings",
		zap.Int("findings", len(findings)),
		zap.Int("created", len(batch.Created)),
		zap.Int("existing", batch.Existing),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", batch.Failed))
	return batch, nil
}
