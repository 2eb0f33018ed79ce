package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/ingest"
	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/normalize"
)

// significantChangePct is the change against baseline worth a warning.
const significantChangePct = 10

// MeasurementStatus is the outcome of measuring one task
type MeasurementStatus string

const (
	StatusMeasured  MeasurementStatus = "measured"
	StatusSkipped   MeasurementStatus = "skipped"
	StatusDuplicate MeasurementStatus = "duplicate"
	StatusFailed    MeasurementStatus = "failed"
)

// MeasurementStore persists measurements
type MeasurementStore interface {
	BaselineMeasurement(ctx context.Context, taskID string) (*model.Measurement, error)
	AddMeasurement(ctx context.Context, m *model.Measurement) (bool, error)
}

// MeasurementResult reports what happened to one task
type MeasurementResult struct {
	TaskID        string            `json:"task_id"`
	Status        MeasurementStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	MeasurementID string            `json:"measurement_id,omitempty"`
	Value         float64           `json:"value,omitempty"`
	Count         int               `json:"count,omitempty"`
	ChangePct     float64           `json:"change_pct,omitempty"`
	IsImproved    bool              `json:"is_improved,omitempty"`
}

// MeasurementRun is the outcome of measuring a batch of tasks
type MeasurementRun struct {
	Frequency   model.MonitorFrequency `json:"frequency"`
	WindowStart time.Time              `json:"window_start"`
	WindowEnd   time.Time              `json:"window_end"`
	Results     []MeasurementResult    `json:"results"`
	Measured    int                    `json:"measured"`
	Skipped     int                    `json:"skipped"`
	Failed      int                    `json:"failed"`
}

// Measurer records scheduled measurements from current downtime records
type Measurer struct {
	logger     *zap.Logger
	source     ingest.Source
	normalizer *normalize.Normalizer
	store      MeasurementStore
	publisher  events.Publisher
	metrics    *metrics.Metrics
}

func NewMeasurer(logger *zap.Logger, source ingest.Source, store MeasurementStore, publisher events.Publisher, m *metrics.Metrics) *Measurer {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Measurer{
		logger:     logger.Named("measurer"),
		source:     source,
		normalizer: normalize.NewNormalizer(logger, nil),
		store:      store,
		publisher:  publisher,
		metrics:    m,
	}
}

// Window returns the lookback [start, end) for a measurement at now: the
// previous day for daily tasks and the previous seven days for weekly ones.
func Window(freq model.MonitorFrequency, now time.Time) (time.Time, time.Time) {
	end := dateOf(now)
	return end.AddDate(0, 0, -freq.Days()), end
}

// MeasureAll fetches the window once and measures every task against it.
// Tasks without matching records are skipped without a row.
func (m *Measurer) MeasureAll(ctx context.Context, tasks []model.Task, freq model.MonitorFrequency, now time.Time) (*MeasurementRun, error) {
	start, end := Window(freq, now)
	run := &MeasurementRun{Frequency: freq, WindowStart: start, WindowEnd: end}
	if len(tasks) == 0 {
		return run, nil
	}

	raw, err := m.source.Fetch(ctx, ingest.ClosedBetween(start, end))
	if err != nil && !errors.Is(err, model.ErrNoData) {
		return nil, err
	}
	records := m.normalizer.Normalize(raw)

	for _, t := range tasks {
		res := m.measure(ctx, t, freq, records, end)
		switch res.Status {
		case StatusMeasured:
			run.Measured++
		case StatusFailed:
			run.Failed++
		default:
			run.Skipped++
		}
		run.Results = append(run.Results, res)
	}

	m.logger.Info("Measured tasks",
		zap.String("frequency", string(freq)),
		zap.Time("window_start", start),
		zap.Int("records", len(records)),
		zap.Int("measured", run.Measured),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed))
	return run, nil
}

// Measure records one measurement for task at now.
func (m *Measurer) Measure(ctx context.Context, task model.Task, freq model.MonitorFrequency, now time.Time) (MeasurementResult, error) {
	run, err := m.MeasureAll(ctx, []model.Task{task}, freq, now)
	if err != nil {
		return MeasurementResult{TaskID: task.ID, Status: StatusFailed, Reason: err.Error()}, err
	}
	res := run.Results[0]
	if res.Status == StatusSkipped {
		return res, model.NewError(model.KindNoData, "measure", "no records for task %s", task.ID)
	}
	return res, nil
}

func (m *Measurer) measure(ctx context.Context, task model.Task, freq model.MonitorFrequency, records []model.MaintenanceRecord, date time.Time) MeasurementResult {
	res := MeasurementResult{TaskID: task.ID}
	logger := m.logger.With(zap.String("task_id", task.ID))

	baseline, err := m.store.BaselineMeasurement(ctx, task.ID)
	if err != nil {
		logger.Error("Failed to load baseline", zap.Error(err))
		res.Status, res.Reason = StatusFailed, "no_baseline"
		return res
	}

	obs, ok := Observe(task, records)
	if !ok {
		logger.Debug("No performance data for task")
		res.Status, res.Reason = StatusSkipped, "no_data"
		return res
	}

	change := ChangePct(baseline.Value, obs.Value)
	meas := &model.Measurement{
		ID:              uuid.New().String(),
		TaskID:          task.ID,
		MeasurementDate: date,
		Value:           analyzer.Round(obs.Value, 2),
		ChangePct:       analyzer.Round(change, 2),
		IsImproved:      change < 0,
		SampleCount:     obs.Count,
		MinValue:        analyzer.Round(obs.Min, 2),
		MaxValue:        analyzer.Round(obs.Max, 2),
		Notes:           measurementNotes(task, freq, obs),
		CreatedAt:       time.Now(),
	}

	inserted, err := m.store.AddMeasurement(ctx, meas)
	if err != nil {
		logger.Error("Failed to record measurement", zap.Error(err))
		res.Status, res.Reason = StatusFailed, "recording_failed"
		return res
	}
	if !inserted {
		res.Status, res.Reason = StatusDuplicate, "already_measured"
		return res
	}

	m.metrics.MeasurementRecorded(string(freq))
	if err := m.publisher.Publish(ctx, events.SubjectMeasurementRecorded, meas); err != nil {
		logger.Warn("Failed to publish measurement", zap.Error(err))
	}
	if math.Abs(change) > significantChangePct {
		direction := "deterioration"
		if meas.IsImproved {
			direction = "improvement"
		}
		logger.Warn("Significant change against baseline",
			zap.String("entity", task.EntityID),
			zap.String("direction", direction),
			zap.Float64("change_pct", meas.ChangePct),
			zap.String("issue_type", string(task.IssueType)))
	}

	res.Status = StatusMeasured
	res.MeasurementID = meas.ID
	res.Value = meas.Value
	res.Count = obs.Count
	res.ChangePct = meas.ChangePct
	res.IsImproved = meas.IsImproved
	return res
}

// Observation is a task's metric over one window
type Observation struct {
	Value float64
	Count int
	Min   float64
	Max   float64
}

// Observe computes the task's metric from records. ok is false when no record
// belongs to the task. Repeat failure tasks count repeats in the window,
// charged to the earlier repair's mechanic; rapid repeat tasks count only the
// repeats within analyzer.RapidRepeatWindow.
func Observe(task model.Task, records []model.MaintenanceRecord) (Observation, bool) {
	var matched []model.MaintenanceRecord
	for _, r := range records {
		if matches(task, r) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Observation{}, false
	}

	if task.IssueType == model.IssueRepeatFailure {
		n := repeatCount(task, records)
		return Observation{Value: float64(n), Count: len(matched), Min: float64(n), Max: float64(n)}, true
	}

	obs := Observation{Count: len(matched), Min: math.Inf(1), Max: math.Inf(-1)}
	total := 0.0
	for _, r := range matched {
		v := metricOf(task.IssueType, r)
		total += v
		obs.Min = math.Min(obs.Min, v)
		obs.Max = math.Max(obs.Max, v)
	}
	obs.Value = total / float64(len(matched))
	return obs, true
}

func matches(task model.Task, r model.MaintenanceRecord) bool {
	if task.EntityType == model.EntityMachine {
		machine := task.MachineNumber
		if machine == "" {
			machine = task.EntityID
		}
		return r.MachineNumber == machine
	}

	if r.MechanicID != task.EntityID && r.MechanicName != task.EntityID &&
		(task.MechanicName == "" || r.MechanicName != task.MechanicName) {
		return false
	}
	if task.MachineType != "" && !strings.EqualFold(r.MachineType, task.MachineType) {
		return false
	}
	if task.Reason != "" && !strings.EqualFold(r.Reason, task.Reason) {
		return false
	}
	return true
}

func metricOf(issue model.IssueType, r model.MaintenanceRecord) float64 {
	switch issue {
	case model.IssueResponseTime:
		return r.ResponseMinutes
	case model.IssueRepairTime:
		return r.RepairMinutes
	default:
		return r.DowntimeMinutes
	}
}

func repeatCount(task model.Task, records []model.MaintenanceRecord) int {
	a, err := analyzer.RepeatFailures(records, analyzer.DefaultRepeatWindow)
	if err != nil {
		return 0
	}
	if task.EntityType == model.EntityMachine {
		for _, c := range a.ByMachine {
			if c.Key == task.MachineNumber || c.Key == task.EntityID {
				return countFor(task, c)
			}
		}
		return 0
	}
	for _, c := range a.ByMechanic {
		if c.Key == task.EntityID || c.Key == task.MechanicName || (c.KeyID != "" && c.KeyID == task.EntityID) {
			return countFor(task, c)
		}
	}
	return 0
}

func countFor(task model.Task, c analyzer.RepeatCount) int {
	if task.AnalysisType == model.AnalysisRepeatRapid {
		return c.RapidCount
	}
	return c.Count
}

// ChangePct is the percent change of value against baseline, 0 when the
// baseline is 0.
func ChangePct(baseline, value float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (value - baseline) / baseline * 100
}

func measurementNotes(task model.Task, freq model.MonitorFrequency, obs Observation) string {
	label := "Weekly"
	if freq == model.FrequencyDaily {
		label = "Daily"
	}
	notes := fmt.Sprintf("%s measurement for %s. Based on %d instances.", label, task.EntityID, obs.Count)
	if task.IssueType != model.IssueRepeatFailure {
		notes += fmt.Sprintf(" Range: %.2f to %.2f minutes.", obs.Min, obs.Max)
	}
	return notes
}
