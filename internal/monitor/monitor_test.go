package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/ingest"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
	"github.com/t77yq/maintenance-agent/internal/writer"
)

// 2024-01-01 is a Monday
var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mechanicTask(id string, freq model.MonitorFrequency, end time.Time) model.Task {
	return model.Task{
		ID:               id,
		FindingID:        "finding-" + id,
		Title:            "Repair Time: Ann (#A-100) - Overlock - All reasons",
		IssueType:        model.IssueRepairTime,
		EntityType:       model.EntityMechanic,
		EntityID:         "Ann",
		MechanicName:     "Ann",
		MachineType:      "Overlock",
		Status:           model.TaskStatusOpen,
		MonitorFrequency: freq,
		MonitorStartDate: monday,
		MonitorEndDate:   end,
		MonitorStatus:    model.MonitorStatusActive,
		CreatedAt:        monday,
		UpdatedAt:        monday,
	}
}

func seedTask(t *testing.T, store *storage.SQLiteStore, task model.Task, baseline float64) {
	t.Helper()
	created, err := store.CreateTaskFromFinding(context.Background(), &task, &model.Measurement{
		ID:              task.ID + "-baseline",
		TaskID:          task.ID,
		MeasurementDate: task.MonitorStartDate,
		Value:           baseline,
		IsBaseline:      true,
		CreatedAt:       task.CreatedAt,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func addMeasurement(t *testing.T, store *storage.SQLiteStore, taskID string, day int, value float64) {
	t.Helper()
	_, err := store.AddMeasurement(context.Background(), &model.Measurement{
		ID:              fmt.Sprintf("%s-%d", taskID, day),
		TaskID:          taskID,
		MeasurementDate: monday.AddDate(0, 0, day),
		Value:           value,
		SampleCount:     3,
		CreatedAt:       monday.AddDate(0, 0, day),
	})
	require.NoError(t, err)
}

func TestDueStates(t *testing.T) {
	paused := mechanicTask("p", model.FrequencyDaily, monday.AddDate(0, 0, 14))
	paused.MonitorStatus = model.MonitorStatusPaused

	tests := []struct {
		name  string
		task  model.Task
		today time.Time
		want  []DueState
	}{
		{"daily inside window", mechanicTask("d", model.FrequencyDaily, monday.AddDate(0, 0, 14)), monday.AddDate(0, 0, 2), []DueState{DailyDue}},
		{"weekly on tuesday", mechanicTask("w", model.FrequencyWeekly, monday.AddDate(0, 0, 21)), monday.AddDate(0, 0, 1), []DueState{NotDue}},
		{"weekly on monday", mechanicTask("w", model.FrequencyWeekly, monday.AddDate(0, 0, 21)), monday.AddDate(0, 0, 7).Add(9 * time.Hour), []DueState{WeeklyDue}},
		{"weekly on end date", mechanicTask("w", model.FrequencyWeekly, monday.AddDate(0, 0, 21)), monday.AddDate(0, 0, 21), []DueState{WeeklyDue, EvaluationDue}},
		{"daily after end date", mechanicTask("d", model.FrequencyDaily, monday.AddDate(0, 0, 14)), monday.AddDate(0, 0, 15), []DueState{EvaluationDue}},
		{"paused task", paused, monday.AddDate(0, 0, 2), []DueState{NotDue}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DueStates(tt.task, tt.today))
		})
	}
}

func TestChecker_Check(t *testing.T) {
	// Setup
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, mechanicTask("daily", model.FrequencyDaily, monday.AddDate(0, 0, 14)), 40)
	seedTask(t, store, mechanicTask("weekly", model.FrequencyWeekly, monday.AddDate(0, 0, 7)), 40)
	paused := mechanicTask("paused", model.FrequencyDaily, monday.AddDate(0, 0, 14))
	paused.MonitorStatus = model.MonitorStatusPaused
	seedTask(t, store, paused, 40)

	checker := NewChecker(zap.NewNop(), store)

	// Test case 1: Monday one week in
	due, err := checker.Check(ctx, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, due.Daily, 1)
	assert.Equal(t, "daily", due.Daily[0].ID)
	require.Len(t, due.Weekly, 1)
	require.Len(t, due.Evaluation, 1)
	assert.Equal(t, "weekly", due.Evaluation[0].ID)
	assert.Equal(t, due.Weekly, due.ForFrequency(model.FrequencyWeekly))

	// Test case 2: Tuesday, nothing weekly
	due, err = checker.Check(ctx, monday.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, due.Daily, 1)
	assert.Empty(t, due.Weekly)
	assert.Empty(t, due.Evaluation)
}

func rawRecord(id, mechanic, machine, machineType string, created time.Time, repairMin float64) model.RawRecord {
	return model.RawRecord{
		ID:                id,
		MachineNumber:     machine,
		MachineType:       machineType,
		MechanicName:      mechanic,
		Reason:            "Needle break",
		Status:            model.RecordStatusClosed,
		CreatedAt:         model.Timestamp{Time: created},
		TotalDowntime:     model.NewNumber((repairMin + 5) * 60000),
		TotalRepairTime:   model.NewNumber(repairMin * 60000),
		TotalResponseTime: model.NewNumber(5 * 60000),
	}
}

func TestMeasurer_MeasureAll(t *testing.T) {
	// Setup
	store := newTestStore(t)
	ctx := context.Background()

	repair := mechanicTask("repair", model.FrequencyWeekly, monday.AddDate(0, 0, 28))
	seedTask(t, store, repair, 40)

	idle := mechanicTask("idle", model.FrequencyWeekly, monday.AddDate(0, 0, 28))
	idle.EntityID, idle.MechanicName, idle.FindingID = "Cid", "Cid", "finding-idle"
	seedTask(t, store, idle, 40)

	repeat := model.Task{
		ID:               "repeat",
		FindingID:        "finding-repeat",
		IssueType:        model.IssueRepeatFailure,
		EntityType:       model.EntityMachine,
		EntityID:         "M9",
		MachineNumber:    "M9",
		Status:           model.TaskStatusOpen,
		MonitorFrequency: model.FrequencyWeekly,
		MonitorStartDate: monday,
		MonitorEndDate:   monday.AddDate(0, 0, 21),
		MonitorStatus:    model.MonitorStatusActive,
		CreatedAt:        monday,
		UpdatedAt:        monday,
	}
	seedTask(t, store, repeat, 6)

	m9 := monday.AddDate(0, 0, 4).Add(8 * time.Hour)
	source := &ingest.StaticSource{Records: []model.RawRecord{
		rawRecord("r1", "Ann", "M1", "Overlock", monday.AddDate(0, 0, 2).Add(8*time.Hour), 20),
		rawRecord("r2", "Ann", "M2", "Overlock", monday.AddDate(0, 0, 3), 30),
		rawRecord("r3", "Bob", "M3", "Overlock", monday.AddDate(0, 0, 3), 90),
		rawRecord("r4", "Ann", "M1", "Overlock", monday.AddDate(0, 0, -5), 100),
		rawRecord("r5", "Dan", "M9", "Flatlock", m9, 10),
		rawRecord("r6", "Dan", "M9", "Flatlock", m9.Add(20*time.Minute), 10),
		rawRecord("r7", "Dan", "M9", "Flatlock", m9.Add(60*time.Minute), 10),
	}}
	measurer := NewMeasurer(zap.NewNop(), source, store, nil, nil)
	now := monday.AddDate(0, 0, 7).Add(6 * time.Hour)

	// Test case 1: Weekly measurement against the baseline
	run, err := measurer.MeasureAll(ctx, []model.Task{repair, idle, repeat}, model.FrequencyWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, monday, run.WindowStart)
	assert.Equal(t, 2, run.Measured)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 0, run.Failed)

	byTask := map[string]MeasurementResult{}
	for _, r := range run.Results {
		byTask[r.TaskID] = r
	}
	assert.Equal(t, StatusMeasured, byTask["repair"].Status)
	assert.Equal(t, 25.0, byTask["repair"].Value)
	assert.Equal(t, 2, byTask["repair"].Count)
	assert.Equal(t, -37.5, byTask["repair"].ChangePct)
	assert.True(t, byTask["repair"].IsImproved)

	assert.Equal(t, StatusSkipped, byTask["idle"].Status)
	assert.Equal(t, "no_data", byTask["idle"].Reason)

	assert.Equal(t, 3.0, byTask["repeat"].Value)
	assert.Equal(t, -50.0, byTask["repeat"].ChangePct)

	ms, err := store.ListMeasurements(ctx, "repair")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, monday.AddDate(0, 0, 7), ms[1].MeasurementDate)
	assert.Equal(t, 20.0, ms[1].MinValue)
	assert.Equal(t, 30.0, ms[1].MaxValue)
	assert.Contains(t, ms[1].Notes, "Weekly measurement for Ann. Based on 2 instances.")

	ms, err = store.ListMeasurements(ctx, "idle")
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	// Test case 2: Measuring the same day again writes nothing
	res, err := measurer.Measure(ctx, repair, model.FrequencyWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)

	// Test case 3: A task without data reports no data
	_, err = measurer.Measure(ctx, idle, model.FrequencyWeekly, now)
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestMeasurer_ZeroBaseline(t *testing.T) {
	store := newTestStore(t)
	task := mechanicTask("zero", model.FrequencyDaily, monday.AddDate(0, 0, 14))
	seedTask(t, store, task, 0)

	source := &ingest.StaticSource{Records: []model.RawRecord{
		rawRecord("r1", "Ann", "M1", "Overlock", monday.Add(10*time.Hour), 20),
	}}
	measurer := NewMeasurer(zap.NewNop(), source, store, nil, nil)

	res, err := measurer.Measure(context.Background(), task, model.FrequencyDaily, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusMeasured, res.Status)
	assert.Equal(t, 0.0, res.ChangePct)
	assert.False(t, res.IsImproved)
}

// steadyRepeats has machine M7 repeat twice a week for four weeks: once
// 20 minutes after a repair and once an hour after another.
func steadyRepeats() []model.MaintenanceRecord {
	var records []model.MaintenanceRecord
	add := func(day int, at time.Duration) {
		records = append(records, model.MaintenanceRecord{
			ID:            fmt.Sprintf("r%d", len(records)),
			MachineNumber: "M7",
			MachineType:   "Overlock",
			MechanicName:  "Ann",
			Reason:        "Needle",
			CreatedAt:     monday.AddDate(0, 0, day).Add(at),
		})
	}
	for week := 0; week < 4; week++ {
		add(7*week+1, 8*time.Hour)
		add(7*week+1, 8*time.Hour+20*time.Minute)
		add(7*week+4, 8*time.Hour)
		add(7*week+4, 9*time.Hour)
	}
	return records
}

func TestRepeatBaseline_SteadyRateHoldsLevel(t *testing.T) {
	// Setup
	records := steadyRepeats()
	analysis, err := analyzer.RepeatFailures(records, analyzer.DefaultRepeatWindow)
	require.NoError(t, err)
	analysis.PeriodDays = 28
	require.Len(t, analysis.ByMachine, 1)
	counts := analysis.ByMachine[0]
	require.Equal(t, 8, counts.Count)
	require.Equal(t, 4, counts.RapidCount)

	today := monday.AddDate(0, 0, 28)
	start, end := Window(model.FrequencyWeekly, today)
	var lastWeek []model.MaintenanceRecord
	for _, r := range records {
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			lastWeek = append(lastWeek, r)
		}
	}

	tests := []struct {
		name         string
		analysisType model.AnalysisType
		value        int
		baseline     float64
	}{
		{name: "all repeats", analysisType: model.AnalysisRepeatMachine, value: counts.Count, baseline: 2},
		{name: "rapid repeats", analysisType: model.AnalysisRepeatRapid, value: counts.RapidCount, baseline: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := model.Finding{
				ID:           "f-" + string(tt.analysisType),
				AnalysisType: tt.analysisType,
				IssueType:    model.IssueRepeatFailure,
				Details: model.FindingDetails{
					MachineNumber: "M7",
					MachineType:   "Overlock",
					Value:         float64(tt.value),
					PeriodDays:    analysis.PeriodDays,
					SampleCount:   counts.Count,
				},
			}
			task, baseline, err := writer.BuildTask(f, today)
			require.NoError(t, err)
			assert.Equal(t, model.FrequencyWeekly, task.MonitorFrequency)
			assert.Equal(t, tt.analysisType, task.AnalysisType)
			assert.InDelta(t, tt.baseline, baseline.Value, 0.01)

			obs, ok := Observe(*task, lastWeek)
			require.True(t, ok)
			assert.Equal(t, tt.baseline, obs.Value)
			assert.InDelta(t, 0, ChangePct(baseline.Value, obs.Value), 0.5)
		})
	}
}

func TestWindow(t *testing.T) {
	now := monday.AddDate(0, 0, 7).Add(15 * time.Hour)

	start, end := Window(model.FrequencyDaily, now)
	assert.Equal(t, monday.AddDate(0, 0, 6), start)
	assert.Equal(t, monday.AddDate(0, 0, 7), end)

	start, _ = Window(model.FrequencyWeekly, now)
	assert.Equal(t, monday, start)
}

func measurements(values ...float64) []model.Measurement {
	out := make([]model.Measurement, len(values))
	for i, v := range values {
		out[i] = model.Measurement{
			TaskID:          "t1",
			MeasurementDate: monday.AddDate(0, 0, 7*i),
			Value:           v,
			IsBaseline:      i == 0,
		}
	}
	return out
}

func TestSummarize(t *testing.T) {
	task := mechanicTask("t1", model.FrequencyWeekly, monday.AddDate(0, 0, 28))

	// Test case 1: Too few measurements
	s := Summarize(task, measurements(40))
	assert.True(t, s.InsufficientData)
	assert.Equal(t, 1, s.MeasurementCount)

	// Test case 2: Two points give a change but no trend
	s = Summarize(task, measurements(40, 30))
	assert.False(t, s.InsufficientData)
	assert.Equal(t, -25.0, s.ChangePct)
	assert.Equal(t, 25.0, s.ImprovementPct)
	assert.False(t, s.IsImproving)
	assert.Nil(t, s.MovingAverage)
	assert.Equal(t, []float64{-25}, s.PeriodChanges)

	// Test case 3: A perfect downward line is a strong improving trend
	s = Summarize(task, measurements(40, 30, 20))
	assert.Equal(t, 50.0, s.ImprovementPct)
	assert.True(t, s.IsImproving)
	assert.Equal(t, "strong", s.TrendStrength)
	assert.Equal(t, 14, s.DurationDays)
	require.NotNil(t, s.MovingAverage)
	assert.Equal(t, 30.0, *s.MovingAverage)
	assert.Equal(t, 25.0, *s.RecentImprovementPct)
	assert.Nil(t, s.PValue)

	// Test case 4: Baseline sorts first regardless of input order
	ms := measurements(40, 44, 48, 52)
	ms[0], ms[3] = ms[3], ms[0]
	s = Summarize(task, ms)
	assert.Equal(t, 40.0, s.BaselineValue)
	assert.Equal(t, 52.0, s.LatestValue)
	assert.Equal(t, -30.0, s.ImprovementPct)
	assert.False(t, s.IsImproving)
	require.NotNil(t, s.PValue)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		summary    model.TaskSummary
		action     model.DecisionAction
		confidence model.Severity
	}{
		{"insufficient", model.TaskSummary{MeasurementCount: 1, InsufficientData: true}, model.ActionReview, model.SeverityLow},
		{"significant improvement", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 20, IsImproving: true, IsSignificant: true}, model.ActionClose, model.SeverityHigh},
		{"improvement without significance", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 12, IsImproving: true}, model.ActionClose, model.SeverityMedium},
		{"boundary 15 not significant", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 15, IsImproving: true}, model.ActionClose, model.SeverityMedium},
		{"some improvement", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 5, IsImproving: true}, model.ActionExtend, model.SeverityMedium},
		{"improved but not trending", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 25}, model.ActionReview, model.SeverityMedium},
		{"minimal", model.TaskSummary{MeasurementCount: 5, ImprovementPct: 0.5}, model.ActionReview, model.SeverityMedium},
		{"no change", model.TaskSummary{MeasurementCount: 5}, model.ActionIntervene, model.SeverityHigh},
		{"deteriorating", model.TaskSummary{MeasurementCount: 5, ImprovementPct: -12}, model.ActionIntervene, model.SeverityHigh},
		{"slightly worse", model.TaskSummary{MeasurementCount: 5, ImprovementPct: -5}, model.ActionIntervene, model.SeverityHigh},
		{"flags without count", model.TaskSummary{ImprovementPct: 20, IsImproving: true, IsSignificant: true}, model.ActionClose, model.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.summary)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.confidence, d.Confidence)
			assert.NotEmpty(t, d.Explanation)
			assert.NotEmpty(t, d.Recommendation)
		})
	}

	d := Decide(model.TaskSummary{MeasurementCount: 5, ImprovementPct: -12})
	assert.Equal(t, "Performance is deteriorating by 12.00%.", d.Explanation)
}

func TestApply(t *testing.T) {
	now := monday.AddDate(0, 0, 28)
	end := monday.AddDate(0, 0, 28)

	tests := []struct {
		action        model.DecisionAction
		status        model.TaskStatus
		monitorStatus model.MonitorStatus
		end           time.Time
		extensions    int
	}{
		{model.ActionClose, model.TaskStatusClosed, model.MonitorStatusCompleted, end, 0},
		{model.ActionExtend, model.TaskStatusExtended, model.MonitorStatusActive, end.AddDate(0, 0, 14), 1},
		{model.ActionReview, model.TaskStatusReview, model.MonitorStatusPaused, end, 0},
		{model.ActionIntervene, model.TaskStatusIntervene, model.MonitorStatusPaused, end, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			task := mechanicTask("t1", model.FrequencyWeekly, end)
			Apply(&task, &model.Evaluation{Decision: model.Decision{Action: tt.action, Explanation: "why"}}, now)
			assert.Equal(t, tt.status, task.Status)
			assert.Equal(t, tt.monitorStatus, task.MonitorStatus)
			assert.Equal(t, tt.end, task.MonitorEndDate)
			assert.Equal(t, tt.extensions, task.ExtensionCount)
			assert.Equal(t, "why", task.Notes)
			assert.Equal(t, now, task.UpdatedAt)
		})
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	actions []model.DecisionAction
}

func (n *recordingNotifier) NotifyDecision(ctx context.Context, task *model.Task, e *model.Evaluation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, e.Decision.Action)
	return nil
}

func TestUpdater_Evaluate(t *testing.T) {
	// Setup
	store := newTestStore(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	updater := NewUpdater(zap.NewNop(), store, notifier, nil, nil)

	improving := mechanicTask("improving", model.FrequencyWeekly, monday.AddDate(0, 0, 28))
	seedTask(t, store, improving, 40)
	for i, v := range []float64{36, 30, 28, 26} {
		addMeasurement(t, store, improving.ID, 7*(i+1), v)
	}

	slight := mechanicTask("slight", model.FrequencyWeekly, monday.AddDate(0, 0, 14))
	slight.FindingID = "finding-slight"
	seedTask(t, store, slight, 40)
	addMeasurement(t, store, slight.ID, 7, 38.5)
	addMeasurement(t, store, slight.ID, 14, 37.6)

	worse := mechanicTask("worse", model.FrequencyWeekly, monday.AddDate(0, 0, 14))
	worse.FindingID = "finding-worse"
	seedTask(t, store, worse, 40)
	addMeasurement(t, store, worse.ID, 7, 44)
	addMeasurement(t, store, worse.ID, 14, 48)

	// Test case 1: Strong improvement closes the task
	eval, err := updater.Evaluate(ctx, improving)
	require.NoError(t, err)
	assert.Equal(t, model.ActionClose, eval.Decision.Action)
	assert.Equal(t, 35.0, eval.Summary.ImprovementPct)
	got, err := store.GetTask(ctx, improving.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusClosed, got.Status)
	assert.Equal(t, model.MonitorStatusCompleted, got.MonitorStatus)

	// Test case 2: Small improvement extends monitoring
	eval, err = updater.Evaluate(ctx, slight)
	require.NoError(t, err)
	assert.Equal(t, model.ActionExtend, eval.Decision.Action)
	got, err = store.GetTask(ctx, slight.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusExtended, got.Status)
	assert.Equal(t, model.MonitorStatusActive, got.MonitorStatus)
	assert.Equal(t, monday.AddDate(0, 0, 28), got.MonitorEndDate)
	assert.Equal(t, 1, got.ExtensionCount)

	// Test case 3: Deterioration needs intervention
	run := updater.EvaluateAll(ctx, []model.Task{worse})
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, 1, run.Actions[model.ActionIntervene])
	got, err = store.GetTask(ctx, worse.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusIntervene, got.Status)
	assert.Equal(t, model.MonitorStatusPaused, got.MonitorStatus)

	evals, err := store.ListEvaluations(ctx, improving.ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, 5, evals[0].Summary.MeasurementCount)

	assert.Equal(t, []model.DecisionAction{model.ActionClose, model.ActionExtend, model.ActionIntervene}, notifier.actions)
}
