package writer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func newTestWriter(t *testing.T) (*Writer, *storage.SQLiteStore, *recordingPublisher) {
	t.Helper()
	store, err := storage.NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	pub := &recordingPublisher{}
	return NewWriter(zap.NewNop(), store, pub, nil), store, pub
}

var today = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func mechanicFinding(id string) model.Finding {
	return model.Finding{
		ID:           id,
		AnalysisType: model.AnalysisMechanicMachineRepair,
		IssueType:    model.IssueRepairTime,
		Summary:      "REPAIR TIME ALERT: Ann (#A-100) averages 40.0 min repairing Overlock machines",
		Details: model.FindingDetails{
			MechanicName:   "Ann",
			EmployeeNumber: "A-100",
			MachineType:    "Overlock",
			Metric:         "repair_time",
			Value:          40.123,
			SampleCount:    6,
		},
		Status:    model.FindingStatusNew,
		CreatedAt: today,
	}
}

func TestMonitoringSchedule(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		issue model.IssueType
		freq  model.MonitorFrequency
		end   time.Time
	}{
		{model.IssueResponseTime, model.FrequencyDaily, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{model.IssueRepairTime, model.FrequencyWeekly, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)},
		{model.IssueDowntime, model.FrequencyWeekly, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)},
		{model.IssueRepeatFailure, model.FrequencyWeekly, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.issue), func(t *testing.T) {
			freq, end := MonitoringSchedule(tt.issue, start)
			assert.Equal(t, tt.freq, freq)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestBuildTask(t *testing.T) {
	task, baseline, err := BuildTask(mechanicFinding("f1"), today)
	require.NoError(t, err)

	assert.Equal(t, "Repair Time: Ann (#A-100) - Overlock - All reasons", task.Title)
	assert.Equal(t, model.EntityMechanic, task.EntityType)
	assert.Equal(t, "Ann", task.EntityID)
	assert.Equal(t, model.FrequencyWeekly, task.MonitorFrequency)
	assert.Equal(t, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC), task.MonitorEndDate)
	assert.Contains(t, task.Notes, "Auto-created from finding. Original issue: REPAIR TIME ALERT")

	assert.True(t, baseline.IsBaseline)
	assert.Equal(t, 40.12, baseline.Value)
	assert.Equal(t, 0.0, baseline.ChangePct)
	assert.False(t, baseline.IsImproved)
	assert.Equal(t, task.ID, baseline.TaskID)

	machine := model.Finding{
		ID:           "f2",
		AnalysisType: model.AnalysisRepeatMachine,
		IssueType:    model.IssueRepeatFailure,
		Details:      model.FindingDetails{MachineNumber: "M5", MachineType: "Overlock", Value: 5},
	}
	task, _, err = BuildTask(machine, today)
	require.NoError(t, err)
	assert.Equal(t, model.EntityMachine, task.EntityType)
	assert.Equal(t, "Repeat Failure: Machine M5 - Overlock - All reasons", task.Title)

	_, _, err = BuildTask(model.Finding{ID: "f3", Details: model.FindingDetails{Category: "08:00"}}, today)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestWriter_CreateTaskIsIdempotent(t *testing.T) {
	w, store, pub := newTestWriter(t)
	ctx := context.Background()
	f := mechanicFinding("f1")
	require.NoError(t, w.SaveFindings(ctx, "run1", []model.Finding{f}))

	task, created, err := w.CreateTask(ctx, f, today)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := w.CreateTask(ctx, f, today)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, task.ID, again.ID)

	tasks, err := store.ListTasks(ctx, storage.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	ms, err := store.ListMeasurements(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	stored, err := store.GetFinding(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FindingStatusTaskCreated, stored.Status)
	assert.Equal(t, "run1", stored.RunID)

	assert.Equal(t, []string{"maintenance.finding.created", "maintenance.task.created"}, pub.subjects)
}

func TestWriter_CreateTasksFromNewFindings(t *testing.T) {
	w, store, _ := newTestWriter(t)
	ctx := context.Background()

	noEntity := model.Finding{
		ID:           "f3",
		AnalysisType: model.AnalysisPeakHour,
		IssueType:    model.IssueDowntime,
		Details:      model.FindingDetails{Category: "08:00", Value: 90},
		Status:       model.FindingStatusNew,
		CreatedAt:    today,
	}
	require.NoError(t, w.SaveFindings(ctx, "run1", []model.Finding{mechanicFinding("f1"), mechanicFinding("f2"), noEntity}))

	batch, err := w.CreateTasksFromNewFindings(ctx, today)
	require.NoError(t, err)
	assert.Len(t, batch.Created, 2)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Failed)

	stored, err := store.GetFinding(ctx, "f3")
	require.NoError(t, err)
	assert.Equal(t, model.FindingStatusNoTask, stored.Status)

	// Processed findings are no longer New, including the entity-less one
	batch, err = w.CreateTasksFromNewFindings(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, batch.Created)
	assert.Equal(t, 0, batch.Skipped)
	assert.Equal(t, 0, batch.Existing)

	open, err := store.ListFindings(ctx, storage.FindingFilter{Status: model.FindingStatusNew})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestWriter_ScheduleFromClusters(t *testing.T) {
	w, store, _ := newTestWriter(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertMechanic(ctx, &model.Mechanic{ID: "1", FullName: "Ann", EmployeeNumber: "A-100", Active: true}))
	require.NoError(t, store.UpsertMechanic(ctx, &model.Mechanic{ID: "2", FullName: "Bob", EmployeeNumber: "B-200", Active: true}))

	a := &analyzer.ClusterAnalysis{
		Machines: []analyzer.MachineFeatures{
			{MachineNumber: "M1", FailureCount: 1, Cluster: 0},
			{MachineNumber: "M5", MachineType: "Overlock", FailureCount: 10, DowntimeMinutes: 300, Cluster: 1},
			{MachineNumber: "M6", MachineType: "Overlock", FailureCount: 6, DowntimeMinutes: 200, Cluster: 1},
			{MachineNumber: "M7", MachineType: "Flatlock", FailureCount: 4, DowntimeMinutes: 100, Cluster: 1},
		},
	}

	plan, err := w.ScheduleFromClusters(ctx, a, today)
	require.NoError(t, err)
	require.Len(t, plan.Created, 3)
	// 10/20 = 50% then 80% reached with M6
	assert.Equal(t, 2, plan.HighPriority)
	assert.Equal(t, 1, plan.MediumPriority)

	byMachine := map[string]model.ScheduledMaintenance{}
	for _, j := range plan.Created {
		byMachine[j.MachineNumber] = j
	}
	assert.Equal(t, model.SeverityHigh, byMachine["M5"].Priority)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), byMachine["M5"].DueDate)
	assert.Equal(t, model.SeverityMedium, byMachine["M7"].Priority)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), byMachine["M7"].DueDate)
	assert.Equal(t, "Ann", byMachine["M5"].AssignedMechanic)
	assert.Equal(t, "Bob", byMachine["M6"].AssignedMechanic)
	assert.Equal(t, "Ann", byMachine["M7"].AssignedMechanic)

	// Open jobs are not duplicated
	plan, err = w.ScheduleFromClusters(ctx, a, today)
	require.NoError(t, err)
	assert.Empty(t, plan.Created)
	assert.ElementsMatch(t, []string{"M5", "M6", "M7"}, plan.Skipped)
}

func TestWriter_Snapshots(t *testing.T) {
	w, store, _ := newTestWriter(t)
	ctx := context.Background()

	a := &analyzer.MechanicAnalysis{
		Overall: analyzer.MechanicGroup{Mechanics: []analyzer.MechanicStat{{Mechanic: "Ann", Count: 3}, {Mechanic: "Bob", Count: 2}}},
		ByMachineType: []analyzer.MechanicGroup{
			{MachineType: "Overlock", Mechanics: []analyzer.MechanicStat{{Mechanic: "Ann", Count: 3}}},
		},
	}
	links, err := w.SaveMechanicSnapshot(ctx, "run1", a)
	require.NoError(t, err)
	n, err := store.CountPerformanceRows(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	findings := []model.Finding{mechanicFinding("f1"), {ID: "f2", Details: model.FindingDetails{MechanicName: "Bob", MachineType: "Flatlock"}}}
	links.Link(findings)
	assert.Equal(t, links[performanceKey{mechanic: "Ann", machineType: "Overlock"}], findings[0].PerformanceID)
	assert.Equal(t, links[performanceKey{mechanic: "Bob"}], findings[1].PerformanceID)

	pareto := &analyzer.ParetoAnalysis{Metric: analyzer.MetricDowntime, Threshold: 80, RecordCount: 4}
	require.NoError(t, w.SaveParetoSnapshot(ctx, "run1", pareto))
	var got analyzer.ParetoAnalysis
	require.NoError(t, store.LatestParetoSnapshot(ctx, &got))
	assert.Equal(t, analyzer.MetricDowntime, got.Metric)
}
