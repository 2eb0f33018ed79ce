package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

type fakeRunner struct {
	mu   sync.Mutex
	jobs []*model.Job
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return nil, r.err
	}
	return &model.JobResult{JobID: job.ID, Name: job.Name, Status: model.JobStatusCompleted}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func TestConfig_Schedules(t *testing.T) {
	schedules := DefaultConfig().Schedules()
	require.Len(t, schedules, 3)
	assert.Equal(t, "daily_measure", schedules[0].Workflow)
	assert.Equal(t, "0 0 6 * * *", schedules[0].Expression)
	assert.Equal(t, "weekly_measure", schedules[1].Workflow)
	assert.Equal(t, "0 0 6 * * MON", schedules[1].Expression)
	assert.Equal(t, "evaluate", schedules[2].Workflow)
	assert.Equal(t, "0 30 6 * * *", schedules[2].Expression)

	cfg := DefaultConfig()
	cfg.WeeklyMeasure = ""
	assert.Len(t, cfg.Schedules(), 2)
}

func TestCronScheduler_Schedules(t *testing.T) {
	// Setup
	runner := &fakeRunner{}
	s := NewCronScheduler(runner, zap.NewNop(), time.Minute)

	// Test case 1: valid schedules are added with a next run time
	for _, schedule := range DefaultConfig().Schedules() {
		require.NoError(t, s.AddSchedule(schedule))
		assert.NotEmpty(t, schedule.ID)
		assert.Equal(t, model.JobStatusPending, schedule.Status)
		require.NotNil(t, schedule.NextRunTime)
		assert.Equal(t, 6, schedule.NextRunTime.Hour())
	}
	schedules := s.ListSchedules()
	require.Len(t, schedules, 3)
	assert.Equal(t, "daily-measurement", schedules[0].Name)

	// Test case 2: invalid expression and duplicate name
	err := s.AddSchedule(&model.CronSchedule{Name: "broken", Expression: "not a cron"})
	assert.ErrorIs(t, err, ErrInvalidExpression)
	err = s.AddSchedule(&model.CronSchedule{Name: "evaluation", Workflow: "evaluate", Expression: "0 0 7 * * *"})
	assert.ErrorIs(t, err, ErrDuplicateSchedule)

	// Test case 3: run now submits the schedule's workflow
	evaluation := schedules[1]
	require.Equal(t, "evaluation", evaluation.Name)
	result, err := s.RunNow(context.Background(), evaluation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, result.Status)
	require.Equal(t, 1, runner.count())
	assert.Equal(t, "evaluate", runner.jobs[0].Name)
	assert.NotNil(t, evaluation.LastRunTime)
	assert.Equal(t, model.JobStatusCompleted, evaluation.Status)

	// Test case 4: runner errors mark the schedule failed
	runner.err = errors.New("unknown workflow")
	_, err = s.RunNow(context.Background(), evaluation.ID)
	assert.Error(t, err)
	assert.Equal(t, model.JobStatusFailed, evaluation.Status)

	// Test case 5: remove
	require.NoError(t, s.RemoveSchedule(evaluation.ID))
	_, err = s.GetSchedule(evaluation.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, s.RemoveSchedule(evaluation.ID), ErrScheduleNotFound)
	assert.Len(t, s.ListSchedules(), 2)
}

func TestCronScheduler_Fires(t *testing.T) {
	// Setup
	runner := &fakeRunner{}
	s := NewCronScheduler(runner, zap.NewNop(), time.Minute)
	require.NoError(t, s.AddSchedule(&model.CronSchedule{
		Name:       "every-second",
		Workflow:   "daily_measure",
		Expression: "* * * * * *",
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}
