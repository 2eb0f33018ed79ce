// Package scheduler triggers workflows on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/pipeline"
)

// JobRunner executes workflow jobs
type JobRunner interface {
	Run(ctx context.Context, job *model.Job) (*model.JobResult, error)
}

// Config lists the cron expressions of the monitoring workflows. An empty
// expression disables that schedule.
type Config struct {
	DailyMeasure  string        `mapstructure:"daily_measure"`
	WeeklyMeasure string        `mapstructure:"weekly_measure"`
	Evaluation    string        `mapstructure:"evaluation"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the standard monitoring schedule.
func DefaultConfig() Config {
	return Config{
		DailyMeasure:  DefaultDailyMeasureExpression,
		WeeklyMeasure: DefaultWeeklyMeasureExpression,
		Evaluation:    DefaultEvaluationExpression,
		Timeout:       defaultRunTimeout,
	}
}

// Schedules builds the monitoring schedules from cfg.
func (cfg Config) Schedules() []*model.CronSchedule {
	var out []*model.CronSchedule
	add := func(name, workflow, expr string) {
		if expr == "" {
			return
		}
		out = append(out, &model.CronSchedule{Name: name, Workflow: workflow, Expression: expr})
	}
	add("daily-measurement", pipeline.WorkflowDailyMeasure, cfg.DailyMeasure)
	add("weekly-measurement", pipeline.WorkflowWeeklyMeasure, cfg.WeeklyMeasure)
	add("evaluation", pipeline.WorkflowEvaluate, cfg.Evaluation)
	return out
}

// CronScheduler manages scheduled workflows
type CronScheduler struct {
	logger    *zap.Logger
	runner    JobRunner
	cron      *cron.Cron
	timeout   time.Duration
	mu        sync.RWMutex
	schedules map[string]*model.CronSchedule
	entryIDs  map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewCronScheduler creates a new scheduler
func NewCronScheduler(runner JobRunner, logger *zap.Logger, timeout time.Duration) *CronScheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	return &CronScheduler{
		logger:    logger.Named("scheduler"),
		runner:    runner,
		cron:      cron.New(cronOptions...),
		timeout:   timeout,
		schedules: make(map[string]*model.CronSchedule),
		entryIDs:  make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("schedules", len(s.ListSchedules())))
}

// Stop stops the scheduler and waits for running jobs
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// AddSchedule adds a new schedule
func (s *CronScheduler) AddSchedule(schedule *model.CronSchedule) error {
	spec, err := specParser.Parse(schedule.Expression)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidExpression, schedule.Expression, err)
	}
	if schedule.Workflow == "" {
		schedule.Workflow = schedule.Name
	}
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.Status == "" {
		schedule.Status = model.JobStatusPending
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	schedule.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.schedules {
		if existing.Name == schedule.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateSchedule, schedule.Name)
		}
	}

	entryID := s.cron.Schedule(spec, &cronJob{scheduler: s, schedule: schedule})
	s.schedules[schedule.ID] = schedule
	s.entryIDs[schedule.ID] = entryID

	next := spec.Next(time.Now())
	schedule.NextRunTime = &next

	s.logger.Info("Added schedule",
		zap.String("id", schedule.ID),
		zap.String("name", schedule.Name),
		zap.String("workflow", schedule.Workflow),
		zap.String("expression", schedule.Expression),
		zap.Time("next_run", next))
	return nil
}

// RemoveSchedule removes a schedule
func (s *CronScheduler) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entryIDs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}

	s.cron.Remove(entryID)
	delete(s.entryIDs, id)
	delete(s.schedules, id)

	s.logger.Info("Removed schedule", zap.String("id", id))
	return nil
}

// GetSchedule gets a schedule by ID
func (s *CronScheduler) GetSchedule(id string) (*model.CronSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return schedule, nil
}

// ListSchedules lists all schedules by name
func (s *CronScheduler) ListSchedules() []*model.CronSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]*model.CronSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		schedules = append(schedules, schedule)
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].Name < schedules[j].Name })
	return schedules
}

// RunNow runs a schedule's workflow immediately.
func (s *CronScheduler) RunNow(ctx context.Context, id string) (*model.JobResult, error) {
	schedule, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, schedule)
}

func (s *CronScheduler) execute(ctx context.Context, schedule *model.CronSchedule) (*model.JobResult, error) {
	now := time.Now()
	job := &model.Job{
		ID:        uuid.New().String(),
		Name:      schedule.Workflow,
		Payload:   schedule.Payload,
		CreatedAt: now,
	}

	s.mu.Lock()
	schedule.LastRunTime = &now
	schedule.Status = model.JobStatusRunning
	if spec, err := specParser.Parse(schedule.Expression); err == nil {
		next := spec.Next(now)
		schedule.NextRunTime = &next
	}
	s.mu.Unlock()

	result, err := s.runner.Run(ctx, job)

	s.mu.Lock()
	switch {
	case err != nil:
		schedule.Status = model.JobStatusFailed
	default:
		schedule.Status = result.Status
	}
	schedule.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", schedule.Workflow, err)
	}
	return result, nil
}

// cronJob implements cron.Job interface
type cronJob struct {
	scheduler *CronScheduler
	schedule  *model.CronSchedule
}

// Run implements cron.Job
func (j *cronJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.scheduler.timeout)
	defer cancel()

	logger := j.scheduler.logger.With(
		zap.String("id", j.schedule.ID),
		zap.String("name", j.schedule.Name))

	result, err := j.scheduler.execute(ctx, j.schedule)
	if err != nil {
		logger.Error("Failed to execute schedule", zap.Error(err))
		return
	}
	logger.Info("Executed schedule",
		zap.String("job_id", result.JobID),
		zap.String("status", string(result.Status)))
}
