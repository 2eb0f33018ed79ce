package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/archive"
	"github.com/t77yq/maintenance-agent/internal/ingest"
	"github.com/t77yq/maintenance-agent/internal/interpreter"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/monitor"
	"github.com/t77yq/maintenance-agent/internal/normalize"
	"github.com/t77yq/maintenance-agent/internal/writer"
)

const (
	WorkflowMechanicPerformance = "mechanic_performance"
	WorkflowPareto              = "pareto"
	WorkflowRepeatFailure       = "repeat_failure"
	WorkflowMachineCluster      = "machine_cluster"
	WorkflowTimePatterns        = "time_patterns"
	WorkflowCreateTasks         = "create_tasks"
	WorkflowDailyMeasure        = "daily_measure"
	WorkflowWeeklyMeasure       = "weekly_measure"
	WorkflowEvaluate            = "evaluate"
	WorkflowFull                = "full"
	WorkflowExport              = "export"
)

// Directory resolves mechanic names to employee numbers
type Directory interface {
	MechanicDirectory(ctx context.Context) (map[string]string, error)
}

// Deps are the components the workflows drive
type Deps struct {
	Source     ingest.Source
	Archive    archive.Archive
	Directory  Directory
	Writer     *writer.Writer
	Checker    *monitor.Checker
	Measurer   *monitor.Measurer
	Updater    *monitor.Updater
	Thresholds interpreter.Thresholds
	Now        func() time.Time
}

// Workflows implements the registered workflow handlers
type Workflows struct {
	logger     *zap.Logger
	deps       Deps
	normalizer *normalize.Normalizer
	now        func() time.Time
}

func NewWorkflows(logger *zap.Logger, deps Deps) *Workflows {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Workflows{
		logger:     logger.Named("workflows"),
		deps:       deps,
		normalizer: normalize.NewNormalizer(logger, now),
		now:        now,
	}
}

// Register adds every workflow to r.
func (w *Workflows) Register(r *Runner) {
	r.RegisterHandler(WorkflowMechanicPerformance, w.analysis(WorkflowMechanicPerformance, w.mechanicStage()))
	r.RegisterHandler(WorkflowPareto, w.analysis(WorkflowPareto, w.paretoStage()))
	r.RegisterHandler(WorkflowRepeatFailure, w.analysis(WorkflowRepeatFailure, w.repeatStage()))
	r.RegisterHandler(WorkflowMachineCluster, w.analysis(WorkflowMachineCluster, w.clusterStage()))
	r.RegisterHandler(WorkflowTimePatterns, w.analysis(WorkflowTimePatterns, w.patternStage()))
	r.RegisterHandler(WorkflowFull, HandlerFunc(w.full))
	r.RegisterHandler(WorkflowCreateTasks, HandlerFunc(w.createTasks))
	r.RegisterHandler(WorkflowDailyMeasure, w.measure(model.FrequencyDaily))
	r.RegisterHandler(WorkflowWeeklyMeasure, w.measure(model.FrequencyWeekly))
	r.RegisterHandler(WorkflowEvaluate, HandlerFunc(w.evaluate))
	r.RegisterHandler(WorkflowExport, HandlerFunc(w.export))
}

// AnalysisResult is the outcome of an analysis workflow
type AnalysisResult struct {
	Workflow    string                  `json:"workflow"`
	RunID       string                  `json:"run_id"`
	StartDate   string                  `json:"start_date"`
	EndDate     string                  `json:"end_date"`
	DryRun      bool                    `json:"dry_run"`
	Records     int                     `json:"records"`
	Findings    []model.Finding         `json:"findings"`
	Errors      map[string]string       `json:"errors,omitempty"`
	Maintenance *writer.MaintenancePlan `json:"maintenance,omitempty"`
	Tasks       *writer.TaskBatch       `json:"tasks,omitempty"`
	Archived    string                  `json:"archived,omitempty"`
}

// analysisRun carries the state shared by the stages of one run
type analysisRun struct {
	id      string
	payload Payload
	today   time.Time
	days    float64
	records []model.MaintenanceRecord
	interp  *interpreter.Interpreter
	result  *AnalysisResult
}

// stage analyzes the run's records and returns findings. Stages write their
// own snapshots unless the run is a dry run.
type stage struct {
	name    string
	analyze func(ctx context.Context, run *analysisRun) ([]model.Finding, error)
}

func (w *Workflows) analysis(name string, s stage) Handler {
	return HandlerFunc(func(ctx context.Context, job *model.Job) (interface{}, error) {
		result, err := w.runAnalysis(ctx, job, name, s)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func (w *Workflows) full(ctx context.Context, job *model.Job) (interface{}, error) {
	result, err := w.runAnalysis(ctx, job, WorkflowFull,
		w.mechanicStage(),
		w.paretoStage(),
		w.repeatStage(),
		w.clusterStage(),
		w.patternStage(),
	)
	if err != nil {
		return nil, err
	}
	if result.DryRun {
		return result, nil
	}

	batch, err := w.deps.Writer.CreateTasksFromNewFindings(ctx, w.now())
	if err != nil {
		return result, err
	}
	result.Tasks = batch
	return result, nil
}

func (w *Workflows) runAnalysis(ctx context.Context, job *model.Job, name string, stages ...stage) (*AnalysisResult, error) {
	p, err := ParsePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	from, to, err := p.Window(w.now())
	if err != nil {
		return nil, err
	}

	logger := w.logger.With(zap.String("workflow", name), zap.String("run_id", job.ID))
	raw, err := w.source(p).Fetch(ctx, ingest.ClosedBetween(from, to))
	if err != nil {
		return nil, err
	}

	interp, err := w.newInterpreter(ctx)
	if err != nil {
		return nil, err
	}

	run := &analysisRun{
		id:      job.ID,
		payload: p,
		today:   w.now(),
		days:    to.Sub(from).Hours() / 24,
		records: w.normalizer.Normalize(raw),
		interp:  interp,
		result: &AnalysisResult{
			Workflow:  name,
			RunID:     job.ID,
			StartDate: from.Format(dateLayout),
			EndDate:   to.AddDate(0, 0, -1).Format(dateLayout),
			DryRun:    p.DryRun(),
			Findings:  []model.Finding{},
		},
	}
	run.result.Records = len(run.records)
	logger.Info("Loaded records",
		zap.Int("records", len(run.records)),
		zap.String("start_date", run.result.StartDate),
		zap.String("end_date", run.result.EndDate),
		zap.Bool("dry_run", run.result.DryRun))

	var firstErr error
	for _, s := range stages {
		findings, err := s.analyze(ctx, run)
		if err != nil {
			if len(stages) == 1 {
				return nil, err
			}
			logger.Warn("Analysis stage failed", zap.String("stage", s.name), zap.Error(err))
			if run.result.Errors == nil {
				run.result.Errors = make(map[string]string)
			}
			run.result.Errors[s.name] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		run.result.Findings = append(run.result.Findings, findings...)
	}
	if len(run.result.Errors) == len(stages) {
		return nil, firstErr
	}

	if !run.result.DryRun {
		if err := w.deps.Writer.SaveFindings(ctx, job.ID, run.result.Findings); err != nil {
			return nil, err
		}
	}

	if w.deps.Archive != nil {
		archiveName := fmt.Sprintf("analysis/%s/%s_%s.json", name, run.result.EndDate, job.ID)
		if loc, err := w.deps.Archive.Save(ctx, archiveName, run.result); err != nil {
			logger.Warn("Failed to archive analysis", zap.Error(err))
		} else {
			run.result.Archived = loc
		}
	}

	logger.Info("Analysis finished", zap.Int("findings", len(run.result.Findings)))
	return run.result, nil
}

func (w *Workflows) source(p Payload) ingest.Source {
	if p.FromDatabase() || w.deps.Archive == nil {
		return w.deps.Source
	}
	return ingest.NewArchiveSource(w.logger, w.deps.Archive, p.ExportName())
}

func (w *Workflows) newInterpreter(ctx context.Context) (*interpreter.Interpreter, error) {
	var directory map[string]string
	if w.deps.Directory != nil {
		d, err := w.deps.Directory.MechanicDirectory(ctx)
		if err != nil {
			return nil, model.WrapError(model.KindStorage, "mechanic_directory", err)
		}
		directory = d
	}
	return interpreter.NewInterpreter(w.logger, w.deps.Thresholds, directory), nil
}

func (w *Workflows) mechanicStage() stage {
	return stage{name: WorkflowMechanicPerformance, analyze: func(ctx context.Context, run *analysisRun) ([]model.Finding, error) {
		a, err := analyzer.AnalyzeMechanics(run.records)
		if err != nil {
			return nil, err
		}
		findings := run.interp.Mechanics(a)
		if run.result.DryRun {
			return findings, nil
		}
		links, err := w.deps.Writer.SaveMechanicSnapshot(ctx, run.id, a)
		if err != nil {
			return nil, err
		}
		links.Link(findings)
		return findings, nil
	}}
}

func (w *Workflows) paretoStage() stage {
	return stage{name: WorkflowPareto, analyze: func(ctx context.Context, run *analysisRun) ([]model.Finding, error) {
		metric, err := analyzer.ParseMetric(run.payload.Metric)
		if err != nil {
			return nil, err
		}
		var dims []analyzer.Dimension
		for _, s := range run.payload.Dimensions {
			d, err := analyzer.ParseDimension(s)
			if err != nil {
				return nil, err
			}
			dims = append(dims, d)
		}
		threshold := run.payload.Threshold
		if threshold <= 0 || threshold > 100 {
			threshold = analyzer.DefaultParetoThreshold
		}

		a, err := analyzer.AnalyzePareto(run.records, dims, metric, threshold)
		if err != nil {
			return nil, err
		}
		if !run.result.DryRun {
			if err := w.deps.Writer.SaveParetoSnapshot(ctx, run.id, a); err != nil {
				return nil, err
			}
		}
		return run.interp.Pareto(a), nil
	}}
}

func (w *Workflows) repeatStage() stage {
	return stage{name: WorkflowRepeatFailure, analyze: func(ctx context.Context, run *analysisRun) ([]model.Finding, error) {
		a, err := analyzer.RepeatFailures(run.records, analyzer.DefaultRepeatWindow)
		if err != nil {
			return nil, err
		}
		a.PeriodDays = run.days
		return run.interp.Repeats(a), nil
	}}
}

func (w *Workflows) clusterStage() stage {
	return stage{name: WorkflowMachineCluster, analyze: func(ctx context.Context, run *analysisRun) ([]model.Finding, error) {
		a, err := analyzer.ClusterMachines(run.records)
		if err != nil {
			return nil, err
		}
		if !run.result.DryRun {
			plan, err := w.deps.Writer.ScheduleFromClusters(ctx, a, run.today)
			if err != nil {
				return nil, err
			}
			run.result.Maintenance = plan
		}
		return run.interp.Clusters(a), nil
	}}
}

func (w *Workflows) patternStage() stage {
	return stage{name: WorkflowTimePatterns, analyze: func(ctx context.Context, run *analysisRun) ([]model.Finding, error) {
		a, err := analyzer.TimePatterns(run.records)
		if err != nil {
			return nil, err
		}
		return run.interp.TimePatterns(a), nil
	}}
}

func (w *Workflows) createTasks(ctx context.Context, job *model.Job) (interface{}, error) {
	batch, err := w.deps.Writer.CreateTasksFromNewFindings(ctx, w.now())
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// MonitorResult is the outcome of a measurement workflow
type MonitorResult struct {
	Date      string                  `json:"date"`
	Frequency model.MonitorFrequency  `json:"frequency"`
	Due       int                     `json:"due"`
	Run       *monitor.MeasurementRun `json:"run,omitempty"`
}

func (w *Workflows) measure(freq model.MonitorFrequency) Handler {
	return HandlerFunc(func(ctx context.Context, job *model.Job) (interface{}, error) {
		today := w.now()
		due, err := w.deps.Checker.Check(ctx, today)
		if err != nil {
			return nil, err
		}

		tasks := due.ForFrequency(freq)
		result := &MonitorResult{
			Date:      dateOf(today).Format(dateLayout),
			Frequency: freq,
			Due:       len(tasks),
		}
		if len(tasks) == 0 {
			w.logger.Info("No tasks due for measurement", zap.String("frequency", string(freq)))
			return result, nil
		}

		run, err := w.deps.Measurer.MeasureAll(ctx, tasks, freq, today)
		if err != nil {
			return nil, err
		}
		result.Run = run
		return result, nil
	})
}

// EvaluateResult is the outcome of the evaluation workflow
type EvaluateResult struct {
	Date string                 `json:"date"`
	Due  int                    `json:"due"`
	Run  *monitor.EvaluationRun `json:"run,omitempty"`
}

func (w *Workflows) evaluate(ctx context.Context, job *model.Job) (interface{}, error) {
	today := w.now()
	due, err := w.deps.Checker.Check(ctx, today)
	if err != nil {
		return nil, err
	}

	result := &EvaluateResult{
		Date: dateOf(today).Format(dateLayout),
		Due:  len(due.Evaluation),
	}
	if len(due.Evaluation) > 0 {
		result.Run = w.deps.Updater.EvaluateAll(ctx, due.Evaluation)
	}
	return result, nil
}

// ExportResult is the outcome of the export workflow
type ExportResult struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Records   int    `json:"records"`
	Location  string `json:"location"`
}

func (w *Workflows) export(ctx context.Context, job *model.Job) (interface{}, error) {
	if w.deps.Archive == nil {
		return nil, model.NewError(model.KindInvalidInput, "export", "no archive configured")
	}
	p, err := ParsePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	from, to, err := p.Window(w.now())
	if err != nil {
		return nil, err
	}

	raw, err := w.deps.Source.Fetch(ctx, ingest.ClosedBetween(from, to))
	if err != nil {
		return nil, err
	}
	loc, err := w.deps.Archive.Save(ctx, p.ExportName(), raw)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, "export", err)
	}

	w.logger.Info("Exported records", zap.Int("records", len(raw)), zap.String("location", loc))
	return &ExportResult{
		StartDate: from.Format(dateLayout),
		EndDate:   to.AddDate(0, 0, -1).Format(dateLayout),
		Records:   len(raw),
		Location:  loc,
	}, nil
}
