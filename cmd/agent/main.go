package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/app"
	"github.com/t77yq/maintenance-agent/internal/config"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/pipeline"
)

const usage = `Usage: agent <command> [flags]

Commands:
  analyze   run an analysis workflow (default: full)
  tasks     create monitoring tasks from open findings
  monitor   record due task measurements (--frequency daily|weekly)
  evaluate  evaluate tasks whose monitoring window has ended
  export    archive raw downtime records for offline runs

Run "agent <command> --help" for the flags of a command.`

// command turns parsed flags into a workflow job
type command struct {
	flags *pflag.FlagSet
	job   func() (string, pipeline.Payload, error)
}

func commonFlags(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config.yaml")
	flags.String("db", "", "SQLite database path")
	flags.String("source", "", "record source: postgres or file")
	flags.String("file", "", "export file for the file source")
	flags.Bool("dev", false, "development logging")
	return flags, configPath
}

func windowFlags(flags *pflag.FlagSet) (start, end *string) {
	start = flags.String("start", "", "window start date (YYYY-MM-DD)")
	end = flags.String("end", "", "window end date, inclusive (YYYY-MM-DD)")
	return start, end
}

func commands() (map[string]*command, map[string]*string) {
	cmds := make(map[string]*command)
	configs := make(map[string]*string)

	// analyze
	flags, cfg := commonFlags("analyze")
	start, end := windowFlags(flags)
	workflow := flags.String("workflow", pipeline.WorkflowFull, "analysis workflow to run")
	threshold := flags.Float64("threshold", 0, "pareto cumulative threshold in percent")
	metric := flags.String("metric", "", "pareto metric")
	dimensions := flags.StringSlice("dimensions", nil, "pareto dimensions")
	dryRun := flags.Bool("dry-run", false, "analyze without writing")
	useDatabase := flags.Bool("use-database", true, "read from the configured source instead of the archived export")
	cmds["analyze"] = &command{flags: flags, job: func() (string, pipeline.Payload, error) {
		p := pipeline.Payload{
			StartDate:   *start,
			EndDate:     *end,
			UseDatabase: useDatabase,
			Threshold:   *threshold,
			Metric:      *metric,
			Dimensions:  *dimensions,
		}
		if *dryRun {
			p.Mode = pipeline.ModeDryRun
		}
		return *workflow, p, nil
	}}
	configs["analyze"] = cfg

	// tasks
	flags, cfg = commonFlags("tasks")
	cmds["tasks"] = &command{flags: flags, job: func() (string, pipeline.Payload, error) {
		return pipeline.WorkflowCreateTasks, pipeline.Payload{}, nil
	}}
	configs["tasks"] = cfg

	// monitor
	flags, cfg = commonFlags("monitor")
	frequency := flags.String("frequency", string(model.FrequencyDaily), "measurement frequency: daily or weekly")
	cmds["monitor"] = &command{flags: flags, job: func() (string, pipeline.Payload, error) {
		switch model.MonitorFrequency(*frequency) {
		case model.FrequencyDaily:
			return pipeline.WorkflowDailyMeasure, pipeline.Payload{}, nil
		case model.FrequencyWeekly:
			return pipeline.WorkflowWeeklyMeasure, pipeline.Payload{}, nil
		default:
			return "", pipeline.Payload{}, fmt.Errorf("unknown frequency %q", *frequency)
		}
	}}
	configs["monitor"] = cfg

	// evaluate
	flags, cfg = commonFlags("evaluate")
	cmds["evaluate"] = &command{flags: flags, job: func() (string, pipeline.Payload, error) {
		return pipeline.WorkflowEvaluate, pipeline.Payload{}, nil
	}}
	configs["evaluate"] = cfg

	// export
	flags, cfg = commonFlags("export")
	exportStart, exportEnd := windowFlags(flags)
	out := flags.String("out", pipeline.DefaultExportName, "archive name of the export")
	cmds["export"] = &command{flags: flags, job: func() (string, pipeline.Payload, error) {
		return pipeline.WorkflowExport, pipeline.Payload{StartDate: *exportStart, EndDate: *exportEnd, Export: *out}, nil
	}}
	configs["export"] = cfg

	return cmds, configs
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmds, configs := commands()
	name := os.Args[1]
	cmd, ok := cmds[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", name, usage)
		os.Exit(2)
	}
	_ = cmd.flags.Parse(os.Args[2:])

	cfg, err := config.Load(*configs[name], cmd.flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	os.Exit(run(cmd, cfg, logger))
}

func run(cmd *command, cfg *config.Config, logger *zap.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	workflow, payload, err := cmd.job()
	if err != nil {
		logger.Error("Invalid arguments", zap.Error(err))
		return 2
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize agent", zap.Error(err))
		return 1
	}
	defer a.Close()

	job, err := pipeline.NewJob(workflow, payload)
	if err != nil {
		logger.Error("Failed to create job", zap.Error(err))
		return 1
	}

	result, err := a.Runner.Run(ctx, job)
	if err != nil {
		logger.Error("Failed to run workflow",
			zap.String("workflow", workflow),
			zap.Strings("available", a.Runner.Workflows()),
			zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("Failed to write result", zap.Error(err))
		return 1
	}
	if result.Status != model.JobStatusCompleted {
		return 1
	}
	return 0
}
