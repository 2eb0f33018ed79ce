// Package app builds the agent's components from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/api"
	"github.com/t77yq/maintenance-agent/internal/archive"
	"github.com/t77yq/maintenance-agent/internal/config"
	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/ingest"
	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/monitor"
	"github.com/t77yq/maintenance-agent/internal/notify"
	"github.com/t77yq/maintenance-agent/internal/pipeline"
	"github.com/t77yq/maintenance-agent/internal/scheduler"
	"github.com/t77yq/maintenance-agent/internal/storage"
	"github.com/t77yq/maintenance-agent/internal/writer"
)

const natsConnectRetries = 5

// App holds the wired components. Close releases every connection.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *storage.SQLiteStore
	Source    ingest.Source
	Archive   archive.Archive
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Runner    *pipeline.Runner

	closers []func()
}

// NewLogger returns the production logger, or the development one when
// dev is set.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New connects to every configured backend and registers the workflows.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	store, err := storage.NewSQLiteStore(logger, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	if err := a.setup(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setup(ctx context.Context) error {
	cfg := a.Config

	source, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	a.Source = source

	arch, err := archive.New(a.Logger, cfg.Archive)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	a.Archive = arch

	publisher, err := a.newPublisher()
	if err != nil {
		return err
	}
	a.Publisher = publisher

	notifier := notify.NewNotifier(a.Logger, a.newChannel(), a.Store, cfg.Monitoring.Recipients, a.Metrics)

	a.Runner = pipeline.NewRunner(a.Logger, a.Store, a.Publisher, a.Metrics)
	workflows := pipeline.NewWorkflows(a.Logger, pipeline.Deps{
		Source:     a.Source,
		Archive:    a.Archive,
		Directory:  a.Store,
		Writer:     writer.NewWriter(a.Logger, a.Store, a.Publisher, a.Metrics),
		Checker:    monitor.NewChecker(a.Logger, a.Store),
		Measurer:   monitor.NewMeasurer(a.Logger, a.Source, a.Store, a.Publisher, a.Metrics),
		Updater:    monitor.NewUpdater(a.Logger, a.Store, notifier, a.Publisher, a.Metrics),
		Thresholds: cfg.Thresholds,
	})
	workflows.Register(a.Runner)
	return nil
}

func (a *App) newSource(ctx context.Context) (ingest.Source, error) {
	cfg := a.Config

	var source ingest.Source
	switch cfg.Source.Type {
	case config.SourcePG:
		pg, err := ingest.NewPostgresSource(ctx, a.Logger, cfg.Source.DSN, cfg.Source.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to source: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		source = pg
	default:
		source = ingest.NewFileSource(a.Logger, cfg.Source.File)
	}

	if cfg.Redis.Addr == "" {
		return source, nil
	}
	client, err := ingest.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return ingest.NewCachedSource(a.Logger, source, ingest.NewRedisCache(client), cfg.Source.CacheTTL), nil
}

func (a *App) newPublisher() (events.Publisher, error) {
	cfg := a.Config.NATS
	if cfg.URL == "" {
		a.Logger.Info("NATS not configured, events are dropped")
		return events.NopPublisher{}, nil
	}

	opts := []nats.Option{
		nats.Name(a.Config.App.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			a.Logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			a.Logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.Logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < natsConnectRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		a.Logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}
	a.closers = append(a.closers, nc.Close)
	a.Logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	publisher, err := events.NewJetStreamPublisher(js, a.Logger)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func (a *App) newChannel() notify.Channel {
	if a.Config.Monitoring.Channel == config.ChannelSMTP {
		return notify.NewSMTPChannel(a.Logger, a.Config.SMTP)
	}
	return notify.NewLogChannel(a.Logger)
}

// Scheduler returns a cron scheduler loaded with the configured schedules.
func (a *App) Scheduler() (*scheduler.CronScheduler, error) {
	s := scheduler.NewCronScheduler(a.Runner, a.Logger, a.Config.Schedules.Timeout)
	for _, schedule := range a.Config.Schedules.Schedules() {
		if err := s.AddSchedule(schedule); err != nil {
			return nil, fmt.Errorf("failed to add schedule %s: %w", schedule.Name, err)
		}
	}
	return s, nil
}

// Server returns the HTTP API.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Logger, a.Runner, api.NewChat(a.Store), a.Store, a.Metrics, a.Config.HTTP.RequestTimeout)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
