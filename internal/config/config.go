// Package config loads the agent configuration from a yaml file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/t77yq/maintenance-agent/internal/archive"
	"github.com/t77yq/maintenance-agent/internal/interpreter"
	"github.com/t77yq/maintenance-agent/internal/notify"
	"github.com/t77yq/maintenance-agent/internal/scheduler"
)

const (
	EnvPrefix    = "IEAGENT"
	EnvFile      = ".env.local"
	defaultName  = "config"
	defaultDir   = "./config"
	SourceFile   = "file"
	SourcePG     = "postgres"
	ChannelSMTP  = "smtp"
	ChannelLog   = "log"
	defaultTable = "downtime_detail"
)

type Config struct {
	App        AppConfig              `mapstructure:"app"`
	Log        LogConfig              `mapstructure:"log"`
	HTTP       HTTPConfig             `mapstructure:"http"`
	Store      StoreConfig            `mapstructure:"store"`
	Source     SourceConfig           `mapstructure:"source"`
	Redis      RedisConfig            `mapstructure:"redis"`
	Archive    archive.Config         `mapstructure:"archive"`
	NATS       NATSConfig             `mapstructure:"nats"`
	SMTP       notify.SMTPConfig      `mapstructure:"smtp"`
	Schedules  scheduler.Config       `mapstructure:"schedules"`
	Thresholds interpreter.Thresholds `mapstructure:"thresholds"`
	Monitoring MonitoringConfig       `mapstructure:"monitoring"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig selects where raw downtime records come from.
type SourceConfig struct {
	Type     string        `mapstructure:"type"` // postgres or file
	DSN      string        `mapstructure:"dsn"`
	Table    string        `mapstructure:"table"`
	File     string        `mapstructure:"file"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig enables the ingest cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MonitoringConfig struct {
	Channel    string   `mapstructure:"channel"` // smtp or log
	Recipients []string `mapstructure:"recipients"`
}

// flagKeys maps command line flag names onto config keys.
var flagKeys = map[string]string{
	"addr":   "http.addr",
	"db":     "store.path",
	"dev":    "log.development",
	"source": "source.type",
	"file":   "source.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "maintenance-agent")
	v.SetDefault("app.env", "development")

	v.SetDefault("log.development", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", 5*time.Minute)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.path", "maintenance.db")

	v.SetDefault("source.type", SourceFile)
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.table", defaultTable)
	v.SetDefault("source.file", "data/downtime.json")
	v.SetDefault("source.cache_ttl", 15*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("archive.type", "dir")
	v.SetDefault("archive.dir", "data")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.use_ssl", false)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "performance.monitor@company.com")

	sched := scheduler.DefaultConfig()
	v.SetDefault("schedules.daily_measure", sched.DailyMeasure)
	v.SetDefault("schedules.weekly_measure", sched.WeeklyMeasure)
	v.SetDefault("schedules.evaluation", sched.Evaluation)
	v.SetDefault("schedules.timeout", sched.Timeout)

	th := interpreter.DefaultThresholds()
	v.SetDefault("thresholds.z_score", th.ZScore)
	v.SetDefault("thresholds.pct_worse_than_best", th.PctWorseThanBest)
	v.SetDefault("thresholds.trend_pct_per_period", th.TrendPctPerPeriod)
	v.SetDefault("thresholds.repeat_count", th.RepeatCount)
	v.SetDefault("thresholds.repeat_high_severity", th.RepeatHighSeverity)
	v.SetDefault("thresholds.pareto_min_share_pct", th.ParetoMinSharePct)
	v.SetDefault("thresholds.peak_hour_z_score", th.PeakHourZScore)

	v.SetDefault("monitoring.channel", ChannelLog)
	v.SetDefault("monitoring.recipients", []string{notify.DefaultRecipient})
}

// Load reads the configuration. An empty path searches ./config for
// config.yaml and tolerates its absence; an explicit path must exist.
// Environment variables (IEAGENT_HTTP_ADDR, ...) override the file and
// flags override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultName)
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultDir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot fall back to a default.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourcePG:
		if c.Source.DSN == "" {
			return fmt.Errorf("source.dsn is required for the %s source", SourcePG)
		}
	case SourceFile:
		if c.Source.File == "" {
			return fmt.Errorf("source.file is required for the %s source", SourceFile)
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	switch c.Monitoring.Channel {
	case ChannelLog:
	case ChannelSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required for the %s channel", ChannelSMTP)
		}
	default:
		return fmt.Errorf("unknown notification channel %q", c.Monitoring.Channel)
	}
	return nil
}
