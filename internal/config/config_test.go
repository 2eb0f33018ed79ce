package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/maintenance-agent/internal/interpreter"
	"github.com/t77yq/maintenance-agent/internal/notify"
	"github.com/t77yq/maintenance-agent/internal/scheduler"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.HTTP.RequestTimeout)
	assert.Equal(t, SourceFile, cfg.Source.Type)
	assert.Equal(t, defaultTable, cfg.Source.Table)
	assert.Equal(t, "dir", cfg.Archive.Type)
	assert.Equal(t, scheduler.DefaultConfig(), cfg.Schedules)
	assert.Equal(t, interpreter.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, []string{notify.DefaultRecipient}, cfg.Monitoring.Recipients)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	// Setup
	path := writeConfig(t, `
http:
  addr: ":7000"
source:
  type: postgres
  dsn: postgres://agent@localhost/plant
thresholds:
  z_score: 2.0
schedules:
  evaluation: ""
monitoring:
  recipients:
    - lead@plant.local
`)
	t.Setenv("IEAGENT_THRESHOLDS_REPEAT_COUNT", "4")
	t.Setenv("IEAGENT_STORE_PATH", "/var/lib/agent/agent.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "listen address")
	require.NoError(t, flags.Parse([]string{"--addr", ":9090"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	// Test case 1: flag beats file
	assert.Equal(t, ":9090", cfg.HTTP.Addr)

	// Test case 2: file values
	assert.Equal(t, SourcePG, cfg.Source.Type)
	assert.Equal(t, "postgres://agent@localhost/plant", cfg.Source.DSN)
	assert.Equal(t, 2.0, cfg.Thresholds.ZScore)
	assert.Empty(t, cfg.Schedules.Evaluation)
	assert.Len(t, cfg.Schedules.Schedules(), 2)
	assert.Equal(t, []string{"lead@plant.local"}, cfg.Monitoring.Recipients)

	// Test case 3: environment overrides
	assert.Equal(t, 4, cfg.Thresholds.RepeatCount)
	assert.Equal(t, "/var/lib/agent/agent.db", cfg.Store.Path)

	// Test case 4: untouched defaults survive
	assert.Equal(t, interpreter.DefaultThresholds().PctWorseThanBest, cfg.Thresholds.PctWorseThanBest)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "postgres without dsn", content: "source:\n  type: postgres\n", wantErr: "source.dsn"},
		{name: "unknown source", content: "source:\n  type: csv\n", wantErr: "unknown source type"},
		{name: "smtp without host", content: "monitoring:\n  channel: smtp\n", wantErr: "smtp.host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
