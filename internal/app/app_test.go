package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/config"
	"github.com/t77yq/maintenance-agent/internal/events"
	"github.com/t77yq/maintenance-agent/internal/interpreter"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/pipeline"
	"github.com/t77yq/maintenance-agent/internal/scheduler"
	"github.com/t77yq/maintenance-agent/internal/testutil"
)

const downtimeJSON = `[
  {"id": "r1", "machineNumber": "M1", "machineType": "Overlock", "mechanicId": "7", "mechanicName": "Ann",
   "reason": "Needle", "status": "Closed", "createdAt": "2024-01-03T08:00:00Z", "totalDowntime": 600000},
  {"id": "r2", "machineNumber": "M2", "machineType": "Flatlock", "mechanicId": "8", "mechanicName": "Bob",
   "reason": "Belt", "status": "Closed", "createdAt": "2024-01-04T10:00:00Z", "totalDowntime": 120000}
]`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "downtime.json")
	require.NoError(t, os.WriteFile(source, []byte(downtimeJSON), 0644))

	return &config.Config{
		App:        config.AppConfig{Name: "maintenance-agent-test"},
		Store:      config.StoreConfig{Path: filepath.Join(dir, "agent.db")},
		Source:     config.SourceConfig{Type: config.SourceFile, File: source},
		Monitoring: config.MonitoringConfig{Channel: config.ChannelLog},
		Schedules:  scheduler.DefaultConfig(),
		Thresholds: interpreter.DefaultThresholds(),
	}
}

func TestNew_FileSourceWithoutNATS(t *testing.T) {
	// Setup
	cfg := testConfig(t)
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "archive")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, events.NopPublisher{}, a.Publisher)
	assert.Contains(t, a.Runner.Workflows(), pipeline.WorkflowFull)
	assert.Contains(t, a.Runner.Workflows(), pipeline.WorkflowExport)

	// Test case 1: export runs end to end through the file source and archive
	job, err := pipeline.NewJob(pipeline.WorkflowExport, pipeline.Payload{StartDate: "2024-01-01", EndDate: "2024-01-07"})
	require.NoError(t, err)
	result, err := a.Runner.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, result.Status, result.Error)

	var exported pipeline.ExportResult
	require.NoError(t, json.Unmarshal(result.Result, &exported))
	assert.Equal(t, 2, exported.Records)
	assert.FileExists(t, exported.Location)

	// Test case 2: the configured schedules load
	s, err := a.Scheduler()
	require.NoError(t, err)
	assert.Len(t, s.ListSchedules(), 3)

	// Test case 3: the HTTP surface reports healthy
	rec := httptest.NewRecorder()
	a.Server().Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_JetStreamPublisher(t *testing.T) {
	s, _, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	cfg := testConfig(t)
	cfg.Archive.Dir = t.TempDir()
	cfg.NATS = config.NATSConfig{URL: s.ClientURL(), MaxReconnects: 1}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &events.JetStreamPublisher{}, a.Publisher)
}

func TestNew_BadArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Type = "ftp"

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
