package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

type summary struct {
	RunID   string   `json:"run_id"`
	Records int      `json:"records"`
	Issues  []string `json:"issues"`
}

func TestDirArchive_SaveLoad(t *testing.T) {
	// Setup
	dir := t.TempDir()
	a, err := NewDirArchive(zap.NewNop(), dir)
	require.NoError(t, err)
	ctx := context.Background()

	// Test case 1: nested names create directories
	loc, err := a.Save(ctx, "analysis/run-1.json", summary{RunID: "run-1", Records: 42, Issues: []string{"repair_time"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "analysis", "run-1.json"), loc)

	var got summary
	require.NoError(t, a.Load(ctx, "analysis/run-1.json", &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 42, got.Records)
	assert.Equal(t, []string{"repair_time"}, got.Issues)

	// Test case 2: missing documents are not found
	err = a.Load(ctx, "analysis/missing.json", &got)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Test case 3: names cannot escape the directory
	_, err = a.Save(ctx, "../outside.json", got)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = a.Save(ctx, "", got)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNew(t *testing.T) {
	a, err := New(zap.NewNop(), Config{Type: "dir", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirArchive{}, a)

	_, err = New(zap.NewNop(), Config{Type: "ftp"})
	assert.Error(t, err)

	_, err = New(zap.NewNop(), Config{Type: "s3", Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestS3Archive_Key(t *testing.T) {
	a, err := NewS3Archive(zap.NewNop(), Config{
		Endpoint: "localhost:9000",
		Bucket:   "maintenance",
		Prefix:   "/exports/",
	})
	require.NoError(t, err)
	assert.Equal(t, "exports/raw/2024-01.json", a.key("raw/2024-01.json"))
}
