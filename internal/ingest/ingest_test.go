package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const exportJSON = `[
  {"id": "r1", "machineNumber": "M1", "machineType": "Overlock", "mechanicId": "7", "mechanicName": "Ann",
   "reason": "Needle", "status": "Closed", "createdAt": "2024-01-08T08:00:00Z",
   "totalDowntime": 600000, "totalRepairTime": "300000", "totalResponseTime": null},
  {"id": "r2", "machineNumber": "M2", "machineType": "Flatlock", "mechanicId": "8", "mechanicName": "Bob",
   "reason": "Belt", "status": "Open", "createdAt": 1704787200000,
   "totalDowntime": 120000},
  {"id": "r3", "machineNumber": "M1", "machineType": "Overlock", "mechanicId": "8", "mechanicName": "Bob",
   "reason": "Needle", "status": "closed", "createdAt": {"_seconds": 1706745600, "_nanoseconds": 0},
   "totalDowntime": 60000}
]`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(exportJSON), 0o644))
	return path
}

func TestFileSource_Fetch(t *testing.T) {
	src := NewFileSource(zap.NewNop(), writeExport(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		ids   []string
	}{
		{name: "all", query: Query{}, ids: []string{"r1", "r2", "r3"}},
		{name: "closed only", query: Query{Status: model.RecordStatusClosed}, ids: []string{"r1", "r3"}},
		{
			name:  "january window",
			query: ClosedBetween(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
			ids:   []string{"r1"},
		},
		{name: "mechanic", query: Query{MechanicID: "8"}, ids: []string{"r2", "r3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := src.Fetch(ctx, tt.query)
			require.NoError(t, err)
			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	records, err := src.Fetch(ctx, Query{MechanicID: "7"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.NewNumber(300000), records[0].TotalRepairTime)
	assert.False(t, records[0].TotalResponseTime.Valid)
}

func TestFileSource_Errors(t *testing.T) {
	ctx := context.Background()

	src := NewFileSource(zap.NewNop(), writeExport(t))
	_, err := src.Fetch(ctx, Query{From: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, model.ErrNoData)

	missing := NewFileSource(zap.NewNop(), filepath.Join(t.TempDir(), "nope.json"))
	_, err = missing.Fetch(ctx, Query{})
	assert.ErrorIs(t, err, model.ErrUpstream)
	assert.Equal(t, model.KindUpstream, model.KindOf(err))
}

func TestDecodeRecords_Wrapped(t *testing.T) {
	records, err := DecodeRecords([]byte(`{"records": [{"id": "x", "machineNumber": "M9"}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "M9", records[0].MachineNumber)

	_, err = DecodeRecords([]byte(`not json`))
	assert.Error(t, err)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

type countingSource struct {
	Source
	calls int
}

func (s *countingSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	s.calls++
	return s.Source.Fetch(ctx, q)
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{Source: NewFileSource(zap.NewNop(), writeExport(t))}
	cache := &memoryCache{data: map[string][]byte{}}
	src := NewCachedSource(zap.NewNop(), inner, cache, time.Minute)

	q := Query{Status: model.RecordStatusClosed}
	first, err := src.Fetch(ctx, q)
	require.NoError(t, err)
	second, err := src.Fetch(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, len(first), len(second))
	assert.Equal(t, first[0].CreatedAt.Time, second[0].CreatedAt.Time)
	assert.Contains(t, cache.data, CacheKey(q))

	// A different query misses the cache
	_, err = src.Fetch(ctx, Query{MechanicID: "8"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_CacheFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{Source: NewFileSource(zap.NewNop(), writeExport(t))}
	cache := &memoryCache{data: map[string][]byte{}, err: errors.New("connection refused")}
	src := NewCachedSource(zap.NewNop(), inner, cache, time.Minute)

	records, err := src.Fetch(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCacheKey_Stable(t *testing.T) {
	q := Query{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Status: "Closed"}
	assert.Equal(t, CacheKey(q), CacheKey(q))
	assert.NotEqual(t, CacheKey(q), CacheKey(Query{}))
	assert.Contains(t, CacheKey(q), cacheKeyPrefix)
}

type exportLoader struct {
	data []byte
}

func (l *exportLoader) Load(ctx context.Context, name string, v interface{}) error {
	if l.data == nil {
		return model.NewError(model.KindNotFound, "test", "%s not found", name)
	}
	return json.Unmarshal(l.data, v)
}

func TestArchiveSource_Fetch(t *testing.T) {
	ctx := context.Background()

	// Test case 1: archived export is filtered like a file export
	src := NewArchiveSource(zap.NewNop(), &exportLoader{data: []byte(exportJSON)}, "raw/export.json")
	records, err := src.Fetch(ctx, Query{Status: model.RecordStatusClosed})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r3", records[1].ID)

	// Test case 2: missing archive is no data
	src = NewArchiveSource(zap.NewNop(), &exportLoader{}, "raw/missing.json")
	_, err = src.Fetch(ctx, Query{})
	assert.ErrorIs(t, err, model.ErrNoData)
}
