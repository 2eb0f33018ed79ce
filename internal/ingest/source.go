// Package ingest fetches raw downtime records from the upstream store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// Query selects records by creation time in [From, To). Zero bounds are open.
type Query struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Status     string    `json:"status,omitempty"`
	MechanicID string    `json:"mechanic_id,omitempty"`
}

// ClosedBetween queries closed records created in [from, to).
func ClosedBetween(from, to time.Time) Query {
	return Query{From: from, To: to, Status: model.RecordStatusClosed}
}

// Matches reports whether r satisfies the query filters.
func (q Query) Matches(r model.RawRecord) bool {
	if q.Status != "" && !strings.EqualFold(q.Status, r.Status) {
		return false
	}
	if q.MechanicID != "" && q.MechanicID != r.MechanicID {
		return false
	}
	created := r.CreatedAt.Time
	if !q.From.IsZero() && created.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !created.Before(q.To) {
		return false
	}
	return true
}

// Source fetches raw records. An empty window yields model.ErrNoData and a
// failing backend yields model.ErrUpstream.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]model.RawRecord, error)
}

// FileSource reads a JSON array export from disk.
type FileSource struct {
	logger *zap.Logger
	path   string
}

func NewFileSource(logger *zap.Logger, path string) *FileSource {
	return &FileSource{
		logger: logger.Named("file_source"),
		path:   path,
	}
}

func (s *FileSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, model.WrapError(model.KindUpstream, "file_source", fmt.Errorf("failed to read export: %w", err))
	}
	all, err := DecodeRecords(data)
	if err != nil {
		return nil, model.WrapError(model.KindUpstream, "file_source", err)
	}

	records := make([]model.RawRecord, 0, len(all))
	for _, r := range all {
		if q.Matches(r) {
			records = append(records, r)
		}
	}
	s.logger.Debug("Read export",
		zap.String("path", s.path),
		zap.Int("total", len(all)),
		zap.Int("matched", len(records)))

	if len(records) == 0 {
		return nil, model.NewError(model.KindNoData, "file_source", "no records in %s for the requested window", s.path)
	}
	return records, nil
}

// DecodeRecords decodes a JSON array of records, or an object with a
// "records" array.
func DecodeRecords(data []byte) ([]model.RawRecord, error) {
	var records []model.RawRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Records []model.RawRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return wrapped.Records, nil
}

// StaticSource serves a fixed slice of records.
type StaticSource struct {
	Records []model.RawRecord
}

func (s *StaticSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	out := s.filter(q)
	if len(out) == 0 {
		return nil, model.NewError(model.KindNoData, "static_source", "no records for the requested window")
	}
	return out, nil
}

func (s *StaticSource) filter(q Query) []model.RawRecord {
	var out []model.RawRecord
	for _, r := range s.Records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Loader reads a named JSON document
type Loader interface {
	Load(ctx context.Context, name string, v interface{}) error
}

// ArchiveSource reads an export previously saved to an archive.
type ArchiveSource struct {
	logger *zap.Logger
	loader Loader
	name   string
}

func NewArchiveSource(logger *zap.Logger, loader Loader, name string) *ArchiveSource {
	return &ArchiveSource{
		logger: logger.Named("archive_source"),
		loader: loader,
		name:   name,
	}
}

func (s *ArchiveSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	var all []model.RawRecord
	if err := s.loader.Load(ctx, s.name, &all); err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil, model.NewError(model.KindNoData, "archive_source", "no archived export %s", s.name)
		}
		return nil, model.WrapError(model.KindUpstream, "archive_source", err)
	}

	records := (&StaticSource{Records: all}).filter(q)
	s.logger.Debug("Read archived export",
		zap.String("name", s.name),
		zap.Int("total", len(all)),
		zap.Int("matched", len(records)))
	if len(records) == 0 {
		return nil, model.NewError(model.KindNoData, "archive_source", "no records in %s for the requested window", s.name)
	}
	return records, nil
}
