package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// RunHistory is one workflow execution record
type RunHistory struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Workflow    string          `json:"workflow"`
	Status      model.JobStatus `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// RunFilter narrows ListRuns
type RunFilter struct {
	Workflow string
	Status   model.JobStatus
}

// StoreRun inserts a run in its starting state
func (s *SQLiteStore) StoreRun(ctx context.Context, run *RunHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history (
			id, job_id, workflow, status, payload, started_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.JobID,
		run.Workflow,
		run.Status,
		nullString(string(run.Payload)),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store run history: %w", err)
	}
	return nil
}

// UpdateRun records the outcome of a run
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *RunHistory) error {
	completed := sql.NullTime{}
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE run_history SET
			status = ?,
			result = ?,
			error = ?,
			completed_at = ?,
			duration = ?,
			metadata = ?
		WHERE id = ?`,
		run.Status,
		nullString(string(run.Result)),
		nullString(run.Error),
		completed,
		sql.NullInt64{Int64: int64(run.Duration), Valid: run.Duration != 0},
		nullString(string(run.Metadata)),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run history: %w", err)
	}
	return nil
}

const runColumns = `id, job_id, workflow, status, payload, result, error, started_at, completed_at, duration, metadata`

func scanRun(row rowScanner) (*RunHistory, error) {
	var run RunHistory
	var payload, result, metadata, errorStr sql.NullString
	var completedAt sql.NullTime
	var durationNanos sql.NullInt64

	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.Workflow,
		&run.Status,
		&payload,
		&result,
		&errorStr,
		&run.StartedAt,
		&completedAt,
		&durationNanos,
		&metadata,
	); err != nil {
		return nil, err
	}

	if payload.String != "" {
		run.Payload = json.RawMessage(payload.String)
	}
	if result.String != "" {
		run.Result = json.RawMessage(result.String)
	}
	run.Error = errorStr.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if durationNanos.Valid {
		run.Duration = time.Duration(durationNanos.Int64)
	}
	if metadata.String != "" {
		run.Metadata = json.RawMessage(metadata.String)
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunHistory, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM run_history WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewError(model.KindNotFound, "get_run", "run %s", id)
		}
		return nil, fmt.Errorf("failed to scan run history: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, offset, limit int) ([]*RunHistory, error) {
	query := `SELECT ` + runColumns + ` FROM run_history WHERE 1 = 1`
	var args []interface{}
	if filter.Workflow != "" {
		query += ` AND workflow = ?`
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run history: %w", err)
	}
	defer rows.Close()

	var runs []*RunHistory
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run history: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// DeleteRunsBefore deletes runs started before the given time
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM run_history WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete run history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old run history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}
