package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// FindingFilter narrows ListFindings
type FindingFilter struct {
	Status model.FindingStatus
	Limit  int
}

// SaveFindings inserts findings into the findings log in one transaction.
func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings_log (
			id, run_id, analysis_type, issue_type, summary, details, status,
			performance_id, mechanic_name, machine_number, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare finding insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		details, err := json.Marshal(f.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal finding details: %w", err)
		}
		status := f.Status
		if status == "" {
			status = model.FindingStatusNew
		}
		if _, err := stmt.ExecContext(ctx,
			f.ID,
			nullString(f.RunID),
			f.AnalysisType,
			f.IssueType,
			f.Summary,
			string(details),
			status,
			nullString(f.PerformanceID),
			nullString(f.Details.MechanicName),
			nullString(f.Details.MachineNumber),
			f.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to store finding %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	s.logger.Debug("Stored findings", zap.Int("count", len(findings)))
	return nil
}

const findingColumns = `id, run_id, analysis_type, issue_type, summary, details, status, performance_id, created_at`

func scanFinding(row rowScanner) (*model.Finding, error) {
	var f model.Finding
	var runID, performanceID sql.NullString
	var details string
	if err := row.Scan(
		&f.ID,
		&runID,
		&f.AnalysisType,
		&f.IssueType,
		&f.Summary,
		&details,
		&f.Status,
		&performanceID,
		&f.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(details), &f.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal finding details: %w", err)
	}
	f.RunID = runID.String
	f.PerformanceID = performanceID.String
	return &f, nil
}

// GetFinding retrieves a finding by ID
func (s *SQLiteStore) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	f, err := scanFinding(s.db.QueryRowContext(ctx,
		`SELECT `+findingColumns+` FROM findings_log WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewError(model.KindNotFound, "get_finding", "finding %s", id)
		}
		return nil, fmt.Errorf("failed to scan finding: %w", err)
	}
	return f, nil
}

// SetFindingStatus updates the status of a finding.
func (s *SQLiteStore) SetFindingStatus(ctx context.Context, id string, status model.FindingStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE findings_log SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update finding status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return model.NewError(model.KindNotFound, "set_finding_status", "finding %s", id)
	}
	return nil
}

// ListFindings lists findings, newest first
func (s *SQLiteStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings_log`
	args := make([]interface{}, 0, 2)
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
