package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PerformanceRow is one aggregate mechanic row of an analysis run
type PerformanceRow struct {
	ID               string
	RunID            string
	Context          string
	MachineType      string
	Reason           string
	MechanicName     string
	MechanicID       string
	RecordCount      int
	AvgRepair        float64
	AvgResponse      float64
	RepairZ          float64
	ResponseZ        float64
	PctWorseThanBest *float64
	CreatedAt        time.Time
}

// SavePerformanceRows stores mechanic performance snapshots in one transaction.
func (s *SQLiteStore) SavePerformanceRows(ctx context.Context, rows []PerformanceRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mechanic_performance (
			id, run_id, context, machine_type, reason, mechanic_name, mechanic_id,
			record_count, avg_repair, avg_response, repair_z, response_z,
			pct_worse_than_best, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare performance insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			nullString(r.RunID),
			r.Context,
			nullString(r.MachineType),
			nullString(r.Reason),
			r.MechanicName,
			nullString(r.MechanicID),
			r.RecordCount,
			r.AvgRepair,
			r.AvgResponse,
			r.RepairZ,
			r.ResponseZ,
			nullFloat(r.PctWorseThanBest),
			r.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to store performance row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit performance rows: %w", err)
	}
	return nil
}

// CountPerformanceRows returns the number of snapshot rows stored for runID.
func (s *SQLiteStore) CountPerformanceRows(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mechanic_performance WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count performance rows: %w", err)
	}
	return n, nil
}

// SaveParetoSnapshot stores the JSON form of a Pareto run.
func (s *SQLiteStore) SaveParetoSnapshot(ctx context.Context, id, runID, metric string, threshold float64, recordCount int, result interface{}, createdAt time.Time) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal pareto result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pareto_analyses (id, run_id, metric, threshold, record_count, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nullString(runID), metric, threshold, recordCount, string(data), createdAt)
	if err != nil {
		return fmt.Errorf("failed to store pareto analysis: %w", err)
	}
	return nil
}

// LatestParetoSnapshot decodes the newest Pareto run into v.
func (s *SQLiteStore) LatestParetoSnapshot(ctx context.Context, v interface{}) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM pareto_analyses ORDER BY created_at DESC LIMIT 1`).Scan(&data)
	if err != nil {
		return notFoundOr(err, "latest_pareto", "no pareto analyses")
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal pareto result: %w", err)
	}
	return nil
}
