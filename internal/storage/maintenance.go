package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// UpsertMechanic inserts or refreshes a directory entry keyed by full name.
func (s *SQLiteStore) UpsertMechanic(ctx context.Context, m *model.Mechanic) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mechanics (id, full_name, employee_number, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(full_name) DO UPDATE SET
			employee_number = excluded.employee_number,
			active = excluded.active`,
		m.ID, m.FullName, nullString(m.EmployeeNumber), m.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert mechanic: %w", err)
	}
	return nil
}

// ListMechanics returns the directory ordered by name
func (s *SQLiteStore) ListMechanics(ctx context.Context, activeOnly bool) ([]model.Mechanic, error) {
	query := `SELECT id, full_name, employee_number, active FROM mechanics`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY full_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mechanics: %w", err)
	}
	defer rows.Close()

	var out []model.Mechanic
	for rows.Next() {
		var m model.Mechanic
		var emp sql.NullString
		if err := rows.Scan(&m.ID, &m.FullName, &emp, &m.Active); err != nil {
			return nil, fmt.Errorf("failed to scan mechanic: %w", err)
		}
		m.EmployeeNumber = emp.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// MechanicDirectory maps full names to employee numbers.
func (s *SQLiteStore) MechanicDirectory(ctx context.Context) (map[string]string, error) {
	mechanics, err := s.ListMechanics(ctx, false)
	if err != nil {
		return nil, err
	}
	dir := make(map[string]string, len(mechanics))
	for _, m := range mechanics {
		dir[m.FullName] = m.EmployeeNumber
	}
	return dir, nil
}

// CreateScheduledMaintenance inserts job unless the machine already has an
// open one. created reports whether a row was written.
func (s *SQLiteStore) CreateScheduledMaintenance(ctx context.Context, job *model.ScheduledMaintenance) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scheduled_maintenance (
			id, machine_number, machine_type, priority, due_date, assigned_mechanic,
			status, reason, failure_count, downtime_minutes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.MachineNumber,
		nullString(job.MachineType),
		job.Priority,
		formatDate(job.DueDate),
		nullString(job.AssignedMechanic),
		job.Status,
		nullString(job.Reason),
		job.FailureCount,
		job.DowntimeMinutes,
		job.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert scheduled maintenance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListScheduledMaintenance returns jobs with the given status ordered by due date.
// An empty status lists all jobs.
func (s *SQLiteStore) ListScheduledMaintenance(ctx context.Context, status model.MaintenanceStatus) ([]model.ScheduledMaintenance, error) {
	query := `SELECT id, machine_number, machine_type, priority, due_date, assigned_mechanic,
		status, reason, failure_count, downtime_minutes, created_at
		FROM scheduled_maintenance`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY due_date, machine_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled maintenance: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledMaintenance
	for rows.Next() {
		var j model.ScheduledMaintenance
		var machineType, mechanic, reason sql.NullString
		var due string
		if err := rows.Scan(
			&j.ID,
			&j.MachineNumber,
			&machineType,
			&j.Priority,
			&due,
			&mechanic,
			&j.Status,
			&reason,
			&j.FailureCount,
			&j.DowntimeMinutes,
			&j.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled maintenance: %w", err)
		}
		if j.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		j.MachineType = machineType.String
		j.AssignedMechanic = mechanic.String
		j.Reason = reason.String
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// OpenMaintenanceCounts returns the number of open jobs per assigned mechanic.
func (s *SQLiteStore) OpenMaintenanceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assigned_mechanic, COUNT(*)
		FROM scheduled_maintenance
		WHERE status = ? AND assigned_mechanic IS NOT NULL
		GROUP BY assigned_mechanic`, model.MaintenanceOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to count open maintenance: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan maintenance count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// CompleteScheduledMaintenance marks a job completed.
func (s *SQLiteStore) CompleteScheduledMaintenance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_maintenance SET status = ? WHERE id = ?`, model.MaintenanceCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to complete scheduled maintenance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return model.NewError(model.KindNotFound, "complete_maintenance", "job %s", id)
	}
	return nil
}
