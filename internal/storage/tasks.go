package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Status        model.TaskStatus
	MonitorStatus model.MonitorStatus
	IssueType     model.IssueType
	Limit         int
}

const taskColumns = `id, finding_id, title, issue_type, analysis_type, entity_type, entity_id, mechanic_name,
	employee_number, machine_number, machine_type, reason, status, monitor_frequency,
	monitor_start_date, monitor_end_date, monitor_status, extension_count, notes,
	created_at, updated_at`

// CreateTaskFromFinding inserts task and its baseline measurement and marks
// the finding Task_Created, all in one transaction. created is false when a
// task for the finding already exists; nothing is written in that case.
func (s *SQLiteStore) CreateTaskFromFinding(ctx context.Context, task *model.Task, baseline *model.Measurement) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(finding_id) DO NOTHING`,
		task.ID,
		task.FindingID,
		task.Title,
		task.IssueType,
		nullString(string(task.AnalysisType)),
		task.EntityType,
		task.EntityID,
		nullString(task.MechanicName),
		nullString(task.EmployeeNumber),
		nullString(task.MachineNumber),
		nullString(task.MachineType),
		nullString(task.Reason),
		task.Status,
		task.MonitorFrequency,
		formatDate(task.MonitorStartDate),
		formatDate(task.MonitorEndDate),
		task.MonitorStatus,
		task.ExtensionCount,
		nullString(task.Notes),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if baseline != nil {
		if _, err := insertMeasurement(ctx, tx, baseline); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE findings_log SET status = ? WHERE id = ?`,
		model.FindingStatusTaskCreated, task.FindingID,
	); err != nil {
		return false, fmt.Errorf("failed to update finding status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit task: %w", err)
	}
	s.logger.Debug("Created task",
		zap.String("task_id", task.ID),
		zap.String("finding_id", task.FindingID))
	return true, nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var analysisType, mechanicName, employeeNumber, machineNumber, machineType, reason, notes sql.NullString
	var start, end string
	if err := row.Scan(
		&t.ID,
		&t.FindingID,
		&t.Title,
		&t.IssueType,
		&analysisType,
		&t.EntityType,
		&t.EntityID,
		&mechanicName,
		&employeeNumber,
		&machineNumber,
		&machineType,
		&reason,
		&t.Status,
		&t.MonitorFrequency,
		&start,
		&end,
		&t.MonitorStatus,
		&t.ExtensionCount,
		&notes,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.AnalysisType = model.AnalysisType(analysisType.String)
	t.MechanicName = mechanicName.String
	t.EmployeeNumber = employeeNumber.String
	t.MachineNumber = machineNumber.String
	t.MachineType = machineType.String
	t.Reason = reason.String
	t.Notes = notes.String

	var err error
	if t.MonitorStartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if t.MonitorEndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask retrieves a task by ID
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewError(model.KindNotFound, "get_task", "task %s", id)
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return t, nil
}

// TaskForFinding returns the task created from findingID.
func (s *SQLiteStore) TaskForFinding(ctx context.Context, findingID string) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE finding_id = ?`, findingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewError(model.KindNotFound, "task_for_finding", "finding %s", findingID)
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return t, nil
}

// ListTasks lists tasks ordered by creation time
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.MonitorStatus != "" {
		conds = append(conds, "monitor_status = ?")
		args = append(args, filter.MonitorStatus)
	}
	if filter.IssueType != "" {
		conds = append(conds, "issue_type = ?")
		args = append(args, filter.IssueType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

// UpdateTask writes the mutable task fields
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *model.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			monitor_end_date = ?,
			monitor_status = ?,
			extension_count = ?,
			notes = ?,
			updated_at = ?
		WHERE id = ?`,
		task.Status,
		formatDate(task.MonitorEndDate),
		task.MonitorStatus,
		task.ExtensionCount,
		nullString(task.Notes),
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return model.NewError(model.KindNotFound, "update_task", "task %s", task.ID)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertMeasurement(ctx context.Context, db execer, m *model.Measurement) (bool, error) {
	var minValue, maxValue *float64
	if m.SampleCount > 0 {
		minValue, maxValue = &m.MinValue, &m.MaxValue
	}
	res, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO measurements (
			id, task_id, measurement_date, value, change_pct, is_improved, is_baseline,
			sample_count, min_value, max_value, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.TaskID,
		formatDate(m.MeasurementDate),
		m.Value,
		m.ChangePct,
		m.IsImproved,
		m.IsBaseline,
		m.SampleCount,
		nullFloat(minValue),
		nullFloat(maxValue),
		nullString(m.Notes),
		m.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert measurement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// AddMeasurement records m. inserted is false when a measurement for the
// same task, date and baseline flag already exists.
func (s *SQLiteStore) AddMeasurement(ctx context.Context, m *model.Measurement) (bool, error) {
	return insertMeasurement(ctx, s.db, m)
}

const measurementColumns = `id, task_id, measurement_date, value, change_pct, is_improved, is_baseline,
	sample_count, min_value, max_value, notes, created_at`

func scanMeasurement(row rowScanner) (*model.Measurement, error) {
	var m model.Measurement
	var date string
	var minValue, maxValue sql.NullFloat64
	var notes sql.NullString
	if err := row.Scan(
		&m.ID,
		&m.TaskID,
		&date,
		&m.Value,
		&m.ChangePct,
		&m.IsImproved,
		&m.IsBaseline,
		&m.SampleCount,
		&minValue,
		&maxValue,
		&notes,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	m.MeasurementDate = d
	m.MinValue = minValue.Float64
	m.MaxValue = maxValue.Float64
	m.Notes = notes.String
	return &m, nil
}

// ListMeasurements returns a task's measurements in date order with the
// baseline first.
func (s *SQLiteStore) ListMeasurements(ctx context.Context, taskID string) ([]model.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+measurementColumns+`
		FROM measurements
		WHERE task_id = ?
		ORDER BY is_baseline DESC, measurement_date, created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// BaselineMeasurement returns the task's baseline row
func (s *SQLiteStore) BaselineMeasurement(ctx context.Context, taskID string) (*model.Measurement, error) {
	m, err := scanMeasurement(s.db.QueryRowContext(ctx, `
		SELECT `+measurementColumns+`
		FROM measurements
		WHERE task_id = ? AND is_baseline = 1
		ORDER BY measurement_date
		LIMIT 1`, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewError(model.KindNotFound, "baseline_measurement", "task %s", taskID)
		}
		return nil, fmt.Errorf("failed to scan measurement: %w", err)
	}
	return m, nil
}

// SaveEvaluation persists an evaluator outcome
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, e *model.Evaluation) error {
	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal task summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_evaluations (
			id, task_id, action, confidence, explanation, recommendation, summary, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.TaskID,
		e.Decision.Action,
		e.Decision.Confidence,
		nullString(e.Decision.Explanation),
		nullString(e.Decision.Recommendation),
		string(summary),
		e.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store evaluation: %w", err)
	}
	return nil
}

// ListEvaluations returns a task's evaluations, oldest first
func (s *SQLiteStore) ListEvaluations(ctx context.Context, taskID string) ([]model.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, action, confidence, explanation, recommendation, summary, evaluated_at
		FROM task_evaluations
		WHERE task_id = ?
		ORDER BY evaluated_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		var explanation, recommendation, summary sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.TaskID,
			&e.Decision.Action,
			&e.Decision.Confidence,
			&explanation,
			&recommendation,
			&summary,
			&e.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.Decision.Explanation = explanation.String
		e.Decision.Recommendation = recommendation.String
		if summary.Valid && summary.String != "" {
			if err := json.Unmarshal([]byte(summary.String), &e.Summary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task summary: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// CountTasksByStatus returns the number of tasks per status.
func (s *SQLiteStore) CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TaskStatus]int)
	for rows.Next() {
		var status model.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
