package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const dateLayout = "2006-01-02"

// SQLiteStore is the downstream relational store for findings, tasks,
// measurements and their companions.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the schema.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger: logger.Named("store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS findings_log (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			analysis_type TEXT NOT NULL,
			issue_type TEXT NOT NULL,
			summary TEXT NOT NULL,
			details TEXT NOT NULL,
			status TEXT NOT NULL,
			performance_id TEXT,
			mechanic_name TEXT,
			machine_number TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_findings_status ON findings_log(status);
		CREATE INDEX IF NOT EXISTS idx_findings_created_at ON findings_log(created_at);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			finding_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			issue_type TEXT NOT NULL,
			analysis_type TEXT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			mechanic_name TEXT,
			employee_number TEXT,
			machine_number TEXT,
			machine_type TEXT,
			reason TEXT,
			status TEXT NOT NULL,
			monitor_frequency TEXT NOT NULL,
			monitor_start_date TEXT NOT NULL,
			monitor_end_date TEXT NOT NULL,
			monitor_status TEXT NOT NULL,
			extension_count INTEGER NOT NULL DEFAULT 0,
			notes TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_monitor_status ON tasks(monitor_status);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

		CREATE TABLE IF NOT EXISTS measurements (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			measurement_date TEXT NOT NULL,
			value REAL NOT NULL,
			change_pct REAL NOT NULL,
			is_improved INTEGER NOT NULL,
			is_baseline INTEGER NOT NULL,
			sample_count INTEGER NOT NULL DEFAULT 0,
			min_value REAL,
			max_value REAL,
			notes TEXT,
			created_at DATETIME NOT NULL,
			UNIQUE (task_id, measurement_date, is_baseline)
		);

		CREATE TABLE IF NOT EXISTS task_evaluations (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			action TEXT NOT NULL,
			confidence TEXT NOT NULL,
			explanation TEXT,
			recommendation TEXT,
			summary TEXT,
			evaluated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_evaluations_task_id ON task_evaluations(task_id);

		CREATE TABLE IF NOT EXISTS mechanic_performance (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			context TEXT NOT NULL,
			machine_type TEXT,
			reason TEXT,
			mechanic_name TEXT NOT NULL,
			mechanic_id TEXT,
			record_count INTEGER NOT NULL,
			avg_repair REAL NOT NULL,
			avg_response REAL NOT NULL,
			repair_z REAL NOT NULL,
			response_z REAL NOT NULL,
			pct_worse_than_best REAL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_mechanic_performance_run ON mechanic_performance(run_id);

		CREATE TABLE IF NOT EXISTS pareto_analyses (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			metric TEXT NOT NULL,
			threshold REAL NOT NULL,
			record_count INTEGER NOT NULL,
			result TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS mechanics (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL UNIQUE,
			employee_number TEXT,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS scheduled_maintenance (
			id TEXT PRIMARY KEY,
			machine_number TEXT NOT NULL,
			machine_type TEXT,
			priority TEXT NOT NULL,
			due_date TEXT NOT NULL,
			assigned_mechanic TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			failure_count INTEGER NOT NULL DEFAULT 0,
			downtime_minutes REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_maintenance_open
			ON scheduled_maintenance(machine_number) WHERE status = 'open';

		CREATE TABLE IF NOT EXISTS notification_logs (
			id TEXT PRIMARY KEY,
			task_id TEXT,
			channel TEXT NOT NULL,
			recipients TEXT,
			subject TEXT,
			body TEXT,
			severity TEXT,
			status TEXT NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT,
			result TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_run_history_workflow ON run_history(workflow);
		CREATE INDEX IF NOT EXISTS idx_run_history_status ON run_history(status);
		CREATE INDEX IF NOT EXISTS idx_run_history_started_at ON run_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func notFoundOr(err error, op, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewError(model.KindNotFound, op, "%s", msg)
	}
	return fmt.Errorf("failed to query %s: %w", op, err)
}
