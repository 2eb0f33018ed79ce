package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// LogNotification records a delivery attempt
func (s *SQLiteStore) LogNotification(ctx context.Context, n *model.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (
			id, task_id, channel, recipients, subject, body, severity, status, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		nullString(n.TaskID),
		n.Channel,
		nullString(strings.Join(n.Recipients, ",")),
		nullString(n.Subject),
		nullString(n.Body),
		nullString(string(n.Severity)),
		n.Status,
		nullString(n.Error),
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}
	return nil
}

// ListNotifications returns logged notifications for a task, oldest first.
// An empty taskID lists all of them.
func (s *SQLiteStore) ListNotifications(ctx context.Context, taskID string) ([]model.Notification, error) {
	query := `SELECT id, task_id, channel, recipients, subject, body, severity, status, error, created_at
		FROM notification_logs`
	var args []interface{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var task, recipients, subject, body, severity, errStr sql.NullString
		if err := rows.Scan(
			&n.ID,
			&task,
			&n.Channel,
			&recipients,
			&subject,
			&body,
			&severity,
			&n.Status,
			&errStr,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.TaskID = task.String
		if recipients.String != "" {
			n.Recipients = strings.Split(recipients.String, ",")
		}
		n.Subject = subject.String
		n.Body = body.String
		n.Severity = model.Severity(severity.String)
		n.Error = errStr.String
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
