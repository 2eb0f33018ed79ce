package model

import "time"

// NotificationStatus records the delivery outcome
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// Notification is a message sent about a task
type Notification struct {
	ID         string             `json:"id"`
	TaskID     string             `json:"task_id,omitempty"`
	Channel    string             `json:"channel"`
	Recipients []string           `json:"recipients"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	Severity   Severity           `json:"severity"`
	Status     NotificationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
