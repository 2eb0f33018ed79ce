package model

import (
	"encoding/json"
	"time"
)

// CronSchedule binds a workflow to a cron expression
type CronSchedule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Workflow    string          `json:"workflow"`
	Expression  string          `json:"expression"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      JobStatus       `json:"status"`
	LastRunTime *time.Time      `json:"last_run_time,omitempty"`
	NextRunTime *time.Time      `json:"next_run_time,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
