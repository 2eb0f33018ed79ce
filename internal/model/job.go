package model

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current status of a workflow run
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a request to run one named workflow
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobResult represents the result of a workflow run
type JobResult struct {
	JobID       string          `json:"job_id"`
	Name        string          `json:"name"`
	Status      JobStatus       `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
