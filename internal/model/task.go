package model

import (
	"time"
)

// TaskStatus is the outcome state of a corrective task
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusClosed    TaskStatus = "closed"
	TaskStatusExtended  TaskStatus = "extended"
	TaskStatusReview    TaskStatus = "review"
	TaskStatusIntervene TaskStatus = "intervene"
)

// MonitorStatus controls whether a task is still being measured
type MonitorStatus string

const (
	MonitorStatusActive    MonitorStatus = "active"
	MonitorStatusPaused    MonitorStatus = "paused"
	MonitorStatusCompleted MonitorStatus = "completed"
)

// MonitorFrequency is how often a task is measured
type MonitorFrequency string

const (
	FrequencyDaily  MonitorFrequency = "daily"
	FrequencyWeekly MonitorFrequency = "weekly"
)

// Days is the length of one measurement window.
func (f MonitorFrequency) Days() int {
	if f == FrequencyDaily {
		return 1
	}
	return 7
}

// EntityType is the kind of entity a task follows
type EntityType string

const (
	EntityMechanic EntityType = "mechanic"
	EntityMachine  EntityType = "machine"
)

// Task is a corrective watchlist item created from a finding
type Task struct {
	ID               string           `json:"id"`
	FindingID        string           `json:"finding_id"`
	Title            string           `json:"title"`
	IssueType        IssueType        `json:"issue_type"`
	AnalysisType     AnalysisType     `json:"analysis_type,omitempty"`
	EntityType       EntityType       `json:"entity_type"`
	EntityID         string           `json:"entity_id"`
	MechanicName     string           `json:"mechanic_name,omitempty"`
	EmployeeNumber   string           `json:"employee_number,omitempty"`
	MachineNumber    string           `json:"machine_number,omitempty"`
	MachineType      string           `json:"machine_type,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	Status           TaskStatus       `json:"status"`
	MonitorFrequency MonitorFrequency `json:"monitor_frequency"`
	MonitorStartDate time.Time        `json:"monitor_start_date"`
	MonitorEndDate   time.Time        `json:"monitor_end_date"`
	MonitorStatus    MonitorStatus    `json:"monitor_status"`
	ExtensionCount   int              `json:"extension_count"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Measurement is one observation of a task's metric
type Measurement struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	MeasurementDate time.Time `json:"measurement_date"`
	Value           float64   `json:"value"`
	ChangePct       float64   `json:"change_pct"`
	IsImproved      bool      `json:"is_improved"`
	IsBaseline      bool      `json:"is_baseline"`
	SampleCount     int       `json:"sample_count"`
	MinValue        float64   `json:"min_value,omitempty"`
	MaxValue        float64   `json:"max_value,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
