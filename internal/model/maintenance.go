package model

import "time"

// Mechanic is an entry of the mechanics directory
type Mechanic struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	EmployeeNumber string `json:"employee_number"`
	Active         bool   `json:"active"`
}

// MaintenanceStatus is the state of a scheduled maintenance job
type MaintenanceStatus string

const (
	MaintenanceOpen      MaintenanceStatus = "open"
	MaintenanceCompleted MaintenanceStatus = "completed"
)

// ScheduledMaintenance is a preventive job for a high-risk machine
type ScheduledMaintenance struct {
	ID               string            `json:"id"`
	MachineNumber    string            `json:"machine_number"`
	MachineType      string            `json:"machine_type,omitempty"`
	Priority         Severity          `json:"priority"`
	DueDate          time.Time         `json:"due_date"`
	AssignedMechanic string            `json:"assigned_mechanic,omitempty"`
	Status           MaintenanceStatus `json:"status"`
	Reason           string            `json:"reason"`
	FailureCount     int               `json:"failure_count"`
	DowntimeMinutes  float64           `json:"downtime_minutes"`
	CreatedAt        time.Time         `json:"created_at"`
}
