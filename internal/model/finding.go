package model

import (
	"strings"
	"time"
)

// AnalysisType names the rule that produced a finding
type AnalysisType string

const (
	AnalysisMechanicResponse            AnalysisType = "mechanic_response_time"
	AnalysisMechanicMachineRepair       AnalysisType = "mechanic_machine_repair_time"
	AnalysisMechanicMachineReasonRepair AnalysisType = "mechanic_machine_reason_repair_time"
	AnalysisMechanicWorseThanBest       AnalysisType = "mechanic_repair_time_vs_best"
	AnalysisMechanicTrendRepair         AnalysisType = "mechanic_trend_repair_time"
	AnalysisMechanicTrendResponse       AnalysisType = "mechanic_trend_response_time"
	AnalysisRepeatMachine               AnalysisType = "repeat_failure_machine"
	AnalysisRepeatMechanic              AnalysisType = "repeat_failure_mechanic"
	AnalysisRepeatRapid                 AnalysisType = "repeat_failure_rapid"
	AnalysisRepeatCommonProblem         AnalysisType = "repeat_failure_common_problem"
	AnalysisParetoContributor           AnalysisType = "pareto_contributor"
	AnalysisClusterHighRisk             AnalysisType = "machine_cluster_high_risk"
	AnalysisPeakHour                    AnalysisType = "time_pattern_peak_hour"
)

// IssueType selects the monitored metric and the monitoring schedule
type IssueType string

const (
	IssueResponseTime  IssueType = "response_time"
	IssueRepairTime    IssueType = "repair_time"
	IssueDowntime      IssueType = "downtime"
	IssueRepeatFailure IssueType = "repeat_failure"
)

// Title is the human label used in task titles.
func (t IssueType) Title() string {
	switch t {
	case IssueResponseTime:
		return "Response Time"
	case IssueRepairTime:
		return "Repair Time"
	case IssueDowntime:
		return "Downtime"
	case IssueRepeatFailure:
		return "Repeat Failure"
	}
	words := strings.Fields(strings.ReplaceAll(string(t), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ClassifyIssue derives an issue type from an analysis type name.
func ClassifyIssue(analysisType AnalysisType) IssueType {
	s := string(analysisType)
	switch {
	case strings.HasPrefix(s, "repeat_failure"):
		return IssueRepeatFailure
	case strings.Contains(s, "response_time"):
		return IssueResponseTime
	case strings.Contains(s, "repair_time"), strings.Contains(s, "machine_repair"):
		return IssueRepairTime
	default:
		return IssueDowntime
	}
}

// FindingStatus is the lifecycle state of a finding
type FindingStatus string

const (
	FindingStatusNew         FindingStatus = "New"
	FindingStatusTaskCreated FindingStatus = "Task_Created"
	// FindingStatusNoTask marks findings that name no entity to monitor.
	FindingStatusNoTask FindingStatus = "No_Task"
)

// Severity grades a finding or a decision
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FindingDetails holds the typed entity fields and the numbers behind a finding.
type FindingDetails struct {
	MechanicID       string   `json:"mechanic_id,omitempty"`
	MechanicName     string   `json:"mechanic_name,omitempty"`
	EmployeeNumber   string   `json:"employee_number,omitempty"`
	MachineNumber    string   `json:"machine_number,omitempty"`
	MachineType      string   `json:"machine_type,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Dimension        string   `json:"dimension,omitempty"`
	Category         string   `json:"category,omitempty"`
	Context          string   `json:"context,omitempty"`
	Metric           string   `json:"metric"`
	Value            float64  `json:"value"`
	Mean             float64  `json:"mean_value,omitempty"`
	StdDev           float64  `json:"std_dev,omitempty"`
	ZScore           float64  `json:"z_score,omitempty"`
	Threshold        float64  `json:"threshold,omitempty"`
	PctWorseThanBest *float64 `json:"pct_worse_than_best,omitempty"`
	PctAboveMean     float64  `json:"percentage_above_mean,omitempty"`
	PValue           *float64 `json:"p_value,omitempty"`
	RSquared         *float64 `json:"r_squared,omitempty"`
	Periods          int      `json:"periods_analyzed,omitempty"`
	PeriodDays       float64  `json:"period_days,omitempty"`
	SampleCount      int      `json:"sample_count,omitempty"`
	Severity         Severity `json:"severity,omitempty"`
}

// Finding is a rule-triggered observation persisted in the findings log
type Finding struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id,omitempty"`
	AnalysisType  AnalysisType   `json:"analysis_type"`
	IssueType     IssueType      `json:"issue_type"`
	Summary       string         `json:"summary"`
	Details       FindingDetails `json:"details"`
	Status        FindingStatus  `json:"status"`
	PerformanceID string         `json:"performance_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HasEntity reports whether the finding names a mechanic or machine that can
// be monitored.
func (f *Finding) HasEntity() bool {
	return f.Details.MechanicName != "" || f.Details.MechanicID != "" || f.Details.MachineNumber != ""
}
