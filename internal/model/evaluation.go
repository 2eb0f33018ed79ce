package model

import "time"

// DecisionAction is the evaluator's verdict on a task
type DecisionAction string

const (
	ActionClose     DecisionAction = "close"
	ActionExtend    DecisionAction = "extend"
	ActionReview    DecisionAction = "review"
	ActionIntervene DecisionAction = "intervene"
)

// TaskSummary aggregates a task's measurements for evaluation. Improvement
// percentages are sign-normalized so positive always means better.
type TaskSummary struct {
	TaskID               string    `json:"task_id"`
	IssueType            IssueType `json:"issue_type"`
	MeasurementCount     int       `json:"measurement_count"`
	InsufficientData     bool      `json:"insufficient_data"`
	DurationDays         int       `json:"duration_days"`
	BaselineValue        float64   `json:"baseline_value"`
	LatestValue          float64   `json:"latest_value"`
	ChangePct            float64   `json:"raw_change_pct"`
	ImprovementPct       float64   `json:"improvement_pct"`
	IsImproving          bool      `json:"is_improving"`
	TrendSlope           float64   `json:"trend_slope"`
	TrendRSquared        float64   `json:"trend_r_squared"`
	TrendPValue          *float64  `json:"trend_p_value,omitempty"`
	TrendStrength        string    `json:"trend_strength"`
	TrendDescription     string    `json:"trend_description"`
	IsSignificant        bool      `json:"is_significant"`
	PValue               *float64  `json:"p_value,omitempty"`
	MovingAverage        *float64  `json:"moving_average,omitempty"`
	RecentImprovementPct *float64  `json:"recent_improvement_pct,omitempty"`
	PeriodChanges        []float64 `json:"period_changes,omitempty"`
}

// Decision is one row of the evaluation decision table
type Decision struct {
	Action         DecisionAction `json:"action"`
	Confidence     Severity       `json:"confidence"`
	Explanation    string         `json:"explanation"`
	Recommendation string         `json:"recommendation"`
}

// Evaluation is a persisted evaluator outcome
type Evaluation struct {
	ID          string      `json:"id"`
	TaskID      string      `json:"task_id"`
	Summary     TaskSummary `json:"summary"`
	Decision    Decision    `json:"decision"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}
