package interpreter

const (
	DefaultZScoreThreshold      = 1.5
	DefaultPctWorseThanBest     = 30.0
	DefaultTrendPctPerPeriod    = 5.0
	DefaultRepeatCount          = 3
	DefaultRepeatHighSeverity   = 5
	DefaultParetoMinSharePct    = 10.0
	DefaultPeakHourZScore       = 1.5
	highConfidencePValue        = 0.01
	highSeverityZScoreIncrement = 1.0
)

// Thresholds are the rule cut-offs. Zero fields fall back to the defaults.
type Thresholds struct {
	ZScore             float64 `mapstructure:"z_score" json:"z_score"`
	PctWorseThanBest   float64 `mapstructure:"pct_worse_than_best" json:"pct_worse_than_best"`
	TrendPctPerPeriod  float64 `mapstructure:"trend_pct_per_period" json:"trend_pct_per_period"`
	RepeatCount        int     `mapstructure:"repeat_count" json:"repeat_count"`
	RepeatHighSeverity int     `mapstructure:"repeat_high_severity" json:"repeat_high_severity"`
	ParetoMinSharePct  float64 `mapstructure:"pareto_min_share_pct" json:"pareto_min_share_pct"`
	PeakHourZScore     float64 `mapstructure:"peak_hour_z_score" json:"peak_hour_z_score"`
}

// DefaultThresholds returns the standard rule cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ZScore:             DefaultZScoreThreshold,
		PctWorseThanBest:   DefaultPctWorseThanBest,
		TrendPctPerPeriod:  DefaultTrendPctPerPeriod,
		RepeatCount:        DefaultRepeatCount,
		RepeatHighSeverity: DefaultRepeatHighSeverity,
		ParetoMinSharePct:  DefaultParetoMinSharePct,
		PeakHourZScore:     DefaultPeakHourZScore,
	}
}

// WithDefaults fills unset fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ZScore <= 0 {
		t.ZScore = d.ZScore
	}
	if t.PctWorseThanBest <= 0 {
		t.PctWorseThanBest = d.PctWorseThanBest
	}
	if t.TrendPctPerPeriod <= 0 {
		t.TrendPctPerPeriod = d.TrendPctPerPeriod
	}
	if t.RepeatCount <= 0 {
		t.RepeatCount = d.RepeatCount
	}
	if t.RepeatHighSeverity <= 0 {
		t.RepeatHighSeverity = d.RepeatHighSeverity
	}
	if t.ParetoMinSharePct <= 0 {
		t.ParetoMinSharePct = d.ParetoMinSharePct
	}
	if t.PeakHourZScore <= 0 {
		t.PeakHourZScore = d.PeakHourZScore
	}
	return t
}
