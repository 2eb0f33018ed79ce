package monitor

import (
	"fmt"
	"math"
	"sort"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	minSummaryMeasurements      = 2
	minTrendMeasurements        = 3
	minSignificanceMeasurements = 4
	movingAverageWindow         = 3

	// significanceP is the cut-off for the first half vs second half t-test.
	significanceP = 0.10

	strongTrendR2   = 0.7
	moderateTrendR2 = 0.3
)

// Summarize aggregates task measurements, baseline first. Every monitored
// metric improves as it falls, so improvement percentages are the negated
// change.
func Summarize(task model.Task, measurements []model.Measurement) model.TaskSummary {
	ms := make([]model.Measurement, len(measurements))
	copy(ms, measurements)
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].IsBaseline != ms[j].IsBaseline {
			return ms[i].IsBaseline
		}
		return ms[i].MeasurementDate.Before(ms[j].MeasurementDate)
	})

	s := model.TaskSummary{
		TaskID:           task.ID,
		IssueType:        task.IssueType,
		MeasurementCount: len(ms),
		TrendStrength:    "none",
		TrendDescription: "Insufficient data for trend analysis",
	}
	if len(ms) < minSummaryMeasurements {
		s.InsufficientData = true
		return s
	}

	values := make([]float64, len(ms))
	for i, m := range ms {
		values[i] = m.Value
	}
	first, last := ms[0], ms[len(ms)-1]
	s.DurationDays = int(last.MeasurementDate.Sub(first.MeasurementDate).Hours() / 24)
	s.BaselineValue = first.Value
	s.LatestValue = last.Value
	change := ChangePct(first.Value, last.Value)
	s.ChangePct = analyzer.Round(change, 2)
	s.ImprovementPct = analyzer.Round(-change, 2)

	if len(ms) >= movingAverageWindow {
		avg := analyzer.Round(analyzer.Mean(values[len(values)-movingAverageWindow:]), 2)
		recent := analyzer.Round(-ChangePct(first.Value, avg), 2)
		s.MovingAverage = &avg
		s.RecentImprovementPct = &recent
	}

	if len(ms) >= minTrendMeasurements {
		summarizeTrend(&s, ms, values)
	}

	if len(ms) >= minSignificanceMeasurements {
		mid := len(values) / 2
		if _, p, err := analyzer.WelchTTest(values[:mid], values[mid:]); err == nil {
			p = analyzer.Round(p, 4)
			s.PValue = &p
			s.IsSignificant = p <= significanceP
		}
	}

	for i := 1; i < len(values); i++ {
		s.PeriodChanges = append(s.PeriodChanges, analyzer.Round(ChangePct(values[i-1], values[i]), 2))
	}
	return s
}

// summarizeTrend regresses values on days since the first measurement,
// falling back to the index when all measurements share a date.
func summarizeTrend(s *model.TaskSummary, ms []model.Measurement, values []float64) {
	x := make([]float64, len(ms))
	for i, m := range ms {
		x[i] = m.MeasurementDate.Sub(ms[0].MeasurementDate).Hours() / 24
	}
	reg, err := analyzer.Regress(x, values)
	if err != nil {
		for i := range x {
			x[i] = float64(i)
		}
		if reg, err = analyzer.Regress(x, values); err != nil {
			return
		}
	}

	s.TrendSlope = analyzer.Round(reg.Slope, 4)
	s.TrendRSquared = analyzer.Round(reg.RSquared, 4)
	p := analyzer.Round(reg.PValue, 4)
	s.TrendPValue = &p
	s.IsImproving = reg.Slope < 0

	if reg.PValue > analyzer.SignificanceLevel {
		s.TrendDescription = fmt.Sprintf("no statistically significant trend (p=%.3f)", reg.PValue)
		return
	}
	switch {
	case reg.RSquared >= strongTrendR2:
		s.TrendStrength = "strong"
	case reg.RSquared >= moderateTrendR2:
		s.TrendStrength = "moderate"
	default:
		s.TrendStrength = "weak"
	}
	direction := "deteriorating"
	if s.IsImproving {
		direction = "improving"
	}
	s.TrendDescription = fmt.Sprintf("%s %s trend (p=%.3f, r²=%.2f)", s.TrendStrength, direction, reg.PValue, reg.RSquared)
}

// Decide applies the evaluation table to a summary. Only the summary's
// InsufficientData flag sends it to the low confidence review.
func Decide(s model.TaskSummary) model.Decision {
	imp := s.ImprovementPct
	switch {
	case s.InsufficientData:
		return model.Decision{
			Action:         model.ActionReview,
			Confidence:     model.SeverityLow,
			Explanation:    "Not enough measurements to make a data-driven decision",
			Recommendation: "Manual review required due to limited data",
		}
	case imp >= 15 && s.IsImproving && s.IsSignificant:
		return model.Decision{
			Action:         model.ActionClose,
			Confidence:     model.SeverityHigh,
			Explanation:    fmt.Sprintf("Performance has improved by %.2f%% with statistical significance and shows a positive trend.", imp),
			Recommendation: "Close this task as performance has met the improvement threshold with statistical confidence.",
		}
	case imp >= 10 && s.IsImproving:
		return model.Decision{
			Action:         model.ActionClose,
			Confidence:     model.SeverityMedium,
			Explanation:    fmt.Sprintf("Performance has improved by %.2f%% and shows a positive trend, though not statistically significant.", imp),
			Recommendation: "Close this task but schedule a follow-up review in 30 days to confirm sustained improvement.",
		}
	case imp >= 5 && s.IsImproving:
		return model.Decision{
			Action:         model.ActionExtend,
			Confidence:     model.SeverityMedium,
			Explanation:    fmt.Sprintf("Some improvement (%.2f%%) but more monitoring needed to confirm trend.", imp),
			Recommendation: "Extend monitoring for an additional period to confirm sustainable improvement.",
		}
	case imp > 0:
		return model.Decision{
			Action:         model.ActionReview,
			Confidence:     model.SeverityMedium,
			Explanation:    fmt.Sprintf("Minimal improvement (%.2f%%) requires manager review.", imp),
			Recommendation: "Have a manager review the performance data and decide next steps.",
		}
	default:
		return model.Decision{
			Action:         model.ActionIntervene,
			Confidence:     model.SeverityHigh,
			Explanation:    fmt.Sprintf("Performance is deteriorating by %.2f%%.", math.Abs(imp)),
			Recommendation: "Immediate intervention required to address performance issues.",
		}
	}
}
