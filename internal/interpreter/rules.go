package interpreter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
)

const metricRepeatFailures = "repeat_failures"

// Repeats flags machines and mechanics with many repeat failures, machines
// with rapid repeats, and the most common repeating problem.
func (i *Interpreter) Repeats(a *analyzer.RepeatAnalysis) []model.Finding {
	if a == nil {
		return nil
	}
	set := i.newSet()
	th := i.thresholds

	for _, c := range a.ByMachine {
		if c.Count >= th.RepeatCount {
			set.add(model.AnalysisRepeatMachine, model.IssueRepeatFailure,
				fmt.Sprintf("REPEAT FAILURE ALERT: machine %s (%s) failed again within %.0f min %d times",
					c.Key, c.MachineType, a.WindowMinutes, c.Count),
				model.FindingDetails{
					MachineNumber: c.Key,
					MachineType:   c.MachineType,
					Context:       fmt.Sprintf("within %.0f min", a.WindowMinutes),
					Metric:        metricRepeatFailures,
					Value:         float64(c.Count),
					PeriodDays:    a.PeriodDays,
					Threshold:     float64(th.RepeatCount),
					SampleCount:   c.Count,
					Severity:      i.repeatSeverity(c.Count),
				})
		}
		if c.RapidCount > 0 {
			set.add(model.AnalysisRepeatRapid, model.IssueRepeatFailure,
				fmt.Sprintf("RAPID REPEAT ALERT: machine %s (%s) failed again within %.0f min of a repair %d times",
					c.Key, c.MachineType, analyzer.RapidRepeatWindow.Minutes(), c.RapidCount),
				model.FindingDetails{
					MachineNumber: c.Key,
					MachineType:   c.MachineType,
					Context:       fmt.Sprintf("within %.0f min", analyzer.RapidRepeatWindow.Minutes()),
					Metric:        metricRepeatFailures,
					Value:         float64(c.RapidCount),
					PeriodDays:    a.PeriodDays,
					SampleCount:   c.Count,
					Severity:      model.SeverityHigh,
				})
		}
	}

	for _, c := range a.ByMechanic {
		if c.Count < th.RepeatCount {
			continue
		}
		emp := i.employee(c.Key)
		set.add(model.AnalysisRepeatMechanic, model.IssueRepeatFailure,
			fmt.Sprintf("REPEAT FAILURE ALERT: %s (#%s) had %d repairs followed by another failure within %.0f min",
				c.Key, emp, c.Count, a.WindowMinutes),
			model.FindingDetails{
				MechanicID:     c.KeyID,
				MechanicName:   c.Key,
				EmployeeNumber: emp,
				Context:        fmt.Sprintf("within %.0f min", a.WindowMinutes),
				Metric:         metricRepeatFailures,
				Value:          float64(c.Count),
				PeriodDays:     a.PeriodDays,
				Threshold:      float64(th.RepeatCount),
				SampleCount:    c.Count,
				Severity:       i.repeatSeverity(c.Count),
			})
	}

	if len(a.CommonProblems) > 0 && a.CommonProblems[0].Count >= th.RepeatCount {
		top := a.CommonProblems[0]
		set.add(model.AnalysisRepeatCommonProblem, model.IssueRepeatFailure,
			fmt.Sprintf("COMMON PROBLEM: %q led to %d repeat failures", top.Reason, top.Count),
			model.FindingDetails{
				Reason:      top.Reason,
				Category:    top.Reason,
				Metric:      metricRepeatFailures,
				Value:       float64(top.Count),
				Threshold:   float64(th.RepeatCount),
				SampleCount: top.Count,
				Severity:    i.repeatSeverity(top.Count),
			})
	}

	findings := set.result()
	i.logger.Info("Interpreted repeat failures", zap.Int("findings", len(findings)))
	return findings
}

func (i *Interpreter) repeatSeverity(count int) model.Severity {
	if count >= i.thresholds.RepeatHighSeverity {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

// Pareto flags the categories inside the Pareto subset whose share reaches
// ParetoMinSharePct. Machine and mechanic categories become monitorable
// entities unless the metric is an incident count.
func (i *Interpreter) Pareto(a *analyzer.ParetoAnalysis) []model.Finding {
	if a == nil {
		return nil
	}
	set := i.newSet()
	th := i.thresholds

	issue := model.IssueDowntime
	switch a.Metric {
	case analyzer.MetricRepair:
		issue = model.IssueRepairTime
	case analyzer.MetricResponse:
		issue = model.IssueResponseTime
	}

	for _, dim := range a.Dimensions {
		if dim.Error != "" {
			continue
		}
		for _, row := range dim.Contributors() {
			if row.Percentage < th.ParetoMinSharePct {
				continue
			}
			d := model.FindingDetails{
				Dimension:   string(dim.Dimension),
				Category:    row.Category,
				Context:     fmt.Sprintf("top %.0f%% of %s", dim.Threshold, dim.Metric),
				Metric:      string(dim.Metric),
				Value:       row.Value,
				Threshold:   th.ParetoMinSharePct,
				SampleCount: row.IncidentCount,
				Severity:    model.SeverityMedium,
			}
			if row.Percentage >= 2*th.ParetoMinSharePct {
				d.Severity = model.SeverityHigh
			}
			if a.Metric != analyzer.MetricCount && row.IncidentCount > 0 {
				d.Value = row.Value / float64(row.IncidentCount)
				d.Mean = dim.Total / float64(a.RecordCount)
				switch dim.Dimension {
				case analyzer.DimMachine:
					d.MachineNumber = row.Category
				case analyzer.DimMechanic:
					d.MechanicName = row.Category
					d.EmployeeNumber = i.employee(row.Category)
				case analyzer.DimMachineType:
					d.MachineType = row.Category
				}
			}
			d.PctAboveMean = analyzer.Round(row.Percentage, 1)
			set.add(model.AnalysisParetoContributor, issue,
				fmt.Sprintf("PARETO: %s %s accounts for %.1f%% of %s (%.1f total, %d incidents, cumulative %.1f%%)",
					dim.Dimension, row.Category, row.Percentage, dim.Metric, row.Value, row.IncidentCount, row.CumulativePercentage),
				d)
		}
	}

	findings := set.result()
	i.logger.Info("Interpreted pareto analysis", zap.Int("findings", len(findings)))
	return findings
}

// Clusters flags every machine in the high-risk cluster.
func (i *Interpreter) Clusters(a *analyzer.ClusterAnalysis) []model.Finding {
	if a == nil || len(a.Clusters) < 2 {
		return nil
	}
	set := i.newSet()
	risk := a.Clusters[1]
	baselineMean := a.BaselineDowntimePerFailure()

	for _, m := range a.HighRisk() {
		avg := 0.0
		if m.FailureCount > 0 {
			avg = m.DowntimeMinutes / float64(m.FailureCount)
		}
		set.add(model.AnalysisClusterHighRisk, model.IssueDowntime,
			fmt.Sprintf("HIGH-RISK MACHINE: %s (%s, %.1f years) had %d failures and %.1f min downtime; its cluster averages %.0f%% more failures than the baseline",
				m.MachineNumber, m.MachineType, m.AgeYears, m.FailureCount, m.DowntimeMinutes, risk.PctDiffFailure),
			model.FindingDetails{
				MachineNumber: m.MachineNumber,
				MachineType:   m.MachineType,
				Context:       "machine cluster",
				Metric:        "avg_downtime_minutes",
				Value:         avg,
				Mean:          analyzer.Round(baselineMean, 2),
				PctAboveMean:  analyzer.Round(risk.PctDiffDowntime, 1),
				SampleCount:   m.FailureCount,
				Severity:      model.SeverityHigh,
			})
	}

	findings := set.result()
	i.logger.Info("Interpreted machine clusters", zap.Int("findings", len(findings)))
	return findings
}

// TimePatterns flags hours of day whose downtime stands out.
func (i *Interpreter) TimePatterns(a *analyzer.PatternAnalysis) []model.Finding {
	if a == nil {
		return nil
	}
	set := i.newSet()
	th := i.thresholds

	for _, b := range a.ByHour {
		if b.ZScore <= th.PeakHourZScore {
			continue
		}
		set.add(model.AnalysisPeakHour, model.IssueDowntime,
			fmt.Sprintf("PEAK HOUR: %s has %.1f min downtime across %d incidents vs. hourly average of %.1f min (Z-score: %.2f)",
				b.Label, b.DowntimeMinutes, b.IncidentCount, a.MeanHourly, b.ZScore),
			model.FindingDetails{
				Dimension:    "hour_of_day",
				Category:     b.Label,
				Metric:       "downtime_minutes",
				Value:        b.DowntimeMinutes,
				Mean:         a.MeanHourly,
				StdDev:       a.StdHourly,
				ZScore:       b.ZScore,
				Threshold:    th.PeakHourZScore,
				PctAboveMean: pctAbove(b.DowntimeMinutes, a.MeanHourly),
				SampleCount:  b.IncidentCount,
				Severity:     model.SeverityMedium,
			})
	}

	findings := set.result()
	i.logger.Info("Interpreted time patterns", zap.Int("findings", len(findings)))
	return findings
}

