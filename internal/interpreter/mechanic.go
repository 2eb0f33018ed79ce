package interpreter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
)

// Mechanics applies the z-score, worse-than-best and trend rules to a
// mechanic analysis.
func (i *Interpreter) Mechanics(a *analyzer.MechanicAnalysis) []model.Finding {
	if a == nil {
		return nil
	}
	set := i.newSet()
	th := i.thresholds

	overall := a.Overall
	for _, m := range overall.Mechanics {
		if m.ResponseZ <= th.ZScore {
			continue
		}
		emp := i.employee(m.Mechanic)
		set.add(model.AnalysisMechanicResponse, model.IssueResponseTime,
			fmt.Sprintf("RESPONSE TIME ALERT: %s (#%s) average response time is %.1f min vs. team average of %.1f min (Z-score: %.2f, %.0f%% above average)",
				m.Mechanic, emp, m.AvgResponse, overall.Stats.MeanResponse, m.ResponseZ, pctAbove(m.AvgResponse, overall.Stats.MeanResponse)),
			model.FindingDetails{
				MechanicID:     m.MechanicID,
				MechanicName:   m.Mechanic,
				EmployeeNumber: emp,
				Context:        "all machines",
				Metric:         analyzer.MetricNameResponse,
				Value:          m.AvgResponse,
				Mean:           overall.Stats.MeanResponse,
				StdDev:         overall.Stats.StdResponse,
				ZScore:         m.ResponseZ,
				Threshold:      th.ZScore,
				PctAboveMean:   pctAbove(m.AvgResponse, overall.Stats.MeanResponse),
				SampleCount:    m.Count,
				Severity:       i.zSeverity(m.ResponseZ),
			})
	}

	for _, g := range a.ByMachineType {
		for _, m := range g.Mechanics {
			emp := i.employee(m.Mechanic)
			if m.RepairZ > th.ZScore {
				set.add(model.AnalysisMechanicMachineRepair, model.IssueRepairTime,
					fmt.Sprintf("REPAIR TIME ALERT: %s (#%s) averages %.1f min repairing %s machines vs. team average of %.1f min (Z-score: %.2f)",
						m.Mechanic, emp, m.AvgRepair, g.MachineType, g.Stats.MeanRepair, m.RepairZ),
					i.repairDetails(g, m, emp, g.MachineType+" machines", i.zSeverity(m.RepairZ)))
			}
			if m.PctWorseThanBest != nil && *m.PctWorseThanBest > th.PctWorseThanBest {
				d := i.repairDetails(g, m, emp, g.MachineType+" machines vs. best", model.SeverityMedium)
				d.Threshold = th.PctWorseThanBest
				set.add(model.AnalysisMechanicWorseThanBest, model.IssueRepairTime,
					fmt.Sprintf("REPAIR GAP: %s (#%s) is %.0f%% slower than best performer %s on %s machines (%.1f vs %.1f min)",
						m.Mechanic, emp, *m.PctWorseThanBest, g.Stats.BestMechanic, g.MachineType, m.AvgRepair, g.Stats.BestRepair),
					d)
			}
		}
	}

	for _, g := range a.ByMachineReason {
		if g.MechanicCount < 2 {
			continue
		}
		for _, m := range g.Mechanics {
			if m.RepairZ <= th.ZScore {
				continue
			}
			emp := i.employee(m.Mechanic)
			d := i.repairDetails(g, m, emp, fmt.Sprintf("%s / %s", g.MachineType, g.Reason), i.zSeverity(m.RepairZ))
			d.Reason = g.Reason
			set.add(model.AnalysisMechanicMachineReasonRepair, model.IssueRepairTime,
				fmt.Sprintf("REPAIR TIME ALERT: %s (#%s) averages %.1f min on %s machines for %s vs. team average of %.1f min (Z-score: %.2f, %d mechanics compared)",
					m.Mechanic, emp, m.AvgRepair, g.MachineType, g.Reason, g.Stats.MeanRepair, m.RepairZ, g.MechanicCount),
				d)
		}
	}

	for _, tr := range a.Trends {
		t := tr.Trend
		if !t.IsSignificant || t.PctChangePerPeriod <= th.TrendPctPerPeriod {
			continue
		}
		analysisType, issue, label := model.AnalysisMechanicTrendRepair, model.IssueRepairTime, "repair time"
		if tr.Metric == analyzer.MetricNameResponse {
			analysisType, issue, label = model.AnalysisMechanicTrendResponse, model.IssueResponseTime, "response time"
		}
		severity := model.SeverityMedium
		if t.PValue < highConfidencePValue {
			severity = model.SeverityHigh
		}
		emp := i.employee(tr.Mechanic)
		set.add(analysisType, issue,
			fmt.Sprintf("TREND ALERT: %s (#%s) %s is increasing %.1f%% per month over %d months (p=%.3f, R²=%.2f)",
				tr.Mechanic, emp, label, t.PctChangePerPeriod, t.Periods, t.PValue, t.RSquared),
			model.FindingDetails{
				MechanicID:     tr.MechanicID,
				MechanicName:   tr.Mechanic,
				EmployeeNumber: emp,
				Context:        "monthly trend",
				Metric:         tr.Metric,
				Value:          t.Intercept + t.Slope*float64(t.Periods-1),
				Threshold:      th.TrendPctPerPeriod,
				PctAboveMean:   analyzer.Round(t.PctChangePerPeriod, 1),
				PValue:         ptr(t.PValue),
				RSquared:       ptr(t.RSquared),
				Periods:        t.Periods,
				Severity:       severity,
			})
	}

	findings := set.result()
	i.logger.Info("Interpreted mechanic analysis", zap.Int("findings", len(findings)))
	return findings
}

func (i *Interpreter) repairDetails(g analyzer.MechanicGroup, m analyzer.MechanicStat, emp, context string, severity model.Severity) model.FindingDetails {
	return model.FindingDetails{
		MechanicID:       m.MechanicID,
		MechanicName:     m.Mechanic,
		EmployeeNumber:   emp,
		MachineType:      g.MachineType,
		Context:          context,
		Metric:           analyzer.MetricNameRepair,
		Value:            m.AvgRepair,
		Mean:             g.Stats.MeanRepair,
		StdDev:           g.Stats.StdRepair,
		ZScore:           m.RepairZ,
		Threshold:        i.thresholds.ZScore,
		PctWorseThanBest: m.PctWorseThanBest,
		PctAboveMean:     pctAbove(m.AvgRepair, g.Stats.MeanRepair),
		SampleCount:      m.Count,
		Severity:         severity,
	}
}

func (i *Interpreter) zSeverity(z float64) model.Severity {
	if z >= i.thresholds.ZScore+highSeverityZScoreIncrement {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}
