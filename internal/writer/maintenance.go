package writer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	maintenanceParetoThreshold = 80
	highPriorityDueDays        = 7
	mediumPriorityDueDays      = 14
	unassignedMechanic         = "unassigned"
)

// MaintenancePlan is the outcome of scheduling from a cluster analysis
type MaintenancePlan struct {
	Created        []model.ScheduledMaintenance `json:"created"`
	Skipped        []string                     `json:"skipped"`
	HighPriority   int                          `json:"high_priority_count"`
	MediumPriority int                          `json:"medium_priority_count"`
}

// ScheduleFromClusters creates preventive maintenance for every high-risk
// machine. Machines inside the Pareto subset of failure counts are high
// priority, the rest medium. Machines with an open job are skipped. Each job
// goes to the mechanic with the fewest open jobs.
func (w *Writer) ScheduleFromClusters(ctx context.Context, a *analyzer.ClusterAnalysis, today time.Time) (*MaintenancePlan, error) {
	plan := &MaintenancePlan{}
	if a == nil {
		return plan, nil
	}
	machines := a.HighRisk()
	if len(machines) == 0 {
		return plan, nil
	}

	failures := make(map[string]float64, len(machines))
	counts := make(map[string]int, len(machines))
	byNumber := make(map[string]analyzer.MachineFeatures, len(machines))
	for _, m := range machines {
		failures[m.MachineNumber] = float64(m.FailureCount)
		counts[m.MachineNumber] = m.FailureCount
		byNumber[m.MachineNumber] = m
	}
	rows, _, err := analyzer.RankContributions(failures, counts, maintenanceParetoThreshold)
	if err != nil {
		return nil, err
	}

	mechanics, err := w.newAssigner(ctx)
	if err != nil {
		return nil, err
	}

	start := dateOf(today)
	for _, row := range rows {
		m := byNumber[row.Category]
		priority, days := model.SeverityMedium, mediumPriorityDueDays
		if row.IsContributor {
			priority, days = model.SeverityHigh, highPriorityDueDays
			plan.HighPriority++
		} else {
			plan.MediumPriority++
		}

		job := &model.ScheduledMaintenance{
			ID:              uuid.New().String(),
			MachineNumber:   m.MachineNumber,
			MachineType:     m.MachineType,
			Priority:        priority,
			DueDate:         start.AddDate(0, 0, days),
			Status:          model.MaintenanceOpen,
			FailureCount:    m.FailureCount,
			DowntimeMinutes: analyzer.Round(m.DowntimeMinutes, 1),
			CreatedAt:       today,
		}
		job.AssignedMechanic = mechanics.next()
		job.Reason = fmt.Sprintf("Schedule maintenance for %s (#%s) - identified in high failure cluster with %d failures",
			labelOr(m.MachineType, "Unknown"), m.MachineNumber, m.FailureCount)

		created, err := w.store.CreateScheduledMaintenance(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule maintenance for %s: %w", m.MachineNumber, err)
		}
		if !created {
			mechanics.release(job.AssignedMechanic)
			plan.Skipped = append(plan.Skipped, m.MachineNumber)
			continue
		}
		plan.Created = append(plan.Created, *job)
	}

	w.logger.Info("Scheduled preventive maintenance",
		zap.Int("high_risk_machines", len(machines)),
		zap.Int("created", len(plan.Created)),
		zap.Int("skipped", len(plan.Skipped)))
	return plan, nil
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// assigner hands out mechanics by lowest open workload, ties by name.
type assigner struct {
	names []string
	load  map[string]int
}

func (w *Writer) newAssigner(ctx context.Context) (*assigner, error) {
	mechanics, err := w.store.ListMechanics(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load mechanics: %w", err)
	}
	load, err := w.store.OpenMaintenanceCounts(ctx)
	if err != nil {
		return nil, err
	}
	a := &assigner{load: load}
	for _, m := range mechanics {
		a.names = append(a.names, m.FullName)
	}
	sort.Strings(a.names)
	return a, nil
}

func (a *assigner) next() string {
	if len(a.names) == 0 {
		return unassignedMechanic
	}
	best := a.names[0]
	for _, n := range a.names[1:] {
		if a.load[n] < a.load[best] {
			best = n
		}
	}
	a.load[best]++
	return best
}

func (a *assigner) release(name string) {
	if a.load[name] > 0 {
		a.load[name]--
	}
}
