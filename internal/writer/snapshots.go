package writer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

const (
	contextOverall       = "overall"
	contextMachineType   = "machine_type"
	contextMachineReason = "machine_reason"
)

type performanceKey struct {
	mechanic, machineType, reason string
}

// PerformanceLinks maps mechanic aggregates to their stored row IDs.
type PerformanceLinks map[performanceKey]string

// SaveMechanicSnapshot stores one mechanic_performance row per aggregate
// in the analysis and returns the IDs for linking findings.
func (w *Writer) SaveMechanicSnapshot(ctx context.Context, runID string, a *analyzer.MechanicAnalysis) (PerformanceLinks, error) {
	links := make(PerformanceLinks)
	if a == nil {
		return links, nil
	}
	now := w.now()
	var rows []storage.PerformanceRow
	add := func(scope string, g analyzer.MechanicGroup) {
		for _, m := range g.Mechanics {
			id := uuid.New().String()
			rows = append(rows, storage.PerformanceRow{
				ID:               id,
				RunID:            runID,
				Context:          scope,
				MachineType:      g.MachineType,
				Reason:           g.Reason,
				MechanicName:     m.Mechanic,
				MechanicID:       m.MechanicID,
				RecordCount:      m.Count,
				AvgRepair:        analyzer.Round(m.AvgRepair, 2),
				AvgResponse:      analyzer.Round(m.AvgResponse, 2),
				RepairZ:          analyzer.Round(m.RepairZ, 3),
				ResponseZ:        analyzer.Round(m.ResponseZ, 3),
				PctWorseThanBest: m.PctWorseThanBest,
				CreatedAt:        now,
			})
			links[performanceKey{m.Mechanic, g.MachineType, g.Reason}] = id
		}
	}

	add(contextOverall, a.Overall)
	for _, g := range a.ByMachineType {
		add(contextMachineType, g)
	}
	for _, g := range a.ByMachineReason {
		add(contextMachineReason, g)
	}

	if err := w.store.SavePerformanceRows(ctx, rows); err != nil {
		return nil, model.WrapError(model.KindStorage, "save_mechanic_snapshot", err)
	}
	w.logger.Info("Saved mechanic performance snapshot", zap.String("run_id", runID), zap.Int("rows", len(rows)))
	return links, nil
}

// Link sets PerformanceID on mechanic findings that match a stored aggregate.
func (l PerformanceLinks) Link(findings []model.Finding) {
	for i := range findings {
		d := findings[i].Details
		if d.MechanicName == "" {
			continue
		}
		if id, ok := l[performanceKey{d.MechanicName, d.MachineType, d.Reason}]; ok {
			findings[i].PerformanceID = id
			continue
		}
		if id, ok := l[performanceKey{mechanic: d.MechanicName}]; ok {
			findings[i].PerformanceID = id
		}
	}
}

// SaveParetoSnapshot stores a Pareto run as JSON.
func (w *Writer) SaveParetoSnapshot(ctx context.Context, runID string, a *analyzer.ParetoAnalysis) error {
	if a == nil {
		return nil
	}
	if err := w.store.SaveParetoSnapshot(ctx, uuid.New().String(), runID, string(a.Metric), a.Threshold, a.RecordCount, a, w.now()); err != nil {
		return model.WrapError(model.KindStorage, "save_pareto_snapshot", err)
	}
	return nil
}
