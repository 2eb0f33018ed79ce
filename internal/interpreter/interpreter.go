// Package interpreter applies threshold rules to analysis results and emits
// findings. Rules are additive: every rule that fires yields a finding.
package interpreter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/analyzer"
	"github.com/t77yq/maintenance-agent/internal/model"
)

const unknownEmployee = "Unknown"

// Interpreter turns analyzer output into findings
type Interpreter struct {
	logger     *zap.Logger
	thresholds Thresholds
	directory  map[string]string
	now        func() time.Time
}

// NewInterpreter creates an interpreter. directory maps mechanic names to
// employee numbers.
func NewInterpreter(logger *zap.Logger, thresholds Thresholds, directory map[string]string) *Interpreter {
	if directory == nil {
		directory = map[string]string{}
	}
	return &Interpreter{
		logger:     logger.Named("interpreter"),
		thresholds: thresholds.WithDefaults(),
		directory:  directory,
		now:        time.Now,
	}
}

// Thresholds returns the active cut-offs.
func (i *Interpreter) Thresholds() Thresholds {
	return i.thresholds
}

func (i *Interpreter) employee(name string) string {
	if emp, ok := i.directory[name]; ok && emp != "" {
		return emp
	}
	return unknownEmployee
}

// findingSet collects findings and drops exact duplicates.
type findingSet struct {
	now      time.Time
	seen     map[string]bool
	findings []model.Finding
}

func (i *Interpreter) newSet() *findingSet {
	return &findingSet{now: i.now(), seen: make(map[string]bool)}
}

func (s *findingSet) add(analysisType model.AnalysisType, issue model.IssueType, summary string, d model.FindingDetails) {
	key := fmt.Sprintf("%s|%s|%s|%s|%.1f|%s|%s|%s|%s",
		analysisType, d.MechanicName, d.MechanicID, d.Metric, d.Value, d.MachineType, d.Reason, d.MachineNumber, d.Category)
	if s.seen[key] {
		return
	}
	s.seen[key] = true

	d.Value = analyzer.Round(d.Value, 1)
	s.findings = append(s.findings, model.Finding{
		ID:           uuid.New().String(),
		AnalysisType: analysisType,
		IssueType:    issue,
		Summary:      summary,
		Details:      d,
		Status:       model.FindingStatusNew,
		CreatedAt:    s.now,
	})
}

func (s *findingSet) result() []model.Finding {
	return s.findings
}

func pctAbove(value, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return analyzer.Round(100*(value-mean)/mean, 1)
}

func ptr(v float64) *float64 {
	return &v
}
