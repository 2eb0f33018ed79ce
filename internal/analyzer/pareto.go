package analyzer

import (
	"fmt"
	"sort"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// DefaultParetoThreshold is the cumulative percentage the contributor subset must reach.
const DefaultParetoThreshold = 80.0

const paretoEpsilon = 1e-9

// Dimension is a record attribute Pareto analysis can group by.
type Dimension string

const (
	DimMachine         Dimension = "machine"
	DimMachineType     Dimension = "machine_type"
	DimReason          Dimension = "reason"
	DimLine            Dimension = "line"
	DimProductCategory Dimension = "product_category"
	DimSupervisor      Dimension = "supervisor"
	DimMechanic        Dimension = "mechanic"
)

// AllDimensions is the default dimension set.
var AllDimensions = []Dimension{DimMachine, DimMachineType, DimReason, DimLine, DimProductCategory, DimMechanic}

// Metric is the quantity summed per category.
type Metric string

const (
	MetricDowntime Metric = "downtime"
	MetricRepair   Metric = "repair_time"
	MetricResponse Metric = "response_time"
	MetricCount    Metric = "count"
)

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case DimMachine, DimMachineType, DimReason, DimLine, DimProductCategory, DimSupervisor, DimMechanic:
		return d, nil
	}
	return "", model.NewError(model.KindInvalidInput, "pareto", "unknown dimension %q", s)
}

// ParseMetric validates a metric name. Empty means downtime.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case "":
		return MetricDowntime, nil
	case MetricDowntime, MetricRepair, MetricResponse, MetricCount:
		return m, nil
	}
	return "", model.NewError(model.KindInvalidInput, "pareto", "unknown metric %q", s)
}

// DimensionValue returns the category of r along d.
func DimensionValue(r model.MaintenanceRecord, d Dimension) string {
	var v string
	switch d {
	case DimMachine:
		v = r.MachineNumber
	case DimMachineType:
		v = r.MachineType
	case DimReason:
		v = r.Reason
	case DimLine:
		v = r.ProductionLine
	case DimProductCategory:
		v = r.ProductCategory
	case DimSupervisor:
		v = r.Supervisor
	case DimMechanic:
		v = r.Mechanic()
	}
	if v == "" {
		return "Unknown"
	}
	return v
}

// MetricValue returns the contribution of r to m, in minutes or incidents.
func MetricValue(r model.MaintenanceRecord, m Metric) float64 {
	switch m {
	case MetricRepair:
		return r.RepairMinutes
	case MetricResponse:
		return r.ResponseMinutes
	case MetricCount:
		return 1
	default:
		return r.DowntimeMinutes
	}
}

// RelatedFactor is another dimension's value that dominates a category.
type RelatedFactor struct {
	Dimension Dimension `json:"dimension"`
	Value     string    `json:"value"`
	SharePct  float64   `json:"share_pct"`
}

// ParetoRow is one ranked category.
type ParetoRow struct {
	Category             string          `json:"category"`
	Value                float64         `json:"value"`
	IncidentCount        int             `json:"incident_count"`
	Percentage           float64         `json:"percentage"`
	Cumulative           float64         `json:"cumulative"`
	CumulativePercentage float64         `json:"cumulative_percentage"`
	IsContributor        bool            `json:"is_pareto_contributor"`
	RelatedFactors       []RelatedFactor `json:"related_factors,omitempty"`
}

// DimensionResult is the Pareto ranking along one dimension.
type DimensionResult struct {
	Dimension        Dimension   `json:"dimension"`
	Metric           Metric      `json:"metric"`
	Threshold        float64     `json:"threshold"`
	Total            float64     `json:"total"`
	ContributorCount int         `json:"contributor_count"`
	Rows             []ParetoRow `json:"rows"`
	Error            string      `json:"error,omitempty"`
}

// Contributors returns the rows inside the Pareto subset.
func (d *DimensionResult) Contributors() []ParetoRow {
	return d.Rows[:d.ContributorCount]
}

// ParetoAnalysis holds Pareto rankings across several dimensions.
type ParetoAnalysis struct {
	Metric      Metric            `json:"metric"`
	Threshold   float64           `json:"threshold"`
	RecordCount int               `json:"record_count"`
	Dimensions  []DimensionResult `json:"dimensions"`
}

// RankContributions sorts categories by value descending (ties by name),
// computes percentages, and marks the minimal prefix whose cumulative
// percentage reaches threshold. The first row is always a contributor.
// When the total is zero every row has 0% and every row is a contributor.
func RankContributions(values map[string]float64, counts map[string]int, threshold float64) ([]ParetoRow, float64, error) {
	if len(values) == 0 {
		return nil, 0, model.NewError(model.KindNoData, "pareto", "no categories")
	}
	if threshold <= 0 || threshold > 100 {
		return nil, 0, model.NewError(model.KindInvalidInput, "pareto", "threshold %.2f out of range (0, 100]", threshold)
	}

	total := 0.0
	rows := make([]ParetoRow, 0, len(values))
	for cat, v := range values {
		total += v
		rows = append(rows, ParetoRow{Category: cat, Value: v, IncidentCount: counts[cat]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].Category < rows[j].Category
	})

	if total <= 0 {
		for i := range rows {
			rows[i].IsContributor = true
		}
		return rows, 0, nil
	}

	cumulative := 0.0
	for i := range rows {
		before := 100 * cumulative / total
		rows[i].IsContributor = i == 0 || before < threshold-paretoEpsilon
		cumulative += rows[i].Value
		rows[i].Percentage = 100 * rows[i].Value / total
		rows[i].Cumulative = cumulative
		rows[i].CumulativePercentage = 100 * cumulative / total
	}
	return rows, total, nil
}

// Pareto ranks records along one dimension.
func Pareto(records []model.MaintenanceRecord, dim Dimension, metric Metric, threshold float64) (*DimensionResult, error) {
	values := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range records {
		cat := DimensionValue(r, dim)
		values[cat] += MetricValue(r, metric)
		counts[cat]++
	}

	rows, total, err := RankContributions(values, counts, threshold)
	if err != nil {
		return nil, fmt.Errorf("dimension %s: %w", dim, err)
	}

	result := &DimensionResult{
		Dimension: dim,
		Metric:    metric,
		Threshold: threshold,
		Total:     total,
		Rows:      rows,
	}
	for _, row := range rows {
		if row.IsContributor {
			result.ContributorCount++
		}
	}
	return result, nil
}

// AnalyzePareto ranks every dimension. A dimension that fails carries its
// error and does not stop the others.
func AnalyzePareto(records []model.MaintenanceRecord, dims []Dimension, metric Metric, threshold float64) (*ParetoAnalysis, error) {
	if len(records) == 0 {
		return nil, model.NewError(model.KindNoData, "analyze_pareto", "no records")
	}
	if len(dims) == 0 {
		dims = AllDimensions
	}

	analysis := &ParetoAnalysis{
		Metric:      metric,
		Threshold:   threshold,
		RecordCount: len(records),
	}
	for _, dim := range dims {
		result, err := Pareto(records, dim, metric, threshold)
		if err != nil {
			analysis.Dimensions = append(analysis.Dimensions, DimensionResult{
				Dimension: dim,
				Metric:    metric,
				Threshold: threshold,
				Error:     err.Error(),
			})
			continue
		}
		for i := 0; i < result.ContributorCount; i++ {
			result.Rows[i].RelatedFactors = relatedFactors(records, dim, result.Rows[i].Category, dims, metric)
		}
		analysis.Dimensions = append(analysis.Dimensions, *result)
	}
	return analysis, nil
}

// relatedFactors finds, for each other dimension, the value that carries
// the largest share of the category's metric, and keeps the top three.
func relatedFactors(records []model.MaintenanceRecord, dim Dimension, category string, dims []Dimension, metric Metric) []RelatedFactor {
	var subset []model.MaintenanceRecord
	total := 0.0
	for _, r := range records {
		if DimensionValue(r, dim) == category {
			subset = append(subset, r)
			total += MetricValue(r, metric)
		}
	}
	if total <= 0 {
		return nil
	}

	var factors []RelatedFactor
	for _, other := range dims {
		if other == dim {
			continue
		}
		sums := make(map[string]float64)
		for _, r := range subset {
			sums[DimensionValue(r, other)] += MetricValue(r, metric)
		}
		best, bestVal := "", -1.0
		for _, v := range sortedKeys(sums) {
			if sums[v] > bestVal {
				best, bestVal = v, sums[v]
			}
		}
		factors = append(factors, RelatedFactor{Dimension: other, Value: best, SharePct: 100 * bestVal / total})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].SharePct > factors[j].SharePct
	})
	if len(factors) > 3 {
		factors = factors[:3]
	}
	return factors
}
