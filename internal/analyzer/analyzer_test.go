package analyzer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/maintenance-agent/internal/model"
)

var base = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)

func rec(machine, mechanic string, at time.Time, downtime, repair, response float64) model.MaintenanceRecord {
	return model.MaintenanceRecord{
		ID:              machine + "-" + at.Format(time.RFC3339),
		MachineNumber:   machine,
		MachineType:     "Lockstitch",
		MechanicName:    mechanic,
		Reason:          "Needle",
		Status:          model.RecordStatusClosed,
		CreatedAt:       at,
		DowntimeMinutes: downtime,
		RepairMinutes:   repair,
		ResponseMinutes: response,
		HourOfDay:       at.Hour(),
		DayOfWeek:       at.Weekday(),
		Period:          at.Format("2006-01"),
	}
}

func withAge(r model.MaintenanceRecord, age float64) model.MaintenanceRecord {
	r.MachineAgeYears = &age
	return r
}

func TestAnalyzeMechanics(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 15, 10, 5),
		rec("M2", "Bob", base.Add(time.Hour), 25, 20, 5),
		rec("M3", "Cara", base.Add(2*time.Hour), 40, 30, 10),
	}

	analysis, err := AnalyzeMechanics(records)
	require.NoError(t, err)
	assert.Equal(t, 3, analysis.RecordCount)

	overall := analysis.Overall
	require.Len(t, overall.Mechanics, 3)
	assert.Equal(t, "Ann", overall.Stats.BestMechanic)
	assert.InDelta(t, 10, overall.Stats.BestRepair, 1e-9)
	assert.InDelta(t, 20, overall.Stats.MeanRepair, 1e-9)

	cara := overall.Mechanics[2]
	assert.Equal(t, "Cara", cara.Mechanic)
	assert.InDelta(t, 1.2247, cara.RepairZ, 1e-4)
	assert.InDelta(t, 1.4142, cara.ResponseZ, 1e-4)
	require.NotNil(t, cara.PctWorseThanBest)
	assert.InDelta(t, 200, *cara.PctWorseThanBest, 1e-9)

	require.Len(t, analysis.ByMachineType, 1)
	assert.Equal(t, "Lockstitch", analysis.ByMachineType[0].MachineType)
	require.Len(t, analysis.ByMachineReason, 1)
	assert.Equal(t, 3, analysis.ByMachineReason[0].MechanicCount)
}

func TestAnalyzeMechanics_SingleMechanicGroupHasZeroScores(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 15, 10, 5),
		rec("M1", "Ann", base.Add(time.Hour), 35, 30, 5),
	}
	analysis, err := AnalyzeMechanics(records)
	require.NoError(t, err)
	group := analysis.ByMachineReason[0]
	assert.Equal(t, 1, group.MechanicCount)
	assert.Zero(t, group.Mechanics[0].RepairZ)
}

func TestAnalyzeMechanics_Trend(t *testing.T) {
	var records []model.MaintenanceRecord
	for i, repair := range []float64{10, 15, 20, 25} {
		records = append(records, rec("M1", "Ann", base.AddDate(0, i, 0), repair+5, repair, 5))
	}
	analysis, err := AnalyzeMechanics(records)
	require.NoError(t, err)

	require.Len(t, analysis.Trends, 2)
	repair := analysis.Trends[0]
	assert.Equal(t, MetricNameRepair, repair.Metric)
	assert.InDelta(t, 5, repair.Trend.Slope, 1e-9)
	assert.InDelta(t, 50, repair.Trend.PctChangePerPeriod, 1e-9)
	assert.True(t, repair.Trend.IsSignificant)
}

func TestAnalyzeMechanics_InsufficientData(t *testing.T) {
	_, err := AnalyzeMechanics([]model.MaintenanceRecord{rec("M1", "Ann", base, 1, 1, 1)})
	assert.True(t, errors.Is(err, model.ErrInsufficientData))
}

func TestRankContributions(t *testing.T) {
	values := map[string]float64{"A": 50, "B": 30, "C": 20}
	counts := map[string]int{"A": 5, "B": 3, "C": 2}

	tests := []struct {
		name      string
		threshold float64
		want      []bool
	}{
		{"eighty", 80, []bool{true, true, false}},
		{"fifty", 50, []bool{true, false, false}},
		{"tiny", 1, []bool{true, false, false}},
		{"all", 100, []bool{true, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, total, err := RankContributions(values, counts, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, 100.0, total)
			require.Len(t, rows, 3)
			for i, row := range rows {
				assert.Equal(t, tt.want[i], row.IsContributor, row.Category)
			}
		})
	}

	rows, _, err := RankContributions(values, counts, 80)
	require.NoError(t, err)
	assert.Equal(t, "A", rows[0].Category)
	assert.InDelta(t, 50, rows[0].CumulativePercentage, 1e-9)
	assert.InDelta(t, 80, rows[1].CumulativePercentage, 1e-9)
	assert.InDelta(t, 100, rows[2].CumulativePercentage, 1e-9)
	assert.Equal(t, 3, rows[1].IncidentCount)
}

func TestRankContributions_Errors(t *testing.T) {
	_, _, err := RankContributions(nil, nil, 80)
	assert.Equal(t, model.KindNoData, model.KindOf(err))

	_, _, err = RankContributions(map[string]float64{"A": 1}, nil, 0)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestAnalyzePareto(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 50, 40, 10),
		rec("M2", "Bob", base, 30, 20, 10),
		rec("M3", "Ann", base, 20, 15, 5),
	}
	records[2].Reason = "Belt"

	analysis, err := AnalyzePareto(records, []Dimension{DimMachine, DimReason, DimLine}, MetricDowntime, DefaultParetoThreshold)
	require.NoError(t, err)
	require.Len(t, analysis.Dimensions, 3)

	machine := analysis.Dimensions[0]
	assert.Empty(t, machine.Error)
	assert.Equal(t, 2, machine.ContributorCount)
	require.Len(t, machine.Contributors(), 2)
	assert.Equal(t, "M1", machine.Rows[0].Category)
	require.NotEmpty(t, machine.Rows[0].RelatedFactors)
	assert.InDelta(t, 100, machine.Rows[0].RelatedFactors[0].SharePct, 1e-9)

	reason := analysis.Dimensions[1]
	assert.Equal(t, "Needle", reason.Rows[0].Category)
	assert.InDelta(t, 80, reason.Rows[0].Value, 1e-9)

	line := analysis.Dimensions[2]
	assert.Equal(t, "Unknown", line.Rows[0].Category)
}

func TestPareto_ZeroTotalKeepsSubset(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 10, 5, 0),
		rec("M2", "Bob", base, 20, 5, 0),
	}

	result, err := Pareto(records, DimMachine, MetricResponse, 80)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Total)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, 2, result.ContributorCount)
	assert.Equal(t, "M1", result.Rows[0].Category)
	for _, row := range result.Rows {
		assert.True(t, row.IsContributor)
		assert.Equal(t, 0.0, row.Percentage)
		assert.Equal(t, 0.0, row.CumulativePercentage)
	}

	// Test case: the multi-dimension run reports no error for a zero total
	analysis, err := AnalyzePareto(records, []Dimension{DimMachine}, MetricResponse, 80)
	require.NoError(t, err)
	require.Len(t, analysis.Dimensions, 1)
	assert.Empty(t, analysis.Dimensions[0].Error)
	assert.NotEmpty(t, analysis.Dimensions[0].Contributors())
}

func TestClusterMachines(t *testing.T) {
	var records []model.MaintenanceRecord
	add := func(machine string, failures int, downtime, age float64) {
		for i := 0; i < failures; i++ {
			records = append(records, withAge(rec(machine, "Ann", base.Add(time.Duration(i)*time.Hour), downtime, downtime, 1), age))
		}
	}
	add("M1", 1, 10, 2)
	add("M2", 1, 12, 3)
	add("M3", 2, 10, 2.5)
	add("M5", 6, 60, 8)
	add("M6", 5, 50, 9)
	records = append(records, rec("M9", "Ann", base, 5, 5, 1))

	analysis, err := ClusterMachines(records)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.Excluded)
	require.Len(t, analysis.Machines, 5)
	require.Len(t, analysis.Clusters, 2)

	highRisk := analysis.HighRisk()
	require.Len(t, highRisk, 2)
	assert.Equal(t, "M5", highRisk[0].MachineNumber)
	assert.Equal(t, "M6", highRisk[1].MachineNumber)

	assert.Greater(t, analysis.Clusters[1].PerformanceScore, analysis.Clusters[0].PerformanceScore)
	assert.Zero(t, analysis.Clusters[0].PctDiffFailure)
	assert.Greater(t, analysis.Clusters[1].PctDiffDowntime, 0.0)
	// M1, M2 and M3: 42 min over 4 failures
	assert.InDelta(t, 10.5, analysis.BaselineDowntimePerFailure(), 1e-9)
}

func TestClusterMachines_InsufficientData(t *testing.T) {
	records := []model.MaintenanceRecord{
		withAge(rec("M1", "Ann", base, 10, 10, 1), 3),
		rec("M2", "Ann", base, 10, 10, 1),
	}
	_, err := ClusterMachines(records)
	require.Error(t, err)
	assert.Equal(t, model.KindInsufficientData, model.KindOf(err))
}

func TestKMeans_Deterministic(t *testing.T) {
	points := [][]float64{{0, 0}, {0.1, 0}, {5, 5}, {5.1, 5}}
	first := KMeans(points, 2, 100)
	second := KMeans(points, 2, 100)
	assert.Equal(t, first, second)
	assert.Equal(t, first[0], first[1])
	assert.Equal(t, first[2], first[3])
	assert.NotEqual(t, first[0], first[2])
}

func TestRepeatFailures(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 10, 8, 2),
		rec("M1", "Bob", base.Add(time.Hour), 10, 8, 2),
		rec("M1", "Bob", base.Add(4*time.Hour), 10, 8, 2),
		rec("M2", "Cara", base, 10, 8, 2),
		rec("M2", "Cara", base.Add(20*time.Minute), 10, 8, 2),
	}

	analysis, err := RepeatFailures(records, DefaultRepeatWindow)
	require.NoError(t, err)
	require.Len(t, analysis.Incidents, 2)
	assert.Equal(t, 120.0, analysis.WindowMinutes)
	assert.Equal(t, 1.0, analysis.PeriodDays)

	require.Len(t, analysis.ByMachine, 2)
	assert.Equal(t, "M1", analysis.ByMachine[0].Key)
	assert.Equal(t, 1, analysis.ByMachine[0].Count)

	mechanics := map[string]RepeatCount{}
	for _, c := range analysis.ByMechanic {
		mechanics[c.Key] = c
	}
	assert.Equal(t, 1, mechanics["Ann"].Count)
	assert.Equal(t, 1, mechanics["Cara"].RapidCount)

	rapid := analysis.RapidIncidents()
	require.Len(t, rapid, 1)
	assert.Equal(t, "M2", rapid[0].MachineNumber)
	assert.InDelta(t, 20, rapid[0].MinutesSinceInitial, 1e-9)

	require.Len(t, analysis.CommonProblems, 1)
	assert.Equal(t, ReasonCount{Reason: "Needle", Count: 2}, analysis.CommonProblems[0])
}

func TestTimePatterns(t *testing.T) {
	records := []model.MaintenanceRecord{
		rec("M1", "Ann", base, 10, 8, 2),
		rec("M2", "Ann", base.Add(10*time.Minute), 30, 8, 2),
		rec("M3", "Ann", base.Add(3*time.Hour), 5, 4, 1),
		rec("M4", "Ann", base.AddDate(0, 0, 1), 5, 4, 1),
	}
	analysis, err := TimePatterns(records)
	require.NoError(t, err)

	require.Len(t, analysis.ByHour, 2)
	assert.Equal(t, 8, analysis.ByHour[0].Index)
	assert.Equal(t, "08:00", analysis.ByHour[0].Label)
	assert.Equal(t, 3, analysis.ByHour[0].IncidentCount)
	assert.InDelta(t, 45, analysis.ByHour[0].DowntimeMinutes, 1e-9)
	assert.InDelta(t, 1, analysis.ByHour[0].ZScore, 1e-9)

	require.Len(t, analysis.ByWeekday, 2)
	assert.Equal(t, "Monday", analysis.ByWeekday[0].Label)
	assert.Equal(t, 8, analysis.PeakHours[0].Index)
}
