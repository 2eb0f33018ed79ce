package analyzer

import (
	"sort"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// MechanicStat is one mechanic's aggregate within a group.
type MechanicStat struct {
	Mechanic         string   `json:"mechanic"`
	MechanicID       string   `json:"mechanic_id,omitempty"`
	Count            int      `json:"count"`
	AvgRepair        float64  `json:"avg_repair_minutes"`
	AvgResponse      float64  `json:"avg_response_minutes"`
	AvgDowntime      float64  `json:"avg_downtime_minutes"`
	RepairZ          float64  `json:"repair_z_score"`
	ResponseZ        float64  `json:"response_z_score"`
	PctWorseThanBest *float64 `json:"pct_worse_than_best,omitempty"`
}

// GroupStats are the population statistics of a mechanic group.
type GroupStats struct {
	MeanRepair   float64 `json:"mean_repair"`
	StdRepair    float64 `json:"std_repair"`
	MeanResponse float64 `json:"mean_response"`
	StdResponse  float64 `json:"std_response"`
	BestRepair   float64 `json:"best_repair"`
	BestMechanic string  `json:"best_mechanic"`
}

// MechanicGroup compares mechanics working on the same kind of job. An empty
// MachineType is the overall group; an empty Reason is the machine-type group.
type MechanicGroup struct {
	MachineType   string         `json:"machine_type,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	MechanicCount int            `json:"mechanic_count"`
	RecordCount   int            `json:"record_count"`
	Mechanics     []MechanicStat `json:"mechanics"`
	Stats         GroupStats     `json:"stats"`
}

// MechanicTrend is a mechanic's monthly trend for one metric.
type MechanicTrend struct {
	Mechanic   string `json:"mechanic"`
	MechanicID string `json:"mechanic_id,omitempty"`
	Metric     string `json:"metric"`
	Trend      Trend  `json:"trend"`
}

// MechanicAnalysis is the full mechanic performance analysis.
type MechanicAnalysis struct {
	RecordCount     int             `json:"record_count"`
	Overall         MechanicGroup   `json:"overall"`
	ByMachineType   []MechanicGroup `json:"by_machine_type"`
	ByMachineReason []MechanicGroup `json:"by_machine_reason"`
	Trends          []MechanicTrend `json:"trends"`
}

const (
	MetricNameRepair   = "repair_time"
	MetricNameResponse = "response_time"
)

// AnalyzeMechanics compares mechanics overall, per machine type and per
// machine type and reason, and fits monthly trends per mechanic.
func AnalyzeMechanics(records []model.MaintenanceRecord) (*MechanicAnalysis, error) {
	if len(records) < 2 {
		return nil, model.NewError(model.KindInsufficientData, "analyze_mechanics", "need at least 2 records, got %d", len(records))
	}

	analysis := &MechanicAnalysis{
		RecordCount: len(records),
		Overall:     buildGroup("", "", records),
	}

	byType := make(map[string][]model.MaintenanceRecord)
	byTypeReason := make(map[[2]string][]model.MaintenanceRecord)
	for _, r := range records {
		byType[r.MachineType] = append(byType[r.MachineType], r)
		key := [2]string{r.MachineType, r.Reason}
		byTypeReason[key] = append(byTypeReason[key], r)
	}

	for _, mt := range sortedKeys(byType) {
		analysis.ByMachineType = append(analysis.ByMachineType, buildGroup(mt, "", byType[mt]))
	}

	pairs := make([][2]string, 0, len(byTypeReason))
	for k := range byTypeReason {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, k := range pairs {
		analysis.ByMachineReason = append(analysis.ByMachineReason, buildGroup(k[0], k[1], byTypeReason[k]))
	}

	analysis.Trends = mechanicTrends(records)
	return analysis, nil
}

type mechanicAcc struct {
	id                         string
	count                      int
	repair, response, downtime float64
}

func buildGroup(machineType, reason string, records []model.MaintenanceRecord) MechanicGroup {
	accs := make(map[string]*mechanicAcc)
	for _, r := range records {
		name := r.Mechanic()
		acc, ok := accs[name]
		if !ok {
			acc = &mechanicAcc{id: r.MechanicID}
			accs[name] = acc
		}
		acc.count++
		acc.repair += r.RepairMinutes
		acc.response += r.ResponseMinutes
		acc.downtime += r.DowntimeMinutes
	}

	names := sortedKeys(accs)
	stats := make([]MechanicStat, len(names))
	repairs := make([]float64, len(names))
	responses := make([]float64, len(names))
	for i, name := range names {
		acc := accs[name]
		n := float64(acc.count)
		stats[i] = MechanicStat{
			Mechanic:    name,
			MechanicID:  acc.id,
			Count:       acc.count,
			AvgRepair:   acc.repair / n,
			AvgResponse: acc.response / n,
			AvgDowntime: acc.downtime / n,
		}
		repairs[i] = stats[i].AvgRepair
		responses[i] = stats[i].AvgResponse
	}

	repairZ, meanRepair, stdRepair := ZScores(repairs)
	responseZ, meanResponse, stdResponse := ZScores(responses)

	group := MechanicGroup{
		MachineType:   machineType,
		Reason:        reason,
		MechanicCount: len(names),
		RecordCount:   len(records),
		Stats: GroupStats{
			MeanRepair:   meanRepair,
			StdRepair:    stdRepair,
			MeanResponse: meanResponse,
			StdResponse:  stdResponse,
		},
	}

	bestIdx := -1
	for i := range stats {
		stats[i].RepairZ = repairZ[i]
		stats[i].ResponseZ = responseZ[i]
		if bestIdx < 0 || stats[i].AvgRepair < stats[bestIdx].AvgRepair {
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		group.Stats.BestRepair = stats[bestIdx].AvgRepair
		group.Stats.BestMechanic = stats[bestIdx].Mechanic
		for i := range stats {
			stats[i].PctWorseThanBest = PctWorseThanBest(stats[i].AvgRepair, group.Stats.BestRepair)
		}
	}

	group.Mechanics = stats
	return group
}

func mechanicTrends(records []model.MaintenanceRecord) []MechanicTrend {
	type periodAcc struct {
		count            int
		repair, response float64
	}
	byMechanic := make(map[string]map[string]*periodAcc)
	ids := make(map[string]string)
	for _, r := range records {
		if r.Period == "" {
			continue
		}
		name := r.Mechanic()
		periods, ok := byMechanic[name]
		if !ok {
			periods = make(map[string]*periodAcc)
			byMechanic[name] = periods
			ids[name] = r.MechanicID
		}
		acc, ok := periods[r.Period]
		if !ok {
			acc = &periodAcc{}
			periods[r.Period] = acc
		}
		acc.count++
		acc.repair += r.RepairMinutes
		acc.response += r.ResponseMinutes
	}

	var trends []MechanicTrend
	for _, name := range sortedKeys(byMechanic) {
		periods := byMechanic[name]
		if len(periods) < 3 {
			continue
		}
		keys := sortedKeys(periods)
		repair := make([]float64, len(keys))
		response := make([]float64, len(keys))
		for i, k := range keys {
			acc := periods[k]
			repair[i] = acc.repair / float64(acc.count)
			response[i] = acc.response / float64(acc.count)
		}
		if tr, err := LinearTrend(repair); err == nil {
			trends = append(trends, MechanicTrend{Mechanic: name, MechanicID: ids[name], Metric: MetricNameRepair, Trend: *tr})
		}
		if tr, err := LinearTrend(response); err == nil {
			trends = append(trends, MechanicTrend{Mechanic: name, MechanicID: ids[name], Metric: MetricNameResponse, Trend: *tr})
		}
	}
	return trends
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
