package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	// DefaultRepeatWindow is how soon a failure on the same machine counts as a repeat.
	DefaultRepeatWindow = 120 * time.Minute
	// RapidRepeatWindow marks repeats that follow almost immediately.
	RapidRepeatWindow = 30 * time.Minute

	commonProblemLimit = 5
)

// RepeatIncident pairs an initial failure with a later failure on the same machine.
type RepeatIncident struct {
	MachineNumber       string    `json:"machine_number"`
	MachineType         string    `json:"machine_type"`
	InitialID           string    `json:"initial_id"`
	RepeatID            string    `json:"repeat_id"`
	InitialReason       string    `json:"initial_reason"`
	RepeatReason        string    `json:"repeat_reason"`
	InitialMechanic     string    `json:"initial_mechanic"`
	InitialMechanicID   string    `json:"initial_mechanic_id,omitempty"`
	RepeatMechanic      string    `json:"repeat_mechanic"`
	InitialAt           time.Time `json:"initial_at"`
	RepeatAt            time.Time `json:"repeat_at"`
	MinutesSinceInitial float64   `json:"minutes_since_initial"`
}

// RepeatCount counts repeats for one machine or mechanic.
type RepeatCount struct {
	Key         string `json:"key"`
	KeyID       string `json:"key_id,omitempty"`
	MachineType string `json:"machine_type,omitempty"`
	Count       int    `json:"count"`
	RapidCount  int    `json:"rapid_count"`
}

// ReasonCount counts repeats that started from one reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// RepeatAnalysis summarizes repeat failures.
type RepeatAnalysis struct {
	WindowMinutes  float64          `json:"window_minutes"`
	PeriodDays     float64          `json:"period_days"`
	RecordCount    int              `json:"record_count"`
	Incidents      []RepeatIncident `json:"incidents"`
	ByMachine      []RepeatCount    `json:"by_machine"`
	ByMechanic     []RepeatCount    `json:"by_mechanic"`
	CommonProblems []ReasonCount    `json:"common_problems"`
}

// RapidIncidents returns the incidents within RapidRepeatWindow.
func (a *RepeatAnalysis) RapidIncidents() []RepeatIncident {
	var out []RepeatIncident
	for _, inc := range a.Incidents {
		if inc.MinutesSinceInitial <= RapidRepeatWindow.Minutes() {
			out = append(out, inc)
		}
	}
	return out
}

// RepeatFailures finds, per machine and in time order, every later failure
// within window of an earlier one. The earlier repair's mechanic is the one
// charged with the repeat. PeriodDays defaults to the days the records span;
// callers that know the analysis window should overwrite it.
func RepeatFailures(records []model.MaintenanceRecord, window time.Duration) (*RepeatAnalysis, error) {
	if len(records) < 2 {
		return nil, model.NewError(model.KindInsufficientData, "repeat_failures", "need at least 2 records, got %d", len(records))
	}
	if window <= 0 {
		window = DefaultRepeatWindow
	}

	byMachine := make(map[string][]model.MaintenanceRecord)
	var first, last time.Time
	for _, r := range records {
		if r.MachineNumber == "" || r.CreatedAt.IsZero() {
			continue
		}
		byMachine[r.MachineNumber] = append(byMachine[r.MachineNumber], r)
		if first.IsZero() || r.CreatedAt.Before(first) {
			first = r.CreatedAt
		}
		if r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}

	analysis := &RepeatAnalysis{
		WindowMinutes: window.Minutes(),
		PeriodDays:    spanDays(first, last),
		RecordCount:   len(records),
	}
	machineCounts := make(map[string]*RepeatCount)
	mechanicCounts := make(map[string]*RepeatCount)
	reasonCounts := make(map[string]int)

	for _, num := range sortedKeys(byMachine) {
		recs := byMachine[num]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

		for i := range recs {
			for j := i + 1; j < len(recs); j++ {
				gap := recs[j].CreatedAt.Sub(recs[i].CreatedAt)
				if gap > window {
					break
				}
				inc := RepeatIncident{
					MachineNumber:       num,
					MachineType:         recs[i].MachineType,
					InitialID:           recs[i].ID,
					RepeatID:            recs[j].ID,
					InitialReason:       recs[i].Reason,
					RepeatReason:        recs[j].Reason,
					InitialMechanic:     recs[i].Mechanic(),
					InitialMechanicID:   recs[i].MechanicID,
					RepeatMechanic:      recs[j].Mechanic(),
					InitialAt:           recs[i].CreatedAt,
					RepeatAt:            recs[j].CreatedAt,
					MinutesSinceInitial: gap.Minutes(),
				}
				analysis.Incidents = append(analysis.Incidents, inc)
				rapid := gap <= RapidRepeatWindow

				mc := counter(machineCounts, num)
				mc.MachineType = inc.MachineType
				mc.Count++
				mech := counter(mechanicCounts, inc.InitialMechanic)
				mech.KeyID = inc.InitialMechanicID
				mech.Count++
				if rapid {
					mc.RapidCount++
					mech.RapidCount++
				}
				reasonCounts[inc.InitialReason]++
			}
		}
	}

	analysis.ByMachine = sortedCounts(machineCounts)
	analysis.ByMechanic = sortedCounts(mechanicCounts)

	for reason, count := range reasonCounts {
		analysis.CommonProblems = append(analysis.CommonProblems, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(analysis.CommonProblems, func(i, j int) bool {
		a, b := analysis.CommonProblems[i], analysis.CommonProblems[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if len(analysis.CommonProblems) > commonProblemLimit {
		analysis.CommonProblems = analysis.CommonProblems[:commonProblemLimit]
	}
	return analysis, nil
}

// spanDays counts the calendar days from first to last, both included.
func spanDays(first, last time.Time) float64 {
	if first.IsZero() {
		return 0
	}
	y, m, d := first.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, first.Location())
	return math.Floor(last.Sub(start).Hours()/24) + 1
}

func counter(m map[string]*RepeatCount, key string) *RepeatCount {
	c, ok := m[key]
	if !ok {
		c = &RepeatCount{Key: key}
		m[key] = c
	}
	return c
}

func sortedCounts(m map[string]*RepeatCount) []RepeatCount {
	out := make([]RepeatCount, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
