package analyzer

import (
	"fmt"
	"sort"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const peakHourLimit = 3

// TimeBucket aggregates incidents in one hour of day or weekday.
type TimeBucket struct {
	Index           int     `json:"index"`
	Label           string  `json:"label"`
	IncidentCount   int     `json:"incident_count"`
	DowntimeMinutes float64 `json:"downtime_minutes"`
	ZScore          float64 `json:"z_score"`
}

// PatternAnalysis holds hour-of-day and weekday downtime patterns. Only
// buckets with incidents are listed; z-scores compare those buckets.
type PatternAnalysis struct {
	RecordCount int          `json:"record_count"`
	ByHour      []TimeBucket `json:"by_hour"`
	ByWeekday   []TimeBucket `json:"by_weekday"`
	PeakHours   []TimeBucket `json:"peak_hours"`
	MeanHourly  float64      `json:"mean_hourly_downtime"`
	StdHourly   float64      `json:"std_hourly_downtime"`
}

// TimePatterns buckets downtime by hour of day and by weekday.
func TimePatterns(records []model.MaintenanceRecord) (*PatternAnalysis, error) {
	var dated []model.MaintenanceRecord
	for _, r := range records {
		if !r.CreatedAt.IsZero() {
			dated = append(dated, r)
		}
	}
	if len(dated) < 2 {
		return nil, model.NewError(model.KindInsufficientData, "time_patterns", "need at least 2 dated records, got %d", len(dated))
	}

	hours := make(map[int]*TimeBucket)
	days := make(map[int]*TimeBucket)
	for _, r := range dated {
		h := bucket(hours, r.HourOfDay, fmt.Sprintf("%02d:00", r.HourOfDay))
		h.IncidentCount++
		h.DowntimeMinutes += r.DowntimeMinutes

		d := bucket(days, int(r.DayOfWeek), r.DayOfWeek.String())
		d.IncidentCount++
		d.DowntimeMinutes += r.DowntimeMinutes
	}

	analysis := &PatternAnalysis{RecordCount: len(dated)}
	analysis.ByHour, analysis.MeanHourly, analysis.StdHourly = scoreBuckets(hours)
	analysis.ByWeekday, _, _ = scoreBuckets(days)

	peaks := make([]TimeBucket, len(analysis.ByHour))
	copy(peaks, analysis.ByHour)
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].DowntimeMinutes > peaks[j].DowntimeMinutes })
	if len(peaks) > peakHourLimit {
		peaks = peaks[:peakHourLimit]
	}
	analysis.PeakHours = peaks
	return analysis, nil
}

func bucket(m map[int]*TimeBucket, idx int, label string) *TimeBucket {
	b, ok := m[idx]
	if !ok {
		b = &TimeBucket{Index: idx, Label: label}
		m[idx] = b
	}
	return b
}

func scoreBuckets(m map[int]*TimeBucket) ([]TimeBucket, float64, float64) {
	out := make([]TimeBucket, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	values := make([]float64, len(out))
	for i, b := range out {
		values[i] = b.DowntimeMinutes
	}
	z, mean, std := ZScores(values)
	for i := range out {
		out[i].ZScore = z[i]
	}
	return out, mean, std
}
