package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	ModeDryRun = "dry_run"

	// DefaultLookbackDays is the analysis window when no start date is given.
	DefaultLookbackDays = 30
	// DefaultExportName is where exports are archived and read back from.
	DefaultExportName = "raw/downtime_export.json"

	dateLayout = "2006-01-02"
)

// Payload parameterizes a workflow run. Dates are inclusive calendar days.
type Payload struct {
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	UseDatabase *bool    `json:"use_database,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
	Export      string   `json:"export,omitempty"`
}

// ParsePayload decodes a job payload. An empty payload is valid.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, model.NewError(model.KindInvalidInput, "payload", "invalid payload: %v", err)
	}
	return p, nil
}

// DryRun reports whether results should be computed but not written.
func (p Payload) DryRun() bool {
	return strings.EqualFold(p.Mode, ModeDryRun)
}

// FromDatabase reports whether records come from the configured source
// rather than the archived export.
func (p Payload) FromDatabase() bool {
	return p.UseDatabase == nil || *p.UseDatabase
}

// ExportName returns the archive name of the raw export.
func (p Payload) ExportName() string {
	if p.Export != "" {
		return p.Export
	}
	return DefaultExportName
}

// Window returns the half-open time range [from, to) covered by the payload
// dates. The end date defaults to today and the start date to
// DefaultLookbackDays before it.
func (p Payload) Window(now time.Time) (time.Time, time.Time, error) {
	end := dateOf(now)
	if p.EndDate != "" {
		t, err := time.Parse(dateLayout, p.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewError(model.KindInvalidInput, "payload", "invalid end_date %q", p.EndDate)
		}
		end = t
	}

	start := end.AddDate(0, 0, -DefaultLookbackDays)
	if p.StartDate != "" {
		t, err := time.Parse(dateLayout, p.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewError(model.KindInvalidInput, "payload", "invalid start_date %q", p.StartDate)
		}
		start = t
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, model.NewError(model.KindInvalidInput, "payload", "start_date %s is after end_date %s",
			start.Format(dateLayout), end.Format(dateLayout))
	}
	return start, end.AddDate(0, 0, 1), nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
