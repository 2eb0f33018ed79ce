// Package normalize turns raw downtime documents into analysis-ready records.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	msPerMinute  = 60000.0
	daysPerYear  = 365.25
	unknownLabel = "Unknown"
	periodLayout = "2006-01"
)

// Normalizer converts RawRecords into MaintenanceRecords
type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer. now is used for machine ages; nil means time.Now.
func NewNormalizer(logger *zap.Logger, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		logger: logger.Named("normalizer"),
		now:    now,
	}
}

// Normalize converts every raw record. Records are never dropped: missing or
// invalid durations become zero.
func (n *Normalizer) Normalize(raw []model.RawRecord) []model.MaintenanceRecord {
	now := n.now()
	out := make([]model.MaintenanceRecord, 0, len(raw))
	coerced := 0

	for _, r := range raw {
		rec, zeroed := Record(r, now)
		coerced += zeroed
		out = append(out, rec)
	}

	if coerced > 0 {
		n.logger.Debug("Coerced missing durations to zero",
			zap.Int("fields", coerced),
			zap.Int("records", len(raw)))
	}
	return out
}

// Record normalizes a single document relative to now and reports how many
// duration fields were coerced to zero.
func Record(r model.RawRecord, now time.Time) (model.MaintenanceRecord, int) {
	rec := model.MaintenanceRecord{
		ID:              strings.TrimSpace(r.ID),
		MachineNumber:   strings.TrimSpace(r.MachineNumber),
		MachineType:     labelOrUnknown(r.MachineType),
		MachineMake:     strings.TrimSpace(r.MachineMake),
		MechanicID:      strings.TrimSpace(r.MechanicID),
		MechanicName:    strings.TrimSpace(r.MechanicName),
		Reason:          labelOrUnknown(r.Reason),
		Status:          strings.TrimSpace(r.Status),
		ProductionLine:  strings.TrimSpace(r.ProductionLine),
		ProductCategory: strings.TrimSpace(r.ProductCategory),
		Supervisor:      strings.TrimSpace(r.Supervisor),
		CreatedAt:       r.CreatedAt.Time,
	}

	if md := r.MachineData; md != nil {
		if rec.MachineType == unknownLabel && strings.TrimSpace(md.Type) != "" {
			rec.MachineType = strings.TrimSpace(md.Type)
		}
		if rec.MachineMake == "" {
			rec.MachineMake = strings.TrimSpace(md.Make)
		}
	}

	if !r.ResolvedAt.IsZero() {
		resolved := r.ResolvedAt.Time
		rec.ResolvedAt = &resolved
	}
	if rec.CreatedAt.IsZero() && rec.ResolvedAt != nil {
		rec.CreatedAt = *rec.ResolvedAt
	}

	zeroed := 0
	var ok bool
	if rec.DowntimeMinutes, ok = Minutes(r.TotalDowntime); !ok {
		zeroed++
	}
	if rec.RepairMinutes, ok = Minutes(r.TotalRepairTime); !ok {
		zeroed++
	}
	if rec.ResponseMinutes, ok = Minutes(r.TotalResponseTime); !ok {
		zeroed++
	}

	purchase := r.MachinePurchaseDate.Time
	if purchase.IsZero() && r.MachineData != nil {
		purchase = r.MachineData.PurchaseDate.Time
	}
	rec.MachineAgeYears = AgeYears(purchase, now)

	if !rec.CreatedAt.IsZero() {
		rec.HourOfDay = rec.CreatedAt.Hour()
		rec.DayOfWeek = rec.CreatedAt.Weekday()
		rec.Period = rec.CreatedAt.Format(periodLayout)
	}

	if rec.ID == "" {
		rec.ID = syntheticID(rec)
	}
	return rec, zeroed
}

// Minutes converts a millisecond duration to minutes. Missing, non-finite
// or negative values yield 0 and ok=false.
func Minutes(ms model.Number) (float64, bool) {
	if !ms.Valid || math.IsNaN(ms.Value) || math.IsInf(ms.Value, 0) || ms.Value < 0 {
		return 0, false
	}
	return ms.Value / msPerMinute, true
}

// AgeYears returns the machine age at now, or nil for an unknown or future
// purchase date.
func AgeYears(purchase, now time.Time) *float64 {
	if purchase.IsZero() || purchase.After(now) {
		return nil
	}
	age := now.Sub(purchase).Hours() / 24 / daysPerYear
	return &age
}

func labelOrUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownLabel
	}
	return s
}

func syntheticID(r model.MaintenanceRecord) string {
	h := sha1.New()
	h.Write([]byte(r.MachineNumber))
	h.Write([]byte{0})
	h.Write([]byte(r.Mechanic()))
	h.Write([]byte{0})
	h.Write([]byte(r.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return "rec-" + hex.EncodeToString(h.Sum(nil))[:16]
}
