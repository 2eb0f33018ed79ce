package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RecordStatusClosed marks a downtime record whose repair is finished.
const RecordStatusClosed = "Closed"

// Number is a numeric field from the document store. Values that are null,
// non-numeric strings or other JSON types decode as missing instead of failing.
type Number struct {
	Value float64
	Valid bool
}

// NewNumber returns a valid Number.
func NewNumber(v float64) Number {
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*n = NewNumber(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*n = NewNumber(v)
	}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Timestamp is a time field from the document store. It accepts RFC 3339
// strings, plain dates, epoch milliseconds and {"_seconds": n} objects.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		t.Time = ParseTimestamp(s)
	case '{':
		var obj struct {
			Seconds     int64 `json:"_seconds"`
			Nanoseconds int64 `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(data, &obj); err == nil && obj.Seconds > 0 {
			t.Time = time.Unix(obj.Seconds, obj.Nanoseconds).UTC()
		}
	default:
		var ms float64
		if err := json.Unmarshal(data, &ms); err == nil && ms > 0 {
			t.Time = time.UnixMilli(int64(ms)).UTC()
		}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// ParseTimestamp parses s with the accepted layouts, returning the zero time
// when none match.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// MachineData is the nested machine document joined into an export.
type MachineData struct {
	PurchaseDate Timestamp `json:"purchaseDate"`
	Make         string    `json:"make,omitempty"`
	Type         string    `json:"type,omitempty"`
}

// RawRecord is one downtime document as exported from the upstream store.
// Durations are in milliseconds.
type RawRecord struct {
	ID                  string       `json:"id"`
	MachineNumber       string       `json:"machineNumber"`
	MachineType         string       `json:"machineType"`
	MachineMake         string       `json:"machineMake,omitempty"`
	MachinePurchaseDate Timestamp    `json:"machinePurchaseDate"`
	MachineData         *MachineData `json:"machineData,omitempty"`
	MechanicID          string       `json:"mechanicId"`
	MechanicName        string       `json:"mechanicName"`
	Reason              string       `json:"reason"`
	Status              string       `json:"status"`
	ProductionLine      string       `json:"productionLine,omitempty"`
	ProductCategory     string       `json:"productCategory,omitempty"`
	Supervisor          string       `json:"supervisor,omitempty"`
	CreatedAt           Timestamp    `json:"createdAt"`
	UpdatedAt           Timestamp    `json:"updatedAt"`
	ResolvedAt          Timestamp    `json:"resolvedAt"`
	TotalDowntime       Number       `json:"totalDowntime"`
	TotalRepairTime     Number       `json:"totalRepairTime"`
	TotalResponseTime   Number       `json:"totalResponseTime"`
}

// MaintenanceRecord is a normalized downtime record. Durations are minutes.
type MaintenanceRecord struct {
	ID              string       `json:"id"`
	MachineNumber   string       `json:"machine_number"`
	MachineType     string       `json:"machine_type"`
	MachineMake     string       `json:"machine_make,omitempty"`
	MechanicID      string       `json:"mechanic_id"`
	MechanicName    string       `json:"mechanic_name"`
	Reason          string       `json:"reason"`
	Status          string       `json:"status"`
	ProductionLine  string       `json:"production_line,omitempty"`
	ProductCategory string       `json:"product_category,omitempty"`
	Supervisor      string       `json:"supervisor,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	DowntimeMinutes float64      `json:"downtime_minutes"`
	RepairMinutes   float64      `json:"repair_minutes"`
	ResponseMinutes float64      `json:"response_minutes"`
	MachineAgeYears *float64     `json:"machine_age_years,omitempty"`
	HourOfDay       int          `json:"hour_of_day"`
	DayOfWeek       time.Weekday `json:"day_of_week"`
	Period          string       `json:"period"`
}

// Mechanic returns the display identity of the record's mechanic.
func (r MaintenanceRecord) Mechanic() string {
	if r.MechanicName != "" {
		return r.MechanicName
	}
	return r.MechanicID
}
