package model

import (
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyBimonthly  Frequency = "bimonthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
)

var frequencyMonths = map[Frequency]int{
	FrequencyMonthly:    1,
	FrequencyBimonthly:  2,
	FrequencyQuarterly:  3,
	FrequencySemiannual: 6,
	FrequencyAnnual:     12,
}

// ParseFrequency normalizes input; ok is false for unknown cadences.
func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	_, ok := frequencyMonths[f]
	return f, ok
}

// Months is the month increment of one cycle, 0 for an unknown frequency.
func (f Frequency) Months() int { return frequencyMonths[f] }

// Next adds one cycle to t. Day overflow rolls into the following month the
// way time.AddDate normalizes it: 2024-01-31 + monthly is 2024-03-02.
func (f Frequency) Next(t time.Time) time.Time {
	return t.AddDate(0, f.Months(), 0)
}

type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ControlSchedule generates one appointment per cycle for a patient.
type ControlSchedule struct {
	ID        string         `db:"id"         json:"id"`
	OwnerID   string         `db:"owner_id"   json:"ownerId"`
	PatientID string         `db:"patient_id" json:"patientId"`
	ServiceID *string        `db:"service_id" json:"serviceId,omitempty"`
	Frequency Frequency      `db:"frequency"  json:"frequency"`
	Hour      int            `db:"hour"       json:"hour"`
	NextAt    time.Time      `db:"next_at"    json:"nextAt"`
	Status    ScheduleStatus `db:"status"     json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}
