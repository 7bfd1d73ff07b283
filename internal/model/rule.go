package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is an ordered list persisted as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, (*[]string)(l))
}

// IntSet is a small set of ints persisted as a JSON array. Empty means "all".
type IntSet []int

func (s IntSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *IntSet) Scan(src any) error {
	return scanJSON(src, (*[]int)(s))
}

func (s IntSet) Contains(v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func scanJSON(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// ReminderRule maps a service or keywords to a delay, a message template and
// the window in which delivery is allowed.
type ReminderRule struct {
	ID            string     `db:"id"             json:"id"`
	OwnerID       string     `db:"owner_id"       json:"ownerId"`
	ServiceID     *string    `db:"service_id"     json:"serviceId,omitempty"`
	MatchKeywords StringList `db:"match_keywords" json:"matchKeywords"`
	DelayDays     int        `db:"delay_days"     json:"delayDays"`
	TemplateText  string     `db:"template_text"  json:"templateText"`
	Enabled       bool       `db:"enabled"        json:"enabled"`
	HourStart     int        `db:"hour_start"     json:"hourStart"`
	HourEnd       int        `db:"hour_end"       json:"hourEnd"`
	DaysOfWeek    IntSet     `db:"days_of_week"   json:"daysOfWeek"`
	CreatedAt     time.Time  `db:"created_at"     json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updatedAt"`
}

// AllowsDelivery reports whether local falls inside [HourStart, HourEnd) on
// one of DaysOfWeek. local must already be in the clinic's timezone.
func (r ReminderRule) AllowsDelivery(local time.Time) bool {
	h := local.Hour()
	if h < r.HourStart || h >= r.HourEnd {
		return false
	}
	if len(r.DaysOfWeek) > 0 && !r.DaysOfWeek.Contains(int(local.Weekday())) {
		return false
	}
	return true
}
