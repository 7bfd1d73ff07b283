package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencyNext_MonthOverflow(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)

	// Feb 2024 has 29 days, so the two extra days roll into March.
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), FrequencyMonthly.Next(jan31))
	assert.Equal(t, time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC), FrequencyBimonthly.Next(jan31))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), FrequencyQuarterly.Next(jan31))
	assert.Equal(t, time.Date(2024, 7, 31, 10, 0, 0, 0, time.UTC), FrequencySemiannual.Next(jan31))
	assert.Equal(t, time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC), FrequencyAnnual.Next(jan31))

	// Non-leap year: Feb 31 2023 is Mar 3.
	assert.Equal(t, time.Date(2023, 3, 3, 0, 0, 0, 0, time.UTC),
		FrequencyMonthly.Next(time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)))
}

func TestParseFrequency(t *testing.T) {
	f, ok := ParseFrequency(" Quarterly ")
	require.True(t, ok)
	assert.Equal(t, FrequencyQuarterly, f)
	assert.Equal(t, 3, f.Months())

	_, ok = ParseFrequency("weekly")
	assert.False(t, ok)
}

func TestParseMessageStatus(t *testing.T) {
	tests := []struct {
		in   string
		want MessageStatus
		ok   bool
	}{
		{"delivered", StatusDelivered, true},
		{"DELIVERED", StatusDelivered, true},
		{"server_ack", StatusSent, true},
		{"read", StatusRead, true},
		{"undelivered", StatusFailed, true},
		{"queued", StatusQueued, true},
		{"2", StatusDelivered, true},
		{"typing", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMessageStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReminderRule_AllowsDelivery(t *testing.T) {
	rule := ReminderRule{HourStart: 9, HourEnd: 19}

	// 2024-05-06 is a Monday.
	at := func(h int) time.Time { return time.Date(2024, 5, 6, h, 30, 0, 0, time.UTC) }

	assert.True(t, rule.AllowsDelivery(at(9)))
	assert.True(t, rule.AllowsDelivery(at(18)))
	assert.False(t, rule.AllowsDelivery(at(19)), "end hour is exclusive")
	assert.False(t, rule.AllowsDelivery(at(8)))

	rule.DaysOfWeek = IntSet{2, 3}
	assert.False(t, rule.AllowsDelivery(at(10)), "monday not in set")
	rule.DaysOfWeek = IntSet{1}
	assert.True(t, rule.AllowsDelivery(at(10)))
}

func TestStringList_ScanAndValue(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan([]byte(`["limpieza","profilaxis"]`)))
	assert.Equal(t, StringList{"limpieza", "profilaxis"}, l)

	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, `["limpieza","profilaxis"]`, v)

	var empty IntSet
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)

	v, err = IntSet(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	assert.Error(t, l.Scan(42))
}
