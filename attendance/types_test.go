package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timeclock/attendance"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want attendance.Kind
	}{
		{"check_in", attendance.KindCheckIn},
		{"Check In", attendance.KindCheckIn},
		{"lunch-start", attendance.KindLunchStart},
		{" LUNCH_END ", attendance.KindLunchEnd},
		{"check out", attendance.KindCheckOut},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := attendance.ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := attendance.ParseKind("break")
	assert.Equal(t, attendance.CodeUnknownKind, codeOf(err))
}

func TestKind_Labels(t *testing.T) {
	assert.Equal(t, "check_out", attendance.KindCheckOut.String())
	assert.Equal(t, "lunch start", attendance.KindLunchStart.Label())
	assert.False(t, attendance.Kind(0).Valid())
	assert.Len(t, attendance.Kinds, 4)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1500", "1500", true},
		{"1500.50", "1500.5", true},
		{"1500,50", "1500.5", true},
		{"0", "", false},
		{"-5", "", false},
		{"1.234", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := attendance.ParseAmount(tt.in)
			if !tt.ok {
				assert.Equal(t, attendance.CodeBadAmount, codeOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got))
		})
	}
}

func TestSortPunches_TiesBySeq(t *testing.T) {
	// GIVEN: A synthetic check out and a check in sharing a timestamp
	// WHEN: Sorting
	// THEN: Append order decides

	punches := []attendance.Punch{
		{ID: "late", Timestamp: at(0, 14, 0), Seq: 3},
		{ID: "in", Timestamp: at(0, 14, 0), Seq: 2},
		{ID: "first", Timestamp: at(0, 9, 0), Seq: 1},
	}

	attendance.SortPunches(punches)

	assert.Equal(t, "first", punches[0].ID)
	assert.Equal(t, "in", punches[1].ID)
	assert.Equal(t, "late", punches[2].ID)
}

func TestParseMode(t *testing.T) {
	m, err := attendance.ParseMode("Repair")
	require.NoError(t, err)
	assert.Equal(t, attendance.ModeRepair, m)

	m, err = attendance.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, attendance.ModeStrict, m)

	_, err = attendance.ParseMode("lenient")
	assert.Error(t, err)
}

func TestRules_Calendar(t *testing.T) {
	r := testRules(attendance.ModeStrict)

	assert.True(t, r.SameDay(at(0, 0, 0), at(0, 23, 59)))
	assert.False(t, r.SameDay(at(0, 23, 59), at(1, 0, 0)))
	assert.Equal(t, at(0, 23, 59), r.CutoffOn(at(0, 9, 0)))
	assert.Equal(t, "10-03-2025 09:00", r.Stamp(at(0, 9, 0)))

	// calendar days follow the configured location
	r.Location = time.FixedZone("UTC+3", 3*3600)
	assert.False(t, r.SameDay(at(0, 20, 0), at(0, 22, 0)))
}

func TestRules_ParseBackfillTime(t *testing.T) {
	r := testRules(attendance.ModeStrict)
	now := at(1, 10, 0)

	got, err := r.ParseBackfillTime("08:15", now)
	require.NoError(t, err)
	assert.True(t, at(1, 8, 15).Equal(got))

	got, err = r.ParseBackfillTime("10-03-2025   18:00", now)
	require.NoError(t, err)
	assert.True(t, at(0, 18, 0).Equal(got))

	_, err = r.ParseBackfillTime("25:00", now)
	assert.Equal(t, attendance.CodeBadTimestamp, codeOf(err))
}

func TestParseClock(t *testing.T) {
	d, err := attendance.ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute, d)

	_, err = attendance.ParseClock("noon")
	assert.Error(t, err)
}
