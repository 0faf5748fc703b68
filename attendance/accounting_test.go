package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timeclock/attendance"
	"github.com/warp/timeclock/attendance/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestAccountant() *attendance.Accountant {
	return attendance.NewAccountant(nil, nil, testRules(attendance.ModeStrict))
}

func TestAccountant_LoggedLunch(t *testing.T) {
	// GIVEN: 09:00 check in, lunch 12:00-12:30
	// WHEN: Computing at 17:00 with rate 100
	// THEN: 7.5 hours and 750.00

	history := log(
		p(attendance.KindCheckIn, at(0, 9, 0)),
		p(attendance.KindLunchStart, at(0, 12, 0)),
		p(attendance.KindLunchEnd, at(0, 12, 30)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 17, 0), dec("100"))

	assert.True(t, got.Open)
	assert.Equal(t, at(0, 9, 0), got.CheckIn)
	assert.Equal(t, 30*time.Minute, got.Lunch)
	assert.False(t, got.AssumedLunch)
	assert.True(t, dec("7.5").Equal(got.WorkHours), "hours = %s", got.WorkHours)
	assert.True(t, dec("750").Equal(got.Salary), "salary = %s", got.Salary)
}

func TestAccountant_AssumedLunchOnFullDay(t *testing.T) {
	// GIVEN: 08:00 check in and no lunch logged
	// WHEN: Computing at 17:00 (9h elapsed)
	// THEN: One default lunch is deducted

	history := log(p(attendance.KindCheckIn, at(0, 8, 0)))

	got := newTestAccountant().ComputeShift(history, at(0, 17, 0), dec("100"))

	assert.True(t, got.AssumedLunch)
	assert.True(t, dec("8.5").Equal(got.WorkHours), "hours = %s", got.WorkHours)
	assert.True(t, dec("850").Equal(got.Salary))
}

func TestAccountant_ShortShiftNoAssumedLunch(t *testing.T) {
	history := log(p(attendance.KindCheckIn, at(0, 9, 0)))

	got := newTestAccountant().ComputeShift(history, at(0, 12, 20), dec("90"))

	assert.False(t, got.AssumedLunch)
	assert.True(t, dec("3.33").Equal(got.WorkHours), "hours = %s", got.WorkHours)
	assert.True(t, dec("299.7").Equal(got.Salary), "salary = %s", got.Salary)
}

func TestAccountant_UnterminatedLunch_UsesDefault(t *testing.T) {
	// GIVEN: Lunch started at 12:00 and never ended
	// WHEN: Computing at 15:00
	// THEN: The lunch counts as the default 30 minutes

	history := log(
		p(attendance.KindCheckIn, at(0, 9, 0)),
		p(attendance.KindLunchStart, at(0, 12, 0)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 15, 0), dec("100"))

	assert.Equal(t, 30*time.Minute, got.Lunch)
	assert.True(t, dec("5.5").Equal(got.WorkHours), "hours = %s", got.WorkHours)
}

func TestAccountant_OrphanLunchEnd_UsesDefault(t *testing.T) {
	// GIVEN: A lunch end with no lunch start before it
	// WHEN: Computing at 17:00
	// THEN: The orphan counts as the default 30 minutes

	history := log(
		p(attendance.KindCheckIn, at(0, 9, 0)),
		p(attendance.KindLunchEnd, at(0, 10, 0)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 17, 0), dec("100"))

	assert.Equal(t, 30*time.Minute, got.Lunch)
	assert.False(t, got.AssumedLunch)
	assert.True(t, dec("7.5").Equal(got.WorkHours), "hours = %s", got.WorkHours)
}

func TestAccountant_LunchEnd_PairsWithNearestStart(t *testing.T) {
	// GIVEN: One start followed by two ends
	// WHEN: Computing at 17:00
	// THEN: 12:00 pairs with 12:20 and the 13:00 end is an orphan (20m + 30m)

	history := log(
		p(attendance.KindCheckIn, at(0, 8, 0)),
		p(attendance.KindLunchStart, at(0, 12, 0)),
		p(attendance.KindLunchEnd, at(0, 12, 20)),
		p(attendance.KindLunchEnd, at(0, 13, 0)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 17, 0), dec("100"))

	assert.Equal(t, 50*time.Minute, got.Lunch)
	assert.True(t, dec("8.17").Equal(got.WorkHours), "hours = %s", got.WorkHours)
}

func TestAccountant_LunchLongerThanShift_FloorsAtZero(t *testing.T) {
	// GIVEN: 09:00 check in and an orphan lunch end at 09:10
	// WHEN: Computing at 09:15 (15m elapsed, 30m lunch)
	// THEN: Hours and salary are zero, never negative

	history := log(
		p(attendance.KindCheckIn, at(0, 9, 0)),
		p(attendance.KindLunchEnd, at(0, 9, 10)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 9, 15), dec("100"))

	assert.True(t, got.Open)
	assert.True(t, got.WorkHours.IsZero(), "hours = %s", got.WorkHours)
	assert.True(t, got.Salary.IsZero(), "salary = %s", got.Salary)
}

func TestAccountant_ShiftSpansMidnight(t *testing.T) {
	// GIVEN: 22:00 check in, no lunch
	// WHEN: Computing at 06:00 the next day (8h elapsed)
	// THEN: One default lunch is deducted: 7.5 hours

	history := log(p(attendance.KindCheckIn, at(0, 22, 0)))

	got := newTestAccountant().ComputeShift(history, at(1, 6, 0), dec("100"))

	assert.True(t, got.Open)
	assert.Equal(t, at(0, 22, 0), got.CheckIn)
	assert.True(t, got.AssumedLunch)
	assert.True(t, dec("7.5").Equal(got.WorkHours), "hours = %s", got.WorkHours)
	assert.True(t, dec("750").Equal(got.Salary), "salary = %s", got.Salary)
}

func TestAccountant_MultipleLunches(t *testing.T) {
	history := log(
		p(attendance.KindCheckIn, at(0, 8, 0)),
		p(attendance.KindLunchStart, at(0, 10, 0)),
		p(attendance.KindLunchEnd, at(0, 10, 15)),
		p(attendance.KindLunchStart, at(0, 13, 0)),
		p(attendance.KindLunchEnd, at(0, 13, 45)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 17, 0), dec("100"))

	assert.Equal(t, time.Hour, got.Lunch)
	assert.True(t, dec("8").Equal(got.WorkHours), "hours = %s", got.WorkHours)
	assert.False(t, got.AssumedLunch)
}

func TestAccountant_NoOpenShift_Zero(t *testing.T) {
	tests := []struct {
		name    string
		history []attendance.Punch
	}{
		{"no history", nil},
		{"closed shift", log(
			p(attendance.KindCheckIn, at(0, 9, 0)),
			p(attendance.KindCheckOut, at(0, 17, 0)),
		)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestAccountant().ComputeShift(tt.history, at(0, 18, 0), dec("100"))

			assert.False(t, got.Open)
			assert.True(t, got.WorkHours.IsZero())
			assert.True(t, got.Salary.IsZero())
		})
	}
}

func TestAccountant_AsOf_IgnoresLaterPunches(t *testing.T) {
	// GIVEN: A closed shift 09:00-17:00
	// WHEN: Computing as of 13:00
	// THEN: The later check out is not visible; 4 hours are open

	history := log(
		p(attendance.KindCheckIn, at(0, 9, 0)),
		p(attendance.KindCheckOut, at(0, 17, 0)),
	)

	got := newTestAccountant().ComputeShift(history, at(0, 13, 0), dec("100"))

	assert.True(t, got.Open)
	assert.True(t, dec("4").Equal(got.WorkHours))
}

func TestAccountant_RateOf_FallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateAccount(ctx, "paid", "Paid", dec("120")))
	require.NoError(t, mem.CreateAccount(ctx, "broken", "Broken", dec("0")))
	require.NoError(t, mem.SetRate("broken", decimal.NullDecimal{}))

	a := attendance.NewAccountant(mem, mem, testRules(attendance.ModeStrict))

	tests := []struct {
		worker attendance.WorkerID
		want   string
	}{
		{"paid", "120"},
		{"broken", "100"},
		{"missing", "100"},
	}
	for _, tt := range tests {
		t.Run(string(tt.worker), func(t *testing.T) {
			rate, err := a.RateOf(ctx, tt.worker)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(rate), "rate = %s", rate)
		})
	}
}

func TestAccountant_Compute_ReadsStore(t *testing.T) {
	// GIVEN: A worker with a stored rate and an open shift
	// WHEN: Computing through the store
	// THEN: The stored rate prices the hours

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateAccount(ctx, worker, "Ana", dec("200")))
	require.NoError(t, mem.AppendPunches(ctx, []attendance.Punch{
		{ID: "p1", WorkerID: worker, Kind: attendance.KindCheckIn, Timestamp: at(0, 9, 0)},
	}))

	got, err := attendance.NewAccountant(mem, mem, testRules(attendance.ModeStrict)).
		Compute(ctx, worker, at(0, 11, 0))

	require.NoError(t, err)
	assert.True(t, dec("2").Equal(got.WorkHours))
	assert.True(t, dec("400").Equal(got.Salary))
	assert.True(t, dec("200").Equal(got.Rate))
}
