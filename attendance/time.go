package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULES - deployment-wide engine configuration
// =============================================================================

// Mode selects the reconciliation policy. A deployment uses one mode.
type Mode string

const (
	// ModeStrict refuses every grammar violation.
	ModeStrict Mode = "strict"
	// ModeRepair inserts the minimum synthetic punches to make a request legal.
	ModeRepair Mode = "repair"
)

// ParseMode parses a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict, "":
		return ModeStrict, nil
	case ModeRepair, "auto-repair", "auto_repair":
		return ModeRepair, nil
	}
	return "", fmt.Errorf("unknown reconciliation mode %q", s)
}

// Rules holds the constants shared by reconciliation and accounting.
type Rules struct {
	Mode Mode

	// Location defines calendar days for the same-day rule.
	Location *time.Location

	// EndOfDay is the offset from midnight used to close a shift left open
	// on a previous day.
	EndOfDay time.Duration

	// DefaultLunch substitutes for unterminated or unlogged lunches.
	DefaultLunch time.Duration

	// FullDay is the elapsed time from which an unlogged lunch is assumed.
	FullDay time.Duration

	// DefaultRate applies when an account has no usable hourly rate.
	DefaultRate decimal.Decimal
}

// DefaultRules returns the rules used when nothing is configured.
func DefaultRules() Rules {
	return Rules{
		Mode:         ModeStrict,
		Location:     time.Local,
		EndOfDay:     23*time.Hour + 59*time.Minute,
		DefaultLunch: 30 * time.Minute,
		FullDay:      8 * time.Hour,
		DefaultRate:  decimal.NewFromInt(100),
	}
}

func (r Rules) loc() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// SameDay reports whether a and b fall on the same calendar day.
func (r Rules) SameDay(a, b time.Time) bool {
	a, b = a.In(r.loc()), b.In(r.loc())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// CutoffOn returns the end-of-day cutoff on the calendar day of t.
func (r Rules) CutoffOn(t time.Time) time.Time {
	t = t.In(r.loc())
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc())
	return midnight.Add(r.EndOfDay)
}

// =============================================================================
// PARSING
// =============================================================================

const (
	// StampLayout is how timestamps appear in worker-facing messages.
	StampLayout = "02-01-2006 15:04"

	backfillFullLayout = "02-01-2006 15:04"
	backfillTimeLayout = "15:04"
)

// ParseClock parses a time of day such as "23:59" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(backfillTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (use HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseBackfillTime parses an administrator's free-text timestamp.
// A bare "HH:MM" is taken on today's date; otherwise "DD-MM-YYYY HH:MM".
// Failures are validation errors the administrator can correct.
func (r Rules) ParseBackfillTime(text string, now time.Time) (time.Time, error) {
	text = strings.Join(strings.Fields(text), " ")
	now = now.In(r.loc())

	if t, err := time.ParseInLocation(backfillTimeLayout, text, r.loc()); err == nil {
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, r.loc()), nil
	}
	if t, err := time.ParseInLocation(backfillFullLayout, text, r.loc()); err == nil {
		return t, nil
	}
	return time.Time{}, &ValidationError{
		Code:   CodeBadTimestamp,
		Reason: fmt.Sprintf("cannot read time %q: use HH:MM for today or DD-MM-YYYY HH:MM", text),
	}
}

// Stamp formats t for worker-facing messages.
func (r Rules) Stamp(t time.Time) string {
	return t.In(r.loc()).Format(StampLayout)
}
