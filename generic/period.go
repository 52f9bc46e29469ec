package generic

import (
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Settlement and reporting window
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
//
// Examples:
//   - January 2025:     2025-01-01 .. 2025-01-31
//   - Q1 2025:          2025-01-01 .. 2025-03-31
//   - ISO week 2025-W02: 2025-01-06 .. 2025-01-12
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalizes both ends to midnight UTC and validates ordering.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: StartOfDay(start), End: StartOfDay(end)}
	if p.End.Before(p.Start) {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// ParsePeriod reads "YYYY-MM-DD..YYYY-MM-DD" or a pair of dates.
func ParsePeriod(start, end string) (Period, error) {
	if end == "" && strings.Contains(start, "..") {
		parts := strings.SplitN(start, "..", 2)
		start, end = parts[0], parts[1]
	}
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(s, e)
}

// Contains returns true if t falls on a day within the period.
func (p Period) Contains(t time.Time) bool {
	from, to := p.Bounds()
	return !t.Before(from) && t.Before(to)
}

// Bounds returns the half-open instant range [Start, End+1day).
func (p Period) Bounds() (time.Time, time.Time) {
	return p.Start, p.End.AddDate(0, 0, 1)
}

// Days is the number of calendar days in the period.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// String returns a string representation of the period.
func (p Period) String() string {
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}

// PeriodType defines how settlement periods are cut.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodWeekly    PeriodType = "weekly" // Monday - Sunday
	PeriodQuarterly PeriodType = "quarterly"
)

func ParsePeriodType(s string) (PeriodType, error) {
	switch pt := PeriodType(strings.ToLower(s)); pt {
	case PeriodMonthly, PeriodWeekly, PeriodQuarterly:
		return pt, nil
	case "":
		return PeriodMonthly, nil
	}
	return "", Invalid("period", "unknown period type %q", s)
}

// PeriodFor returns the period of type pt containing t.
func (pt PeriodType) PeriodFor(t time.Time) Period {
	day := StartOfDay(t)
	switch pt {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Period{Start: start, End: start.AddDate(0, 0, 6)}
	case PeriodQuarterly:
		firstMonth := time.Month((int(day.Month())-1)/3*3 + 1)
		return Period{
			Start: StartOfMonth(day.Year(), firstMonth),
			End:   EndOfMonth(day.Year(), firstMonth+2),
		}
	default:
		return Period{Start: StartOfMonth(day.Year(), day.Month()), End: EndOfMonth(day.Year(), day.Month())}
	}
}

// Previous returns the period of type pt immediately before the one containing t.
func (pt PeriodType) Previous(t time.Time) Period {
	current := pt.PeriodFor(t)
	return pt.PeriodFor(current.Start.AddDate(0, 0, -1))
}
