package vat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vatledger/engine/internal/apperror"
)

// PeriodType is the filing frequency of a tax return.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "MONTHLY"
	PeriodQuarterly PeriodType = "QUARTERLY"
	PeriodAnnual    PeriodType = "ANNUAL"
)

// ParsePeriodType accepts the period type case-insensitively.
func ParsePeriodType(s string) (PeriodType, error) {
	switch pt := PeriodType(strings.ToUpper(strings.TrimSpace(s))); pt {
	case PeriodMonthly, PeriodQuarterly, PeriodAnnual:
		return pt, nil
	}
	return "", apperror.Errorf(apperror.EINVALID, "vat.period", "unknown period type %q", s)
}

// Period identifies the filing periods a tax point falls in.
type Period struct {
	Monthly   string // YYYY-MM
	Quarterly string // YYYY-Qn
	Annual    string // YYYY
	Year      int
	Quarter   int
	Month     int
}

// ResolvePeriod maps a tax point to its filing periods. The date is read in
// the location it carries.
func ResolvePeriod(t time.Time) Period {
	year, month := t.Year(), int(t.Month())
	quarter := (month + 2) / 3

	return Period{
		Monthly:   fmt.Sprintf("%04d-%02d", year, month),
		Quarterly: fmt.Sprintf("%04d-Q%d", year, quarter),
		Annual:    fmt.Sprintf("%04d", year),
		Year:      year,
		Quarter:   quarter,
		Month:     month,
	}
}

// Label returns the period identifier for the given filing frequency.
func (p Period) Label(pt PeriodType) string {
	switch pt {
	case PeriodQuarterly:
		return p.Quarterly
	case PeriodAnnual:
		return p.Annual
	default:
		return p.Monthly
	}
}

// PeriodBounds returns the half-open range [start, end) of the period of the
// given type that contains t.
func PeriodBounds(pt PeriodType, t time.Time) (time.Time, time.Time) {
	loc := t.Location()
	switch pt {
	case PeriodQuarterly:
		firstMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		start := time.Date(t.Year(), firstMonth, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 3, 0)
	case PeriodAnnual:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	}
}

// ParsePeriodLabel parses "2024-07", "2024-Q3" or "2024" into its type and bounds (UTC).
func ParsePeriodLabel(label string) (PeriodType, time.Time, time.Time, error) {
	const op = "vat.period.parse"
	label = strings.ToUpper(strings.TrimSpace(label))

	switch {
	case len(label) == 4:
		year, err := strconv.Atoi(label)
		if err != nil {
			return "", time.Time{}, time.Time{}, apperror.Errorf(apperror.EINVALID, op, "invalid year %q", label)
		}
		start, end := PeriodBounds(PeriodAnnual, time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
		return PeriodAnnual, start, end, nil
	case strings.Contains(label, "-Q"):
		var year, q int
		if _, err := fmt.Sscanf(label, "%d-Q%d", &year, &q); err != nil || q < 1 || q > 4 {
			return "", time.Time{}, time.Time{}, apperror.Errorf(apperror.EINVALID, op, "invalid quarter %q", label)
		}
		start, end := PeriodBounds(PeriodQuarterly, time.Date(year, time.Month(q*3), 1, 0, 0, 0, 0, time.UTC))
		return PeriodQuarterly, start, end, nil
	default:
		t, err := time.Parse("2006-01", label)
		if err != nil {
			return "", time.Time{}, time.Time{}, apperror.Errorf(apperror.EINVALID, op, "invalid month %q", label)
		}
		start, end := PeriodBounds(PeriodMonthly, t)
		return PeriodMonthly, start, end, nil
	}
}
