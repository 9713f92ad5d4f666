package facts

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Period errors
var (
	// ErrInvalidPeriod is returned for strings that are neither a year nor a month
	ErrInvalidPeriod = errors.New("invalid time period")
	// ErrMixedPeriods is returned when yearly and monthly periods are combined
	ErrMixedPeriods = errors.New("mixed yearly and monthly periods")
)

// PeriodKind is the granularity of a time period.
type PeriodKind int

// Granularities. GenericYear and GenericMonth stand for "every year" and
// "every month" and are expanded against the concrete periods present.
const (
	Yearly PeriodKind = iota
	Monthly
	GenericYear
	GenericMonth
)

// Period is a year or a month.
type Period struct {
	Kind  PeriodKind
	Year  int
	Month int
}

//nolint:gochecknoglobals // compiled once
var (
	yearRe  = regexp.MustCompile(`^(\d{4})$`)
	monthRe = regexp.MustCompile(`^(\d{4})(?:-|M)(\d{1,2})$`)
)

// ParsePeriod accepts "2010", "2010-03", "2010M3" and the generic "Year"
// and "Month".
func ParsePeriod(s string) (Period, error) {
	t := strings.TrimSpace(s)

	switch strings.ToLower(t) {
	case "year":
		return Period{Kind: GenericYear}, nil
	case "month":
		return Period{Kind: GenericMonth}, nil
	}

	if m := yearRe.FindStringSubmatch(t); m != nil {
		y, _ := strconv.Atoi(m[1])
		return Period{Kind: Yearly, Year: y}, nil
	}

	if m := monthRe.FindStringSubmatch(strings.ToUpper(t)); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])

		if mo < 1 || mo > 12 {
			return Period{}, fmt.Errorf("%w: month %d in %q", ErrInvalidPeriod, mo, s)
		}

		return Period{Kind: Monthly, Year: y, Month: mo}, nil
	}

	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// String renders "2010" or "2010-03".
func (p Period) String() string {
	switch p.Kind {
	case GenericYear:
		return "Year"
	case GenericMonth:
		return "Month"
	case Monthly:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	default:
		return fmt.Sprintf("%04d", p.Year)
	}
}

// Generic reports whether p is "Year" or "Month".
func (p Period) Generic() bool {
	return p.Kind == GenericYear || p.Kind == GenericMonth
}

// Before orders periods chronologically.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}

	return p.Month < o.Month
}

// ConcretePeriods checks the given periods share one granularity and
// returns the distinct concrete ones in chronological order. Generic
// periods must match the granularity of the concrete ones.
func ConcretePeriods(values []string) ([]Period, error) {
	seen := make(map[string]Period)

	kind := -1

	for _, v := range values {
		p, err := ParsePeriod(v)
		if err != nil {
			return nil, err
		}

		k := int(p.Kind)
		if p.Generic() {
			k -= 2
		}

		if kind >= 0 && k != kind {
			return nil, fmt.Errorf("%w: %q", ErrMixedPeriods, v)
		}

		kind = k

		if !p.Generic() {
			seen[p.String()] = p
		}
	}

	out := make([]Period, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	return out, nil
}

// Expand resolves p into the concrete periods it stands for.
func Expand(p Period, concrete []Period) []Period {
	if !p.Generic() {
		return []Period{p}
	}

	return concrete
}

// InRange reports whether the year of p lies in [start, end]. Zero bounds are open.
func (p Period) InRange(start, end int) bool {
	if start != 0 && p.Year < start {
		return false
	}

	if end != 0 && p.Year > end {
		return false
	}

	return true
}
