package domain

import (
	"strings"
	"time"
)

// Granularity is the width of a schedule interval.
type Granularity string

// Supported interval granularities.
const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Interval is the time window one scheduled run represents. Intervals are
// half-open [Start, End) and always aligned to their granularity, so the
// same wall-clock time maps to exactly one interval.
type Interval struct {
	Start       time.Time
	Granularity Granularity
}

// IntervalFor returns the interval containing t, truncated to the granularity.
func IntervalFor(t time.Time, g Granularity) Interval {
	t = t.UTC()
	switch g {
	case GranularityMonthly:
		return Interval{
			Start:       time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC),
			Granularity: g,
		}
	default:
		return Interval{
			Start:       time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Granularity: GranularityDaily,
		}
	}
}

// ParseInterval parses an interval key ("2024-01-01" daily, "2024-01" monthly).
func ParseInterval(key string, g Granularity) (Interval, error) {
	layout := "2006-01-02"
	if g == GranularityMonthly {
		layout = "2006-01"
	}
	t, err := time.Parse(layout, key)
	if err != nil {
		return Interval{}, ErrValidation("invalid %s interval %q: expected %s", g, key, layout)
	}
	return Interval{Start: t.UTC(), Granularity: g}, nil
}

// End returns the exclusive end of the interval.
func (iv Interval) End() time.Time {
	if iv.Granularity == GranularityMonthly {
		return iv.Start.AddDate(0, 1, 0)
	}
	return iv.Start.AddDate(0, 0, 1)
}

// Next returns the immediately following interval.
func (iv Interval) Next() Interval {
	return Interval{Start: iv.End(), Granularity: iv.Granularity}
}

// Prev returns the immediately preceding interval.
func (iv Interval) Prev() Interval {
	if iv.Granularity == GranularityMonthly {
		return Interval{Start: iv.Start.AddDate(0, -1, 0), Granularity: iv.Granularity}
	}
	return Interval{Start: iv.Start.AddDate(0, 0, -1), Granularity: iv.Granularity}
}

// Key returns the canonical string identity of the interval. Object-store
// keys and partition columns derive from it, which is what makes re-runs
// overwrite instead of duplicate.
func (iv Interval) Key() string {
	if iv.Granularity == GranularityMonthly {
		return iv.Start.Format("2006-01")
	}
	return iv.Start.Format("2006-01-02")
}

// IsZero reports whether the interval is unset.
func (iv Interval) IsZero() bool {
	return iv.Start.IsZero()
}

// Resolve substitutes interval placeholders into a templated string.
// Supported tokens: {interval}, {start}, {end}, {year}, {month}, {day}.
func (iv Interval) Resolve(template string) string {
	r := strings.NewReplacer(
		"{interval}", iv.Key(),
		"{start}", iv.Start.Format(time.RFC3339),
		"{end}", iv.End().Format(time.RFC3339),
		"{year}", iv.Start.Format("2006"),
		"{month}", iv.Start.Format("01"),
		"{day}", iv.Start.Format("02"),
	)
	return r.Replace(template)
}

// IntervalRange expands [from, to] into the ordered list of intervals it
// spans. Used by backfill.
func IntervalRange(from, to Interval) ([]Interval, error) {
	if from.Granularity != to.Granularity {
		return nil, ErrValidation("interval range endpoints have different granularities")
	}
	if to.Start.Before(from.Start) {
		return nil, ErrValidation("interval range end %s precedes start %s", to.Key(), from.Key())
	}
	var out []Interval
	for iv := from; !iv.Start.After(to.Start); iv = iv.Next() {
		out = append(out, iv)
	}
	return out, nil
}
