package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		name      string
		at        time.Time
		g         Granularity
		wantKey   string
		wantStart time.Time
	}{
		{
			name:      "daily_truncates_time",
			at:        time.Date(2024, 1, 1, 13, 45, 7, 0, time.UTC),
			g:         GranularityDaily,
			wantKey:   "2024-01-01",
			wantStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly_truncates_day",
			at:        time.Date(2024, 3, 17, 8, 0, 0, 0, time.UTC),
			g:         GranularityMonthly,
			wantKey:   "2024-03",
			wantStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := IntervalFor(tt.at, tt.g)
			assert.Equal(t, tt.wantKey, iv.Key())
			assert.Equal(t, tt.wantStart, iv.Start)
		})
	}
}

func TestIntervalEnd(t *testing.T) {
	daily, err := ParseInterval("2024-01-31", GranularityDaily)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), daily.End())

	monthly, err := ParseInterval("2024-02", GranularityMonthly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), monthly.End())
}

func TestParseIntervalInvalid(t *testing.T) {
	_, err := ParseInterval("2024-13-01", GranularityDaily)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = ParseInterval("2024-01-01", GranularityMonthly)
	assert.Error(t, err, "daily key should not parse as monthly")
}

func TestIntervalResolve(t *testing.T) {
	iv, err := ParseInterval("2024-01", GranularityMonthly)
	require.NoError(t, err)

	got := iv.Resolve("https://example.com/trips/{year}/{month}/data-{interval}.csv")
	assert.Equal(t, "https://example.com/trips/2024/01/data-2024-01.csv", got)

	got = iv.Resolve("{start}..{end}")
	assert.Equal(t, "2024-01-01T00:00:00Z..2024-02-01T00:00:00Z", got)
}

func TestIntervalRange(t *testing.T) {
	from, _ := ParseInterval("2024-01-30", GranularityDaily)
	to, _ := ParseInterval("2024-02-02", GranularityDaily)

	ivs, err := IntervalRange(from, to)
	require.NoError(t, err)
	keys := make([]string, len(ivs))
	for i, iv := range ivs {
		keys[i] = iv.Key()
	}
	assert.Equal(t, []string{"2024-01-30", "2024-01-31", "2024-02-01", "2024-02-02"}, keys)

	_, err = IntervalRange(to, from)
	require.Error(t, err)

	single, err := IntervalRange(from, from)
	require.NoError(t, err)
	assert.Len(t, single, 1)
}
