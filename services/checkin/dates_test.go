package checkin

import (
	"testing"
	"time"

	"boxsync-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestDayRoundTrip(t *testing.T) {
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, timezone.Location)
	formatted := FormatDay(day)
	require.Equal(t, "09-03-2025", formatted)

	parsed, err := ParseDay(formatted)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, day.Equal(parsed))
}

func TestToISODay(t *testing.T) {
	iso, err := toISODay("09-03-2025")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "2025-03-09", iso)

	_, err = toISODay("2025-03-09")
	require.Error(t, err)
}

func TestDayRange(t *testing.T) {
	start := time.Date(2025, 1, 30, 12, 0, 0, 0, timezone.Location)
	days := DayRange(start, 4)
	require.Equal(t, []string{"30-01-2025", "31-01-2025", "01-02-2025", "02-02-2025"}, days)

	require.Empty(t, DayRange(start, 0))
	// a negative span from a bad flag or config must not blow up
	require.Empty(t, DayRange(start, -3))
}

func TestSortedDates(t *testing.T) {
	run := NewExtractionRun("30-01-2025", 3)
	run.Dates["01-02-2025"] = DateResult{Date: "01-02-2025"}
	run.Dates["30-01-2025"] = DateResult{Date: "30-01-2025"}
	run.Dates["31-01-2025"] = DateResult{Date: "31-01-2025"}

	require.Equal(t, []string{"30-01-2025", "31-01-2025", "01-02-2025"}, SortedDates(run))
}
