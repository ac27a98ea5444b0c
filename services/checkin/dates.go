package checkin

import (
	"fmt"
	"sort"
	"time"

	"boxsync-backend/lib/timezone"
)

// the remote service speaks DD-MM-YYYY almost everywhere
const dayFormat = "02-01-2006"

func FormatDay(t time.Time) string {
	return t.In(timezone.Location).Format(dayFormat)
}

func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayFormat, s, timezone.Location)
}

// toISODay reformats DD-MM-YYYY into YYYY-MM-DD. the roster endpoint is
// inconsistent about which of the two it accepts, so both get attempted.
func toISODay(s string) (string, error) {
	t, err := ParseDay(s)
	if err != nil {
		return "", fmt.Errorf("reformat day %q: %w", s, err)
	}
	return t.Format("2006-01-02"), nil
}

// SortedDates returns a run's dates in chronological order. the map
// keys sort wrong lexically because the day comes first.
func SortedDates(run *ExtractionRun) []string {
	dates := make([]string, 0, len(run.Dates))
	for d := range run.Dates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool {
		a, errA := ParseDay(dates[i])
		b, errB := ParseDay(dates[j])
		if errA != nil || errB != nil {
			return dates[i] < dates[j]
		}
		return a.Before(b)
	})
	return dates
}

// DayRange lists the span of consecutive dates a run covers. a zero
// or negative span is empty.
func DayRange(start time.Time, days int) []string {
	if days <= 0 {
		return nil
	}
	out := make([]string, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, FormatDay(start.AddDate(0, 0, i)))
	}
	return out
}
