package hook

import "time"

var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// durationFromTimestamps derives a duration in milliseconds from two
// ISO-8601 timestamps.
func durationFromTimestamps(startedAt, endedAt string) (float64, bool) {
	start, ok := parseTimestamp(startedAt)
	if !ok {
		return 0, false
	}
	end, ok := parseTimestamp(endedAt)
	if !ok {
		return 0, false
	}
	return float64(end.Sub(start).Milliseconds()), true
}
