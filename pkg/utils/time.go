package utils

import "time"

// TimestampLayout is ISO 8601 in UTC with millisecond precision, the format
// browsers produce with Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
