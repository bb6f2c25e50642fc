package models

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the backend's ngayTao format.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTimestamp parses the free-form timestamps the backend emits. Layouts
// without a zone are read in loc. Anything unparseable yields now.
func ParseTimestamp(s string, now time.Time, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return now
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	// epoch millis
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return now
}

// FormatTimestamp renders t in the backend's layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
