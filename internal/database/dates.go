package database

import "time"

// Timestamps are stored as RFC 3339 text; plan dates and quota period
// markers use the process-local timezone.

// Today returns today's date as YYYY-MM-DD.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// CurrentMonth returns the current month as YYYY-MM.
func CurrentMonth() string {
	return time.Now().Format("2006-01")
}

// FormatTime formats a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTime parses a stored timestamp. The zero time is returned for
// malformed values.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatDateDisplay formats a plan date for human-readable display,
// e.g. "Feb 06, 2026".
func FormatDateDisplay(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
