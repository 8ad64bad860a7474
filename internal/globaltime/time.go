// Package globaltime is the process clock. Components take a now func
// defaulting to UTC so tests can pin time without touching globals.
package globaltime

import "time"

func Now() time.Time {
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
