package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DisplayTimeLayout is the format used for timestamps pushed to teachers and boards.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// FormatTime formats `t` in `loc` with DisplayTimeLayout. A nil or zero time gives nil.
func FormatTime(t *time.Time, loc *time.Location) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	s := t.In(loc).Format(DisplayTimeLayout)
	return &s
}

// ParseDay parses a YYYY-MM-DD day in `loc` and returns the [start, end) bounds of that day.
func ParseDay(day string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02", CleanString(day), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// ValidID reports whether id is an entity id in canonical UUID form.
// Lookups by any other value cannot match and must not reach the store.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
