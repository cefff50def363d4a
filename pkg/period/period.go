// Package period splits a requested date range into windows that respect a
// vendor's maximum query span.
package period

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is matched by every InvalidRangeError.
var ErrInvalidRange = errors.New("invalid period range")

// InvalidRangeError reports malformed split input.
type InvalidRangeError struct {
	Start         time.Time
	End           time.Time
	MaxWindowDays int
	Reason        string
}

// Error implements the error interface.
func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid period %s..%s (window %d days): %s",
		e.Start.Format(time.DateOnly), e.End.Format(time.DateOnly), e.MaxWindowDays, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidRange) succeed.
func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// Window is an inclusive date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the window, inclusive.
func (w Window) Days() int {
	return daysBetween(w.Start, w.End) + 1
}

// Format renders both bounds with the given layout.
func (w Window) Format(layout string) (string, string) {
	return w.Start.Format(layout), w.End.Format(layout)
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// Split divides [start, end] into consecutive windows.
//
// A range whose span (end - start, in days) is at most maxWindowDays is
// returned as a single window. Longer ranges are cut into windows of exactly
// maxWindowDays calendar days; the final window ends at end and may be shorter.
func Split(start, end time.Time, maxWindowDays int) ([]Window, error) {
	start, end = truncateDay(start), truncateDay(end)

	if maxWindowDays < 1 {
		return nil, &InvalidRangeError{Start: start, End: end, MaxWindowDays: maxWindowDays,
			Reason: "window size must be at least 1 day"}
	}
	if end.Before(start) {
		return nil, &InvalidRangeError{Start: start, End: end, MaxWindowDays: maxWindowDays,
			Reason: "start is after end"}
	}

	if daysBetween(start, end) <= maxWindowDays {
		return []Window{{Start: start, End: end}}, nil
	}

	windows := make([]Window, 0, daysBetween(start, end)/maxWindowDays+1)
	cursor := start
	for daysBetween(cursor, end) > maxWindowDays {
		windows = append(windows, Window{
			Start: cursor,
			End:   cursor.AddDate(0, 0, maxWindowDays-1),
		})
		cursor = cursor.AddDate(0, 0, maxWindowDays)
	}
	windows = append(windows, Window{Start: cursor, End: end})

	return windows, nil
}

// ParseRange parses both bounds with layout (time.DateOnly when empty).
func ParseRange(from, to, layout string) (time.Time, time.Time, error) {
	if layout == "" {
		layout = time.DateOnly
	}
	start, err := time.Parse(layout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(layout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date: %w", err)
	}
	return start, end, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days, immune to DST-length days.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
