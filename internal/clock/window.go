package clock

import (
	"fmt"
	"time"
)

// Window is a daily UTC time range. When End is before Start the window
// wraps past midnight. The zero Window is disabled and contains every time.
type Window struct {
	start, end time.Duration
	enabled    bool
}

// ParseWindow parses two HH:MM values. Both empty disables the window.
func ParseWindow(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("window needs both start and end")
	}
	s, err := parseHHMM(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseHHMM(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if s == e {
		return Window{}, fmt.Errorf("window start and end are equal")
	}
	return Window{start: s, end: e, enabled: true}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Enabled reports whether the window restricts anything.
func (w Window) Enabled() bool { return w.enabled }

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.enabled {
		return true
	}
	off := sinceMidnight(t)
	if w.start < w.end {
		return off >= w.start && off < w.end
	}
	return off >= w.start || off < w.end
}

// Opening returns the start of the window occurrence containing t, or the
// next one to open after t.
func (w Window) Opening(t time.Time) time.Time {
	t = t.UTC()
	if !w.enabled {
		return t
	}
	midnight := t.Truncate(24 * time.Hour)
	today := midnight.Add(w.start)
	switch {
	case w.Contains(t) && !t.Before(today):
		return today
	case w.Contains(t):
		return today.Add(-24 * time.Hour)
	case t.Before(today):
		return today
	default:
		return today.Add(24 * time.Hour)
	}
}

func sinceMidnight(t time.Time) time.Duration {
	t = t.UTC()
	return t.Sub(t.Truncate(24 * time.Hour))
}
