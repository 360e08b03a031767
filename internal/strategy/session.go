package strategy

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour, Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return ct, nil
}

// On returns the instant of ct on the calendar day of t, in t's location.
func (ct ClockTime) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, ct.Hour, ct.Minute, 0, 0, t.Location())
}

func (ct ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", ct.Hour, ct.Minute)
}

// Window is a daily [Start, End) wall-clock interval.
type Window struct {
	Start, End ClockTime
}

func ParseWindow(s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("window %q must look like HH:MM-HH:MM", s)
	}
	start, err := ParseClockTime(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClockTime(parts[1])
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// Contains handles windows that wrap past midnight.
func (w Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	s := w.Start.Hour*60 + w.Start.Minute
	e := w.End.Hour*60 + w.End.Minute
	if s <= e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

// dailyCap limits entries per symbol per local calendar day.
type dailyCap struct {
	limit  int
	mu     sync.Mutex
	day    string
	counts map[string]int
}

func newDailyCap(limit int) *dailyCap {
	return &dailyCap{limit: limit, counts: make(map[string]int)}
}

// take consumes one entry for symbol on the day of now and reports whether
// the cap allowed it. A non-positive limit means unlimited.
func (c *dailyCap) take(symbol string, now time.Time) bool {
	if c.limit <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	day := now.Format("2006-01-02")
	if day != c.day {
		c.day = day
		c.counts = make(map[string]int)
	}
	if c.counts[symbol] >= c.limit {
		return false
	}
	c.counts[symbol]++
	return true
}

func parseClockTimes(values []string) ([]ClockTime, error) {
	out := make([]ClockTime, 0, len(values))
	for _, v := range values {
		ct, err := ParseClockTime(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

func parseWindows(values []string) ([]Window, error) {
	out := make([]Window, 0, len(values))
	for _, v := range values {
		w, err := ParseWindow(v)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
