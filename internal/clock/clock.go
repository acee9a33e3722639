// Package clock resolves the configured timezone and converts raw
// occurrence times into the canonical local representation that the
// rule engine operates on.
package clock

import (
	"fmt"
	"time"
)

// Clock holds the resolved local timezone and the wall-clock hour that
// all-day events are normalized to.
type Clock struct {
	loc        *time.Location
	allDayHour int
	now        func() time.Time
}

// New resolves tzName (IANA, e.g. "Europe/Berlin"). An empty name means
// the system local timezone. An unresolvable name is a configuration
// error; callers should treat it as fatal.
func New(tzName string, allDayHour int) (*Clock, error) {
	loc := time.Local
	if tzName != "" {
		var err error
		loc, err = time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("unresolvable timezone %q: %w", tzName, err)
		}
	}
	return &Clock{loc: loc, allDayHour: allDayHour, now: time.Now}, nil
}

// SetNow overrides the time source. Tests only.
func (c *Clock) SetNow(now func() time.Time) {
	c.now = now
}

func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the configured local timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// NowUTC returns the current UTC epoch seconds.
func (c *Clock) NowUTC() int64 {
	return c.now().Unix()
}

// Epoch converts a time to UTC epoch seconds.
func Epoch(t time.Time) int64 {
	return t.Unix()
}

// FromEpoch converts UTC epoch seconds into the configured local timezone.
func (c *Clock) FromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).In(c.loc)
}

// Normalize maps a raw occurrence (UTC epoch start/end plus the all-day
// flag) to its local start and end.
//
// All-day occurrences are remapped to start at the configured wall-clock
// hour on the event's local date; the end is shifted by the same offset,
// preserving the original duration. Downstream rule code never needs to
// look at the all-day flag again.
func (c *Clock) Normalize(startUTC, endUTC int64, allDay bool) (time.Time, time.Time) {
	start := c.FromEpoch(startUTC)
	end := c.FromEpoch(endUTC)

	if !allDay {
		return start, end
	}

	anchored := time.Date(start.Year(), start.Month(), start.Day(), c.allDayHour, 0, 0, 0, c.loc)
	offset := anchored.Sub(start)
	return anchored, end.Add(offset)
}
