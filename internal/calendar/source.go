// Package calendar abstracts the upstream calendar data source and
// provides an ICS-feed implementation of it.
package calendar

import (
	"context"
	"time"
)

// RawOccurrence is one concrete event instance observed in a sync window,
// before time normalization.
type RawOccurrence struct {
	EventID  string
	Summary  string
	StartUTC int64
	EndUTC   int64
	AllDay   bool
}

// Source fetches the event occurrences within a time window. A transient
// fetch failure must be returned as an error so the caller can abort the
// whole reconciliation pass; a partial view would wrongly retire
// reminders for events that are still on the calendar.
type Source interface {
	Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]RawOccurrence, error)
}
