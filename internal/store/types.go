package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a reminder or occurrence id does not exist.
var ErrNotFound = errors.New("not found")

// Kind distinguishes the two reminder tables.
type Kind string

const (
	KindRule   Kind = "rule"
	KindCustom Kind = "custom"
)

// Ref identifies a reminder across both tables. The external string form
// is "r:<id>" for rule reminders and "c:<id>" for custom reminders, so
// ids from the two tables can never collide on the command surface.
type Ref struct {
	Kind Kind
	ID   int64
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	var kind Kind
	switch {
	case strings.HasPrefix(s, "r:"):
		kind = KindRule
	case strings.HasPrefix(s, "c:"):
		kind = KindCustom
	default:
		return Ref{}, fmt.Errorf("invalid reminder id %q", s)
	}
	id, err := strconv.ParseInt(s[2:], 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid reminder id %q", s)
	}
	return Ref{Kind: kind, ID: id}, nil
}

func (r Ref) String() string {
	prefix := "c:"
	if r.Kind == KindRule {
		prefix = "r:"
	}
	return prefix + strconv.FormatInt(r.ID, 10)
}

// Occurrence is one concrete instance of an event, identified by
// (event_id, start_utc). Rows are never deleted; absence from a sync
// window shows up as a stale LastSeenUTC, and Dropped is a terminal
// tombstone.
type Occurrence struct {
	EventID     string
	StartUTC    int64
	EndUTC      int64
	AllDay      bool
	Dropped     bool
	LastSeenUTC int64
}

// Reminder is a row from either reminder table. RuleName is empty for
// custom reminders. The three lifecycle timestamps are set at most once
// and never cleared.
type Reminder struct {
	Ref          Ref
	EventID      string
	OccStartUTC  int64
	RuleName     string
	TriggerUTC   int64
	RequiresAck  bool
	CreatedUTC   int64
	FiredUTC     *int64
	AckedUTC     *int64
	CancelledUTC *int64
}

// Active reports whether the reminder is neither acked nor cancelled.
func (r *Reminder) Active() bool {
	return r.AckedUTC == nil && r.CancelledUTC == nil
}
