// Package rules maps a normalized occurrence to its candidate reminders.
// The rule set is a small closed set of named strategies; unknown names
// are rejected when the configuration is loaded, not at use time.
package rules

import (
	"fmt"
	"time"
)

// Name identifies one reminder rule.
type Name string

const (
	WeekBefore Name = "week_before"
	DayBefore  Name = "day_before"
	SixAM      Name = "six_am"
	Minus30m   Name = "minus_30m"
)

// sixAMHour is the wall-clock hour for the six_am rule.
const sixAMHour = 6

// All returns every known rule name.
func All() []Name {
	return []Name{WeekBefore, DayBefore, SixAM, Minus30m}
}

// Resolve validates a configured rule name.
func Resolve(s string) (Name, error) {
	switch Name(s) {
	case WeekBefore, DayBefore, SixAM, Minus30m:
		return Name(s), nil
	}
	return "", fmt.Errorf("unknown rule name %q", s)
}

// ResolveAll validates a configured rule list.
func ResolveAll(names []string) ([]Name, error) {
	out := make([]Name, 0, len(names))
	for _, s := range names {
		n, err := Resolve(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Candidate is one computed reminder spec. The trigger is in local time;
// conversion to UTC happens when persisting.
type Candidate struct {
	Rule         Name
	TriggerLocal time.Time
	RequiresAck  bool
}

// Compute returns one candidate per enabled rule for an occurrence with
// the given local start/end. It is a pure function of its inputs;
// candidates already in the past are the caller's to discard.
func Compute(enabled []Name, startLocal, endLocal time.Time) []Candidate {
	out := make([]Candidate, 0, len(enabled))
	for _, n := range enabled {
		out = append(out, compute(n, startLocal, endLocal))
	}
	return out
}

func compute(n Name, startLocal, _ time.Time) Candidate {
	switch n {
	case WeekBefore:
		return Candidate{Rule: n, TriggerLocal: startLocal.AddDate(0, 0, -7), RequiresAck: false}
	case DayBefore:
		return Candidate{Rule: n, TriggerLocal: startLocal.AddDate(0, 0, -1), RequiresAck: true}
	case SixAM:
		t := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(),
			sixAMHour, 0, 0, 0, startLocal.Location())
		return Candidate{Rule: n, TriggerLocal: t, RequiresAck: false}
	case Minus30m:
		return Candidate{Rule: n, TriggerLocal: startLocal.Add(-30 * time.Minute), RequiresAck: true}
	}
	// Resolve guards against unknown names before Compute is reachable.
	panic(fmt.Sprintf("rules: unhandled rule %q", n))
}
