package engine

import (
	"fmt"
	"log"
	"time"

	"remindd/internal/store"
)

// ReminderDetail joins a reminder with its occurrence and the last known
// event summary for display.
type ReminderDetail struct {
	Reminder   store.Reminder
	Occurrence *store.Occurrence
	Summary    string
}

// Due returns due reminders across both tables, earliest trigger first.
func (e *Engine) Due(limit int) ([]store.Reminder, error) {
	return e.store.DueReminders(e.clock.NowUTC(), limit)
}

// NextPending returns the upcoming not-yet-due reminders.
func (e *Engine) NextPending(limit int) ([]store.Reminder, error) {
	return e.store.NextPending(e.clock.NowUTC(), limit)
}

// GetReminder returns one reminder joined with its occurrence.
func (e *Engine) GetReminder(ref store.Ref) (*ReminderDetail, error) {
	r, err := e.store.GetReminder(ref)
	if err != nil {
		return nil, err
	}
	occ, err := e.store.GetOccurrence(r.EventID, r.OccStartUTC)
	if err != nil {
		return nil, err
	}
	return &ReminderDetail{
		Reminder:   *r,
		Occurrence: occ,
		Summary:    e.Summary(r.EventID),
	}, nil
}

// Ack acknowledges a reminder. Idempotent: acking an already-acked or
// cancelled reminder succeeds with changed=false. Acking a reminder that
// was never fired is permitted and simply prevents future firing.
func (e *Engine) Ack(ref store.Ref) (bool, error) {
	changed, err := e.store.AckReminder(ref, e.clock.NowUTC())
	if err != nil {
		return false, err
	}
	log.Printf("[engine] reminder acked id=%s changed=%t", ref, changed)
	return changed, nil
}

// Drop tombstones an occurrence and cancels every still-active rule and
// custom reminder for that key. Unlike retirement-by-absence during sync,
// an explicit drop cancels custom reminders too.
func (e *Engine) Drop(eventID string, occStartUTC int64) (int64, int64, error) {
	nRule, nCustom, err := e.store.DropOccurrence(eventID, occStartUTC, e.clock.NowUTC())
	if err != nil {
		return 0, 0, err
	}
	log.Printf("[engine] occurrence dropped event_id=%s occ_start_local=%s cancelled_rule=%d cancelled_custom=%d",
		eventID, e.clock.FromEpoch(occStartUTC).Format(time.RFC3339), nRule, nCustom)
	return nRule, nCustom, nil
}

// Snooze creates a new custom reminder at triggerUTC for the source
// reminder's occurrence and acknowledges the source in the same
// transaction, so the source stops repeating.
func (e *Engine) Snooze(source store.Ref, triggerUTC int64) (store.Ref, error) {
	now := e.clock.NowUTC()
	if triggerUTC <= now {
		return store.Ref{}, fmt.Errorf("%w: snooze trigger %d is not in the future", ErrInvalidTransition, triggerUTC)
	}

	newID, err := e.store.Snooze(source, triggerUTC, now)
	if err != nil {
		return store.Ref{}, err
	}

	newRef := store.Ref{Kind: store.KindCustom, ID: newID}
	log.Printf("[engine] reminder snoozed source_id=%s new_id=%s new_trigger_local=%s",
		source, newRef, e.clock.FromEpoch(triggerUTC).Format(time.RFC3339))
	return newRef, nil
}

// FireNext fires the earliest due reminder, if any, honoring the spawn
// throttle unless told otherwise. fired_utc commits before the notifier
// is invoked, so a hung or crashed notifier can never cause a re-spawn.
// Returns the fired reminder id, or "" when nothing fired.
func (e *Engine) FireNext(ignoreThrottle bool) (string, error) {
	return e.fireDue(false, ignoreThrottle)
}

// FireAny fires a reminder for testing: the earliest due one if present,
// otherwise the next pending one. Ignores the throttle but not the
// fire-at-most-once guarantee.
func (e *Engine) FireAny(important bool) (string, error) {
	rid, err := e.fireDue(important, true)
	if err != nil || rid != "" {
		return rid, err
	}

	now := e.clock.NowUTC()
	next, err := e.store.NextPending(now, 1)
	if err != nil {
		return "", err
	}
	if len(next) == 0 {
		return "", nil
	}
	return e.fire(next[0], now, important)
}

func (e *Engine) fireDue(important, ignoreThrottle bool) (string, error) {
	now := e.clock.NowUTC()
	if !ignoreThrottle && e.throttled(now) {
		return "", nil
	}

	due, err := e.store.DueReminders(now, 1)
	if err != nil {
		return "", err
	}
	if len(due) == 0 {
		return "", nil
	}
	return e.fire(due[0], now, important)
}

func (e *Engine) fire(r store.Reminder, nowUTC int64, important bool) (string, error) {
	fired, err := e.store.MarkFired(r.Ref, nowUTC)
	if err != nil {
		return "", err
	}
	if !fired {
		// Lost a race with a concurrent fire or transition; nothing to do.
		return "", nil
	}

	rid := r.Ref.String()
	log.Printf("[engine] reminder fired id=%s trigger_local=%s event_id=%s",
		rid, e.clock.FromEpoch(r.TriggerUTC).Format(time.RFC3339), r.EventID)

	// fired_utc is already committed; a notifier failure leaves the
	// reminder fired and is handled out of band.
	if err := e.notifier.Spawn(rid, important); err != nil {
		log.Printf("[engine] notifier spawn failed id=%s err=%v", rid, err)
	}

	e.mu.Lock()
	e.lastSpawnUTC = nowUTC
	e.mu.Unlock()
	return rid, nil
}

func (e *Engine) throttled(nowUTC int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSpawnUTC == 0 {
		return false
	}
	return nowUTC-e.lastSpawnUTC < int64(e.opts.SpawnThrottle/time.Second)
}
