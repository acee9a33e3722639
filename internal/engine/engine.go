// Package engine ties the store, clock, rule set, calendar source and
// notifier together: reconciliation on one side, user-issued state
// transitions on the other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"remindd/internal/calendar"
	"remindd/internal/clock"
	"remindd/internal/notify"
	"remindd/internal/rules"
	"remindd/internal/store"
)

var (
	// ErrNotFound mirrors store.ErrNotFound on the engine surface.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidTransition marks a rejected state change, e.g. a snooze
	// with a trigger in the past.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSourceUnavailable marks a transient calendar fetch failure; the
	// reconciliation pass that hit it is aborted and retried later.
	ErrSourceUnavailable = errors.New("calendar source unavailable")
)

// Options configures an Engine.
type Options struct {
	Rules         []rules.Name
	WindowDays    int
	FetchTimeout  time.Duration
	RetireCustom  bool
	SpawnThrottle time.Duration
}

type Engine struct {
	store    *store.Store
	clock    *clock.Clock
	source   calendar.Source
	notifier notify.Notifier
	opts     Options

	mu           sync.Mutex
	lastSpawnUTC int64
	lastSyncUTC  int64
	summaries    map[string]string
}

func New(st *store.Store, ck *clock.Clock, src calendar.Source, n notify.Notifier, opts Options) *Engine {
	return &Engine{
		store:     st,
		clock:     ck,
		source:    src,
		notifier:  n,
		opts:      opts,
		summaries: make(map[string]string),
	}
}

// SyncCounts is the observability contract of one reconciliation pass.
type SyncCounts struct {
	Seen                  int   `json:"seen"`
	OccUpserted           int   `json:"occ_upserted"`
	OccChanged            int   `json:"occ_changed"`
	RuleCreated           int   `json:"rule_created"`
	SkippedPast           int   `json:"skipped_past"`
	RuleCancelledUnseen   int64 `json:"rule_cancelled_unseen"`
	CustomCancelledUnseen int64 `json:"custom_cancelled_unseen"`
}

// Sync runs one reconciliation pass: fetch the current window, upsert
// occurrences, ensure rule reminders exist, and retire rule reminders
// whose occurrence was not seen this pass.
func (e *Engine) Sync(ctx context.Context) (SyncCounts, error) {
	var counts SyncCounts
	started := e.clock.NowUTC()
	t0 := time.Now()

	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	windowStart := e.clock.Now()
	windowEnd := windowStart.AddDate(0, 0, e.opts.WindowDays)
	raws, err := e.source.Fetch(fctx, windowStart, windowEnd)
	if err != nil {
		return counts, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	for _, raw := range raws {
		counts.Seen++
		e.rememberSummary(raw.EventID, raw.Summary)

		inserted, changed, err := e.store.UpsertOccurrence(store.Occurrence{
			EventID:     raw.EventID,
			StartUTC:    raw.StartUTC,
			EndUTC:      raw.EndUTC,
			AllDay:      raw.AllDay,
			LastSeenUTC: started,
		})
		if err != nil {
			return counts, err
		}
		if inserted || changed {
			counts.OccUpserted++
		}
		if changed && !inserted {
			counts.OccChanged++
		}
		if inserted {
			log.Printf("[engine] occurrence added event_id=%s start_local=%s summary=%q",
				raw.EventID, e.clock.FromEpoch(raw.StartUTC).Format(time.RFC3339), raw.Summary)
		}

		occ, err := e.store.GetOccurrence(raw.EventID, raw.StartUTC)
		if err != nil {
			return counts, err
		}
		if occ.Dropped {
			continue
		}

		startLocal, endLocal := e.clock.Normalize(raw.StartUTC, raw.EndUTC, raw.AllDay)
		for _, cand := range rules.Compute(e.opts.Rules, startLocal, endLocal) {
			trig := clock.Epoch(cand.TriggerLocal)
			// Never persist a reminder already in the past; catch-up
			// firing only applies to reminders that became past-due
			// after creation.
			if trig <= started {
				counts.SkippedPast++
				continue
			}
			created, err := e.store.InsertRuleReminder(raw.EventID, raw.StartUTC,
				string(cand.Rule), trig, cand.RequiresAck, started)
			if err != nil {
				return counts, err
			}
			if created {
				counts.RuleCreated++
			}
		}
	}

	counts.RuleCancelledUnseen, err = e.store.CancelUnseenRuleReminders(started, started)
	if err != nil {
		return counts, err
	}
	if e.opts.RetireCustom {
		counts.CustomCancelledUnseen, err = e.store.CancelUnseenCustomReminders(started, started)
		if err != nil {
			return counts, err
		}
	}

	e.mu.Lock()
	e.lastSyncUTC = started
	e.mu.Unlock()

	log.Printf("[engine] sync pass complete seen=%d occ_upserted=%d occ_changed=%d rule_created=%d rule_cancelled_unseen=%d skipped_past=%d duration=%s",
		counts.Seen, counts.OccUpserted, counts.OccChanged, counts.RuleCreated,
		counts.RuleCancelledUnseen, counts.SkippedPast, time.Since(t0).Round(time.Millisecond))
	return counts, nil
}

// LastSyncUTC returns when the last successful sync pass started, or 0.
func (e *Engine) LastSyncUTC() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncUTC
}

// RegenRules un-fires future, never-acked rule reminders and then runs a
// sync pass so missing rule reminders are recreated. Repair command.
func (e *Engine) RegenRules(ctx context.Context) (int64, SyncCounts, error) {
	unfired, err := e.store.UnfireFutureRuleReminders(e.clock.NowUTC())
	if err != nil {
		return 0, SyncCounts{}, err
	}
	counts, err := e.Sync(ctx)
	return unfired, counts, err
}

// UpcomingEvents fetches the current window and returns the next limit
// occurrences, earliest first.
func (e *Engine) UpcomingEvents(ctx context.Context, limit int) ([]calendar.RawOccurrence, error) {
	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	windowStart := e.clock.Now()
	windowEnd := windowStart.AddDate(0, 0, e.opts.WindowDays)
	raws, err := e.source.Fetch(fctx, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].StartUTC < raws[j].StartUTC })
	if len(raws) > limit {
		raws = raws[:limit]
	}
	for _, raw := range raws {
		e.rememberSummary(raw.EventID, raw.Summary)
	}
	return raws, nil
}

func (e *Engine) rememberSummary(eventID, summary string) {
	e.mu.Lock()
	e.summaries[eventID] = summary
	e.mu.Unlock()
}

// Summary returns the last seen summary for an event, or "" if the event
// has vanished from the upstream source.
func (e *Engine) Summary(eventID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaries[eventID]
}
