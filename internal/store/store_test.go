package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "remind.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedOccurrence(t *testing.T, s *Store, eventID string, startUTC, lastSeenUTC int64) {
	t.Helper()
	_, _, err := s.UpsertOccurrence(Occurrence{
		EventID:     eventID,
		StartUTC:    startUTC,
		EndUTC:      startUTC + 3600,
		LastSeenUTC: lastSeenUTC,
	})
	if err != nil {
		t.Fatalf("seed occurrence: %v", err)
	}
}

func TestUpsertOccurrenceReportsInsertAndChange(t *testing.T) {
	s := newTestStore(t)

	inserted, changed, err := s.UpsertOccurrence(Occurrence{
		EventID: "ev1", StartUTC: 1000, EndUTC: 2000, LastSeenUTC: 50,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !inserted || !changed {
		t.Fatalf("first upsert: got inserted=%t changed=%t, want true/true", inserted, changed)
	}

	// Same values again: only last_seen_utc moves, no change reported.
	inserted, changed, err = s.UpsertOccurrence(Occurrence{
		EventID: "ev1", StartUTC: 1000, EndUTC: 2000, LastSeenUTC: 60,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted || changed {
		t.Fatalf("second upsert: got inserted=%t changed=%t, want false/false", inserted, changed)
	}

	// Shifted end time counts as a change.
	inserted, changed, err = s.UpsertOccurrence(Occurrence{
		EventID: "ev1", StartUTC: 1000, EndUTC: 2500, LastSeenUTC: 70,
	})
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if inserted || !changed {
		t.Fatalf("third upsert: got inserted=%t changed=%t, want false/true", inserted, changed)
	}

	occ, err := s.GetOccurrence("ev1", 1000)
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if occ.EndUTC != 2500 || occ.LastSeenUTC != 70 {
		t.Fatalf("got end=%d last_seen=%d, want 2500/70", occ.EndUTC, occ.LastSeenUTC)
	}
}

func TestUpsertOccurrencePreservesDroppedTombstone(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 1000, 50)

	if _, _, err := s.DropOccurrence("ev1", 1000, 60); err != nil {
		t.Fatalf("drop: %v", err)
	}

	// A later sync pass sees the event again; the tombstone must survive.
	seedOccurrence(t, s, "ev1", 1000, 70)

	occ, err := s.GetOccurrence("ev1", 1000)
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if !occ.Dropped {
		t.Fatal("dropped tombstone was cleared by upsert")
	}
}

func TestInsertRuleReminderIsIdempotentOnNaturalKey(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 1000, 50)

	created, err := s.InsertRuleReminder("ev1", 1000, "day_before", 900, true, 50)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created {
		t.Fatal("first insert reported created=false")
	}

	// Re-insert with a different trigger: ignored, existing row untouched.
	created, err = s.InsertRuleReminder("ev1", 1000, "day_before", 999, false, 60)
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if created {
		t.Fatal("duplicate natural key reported created=true")
	}

	due, err := s.DueReminders(2000, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d reminders, want 1", len(due))
	}
	if due[0].TriggerUTC != 900 || !due[0].RequiresAck {
		t.Fatalf("existing row was mutated: trigger=%d requires_ack=%t", due[0].TriggerUTC, due[0].RequiresAck)
	}
}

func TestDueRemindersMergesTablesOrdered(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)

	if _, err := s.InsertRuleReminder("ev1", 5000, "week_before", 300, false, 50); err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	if _, err := s.InsertRuleReminder("ev1", 5000, "day_before", 100, true, 50); err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	customID, err := s.InsertCustomReminder("ev1", 5000, 200, 50)
	if err != nil {
		t.Fatalf("insert custom: %v", err)
	}

	due, err := s.DueReminders(400, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d due reminders, want 3", len(due))
	}

	wantTriggers := []int64{100, 200, 300}
	for i, want := range wantTriggers {
		if due[i].TriggerUTC != want {
			t.Fatalf("position %d: trigger=%d, want %d", i, due[i].TriggerUTC, want)
		}
	}
	if due[1].Ref.Kind != KindCustom || due[1].Ref.ID != customID {
		t.Fatalf("middle reminder: got %s, want c:%d", due[1].Ref, customID)
	}
	if due[0].RuleName != "day_before" || due[1].RuleName != "" {
		t.Fatalf("rule names: got %q and %q", due[0].RuleName, due[1].RuleName)
	}
}

func TestNextPendingExcludesDue(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)

	if _, err := s.InsertRuleReminder("ev1", 5000, "week_before", 100, false, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertRuleReminder("ev1", 5000, "day_before", 900, true, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pending, err := s.NextPending(100, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].TriggerUTC != 900 {
		t.Fatalf("got %d pending (first trigger %d), want 1 at 900", len(pending), pending[0].TriggerUTC)
	}
}

func TestMarkFiredIsSetOnce(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)
	if _, err := s.InsertRuleReminder("ev1", 5000, "six_am", 100, false, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ref := Ref{Kind: KindRule, ID: 1}

	fired, err := s.MarkFired(ref, 150)
	if err != nil {
		t.Fatalf("mark fired: %v", err)
	}
	if !fired {
		t.Fatal("first MarkFired reported fired=false")
	}

	fired, err = s.MarkFired(ref, 160)
	if err != nil {
		t.Fatalf("second mark fired: %v", err)
	}
	if fired {
		t.Fatal("second MarkFired fired again")
	}

	r, err := s.GetReminder(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.FiredUTC == nil || *r.FiredUTC != 150 {
		t.Fatalf("fired_utc = %v, want 150", r.FiredUTC)
	}

	// A fired, not-yet-acked reminder stays out of the due list.
	due, err := s.DueReminders(1000, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("fired reminder still listed as due: %d rows", len(due))
	}
}

func TestAckReminderIdempotentAndNotFound(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)
	if _, err := s.InsertRuleReminder("ev1", 5000, "day_before", 100, true, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ref := Ref{Kind: KindRule, ID: 1}

	changed, err := s.AckReminder(ref, 200)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !changed {
		t.Fatal("first ack reported changed=false")
	}

	changed, err = s.AckReminder(ref, 300)
	if err != nil {
		t.Fatalf("re-ack: %v", err)
	}
	if changed {
		t.Fatal("second ack reported changed=true")
	}

	r, err := s.GetReminder(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.AckedUTC == nil || *r.AckedUTC != 200 {
		t.Fatalf("acked_utc = %v, want 200", r.AckedUTC)
	}

	_, err = s.AckReminder(Ref{Kind: KindRule, ID: 99}, 200)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ack of unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestAckAfterFireStopsRepeat(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)
	if _, err := s.InsertRuleReminder("ev1", 5000, "minus_30m", 100, true, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ref := Ref{Kind: KindRule, ID: 1}

	if _, err := s.MarkFired(ref, 150); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if _, err := s.AckReminder(ref, 200); err != nil {
		t.Fatalf("ack: %v", err)
	}

	fired, err := s.MarkFired(ref, 250)
	if err != nil {
		t.Fatalf("refire: %v", err)
	}
	if fired {
		t.Fatal("acked reminder fired again")
	}
}

func TestDropOccurrenceCancelsBothKinds(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)
	seedOccurrence(t, s, "ev1", 9000, 50)

	if _, err := s.InsertRuleReminder("ev1", 5000, "week_before", 100, false, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertCustomReminder("ev1", 5000, 200, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// A different occurrence of the same event must be unaffected.
	if _, err := s.InsertRuleReminder("ev1", 9000, "week_before", 8000, false, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// An already-acked reminder keeps its ack, not a cancellation.
	acked, err := s.InsertCustomReminder("ev1", 5000, 300, 50)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.AckReminder(Ref{Kind: KindCustom, ID: acked}, 60); err != nil {
		t.Fatalf("ack: %v", err)
	}

	nRule, nCustom, err := s.DropOccurrence("ev1", 5000, 400)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if nRule != 1 || nCustom != 1 {
		t.Fatalf("cancelled %d rule, %d custom; want 1/1", nRule, nCustom)
	}

	due, err := s.DueReminders(10000, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].OccStartUTC != 9000 {
		t.Fatalf("surviving reminders: %d (want 1 for the other occurrence)", len(due))
	}

	_, _, err = s.DropOccurrence("ev-missing", 1, 400)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("drop of unknown occurrence: err = %v, want ErrNotFound", err)
	}
}

func TestSnoozeCreatesCustomAndAcksSource(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 5000, 50)
	if _, err := s.InsertRuleReminder("ev1", 5000, "day_before", 100, true, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	source := Ref{Kind: KindRule, ID: 1}

	newID, err := s.Snooze(source, 700, 200)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}

	src, err := s.GetReminder(source)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.AckedUTC == nil {
		t.Fatal("snooze did not ack the source reminder")
	}

	snoozed, err := s.GetReminder(Ref{Kind: KindCustom, ID: newID})
	if err != nil {
		t.Fatalf("get snoozed: %v", err)
	}
	if snoozed.TriggerUTC != 700 || !snoozed.RequiresAck {
		t.Fatalf("snoozed reminder: trigger=%d requires_ack=%t", snoozed.TriggerUTC, snoozed.RequiresAck)
	}
	if snoozed.EventID != "ev1" || snoozed.OccStartUTC != 5000 {
		t.Fatalf("snoozed reminder lost the occurrence key: %s@%d", snoozed.EventID, snoozed.OccStartUTC)
	}

	_, err = s.Snooze(Ref{Kind: KindCustom, ID: 99}, 700, 200)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("snooze of unknown source: err = %v, want ErrNotFound", err)
	}
}

func TestCancelUnseenRuleRemindersSparesCustomAndFired(t *testing.T) {
	s := newTestStore(t)
	// ev-stale was last seen before the cutoff, ev-fresh at the cutoff.
	seedOccurrence(t, s, "ev-stale", 5000, 80)
	seedOccurrence(t, s, "ev-fresh", 6000, 100)

	if _, err := s.InsertRuleReminder("ev-stale", 5000, "week_before", 4000, false, 80); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertRuleReminder("ev-stale", 5000, "day_before", 4500, true, 80); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertRuleReminder("ev-fresh", 6000, "week_before", 5500, false, 100); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertCustomReminder("ev-stale", 5000, 4800, 80); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Already-fired stale reminders stay fired, not cancelled.
	if _, err := s.MarkFired(Ref{Kind: KindRule, ID: 2}, 90); err != nil {
		t.Fatalf("fire: %v", err)
	}

	n, err := s.CancelUnseenRuleReminders(100, 100)
	if err != nil {
		t.Fatalf("cancel unseen: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled %d rule reminders, want 1", n)
	}

	// The custom reminder for the stale occurrence must survive.
	due, err := s.DueReminders(10000, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	var haveCustom, haveFresh bool
	for _, r := range due {
		if r.Ref.Kind == KindCustom && r.EventID == "ev-stale" {
			haveCustom = true
		}
		if r.EventID == "ev-fresh" {
			haveFresh = true
		}
	}
	if !haveCustom || !haveFresh {
		t.Fatalf("retirement overreached: custom_survived=%t fresh_survived=%t", haveCustom, haveFresh)
	}
}

func TestUnfireFutureRuleReminders(t *testing.T) {
	s := newTestStore(t)
	seedOccurrence(t, s, "ev1", 9000, 50)

	if _, err := s.InsertRuleReminder("ev1", 9000, "week_before", 500, false, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertRuleReminder("ev1", 9000, "day_before", 2000, true, 50); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.MarkFired(Ref{Kind: KindRule, ID: 1}, 600); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if _, err := s.MarkFired(Ref{Kind: KindRule, ID: 2}, 600); err != nil {
		t.Fatalf("fire: %v", err)
	}

	// At now=1000 only the trigger-at-2000 reminder is in the future.
	n, err := s.UnfireFutureRuleReminders(1000)
	if err != nil {
		t.Fatalf("unfire: %v", err)
	}
	if n != 1 {
		t.Fatalf("unfired %d, want 1", n)
	}

	past, err := s.GetReminder(Ref{Kind: KindRule, ID: 1})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if past.FiredUTC == nil {
		t.Fatal("past reminder was unfired")
	}
	future, err := s.GetReminder(Ref{Kind: KindRule, ID: 2})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if future.FiredUTC != nil {
		t.Fatal("future reminder still fired")
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{"r:12", Ref{Kind: KindRule, ID: 12}, false},
		{"c:3", Ref{Kind: KindCustom, ID: 3}, false},
		{" r:7 ", Ref{Kind: KindRule, ID: 7}, false},
		{"x:1", Ref{}, true},
		{"r:", Ref{}, true},
		{"r:abc", Ref{}, true},
		{"12", Ref{}, true},
		{"", Ref{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRef(%q): err = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() != strippedSpace(tt.in) {
			t.Errorf("round trip of %q gave %q", tt.in, got.String())
		}
	}
}

func strippedSpace(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
