package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// reminderUnion merges both reminder tables into one ordered stream with
// a kind tag; rule rows carry their rule_name, custom rows a NULL
// placeholder. %[1]s is the shared WHERE clause.
const reminderUnion = `
	SELECT 'rule' AS kind, id, event_id, occ_start_utc, trigger_utc,
	       requires_ack, created_utc, fired_utc, acked_utc, cancelled_utc, rule_name
	FROM rule_reminders
	WHERE %[1]s

	UNION ALL

	SELECT 'custom' AS kind, id, event_id, occ_start_utc, trigger_utc,
	       requires_ack, created_utc, fired_utc, acked_utc, cancelled_utc, NULL AS rule_name
	FROM custom_reminders
	WHERE %[1]s

	ORDER BY trigger_utc ASC, id ASC
	LIMIT ?
`

// InsertRuleReminder creates a rule reminder unless one already exists for
// the (event_id, occ_start_utc, rule_name) natural key. Existing rows are
// left untouched even if the recomputed values differ, which makes
// regeneration idempotent. Returns whether a row was inserted.
func (s *Store) InsertRuleReminder(eventID string, occStartUTC int64, ruleName string,
	triggerUTC int64, requiresAck bool, createdUTC int64) (bool, error) {

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO rule_reminders(
			event_id, occ_start_utc, rule_name, trigger_utc, requires_ack, created_utc,
			acked_utc, fired_utc, cancelled_utc
		)
		VALUES(?,?,?,?,?,?,NULL,NULL,NULL)
	`, eventID, occStartUTC, ruleName, triggerUTC, boolToInt(requiresAck), createdUTC)
	if err != nil {
		return false, fmt.Errorf("failed to insert rule reminder: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// InsertCustomReminder creates a custom reminder. Custom reminders always
// require acknowledgement.
func (s *Store) InsertCustomReminder(eventID string, occStartUTC, triggerUTC, createdUTC int64) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		id, err = insertCustomTx(tx, eventID, occStartUTC, triggerUTC, createdUTC)
		return err
	})
	return id, err
}

func insertCustomTx(tx *sql.Tx, eventID string, occStartUTC, triggerUTC, createdUTC int64) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO custom_reminders(
			event_id, occ_start_utc, trigger_utc, requires_ack, created_utc,
			acked_utc, fired_utc, cancelled_utc
		)
		VALUES(?,?,?,1,?,NULL,NULL,NULL)
	`, eventID, occStartUTC, triggerUTC, createdUTC)
	if err != nil {
		return 0, fmt.Errorf("failed to insert custom reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted ID: %w", err)
	}
	return id, nil
}

// CancelUnseenRuleReminders cancels never-fired, still-active rule
// reminders whose occurrence was not seen by the latest sync pass.
// Custom reminders are deliberately not touched here; user-initiated
// promises survive upstream data loss.
func (s *Store) CancelUnseenRuleReminders(seenCutoffUTC, cancelledUTC int64) (int64, error) {
	return s.cancelUnseen("rule_reminders", seenCutoffUTC, cancelledUTC)
}

// CancelUnseenCustomReminders is the configurable counterpart for custom
// reminders (retire_custom policy).
func (s *Store) CancelUnseenCustomReminders(seenCutoffUTC, cancelledUTC int64) (int64, error) {
	return s.cancelUnseen("custom_reminders", seenCutoffUTC, cancelledUTC)
}

func (s *Store) cancelUnseen(table string, seenCutoffUTC, cancelledUTC int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE `+table+`
		SET cancelled_utc = ?
		WHERE cancelled_utc IS NULL
		  AND acked_utc IS NULL
		  AND fired_utc IS NULL
		  AND EXISTS (
			SELECT 1 FROM occurrences o
			WHERE o.event_id = `+table+`.event_id
			  AND o.start_utc = `+table+`.occ_start_utc
			  AND o.last_seen_utc < ?
		  )
	`, cancelledUTC, seenCutoffUTC)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel unseen %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DueReminders returns reminders from both tables with trigger_utc <= now
// that have never been fired and are still active, earliest trigger first
// (ties broken by id for determinism).
func (s *Store) DueReminders(nowUTC int64, limit int) ([]Reminder, error) {
	where := `trigger_utc <= ?
		AND fired_utc IS NULL
		AND acked_utc IS NULL
		AND cancelled_utc IS NULL`
	return s.queryReminders(fmt.Sprintf(reminderUnion, where), nowUTC, nowUTC, limit)
}

// NextPending returns the upcoming (not yet due) active reminders.
func (s *Store) NextPending(nowUTC int64, limit int) ([]Reminder, error) {
	where := `trigger_utc > ?
		AND fired_utc IS NULL
		AND acked_utc IS NULL
		AND cancelled_utc IS NULL`
	return s.queryReminders(fmt.Sprintf(reminderUnion, where), nowUTC, nowUTC, limit)
}

func (s *Store) queryReminders(query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var r Reminder
	var kind string
	var requiresAck int
	var fired, acked, cancelled sql.NullInt64
	var rule sql.NullString

	err := row.Scan(&kind, &r.Ref.ID, &r.EventID, &r.OccStartUTC, &r.TriggerUTC,
		&requiresAck, &r.CreatedUTC, &fired, &acked, &cancelled, &rule)
	if err != nil {
		return Reminder{}, fmt.Errorf("failed to scan reminder: %w", err)
	}

	r.Ref.Kind = Kind(kind)
	r.RequiresAck = requiresAck != 0
	if fired.Valid {
		v := fired.Int64
		r.FiredUTC = &v
	}
	if acked.Valid {
		v := acked.Int64
		r.AckedUTC = &v
	}
	if cancelled.Valid {
		v := cancelled.Int64
		r.CancelledUTC = &v
	}
	if rule.Valid {
		r.RuleName = rule.String
	}
	return r, nil
}

// GetReminder returns a single reminder by ref.
func (s *Store) GetReminder(ref Ref) (*Reminder, error) {
	r, err := getReminder(s.db, ref)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getReminder(q querier, ref Ref) (*Reminder, error) {
	var row *sql.Row
	if ref.Kind == KindRule {
		row = q.QueryRow(`
			SELECT 'rule', id, event_id, occ_start_utc, trigger_utc,
			       requires_ack, created_utc, fired_utc, acked_utc, cancelled_utc, rule_name
			FROM rule_reminders WHERE id = ?
		`, ref.ID)
	} else {
		row = q.QueryRow(`
			SELECT 'custom', id, event_id, occ_start_utc, trigger_utc,
			       requires_ack, created_utc, fired_utc, acked_utc, cancelled_utc, NULL
			FROM custom_reminders WHERE id = ?
		`, ref.ID)
	}

	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %s: %w", ref, ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

// MarkFired sets fired_utc exactly once, and only while the reminder is
// still active. Returns whether this call did the firing; false means the
// reminder was already fired, acked or cancelled.
func (s *Store) MarkFired(ref Ref, firedUTC int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE `+ref.table()+`
		SET fired_utc = ?
		WHERE id = ?
		  AND fired_utc IS NULL
		  AND acked_utc IS NULL
		  AND cancelled_utc IS NULL
	`, firedUTC, ref.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark fired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// AckReminder sets acked_utc if unset. Acking an already-acked or
// cancelled reminder is a no-op success (changed=false); an unknown id is
// ErrNotFound. Pre-emptive ack of a never-fired reminder is permitted.
func (s *Store) AckReminder(ref Ref, ackedUTC int64) (bool, error) {
	var changed bool
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		changed, err = ackTx(tx, ref, ackedUTC)
		return err
	})
	return changed, err
}

func ackTx(tx *sql.Tx, ref Ref, ackedUTC int64) (bool, error) {
	if _, err := getReminder(tx, ref); err != nil {
		return false, err
	}
	res, err := tx.Exec(`
		UPDATE `+ref.table()+`
		SET acked_utc = ?
		WHERE id = ?
		  AND acked_utc IS NULL
		  AND cancelled_utc IS NULL
	`, ackedUTC, ref.ID)
	if err != nil {
		return false, fmt.Errorf("failed to ack reminder: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Snooze inserts a new custom reminder for the source reminder's
// occurrence key and acks the source, in one transaction. The caller
// validates that triggerUTC is in the future.
func (s *Store) Snooze(source Ref, triggerUTC, nowUTC int64) (int64, error) {
	var newID int64
	err := s.withTx(func(tx *sql.Tx) error {
		src, err := getReminder(tx, source)
		if err != nil {
			return err
		}
		newID, err = insertCustomTx(tx, src.EventID, src.OccStartUTC, triggerUTC, nowUTC)
		if err != nil {
			return err
		}
		_, err = ackTx(tx, source, nowUTC)
		return err
	})
	return newID, err
}

// UnfireFutureRuleReminders clears fired_utc on rule reminders whose
// trigger is still in the future and which were never acked or cancelled.
// This is a repair command (regen-rules), the one sanctioned exception to
// the set-once discipline.
func (s *Store) UnfireFutureRuleReminders(nowUTC int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE rule_reminders
		SET fired_utc = NULL
		WHERE fired_utc IS NOT NULL
		  AND acked_utc IS NULL
		  AND cancelled_utc IS NULL
		  AND trigger_utc > ?
	`, nowUTC)
	if err != nil {
		return 0, fmt.Errorf("failed to unfire rule reminders: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Ref) table() string {
	if r.Kind == KindRule {
		return "rule_reminders"
	}
	return "custom_reminders"
}
