package store

import (
	"database/sql"
	"fmt"
)

// UpsertOccurrence inserts a new occurrence or refreshes an existing one.
// end_utc, all_day and last_seen_utc are updated in place; the dropped
// tombstone is never touched, so a dropped occurrence stays dropped.
//
// Returns (inserted, changed) where changed reports whether end_utc or
// all_day differed from the stored row.
func (s *Store) UpsertOccurrence(o Occurrence) (bool, bool, error) {
	var inserted, changed bool
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT end_utc, all_day FROM occurrences
			WHERE event_id = ? AND start_utc = ?
		`, o.EventID, o.StartUTC)

		var endUTC int64
		var allDay int
		switch err := row.Scan(&endUTC, &allDay); err {
		case sql.ErrNoRows:
			_, err := tx.Exec(`
				INSERT INTO occurrences(event_id, start_utc, end_utc, all_day, dropped, last_seen_utc)
				VALUES(?,?,?,?,0,?)
			`, o.EventID, o.StartUTC, o.EndUTC, boolToInt(o.AllDay), o.LastSeenUTC)
			if err != nil {
				return fmt.Errorf("failed to insert occurrence: %w", err)
			}
			inserted = true
			changed = true
			return nil
		case nil:
		default:
			return fmt.Errorf("failed to query occurrence: %w", err)
		}

		changed = endUTC != o.EndUTC || (allDay != 0) != o.AllDay
		_, err := tx.Exec(`
			UPDATE occurrences
			SET end_utc = ?, all_day = ?, last_seen_utc = ?
			WHERE event_id = ? AND start_utc = ?
		`, o.EndUTC, boolToInt(o.AllDay), o.LastSeenUTC, o.EventID, o.StartUTC)
		if err != nil {
			return fmt.Errorf("failed to update occurrence: %w", err)
		}
		return nil
	})
	return inserted, changed, err
}

// GetOccurrence returns a single occurrence by its natural key.
func (s *Store) GetOccurrence(eventID string, startUTC int64) (*Occurrence, error) {
	row := s.db.QueryRow(`
		SELECT event_id, start_utc, end_utc, all_day, dropped, last_seen_utc
		FROM occurrences
		WHERE event_id = ? AND start_utc = ?
	`, eventID, startUTC)

	var o Occurrence
	var allDay, dropped int
	if err := row.Scan(&o.EventID, &o.StartUTC, &o.EndUTC, &allDay, &dropped, &o.LastSeenUTC); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("occurrence %s@%d: %w", eventID, startUTC, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get occurrence: %w", err)
	}
	o.AllDay = allDay != 0
	o.Dropped = dropped != 0
	return &o, nil
}

// DropOccurrence sets the dropped tombstone and cancels every still-active
// rule and custom reminder for that occurrence key, all in one transaction.
// Returns the number of rule and custom reminders cancelled.
func (s *Store) DropOccurrence(eventID string, occStartUTC, nowUTC int64) (int64, int64, error) {
	var nRule, nCustom int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE occurrences SET dropped = 1
			WHERE event_id = ? AND start_utc = ?
		`, eventID, occStartUTC)
		if err != nil {
			return fmt.Errorf("failed to drop occurrence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("occurrence %s@%d: %w", eventID, occStartUTC, ErrNotFound)
		}

		nRule, err = cancelForOccurrence(tx, "rule_reminders", eventID, occStartUTC, nowUTC)
		if err != nil {
			return err
		}
		nCustom, err = cancelForOccurrence(tx, "custom_reminders", eventID, occStartUTC, nowUTC)
		return err
	})
	return nRule, nCustom, err
}

func cancelForOccurrence(tx *sql.Tx, table, eventID string, occStartUTC, cancelledUTC int64) (int64, error) {
	res, err := tx.Exec(`
		UPDATE `+table+`
		SET cancelled_utc = ?
		WHERE event_id = ? AND occ_start_utc = ?
		  AND acked_utc IS NULL AND cancelled_utc IS NULL
	`, cancelledUTC, eventID, occStartUTC)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
