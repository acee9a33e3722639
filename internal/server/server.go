// Package server exposes the engine's command surface over a unix socket.
// Protocol: the client sends one newline-delimited JSON request and the
// server answers with one newline-delimited JSON response.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"remindd/internal/clock"
	"remindd/internal/engine"
	"remindd/internal/store"
)

const connTimeout = 10 * time.Second

// Request is a single command from the client. Unused fields are zero.
type Request struct {
	Cmd         string `json:"cmd"`
	ID          string `json:"id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	OccStartUTC int64  `json:"occ_start_utc,omitempty"`
	TriggerUTC  int64  `json:"trigger_utc,omitempty"`
	Important   bool   `json:"important,omitempty"`
}

type response map[string]any

func ok(fields response) response {
	if fields == nil {
		fields = response{}
	}
	fields["ok"] = true
	return fields
}

func fail(code string) response {
	return response{"ok": false, "error": code}
}

// Server accepts command connections on a unix socket.
type Server struct {
	engine *engine.Engine
	clock  *clock.Clock
	path   string
}

func New(e *engine.Engine, ck *clock.Clock, socketPath string) *Server {
	return &Server{engine: e, clock: ck, path: socketPath}
}

// Run listens until ctx is cancelled. A stale socket file from a previous
// run is removed before binding.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	defer os.Remove(s.path)

	log.Printf("[server] Listening on %s", s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[server] Shutting down...")
				return nil
			}
			log.Printf("[server] Error: accept failed: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var resp response
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		resp = fail("invalid_json")
	} else {
		log.Printf("[server] request cmd=%s", req.Cmd)
		resp = s.dispatch(req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(`{"ok":false,"error":"internal_error"}`)
	}
	out = append(out, '\n')
	if _, err := conn.Write(out); err != nil {
		log.Printf("[server] Error: write failed: %v", err)
	}
}

func (s *Server) dispatch(req Request) response {
	switch req.Cmd {
	case "ping":
		return ok(response{"now_utc": s.clock.NowUTC(), "pid": os.Getpid()})

	case "sync":
		counts, err := s.engine.Sync(context.Background())
		if err != nil {
			return failFor(err)
		}
		return ok(response{"counts": counts})

	case "due":
		return s.listReminders(req, s.engine.Due)

	case "pending":
		return s.listReminders(req, s.engine.NextPending)

	case "next":
		limit := req.Limit
		if limit <= 0 {
			return fail("limit_must_be_positive")
		}
		events, err := s.engine.UpcomingEvents(context.Background(), limit)
		if err != nil {
			return failFor(err)
		}
		payload := make([]response, 0, len(events))
		for _, e := range events {
			payload = append(payload, response{
				"event_id": e.EventID,
				"summary":  e.Summary,
				"start":    s.clock.FromEpoch(e.StartUTC).Format(time.RFC3339),
				"end":      s.clock.FromEpoch(e.EndUTC).Format(time.RFC3339),
				"all_day":  e.AllDay,
			})
		}
		return ok(response{"events": payload})

	case "fire_next":
		rid, err := s.engine.FireNext(true)
		if err != nil {
			return failFor(err)
		}
		if rid == "" {
			return fail("no_due_reminders")
		}
		return ok(response{"reminder_id": rid})

	case "test":
		if s.engine.LastSyncUTC() == 0 {
			if _, err := s.engine.Sync(context.Background()); err != nil {
				return failFor(err)
			}
		}
		rid, err := s.engine.FireAny(req.Important)
		if err != nil {
			return failFor(err)
		}
		if rid == "" {
			return fail("no_reminders")
		}
		return ok(response{"reminder_id": rid})

	case "get_reminder":
		ref, resp := s.parseRef(req.ID)
		if resp != nil {
			return resp
		}
		detail, err := s.engine.GetReminder(ref)
		if err != nil {
			return failFor(err)
		}
		return ok(response{
			"reminder": s.reminderPayload(detail.Reminder),
			"event": response{
				"event_id": detail.Reminder.EventID,
				"summary":  displaySummary(detail.Summary),
				"start":    s.clock.FromEpoch(detail.Occurrence.StartUTC).Format(time.RFC3339),
				"end":      s.clock.FromEpoch(detail.Occurrence.EndUTC).Format(time.RFC3339),
				"all_day":  detail.Occurrence.AllDay,
				"dropped":  detail.Occurrence.Dropped,
			},
		})

	case "ack_reminder":
		ref, resp := s.parseRef(req.ID)
		if resp != nil {
			return resp
		}
		changed, err := s.engine.Ack(ref)
		if err != nil {
			return failFor(err)
		}
		return ok(response{"changed": changed})

	case "drop_occurrence":
		if req.EventID == "" {
			return fail("missing_event_id")
		}
		if req.OccStartUTC == 0 {
			return fail("missing_occ_start_utc")
		}
		nRule, nCustom, err := s.engine.Drop(req.EventID, req.OccStartUTC)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return fail("occurrence_not_found")
			}
			return failFor(err)
		}
		return ok(response{"cancelled_rule": nRule, "cancelled_custom": nCustom})

	case "snooze":
		ref, resp := s.parseRef(req.ID)
		if resp != nil {
			return resp
		}
		if req.TriggerUTC == 0 {
			return fail("missing_trigger_utc")
		}
		newRef, err := s.engine.Snooze(ref, req.TriggerUTC)
		if err != nil {
			return failFor(err)
		}
		return ok(response{"new_id": newRef.String()})

	case "regen_rules":
		unfired, counts, err := s.engine.RegenRules(context.Background())
		if err != nil {
			return failFor(err)
		}
		return ok(response{"unfired": unfired, "counts": counts})
	}

	return fail("unknown_cmd")
}

func (s *Server) listReminders(req Request, query func(int) ([]store.Reminder, error)) response {
	limit := req.Limit
	if limit <= 0 {
		return fail("limit_must_be_positive")
	}
	reminders, err := query(limit)
	if err != nil {
		return failFor(err)
	}
	payload := make([]response, 0, len(reminders))
	for _, r := range reminders {
		payload = append(payload, s.reminderPayload(r))
	}
	return ok(response{"reminders": payload})
}

func (s *Server) reminderPayload(r store.Reminder) response {
	p := response{
		"id":            r.Ref.String(),
		"kind":          string(r.Ref.Kind),
		"event_id":      r.EventID,
		"occ_start_utc": r.OccStartUTC,
		"trigger_utc":   r.TriggerUTC,
		"trigger_local": s.clock.FromEpoch(r.TriggerUTC).Format(time.RFC3339),
		"requires_ack":  r.RequiresAck,
		"summary":       displaySummary(s.engine.Summary(r.EventID)),
	}
	if r.RuleName != "" {
		p["rule_name"] = r.RuleName
	}
	if r.FiredUTC != nil {
		p["fired_utc"] = *r.FiredUTC
	}
	if r.AckedUTC != nil {
		p["acked_utc"] = *r.AckedUTC
	}
	if r.CancelledUTC != nil {
		p["cancelled_utc"] = *r.CancelledUTC
	}
	return p
}

func (s *Server) parseRef(id string) (store.Ref, response) {
	if id == "" {
		return store.Ref{}, fail("missing_id")
	}
	ref, err := store.ParseRef(id)
	if err != nil {
		return store.Ref{}, fail("invalid_reminder_id")
	}
	return ref, nil
}

func failFor(err error) response {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return fail("reminder_not_found")
	case errors.Is(err, engine.ErrInvalidTransition):
		return fail("trigger_in_past")
	case errors.Is(err, engine.ErrSourceUnavailable):
		return fail("calendar_unavailable")
	}
	log.Printf("[server] Error: %v", err)
	return fail("store_error")
}

func displaySummary(s string) string {
	if s == "" {
		return "(event not found)"
	}
	return s
}
