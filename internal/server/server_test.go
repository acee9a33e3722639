package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/calendar"
	"remindd/internal/clock"
	"remindd/internal/engine"
	"remindd/internal/rules"
	"remindd/internal/store"
)

type staticSource struct {
	raws []calendar.RawOccurrence
}

func (s *staticSource) Fetch(_ context.Context, _, _ time.Time) ([]calendar.RawOccurrence, error) {
	return s.raws, nil
}

type nopNotifier struct{}

func (nopNotifier) Spawn(string, bool) error { return nil }

func startTestServer(t *testing.T) (string, *clock.Clock) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "remind.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ck, err := clock.New("UTC", 9)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ck.SetNow(func() time.Time { return now })

	start := now.AddDate(0, 0, 10)
	src := &staticSource{raws: []calendar.RawOccurrence{{
		EventID:  "ev1",
		Summary:  "Launch review",
		StartUTC: start.Unix(),
		EndUTC:   start.Add(time.Hour).Unix(),
	}}}

	eng := engine.New(st, ck, src, nopNotifier{}, engine.Options{
		Rules:        rules.All(),
		WindowDays:   30,
		FetchTimeout: 5 * time.Second,
	})

	socketPath := filepath.Join(dir, "remindd.sock")
	srv := New(eng, ck, socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := srv.Run(ctx); err != nil {
			t.Errorf("server run: %v", err)
		}
	}()

	// Wait for the socket to appear.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return socketPath, ck
}

func call(t *testing.T, socketPath string, req map[string]any) map[string]any {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return resp
}

func TestServerPing(t *testing.T) {
	socketPath, _ := startTestServer(t)

	resp := call(t, socketPath, map[string]any{"cmd": "ping"})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("ping failed: %v", resp)
	}
	if _, present := resp["pid"]; !present {
		t.Fatalf("ping response missing pid: %v", resp)
	}
}

func TestServerSyncAndPending(t *testing.T) {
	socketPath, _ := startTestServer(t)

	resp := call(t, socketPath, map[string]any{"cmd": "sync"})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("sync failed: %v", resp)
	}
	counts, _ := resp["counts"].(map[string]any)
	if counts["rule_created"].(float64) != 4 {
		t.Fatalf("counts = %v", counts)
	}

	resp = call(t, socketPath, map[string]any{"cmd": "pending", "limit": 10})
	reminders, _ := resp["reminders"].([]any)
	if len(reminders) != 4 {
		t.Fatalf("pending = %v", resp)
	}
	first, _ := reminders[0].(map[string]any)
	if first["summary"] != "Launch review" {
		t.Fatalf("first reminder = %v", first)
	}
	if first["id"] == "" || first["trigger_local"] == "" {
		t.Fatalf("reminder payload incomplete: %v", first)
	}
}

func TestServerAckRoundTrip(t *testing.T) {
	socketPath, _ := startTestServer(t)
	call(t, socketPath, map[string]any{"cmd": "sync"})

	resp := call(t, socketPath, map[string]any{"cmd": "pending", "limit": 1})
	reminders, _ := resp["reminders"].([]any)
	first, _ := reminders[0].(map[string]any)
	id, _ := first["id"].(string)

	resp = call(t, socketPath, map[string]any{"cmd": "ack_reminder", "id": id})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("ack failed: %v", resp)
	}
	if changed, _ := resp["changed"].(bool); !changed {
		t.Fatalf("first ack changed=false: %v", resp)
	}

	// Second ack succeeds but reports no change.
	resp = call(t, socketPath, map[string]any{"cmd": "ack_reminder", "id": id})
	if changed, _ := resp["changed"].(bool); changed {
		t.Fatalf("second ack changed=true: %v", resp)
	}
}

func TestServerErrorCodes(t *testing.T) {
	socketPath, _ := startTestServer(t)
	call(t, socketPath, map[string]any{"cmd": "sync"})

	tests := []struct {
		req  map[string]any
		code string
	}{
		{map[string]any{"cmd": "does_not_exist"}, "unknown_cmd"},
		{map[string]any{"cmd": "ack_reminder"}, "missing_id"},
		{map[string]any{"cmd": "ack_reminder", "id": "banana"}, "invalid_reminder_id"},
		{map[string]any{"cmd": "ack_reminder", "id": "r:9999"}, "reminder_not_found"},
		{map[string]any{"cmd": "drop_occurrence", "event_id": "nope", "occ_start_utc": 1}, "occurrence_not_found"},
		{map[string]any{"cmd": "snooze", "id": "r:1", "trigger_utc": 5}, "trigger_in_past"},
		{map[string]any{"cmd": "due"}, "limit_must_be_positive"},
	}

	for _, tt := range tests {
		resp := call(t, socketPath, tt.req)
		if ok, _ := resp["ok"].(bool); ok {
			t.Errorf("%v: expected failure, got %v", tt.req, resp)
			continue
		}
		if code, _ := resp["error"].(string); code != tt.code {
			t.Errorf("%v: error = %q, want %q", tt.req, code, tt.code)
		}
	}
}

func TestServerRejectsInvalidJSON(t *testing.T) {
	socketPath, _ := startTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if code, _ := resp["error"].(string); code != "invalid_json" {
		t.Fatalf("error = %q, want invalid_json", code)
	}
}
