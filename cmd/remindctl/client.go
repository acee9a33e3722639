package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const requestTimeout = 30 * time.Second

// client speaks the daemon's newline-delimited JSON protocol: one request
// per connection, one response back.
type client struct {
	socketPath string
}

type request struct {
	Cmd         string `json:"cmd"`
	ID          string `json:"id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	OccStartUTC int64  `json:"occ_start_utc,omitempty"`
	TriggerUTC  int64  `json:"trigger_utc,omitempty"`
	Important   bool   `json:"important,omitempty"`
}

func (c *client) call(req request) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(requestTimeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	if ok, _ := resp["ok"].(bool); !ok {
		code, _ := resp["error"].(string)
		if code == "" {
			code = "unknown_error"
		}
		return resp, fmt.Errorf("daemon error: %s", code)
	}
	return resp, nil
}
