// Package mcpserver exposes the reminder engine's command surface as MCP
// tools, so an MCP-capable client can inspect and acknowledge reminders.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"remindd/internal/clock"
	"remindd/internal/engine"
	"remindd/internal/store"
)

const (
	serverName    = "remind"
	serverVersion = "1.0.0"
)

// Server is the MCP server for the reminder engine.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	clock     *clock.Clock
}

// NewServer creates a new reminder MCP server backed by the given engine.
func NewServer(e *engine.Engine, ck *clock.Clock) *Server {
	s := &Server{
		engine: e,
		clock:  ck,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("sync_calendar",
			mcp.WithDescription("Run a reconciliation pass: fetch the calendar window, refresh occurrences and rule reminders"),
		),
		s.handleSync,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_due_reminders",
			mcp.WithDescription("Get active reminders whose trigger time has passed, earliest first"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of reminders to return (default: 10)")),
		),
		s.handleDue,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_pending_reminders",
			mcp.WithDescription("Get upcoming (not yet due) active reminders, earliest first"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of reminders to return (default: 10)")),
		),
		s.handlePending,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_reminder",
			mcp.WithDescription("Get one reminder with its occurrence by id (e.g. r:12 or c:3)"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder id, r:<n> for rule reminders, c:<n> for custom ones")),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("ack_reminder",
			mcp.WithDescription("Acknowledge a reminder so it stops firing"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder id")),
		),
		s.handleAck,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("drop_occurrence",
			mcp.WithDescription("Tombstone an event occurrence and cancel all of its reminders, rule and custom"),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event id")),
			mcp.WithNumber("occ_start_utc", mcp.Required(), mcp.Description("Occurrence start, UTC epoch seconds")),
		),
		s.handleDrop,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_reminder",
			mcp.WithDescription("Snooze a reminder: acknowledge it and create a custom reminder at a new time"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Source reminder id")),
			mcp.WithString("until", mcp.Required(), mcp.Description("New trigger in RFC3339 format (e.g. 2026-01-15T09:00:00+01:00); must be in the future")),
		),
		s.handleSnooze,
	)
}

func (s *Server) handleSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.engine.Sync(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	output, _ := json.MarshalIndent(counts, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleDue(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", 10))
	if limit < 1 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	reminders, err := s.engine.Due(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get due reminders: %v", err)), nil
	}
	if len(reminders) == 0 {
		return mcp.NewToolResultText("No due reminders."), nil
	}
	return s.remindersResult(reminders)
}

func (s *Server) handlePending(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", 10))
	if limit < 1 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	reminders, err := s.engine.NextPending(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get pending reminders: %v", err)), nil
	}
	if len(reminders) == 0 {
		return mcp.NewToolResultText("No pending reminders."), nil
	}
	return s.remindersResult(reminders)
}

func (s *Server) handleGet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errResult := parseRefArg(req)
	if errResult != nil {
		return errResult, nil
	}

	detail, err := s.engine.GetReminder(ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get reminder: %v", err)), nil
	}

	payload := map[string]any{
		"reminder": s.reminderView(detail.Reminder),
		"event": map[string]any{
			"event_id": detail.Reminder.EventID,
			"summary":  detail.Summary,
			"start":    s.clock.FromEpoch(detail.Occurrence.StartUTC).Format(time.RFC3339),
			"end":      s.clock.FromEpoch(detail.Occurrence.EndUTC).Format(time.RFC3339),
			"all_day":  detail.Occurrence.AllDay,
			"dropped":  detail.Occurrence.Dropped,
		},
	}
	output, _ := json.MarshalIndent(payload, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleAck(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errResult := parseRefArg(req)
	if errResult != nil {
		return errResult, nil
	}

	changed, err := s.engine.Ack(ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to ack reminder: %v", err)), nil
	}
	if !changed {
		return mcp.NewToolResultText(fmt.Sprintf("Reminder %s was already acknowledged or cancelled.", ref)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s acknowledged.", ref)), nil
}

func (s *Server) handleDrop(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventID := req.GetString("event_id", "")
	occStart := int64(req.GetFloat("occ_start_utc", 0))
	if eventID == "" {
		return mcp.NewToolResultError("event_id is required"), nil
	}
	if occStart == 0 {
		return mcp.NewToolResultError("occ_start_utc is required"), nil
	}

	nRule, nCustom, err := s.engine.Drop(eventID, occStart)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to drop occurrence: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Occurrence dropped. Cancelled %d rule and %d custom reminders.", nRule, nCustom)), nil
}

func (s *Server) handleSnooze(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errResult := parseRefArg(req)
	if errResult != nil {
		return errResult, nil
	}

	untilStr := req.GetString("until", "")
	if untilStr == "" {
		return mcp.NewToolResultError("until is required"), nil
	}
	until, err := time.Parse(time.RFC3339, untilStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid until format: %v (use RFC3339, e.g. 2026-01-15T09:00:00Z)", err)), nil
	}

	newRef, err := s.engine.Snooze(ref, until.Unix())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to snooze reminder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Snoozed %s -> %s.", ref, newRef)), nil
}

func (s *Server) remindersResult(reminders []store.Reminder) (*mcp.CallToolResult, error) {
	views := make([]map[string]any, 0, len(reminders))
	for _, r := range reminders {
		views = append(views, s.reminderView(r))
	}
	output, _ := json.MarshalIndent(views, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) reminderView(r store.Reminder) map[string]any {
	v := map[string]any{
		"id":            r.Ref.String(),
		"kind":          string(r.Ref.Kind),
		"event_id":      r.EventID,
		"summary":       s.engine.Summary(r.EventID),
		"occ_start_utc": r.OccStartUTC,
		"trigger_local": s.clock.FromEpoch(r.TriggerUTC).Format(time.RFC3339),
		"requires_ack":  r.RequiresAck,
	}
	if r.RuleName != "" {
		v["rule_name"] = r.RuleName
	}
	return v
}

func parseRefArg(req mcp.CallToolRequest) (store.Ref, *mcp.CallToolResult) {
	id := req.GetString("id", "")
	if id == "" {
		return store.Ref{}, mcp.NewToolResultError("id is required")
	}
	ref, err := store.ParseRef(id)
	if err != nil {
		return store.Ref{}, mcp.NewToolResultError(fmt.Sprintf("invalid reminder id %q (use r:<n> or c:<n>)", id))
	}
	return ref, nil
}
