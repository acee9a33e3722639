// Command mcp-remind provides an MCP server over the reminder engine.
//
// It shares the daemon's database and config file, so MCP clients see the
// same reminders remindctl does.
//
// Usage:
//
//	./mcp-remind          # Start MCP server (stdio)
//	./mcp-remind --help   # Show help
//
// Environment:
//
//	REMINDD_CONFIG  Path to config file (default: ~/.remindd/config.yaml)
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"remindd/internal/calendar"
	"remindd/internal/clock"
	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/mcpserver"
	"remindd/internal/notify"
	"remindd/internal/rules"
	"remindd/internal/store"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--help", "-h":
			printHelp()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("REMINDD_CONFIG")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".remindd", "config.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	enabled, err := rules.ResolveAll(cfg.Rules)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ck, err := clock.New(cfg.Timezone, cfg.AllDayHour)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	feeds := make([]calendar.Feed, 0, len(cfg.ICS))
	for _, f := range cfg.ICS {
		feeds = append(feeds, calendar.Feed{ID: f.ID, URL: f.URL})
	}
	source := calendar.NewICSSource(feeds, time.Duration(cfg.Sync.FetchTimeout)*time.Second)

	notifier := notify.NewTerminalNotifier(
		cfg.Notify.CtlPath,
		cfg.Notify.Command,
		cfg.Notify.Sound,
		time.Duration(cfg.Notify.Timeout)*time.Second,
	)

	eng := engine.New(st, ck, source, notifier, engine.Options{
		Rules:         enabled,
		WindowDays:    cfg.Sync.WindowDays,
		FetchTimeout:  time.Duration(cfg.Sync.FetchTimeout) * time.Second,
		RetireCustom:  cfg.Sync.RetireCustom,
		SpawnThrottle: time.Duration(cfg.Scheduler.SpawnThrottle) * time.Second,
	})

	s := mcpserver.NewServer(eng, ck)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func printHelp() {
	fmt.Println(`MCP Remind Server - Calendar reminder management via MCP protocol

USAGE:
    mcp-remind          Start MCP server (communicates via stdio)
    mcp-remind --help   Show this help

ENVIRONMENT:
    REMINDD_CONFIG  Path to the remindd config file
                    Default: ~/.remindd/config.yaml

TOOLS:
    sync_calendar          Run a reconciliation pass against the ICS feeds
    get_due_reminders      Get active reminders whose trigger has passed
    get_pending_reminders  Get upcoming active reminders
    get_reminder           Get one reminder with its occurrence
    ack_reminder           Acknowledge a reminder
    drop_occurrence        Tombstone an occurrence and cancel its reminders
    snooze_reminder        Ack a reminder and re-arm it at a new time

CONFIGURATION:
    Add to your MCP client config:
    {
      "mcpServers": {
        "remind": {
          "command": "/path/to/mcp-remind",
          "args": []
        }
      }
    }`)
}
