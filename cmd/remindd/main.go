// Command remindd is the calendar reminder daemon. It reconciles a set of
// ICS feeds into a local SQLite database, fires due reminders by spawning
// an interactive terminal, and serves the control protocol for remindctl
// on a unix socket.
//
// Usage:
//
//	./remindd                       # Run with ~/.remindd/config.yaml
//	./remindd --config custom.yaml  # Run with an explicit config file
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"remindd/internal/calendar"
	"remindd/internal/clock"
	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/notify"
	"remindd/internal/rules"
	"remindd/internal/scheduler"
	"remindd/internal/server"
	"remindd/internal/store"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.ICS) == 0 {
		return fmt.Errorf("no ICS feeds configured; add at least one entry under ics:")
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

	sched, err := scheduler.New(eng, time.Duration(cfg.Scheduler.PollInterval)*time.Second, cfg.Sync.Cron)
	if err != nil {
		return err
	}

	srv := server.New(eng, ck, cfg.SocketPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[remindd] Starting. db=%s socket=%s tz=%s", cfg.DBPath, cfg.SocketPath, ck.Location())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Run(ctx)
	}()

	if err := sched.Run(ctx); err != nil {
		return err
	}

	// Scheduler exited on ctx cancel; the server shuts down on the same
	// ctx, collect its result.
	if err := <-errc; err != nil {
		return err
	}

	log.Println("[remindd] Stopped.")
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".remindd", "config.yaml")
}
