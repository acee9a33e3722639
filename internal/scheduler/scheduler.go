// Package scheduler drives the periodic loop: reconcile on the configured
// cadence, then fire due reminders one at a time under the spawn throttle.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/engine"
)

// Scheduler runs periodic sync passes and due-reminder checks.
type Scheduler struct {
	engine       *engine.Engine
	pollInterval time.Duration
	schedule     cron.Schedule
	nextSync     time.Time
}

// New creates a Scheduler. syncCron is a standard 5-field cron spec that
// gates how often the reconciliation pass runs; the due-reminder check
// runs on every tick.
func New(e *engine.Engine, pollInterval time.Duration, syncCron string) (*Scheduler, error) {
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", pollInterval)
	}
	schedule, err := cron.ParseStandard(syncCron)
	if err != nil {
		return nil, fmt.Errorf("invalid sync cron %q: %w", syncCron, err)
	}
	return &Scheduler{
		engine:       e,
		pollInterval: pollInterval,
		schedule:     schedule,
	}, nil
}

// Run blocks and runs tick() on interval + immediately on start.
// It exits when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[scheduler] Started. Poll interval: %s", s.pollInterval)

	// Run immediately on start; the first tick always syncs so the
	// daemon has data before the first due check.
	s.tick(ctx, true)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[scheduler] Shutting down...")
			return nil
		case <-ticker.C:
			s.tick(ctx, false)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, forceSync bool) {
	now := time.Now()
	if forceSync || !now.Before(s.nextSync) {
		if _, err := s.engine.Sync(ctx); err != nil {
			// A failed sync aborts only the reconciliation step of this
			// tick; due reminders still fire below.
			log.Printf("[scheduler] Error: sync failed: %v", err)
		}
		s.nextSync = s.schedule.Next(now)
	}

	// A reminder whose trigger passed while the process was down is
	// indistinguishable from a freshly due one here: catch-up firing.
	if _, err := s.engine.FireNext(false); err != nil {
		log.Printf("[scheduler] Error: fire failed: %v", err)
	}
}
