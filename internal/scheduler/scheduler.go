// Package scheduler implements background task scheduling for Paceline,
// including journal retention pruning and periodic status snapshots.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/journal"
	"github.com/paceline-project/paceline/internal/relay"
)

// snapshotInterval controls how often the status snapshot is logged.
const snapshotInterval = 1 * time.Hour

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	client  *relay.Client
	engine  *anchor.Engine
	journal *journal.Journal
}

// NewScheduler creates a new task scheduler. The journal may be nil when
// journaling is disabled.
func NewScheduler(cfg *config.Config, client *relay.Client, engine *anchor.Engine, jnl *journal.Journal) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		engine:  engine,
		journal: jnl,
	}
}

// Start begins running all scheduled tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	// Journal pruner - runs at configured time daily
	jcfg := s.cfg.GetApplicationData().Journal
	if s.journal != nil && jcfg.RetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}

	// Status snapshot - runs hourly
	go s.runSnapshotLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runPruneLoop runs the journal pruner at the configured time.
func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nextRun := s.calculateNextPruneTime()
		sleepDuration := time.Until(nextRun)

		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("journal pruner scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runPrune()
		}
	}
}

// runPrune deletes journal records older than the retention window.
func (s *Scheduler) runPrune() {
	retentionDays := s.cfg.GetApplicationData().Journal.RetentionDays

	log.Info().
		Int("retention_days", retentionDays).
		Msg("running journal pruner")

	removed, err := s.journal.Prune(retentionDays)
	if err != nil {
		log.Warn().Err(err).Msg("journal pruner encountered errors")
		return
	}

	log.Info().
		Int64("removed_entries", removed).
		Msg("journal pruner completed")
}

// runSnapshotLoop logs a periodic summary of the session.
func (s *Scheduler) runSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logSnapshot()
		}
	}
}

// logSnapshot records the current session state in the log.
func (s *Scheduler) logSnapshot() {
	rd := s.cfg.GetRelayData()

	log.Info().
		Str("session", s.client.State().String()).
		Str("room", rd.Room).
		Int("participants", s.engine.Count()).
		Bool("anchored", s.engine.Anchored()).
		Msg("status snapshot")
}

// calculateNextPruneTime returns the next time the pruner should run.
func (s *Scheduler) calculateNextPruneTime() time.Time {
	pruneTime := s.cfg.GetApplicationData().Journal.PruneTime
	parts := strings.Split(pruneTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}
