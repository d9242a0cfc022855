// Package scheduler runs the background retention jobs: daily archival
// of aged fragments, weekly purge of expired ones, and hourly stats
// reporting.
package scheduler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elderwise/companion/pkg/memory/model"
	"github.com/elderwise/companion/pkg/memory/semantic"
	"github.com/elderwise/companion/pkg/memory/store"
)

const (
	archiveSpec = "0 2 * * *" // daily at 02:00
	purgeSpec   = "0 3 * * 0" // sundays at 03:00
	statsSpec   = "0 * * * *" // hourly on the hour

	jobTimeout = 10 * time.Minute
)

// Options tunes the retention horizons; zero values fall back to the
// defaults of 90 active days and 365 total days.
type Options struct {
	ActiveDays  int
	ArchiveDays int
	Logger      *log.Logger
	Clock       func() time.Time
}

// Scheduler owns the cron loop and the retention jobs. The jobs also
// run standalone, so operators can trigger them from the CLI.
type Scheduler struct {
	store  store.Store
	index  *semantic.Index
	cron   *cron.Cron
	logger *log.Logger
	clock  func() time.Time

	activeDays  int
	archiveDays int
}

// New builds a scheduler over the given store and index.
func New(st store.Store, index *semantic.Index, opts Options) *Scheduler {
	if opts.ActiveDays <= 0 {
		opts.ActiveDays = 90
	}
	if opts.ArchiveDays <= 0 {
		opts.ArchiveDays = 365
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "scheduler: ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Scheduler{
		store:       st,
		index:       index,
		logger:      opts.Logger,
		clock:       opts.Clock,
		activeDays:  opts.ActiveDays,
		archiveDays: opts.ArchiveDays,
	}
	s.cron = cron.New()
	return s
}

func (s *Scheduler) cronLogger() cron.Logger {
	if s.logger == nil {
		return cron.DiscardLogger
	}
	return cron.PrintfLogger(s.logger)
}

// retentionJob wraps an archival or purge pass. An overlapping trigger is
// delayed behind the in-flight run rather than dropped, so a slow pass does
// not cost a horizon sweep; each run is still bounded by jobTimeout.
func (s *Scheduler) retentionJob(name string, job func(context.Context) error) cron.Job {
	logger := s.cronLogger()
	return cron.NewChain(
		cron.Recover(logger),
		cron.DelayIfStillRunning(logger),
	).Then(cron.FuncJob(func() { s.runJob(name, job) }))
}

// statsJob wraps the periodic reporting pass. An overlapping trigger is
// skipped; the next tick reports the same aggregates anyway.
func (s *Scheduler) statsJob(name string, job func(context.Context) error) cron.Job {
	logger := s.cronLogger()
	return cron.NewChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	).Then(cron.FuncJob(func() { s.runJob(name, job) }))
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Start registers the jobs and launches the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		job  cron.Job
	}{
		{archiveSpec, s.retentionJob("memory_archival", s.ArchiveMemories)},
		{purgeSpec, s.retentionJob("memory_cleanup", s.PurgeMemories)},
		{statsSpec, s.statsJob("stats_logging", s.LogStatistics)},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddJob(job.spec, job.job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logf("scheduled jobs configured")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logf("scheduler stopped")
}

// Entries lists the registered jobs with their next run time.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := job(ctx); err != nil {
		s.logf("job %s failed: %v", name, err)
	}
}

// ArchiveMemories moves fragments older than the active horizon to the
// archive tier and rewrites their index entries to match, so archived
// memories stop surfacing in context searches immediately.
func (s *Scheduler) ArchiveMemories(ctx context.Context) error {
	cutoff := s.clock().UTC().AddDate(0, 0, -s.activeDays)
	s.logf("starting memory archival, cutoff %s", cutoff.Format(time.RFC3339))

	count, embeddingIDs, err := s.store.ArchiveAged(ctx, cutoff)
	if err != nil {
		return err
	}
	updated, err := s.index.UpdateRetention(ctx, embeddingIDs, model.RetentionArchive)
	if err != nil {
		s.logf("index retention sync incomplete after %d of %d entries: %v", updated, len(embeddingIDs), err)
	}
	s.logf("memory archival completed, archived %d fragments, synced %d vectors", count, updated)
	return nil
}

// PurgeMemories deletes fragments older than the total retention
// horizon, regardless of tier, along with their index entries.
func (s *Scheduler) PurgeMemories(ctx context.Context) error {
	cutoff := s.clock().UTC().AddDate(0, 0, -s.archiveDays)
	s.logf("starting memory cleanup, cutoff %s", cutoff.Format(time.RFC3339))

	count, embeddingIDs, err := s.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	if err := s.index.Delete(ctx, embeddingIDs); err != nil {
		s.logf("index delete incomplete for %d entries: %v", len(embeddingIDs), err)
	}
	s.logf("memory cleanup completed, removed %d fragments", count)
	return nil
}

// LogStatistics reports system-wide counts for monitoring.
func (s *Scheduler) LogStatistics(ctx context.Context) error {
	stats := s.store.GlobalStatistics(ctx)
	s.logf("memory system stats: users=%d active=%d archived=%d interactions=%d",
		stats.Users, stats.ActiveMemories, stats.ArchivedMemories, stats.TotalInteractions)
	return nil
}
