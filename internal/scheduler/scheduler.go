// Package scheduler fires periodic channel syncs on wall-clock aligned
// boundaries and keeps job definitions durable across restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/krakenhq/kraken/internal/store"
	syncer "github.com/krakenhq/kraken/internal/sync"
)

const (
	// poolSize caps concurrently running sync cycles across all channels.
	poolSize = 10

	minInterval = 1
	maxInterval = 1440
)

// Runner executes one sync cycle for a channel.
type Runner interface {
	SyncChannel(ctx context.Context, channelID string) (syncer.Summary, error)
}

// JobStore persists job definitions so schedules survive restarts.
type JobStore interface {
	SaveSyncJob(ctx context.Context, job store.SyncJob) error
	ListSyncJobs(ctx context.Context) ([]store.SyncJob, error)
	DeleteSyncJob(ctx context.Context, channelID string) error
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	ID              string
	Channel         string
	IntervalMinutes int
	Running         bool
	LastRun         time.Time
}

type job struct {
	channelID string
	interval  int
	running   bool
	lastRun   time.Time
}

// Scheduler ticks once per minute and submits due jobs to a bounded worker
// pool. A channel whose previous cycle is still running is skipped, not
// queued, so slow cycles never pile up behind each other.
type Scheduler struct {
	runner Runner
	jobs   JobStore
	pool   *ants.Pool
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*job

	wg   sync.WaitGroup
	stop chan struct{}
	done chan struct{}
}

// New builds a scheduler backed by a fixed-size worker pool.
func New(runner Runner, jobs JobStore) (*Scheduler, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Scheduler{
		runner:  runner,
		jobs:    jobs,
		pool:    pool,
		logger:  slog.Default(),
		entries: make(map[string]*job),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

func jobID(channelID string) string {
	return "sync_" + channelID
}

// AddChannelSync registers (or replaces) a periodic sync for a channel and
// persists the definition. Intervals under five minutes are allowed but
// flagged, short cadences burn API quota quickly.
func (s *Scheduler) AddChannelSync(ctx context.Context, channelID string, intervalMinutes int) error {
	if intervalMinutes < minInterval || intervalMinutes > maxInterval {
		return fmt.Errorf("interval must be between %d and %d minutes, got %d", minInterval, maxInterval, intervalMinutes)
	}
	if intervalMinutes < 5 {
		s.logger.Warn("sync interval under 5 minutes may exhaust API rate limits", "channel", channelID, "interval_minutes", intervalMinutes)
	}

	if err := s.jobs.SaveSyncJob(ctx, store.SyncJob{
		ChannelID:       channelID,
		IntervalMinutes: intervalMinutes,
	}); err != nil {
		return fmt.Errorf("persisting sync job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[channelID]; ok {
		existing.interval = intervalMinutes
		s.logger.Info("sync job replaced", "job", jobID(channelID), "interval_minutes", intervalMinutes)
		return nil
	}
	s.entries[channelID] = &job{channelID: channelID, interval: intervalMinutes}
	s.logger.Info("sync job added", "job", jobID(channelID), "interval_minutes", intervalMinutes)
	return nil
}

// RemoveChannelSync drops a channel's schedule. In-flight cycles finish.
func (s *Scheduler) RemoveChannelSync(ctx context.Context, channelID string) error {
	if err := s.jobs.DeleteSyncJob(ctx, channelID); err != nil {
		return fmt.Errorf("deleting sync job: %w", err)
	}
	s.mu.Lock()
	delete(s.entries, channelID)
	s.mu.Unlock()
	s.logger.Info("sync job removed", "job", jobID(channelID))
	return nil
}

// Start loads persisted jobs and begins the minute loop. It returns once the
// loop goroutine is running.
func (s *Scheduler) Start(ctx context.Context) error {
	persisted, err := s.jobs.ListSyncJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading sync jobs: %w", err)
	}
	s.mu.Lock()
	for _, j := range persisted {
		if _, ok := s.entries[j.ChannelID]; !ok {
			s.entries[j.ChannelID] = &job{channelID: j.ChannelID, interval: j.IntervalMinutes}
		}
	}
	count := len(s.entries)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", count)

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		// Align to the next minute boundary so cadence math stays on
		// wall-clock minutes regardless of when the daemon started.
		now := time.Now()
		wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-time.After(wait):
			s.tick(ctx, time.Now())
		}
	}
}

// tick submits every due, non-running job to the pool.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if !due(entry.interval, now) {
			continue
		}
		if entry.running {
			s.logger.Warn("previous cycle still running, skipping", "job", jobID(entry.channelID))
			continue
		}
		entry.running = true
		entry.lastRun = now

		channel := entry.channelID
		s.wg.Add(1)
		if err := s.pool.Submit(func() {
			defer s.wg.Done()
			defer s.clearRunning(channel)
			if _, err := s.runner.SyncChannel(ctx, channel); err != nil {
				s.logger.Error("scheduled sync failed", "job", jobID(channel), "error", err)
			}
		}); err != nil {
			s.wg.Done()
			entry.running = false
			s.logger.Error("failed to submit sync job", "job", jobID(channel), "error", err)
		}
	}
}

func (s *Scheduler) clearRunning(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[channelID]; ok {
		entry.running = false
	}
}

// due reports whether a job with the given interval fires at t. Sub-hour
// intervals fire when the minute divides evenly; hour-multiple intervals
// fire on the hour when the hour divides evenly.
func due(intervalMinutes int, t time.Time) bool {
	if intervalMinutes < 60 {
		return t.Minute()%intervalMinutes == 0
	}
	hours := intervalMinutes / 60
	return t.Minute() == 0 && t.Hour()%hours == 0
}

// Jobs returns a snapshot of all registered jobs for status reporting.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		statuses = append(statuses, JobStatus{
			ID:              jobID(entry.channelID),
			Channel:         entry.channelID,
			IntervalMinutes: entry.interval,
			Running:         entry.running,
			LastRun:         entry.lastRun,
		})
	}
	return statuses
}

// Stop halts the loop, waits for in-flight cycles, and releases the pool.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	s.wg.Wait()
	s.pool.Release()
	s.logger.Info("scheduler stopped")
}
