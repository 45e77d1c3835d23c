package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/krakenhq/kraken/internal/store"
	syncer "github.com/krakenhq/kraken/internal/sync"
)

type mockRunner struct {
	started chan string
	release chan struct{}
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (m *mockRunner) SyncChannel(_ context.Context, channelID string) (syncer.Summary, error) {
	m.started <- channelID
	<-m.release
	return syncer.Summary{Channel: channelID}, nil
}

type memJobStore struct {
	jobs map[string]store.SyncJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]store.SyncJob)}
}

func (m *memJobStore) SaveSyncJob(_ context.Context, job store.SyncJob) error {
	m.jobs[job.ChannelID] = job
	return nil
}

func (m *memJobStore) ListSyncJobs(_ context.Context) ([]store.SyncJob, error) {
	out := make([]store.SyncJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memJobStore) DeleteSyncJob(_ context.Context, channelID string) error {
	delete(m.jobs, channelID)
	return nil
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *memJobStore) {
	t.Helper()
	jobs := newMemJobStore()
	s, err := New(runner, jobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.pool.Release)
	return s, jobs
}

func waitFor(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("sync started for %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sync of %q", want)
	}
}

func TestAddChannelSync_ValidatesInterval(t *testing.T) {
	s, _ := newTestScheduler(t, newMockRunner())

	for _, interval := range []int{0, -5, 1441} {
		if err := s.AddChannelSync(context.Background(), "C1", interval); err == nil {
			t.Errorf("interval %d accepted, want error", interval)
		}
	}
	for _, interval := range []int{1, 60, 1440} {
		if err := s.AddChannelSync(context.Background(), "C1", interval); err != nil {
			t.Errorf("interval %d rejected: %v", interval, err)
		}
	}
}

func TestAddChannelSync_PersistsAndReplaces(t *testing.T) {
	s, jobs := newTestScheduler(t, newMockRunner())

	if err := s.AddChannelSync(context.Background(), "C1", 15); err != nil {
		t.Fatalf("AddChannelSync: %v", err)
	}
	if err := s.AddChannelSync(context.Background(), "C1", 30); err != nil {
		t.Fatalf("AddChannelSync replace: %v", err)
	}

	if got := jobs.jobs["C1"].IntervalMinutes; got != 30 {
		t.Errorf("persisted interval = %d, want 30", got)
	}
	statuses := s.Jobs()
	if len(statuses) != 1 {
		t.Fatalf("jobs = %d, want 1 after replace", len(statuses))
	}
	if statuses[0].IntervalMinutes != 30 || statuses[0].ID != "sync_C1" {
		t.Errorf("job = %+v", statuses[0])
	}
}

func TestDue(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 25, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		interval int
		t        time.Time
		want     bool
	}{
		{"15m on boundary", 15, at(9, 30), true},
		{"15m off boundary", 15, at(9, 7), false},
		{"1m every minute", 1, at(9, 41), true},
		{"60m on the hour", 60, at(9, 0), true},
		{"60m mid hour", 60, at(9, 30), false},
		{"2h matching hour", 120, at(4, 0), true},
		{"2h odd hour", 120, at(5, 0), false},
		{"2h matching hour mid minute", 120, at(4, 30), false},
		{"24h midnight", 1440, at(0, 0), true},
		{"24h noon", 1440, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := due(tt.interval, tt.t); got != tt.want {
				t.Errorf("due(%d, %v) = %v, want %v", tt.interval, tt.t, got, tt.want)
			}
		})
	}
}

func TestTick_RunsDueJobs(t *testing.T) {
	runner := newMockRunner()
	close(runner.release)
	s, _ := newTestScheduler(t, runner)

	if err := s.AddChannelSync(context.Background(), "C1", 5); err != nil {
		t.Fatalf("AddChannelSync: %v", err)
	}

	s.tick(context.Background(), time.Date(2026, 8, 25, 9, 10, 0, 0, time.UTC))
	waitFor(t, runner.started, "C1")
	s.wg.Wait()
}

func TestTick_SkipsRunningJob(t *testing.T) {
	runner := newMockRunner()
	s, _ := newTestScheduler(t, runner)

	if err := s.AddChannelSync(context.Background(), "C1", 1); err != nil {
		t.Fatalf("AddChannelSync: %v", err)
	}

	s.tick(context.Background(), time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC))
	waitFor(t, runner.started, "C1")

	// The first cycle is still blocked; the next tick must skip, not queue.
	s.tick(context.Background(), time.Date(2026, 8, 25, 9, 1, 0, 0, time.UTC))
	select {
	case <-runner.started:
		t.Fatal("second cycle started while the first was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	s.wg.Wait()

	// Once the first cycle finishes the job fires again.
	s.tick(context.Background(), time.Date(2026, 8, 25, 9, 2, 0, 0, time.UTC))
	waitFor(t, runner.started, "C1")
	s.wg.Wait()
}

func TestStart_LoadsPersistedJobs(t *testing.T) {
	runner := newMockRunner()
	close(runner.release)
	jobs := newMemJobStore()
	jobs.jobs["C9"] = store.SyncJob{ChannelID: "C9", IntervalMinutes: 30}

	s, err := New(runner, jobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	statuses := s.Jobs()
	if len(statuses) != 1 || statuses[0].Channel != "C9" || statuses[0].IntervalMinutes != 30 {
		t.Errorf("jobs = %+v, want persisted C9 @ 30m", statuses)
	}
}

func TestRemoveChannelSync(t *testing.T) {
	s, jobs := newTestScheduler(t, newMockRunner())

	if err := s.AddChannelSync(context.Background(), "C1", 15); err != nil {
		t.Fatalf("AddChannelSync: %v", err)
	}
	if err := s.RemoveChannelSync(context.Background(), "C1"); err != nil {
		t.Fatalf("RemoveChannelSync: %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Error("job still registered after removal")
	}
	if _, ok := jobs.jobs["C1"]; ok {
		t.Error("job still persisted after removal")
	}
}
