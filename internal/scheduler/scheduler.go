// Package scheduler runs the periodic sweeps that keep snapshots fresh and
// fire scheduled reports, plus the worker that executes the queued jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/store"
)

// Sweep names.
const (
	SweepRefresh = "refresh"
	SweepReports = "reports"
	SweepCleanup = "cleanup"
)

// ErrLocked means another process on this host is running the sweep.
var ErrLocked = errors.New("sweep already running")

// ErrUnknownSweep is returned by RunSweep for an unrecognised name.
var ErrUnknownSweep = errors.New("unknown sweep")

// SweepStore is what the sweeps read and write.
type SweepStore interface {
	ActiveCampaigns(ctx context.Context) ([]store.Campaign, error)
	GetClient(ctx context.Context, id string) (*store.Client, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ActiveSchedules(ctx context.Context) ([]store.Schedule, error)
	MarkScheduleRun(ctx context.Context, id string, at time.Time) error
	DeleteSnapshotsBefore(ctx context.Context, date string) (int64, error)
}

// Stats summarises one sweep run.
type Stats struct {
	Sweep    string `json:"sweep"`
	Examined int    `json:"examined"`
	Enqueued int    `json:"enqueued"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Deleted  int64  `json:"deleted,omitempty"`
}

// Scheduler owns the cron entries for the three sweeps.
type Scheduler struct {
	cfg   config.SchedulerConfig
	store SweepStore
	queue queue.Queue
	now   func() time.Time
	cron  *cron.Cron
	locks map[string]*sweepLock
}

// New creates a Scheduler. Zero config fields take defaults.
func New(cfg config.SchedulerConfig, s SweepStore, q queue.Queue) *Scheduler {
	def := config.DefaultConfig().Scheduler
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = def.RefreshSpec
	}
	if cfg.ReportSpec == "" {
		cfg.ReportSpec = def.ReportSpec
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = def.CleanupSpec
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(os.TempDir(), "sentinel-scheduler.lock")
	}
	sc := &Scheduler{
		cfg:   cfg,
		store: s,
		queue: q,
		now:   time.Now,
		locks: make(map[string]*sweepLock),
	}
	for _, name := range []string{SweepRefresh, SweepReports, SweepCleanup} {
		sc.locks[name] = newSweepLock(cfg.LockPath + "." + name)
	}
	return sc
}

// SetClock replaces the time source. Used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run registers the sweeps and blocks until ctx is done, then waits for
// running sweeps to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o700); err != nil {
		return fmt.Errorf("scheduler lock dir: %w", err)
	}
	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	entries := []struct{ name, spec string }{
		{SweepRefresh, s.cfg.RefreshSpec},
		{SweepReports, s.cfg.ReportSpec},
		{SweepCleanup, s.cfg.CleanupSpec},
	}
	for _, e := range entries {
		name := e.name
		if _, err := s.cron.AddFunc(e.spec, func() {
			if _, err := s.RunSweep(ctx, name); err != nil && !errors.Is(err, ErrLocked) {
				slog.Error("Sweep failed", "sweep", name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s sweep %q: %w", name, e.spec, err)
		}
	}
	s.cron.Start()
	slog.Info("Scheduler started", "refresh", s.cfg.RefreshSpec, "reports", s.cfg.ReportSpec, "cleanup", s.cfg.CleanupSpec)

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("Scheduler stop timed out")
	}
	slog.Info("Scheduler stopped")
	return nil
}

// RunSweep runs one sweep under its host lock.
func (s *Scheduler) RunSweep(ctx context.Context, name string) (Stats, error) {
	lock, ok := s.locks[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
	}
	acquired, err := lock.TryLock()
	if err != nil {
		return Stats{}, fmt.Errorf("sweep lock: %w", err)
	}
	if !acquired {
		slog.Debug("Sweep skipped: lock held by another process", "sweep", name, "holder", lock.Holder())
		return Stats{Sweep: name}, ErrLocked
	}
	defer lock.Unlock()

	start := s.now()
	var st Stats
	switch name {
	case SweepRefresh:
		st, err = s.SweepRefresh(ctx)
	case SweepReports:
		st, err = s.SweepReports(ctx, start)
	case SweepCleanup:
		st, err = s.Cleanup(ctx, start)
	}
	if err == nil {
		slog.Info("Sweep finished", "sweep", name, "examined", st.Examined, "enqueued", st.Enqueued,
			"skipped", st.Skipped, "failed", st.Failed, "duration_ms", s.now().Sub(start).Milliseconds())
	}
	return st, err
}

// cronLogger routes robfig/cron logging into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
