package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/store"
)

// NextDue returns the first firing of expr strictly after since, evaluated
// in tz. An unknown or empty tz means UTC.
func NextDue(expr, tz string, since time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			slog.Warn("Unknown schedule timezone, using UTC", "timezone", tz)
		}
	}
	return sched.Next(since.In(loc)), nil
}

// SweepRefresh enqueues a snapshot refresh for every active campaign whose
// owner has an aggregator key.
func (s *Scheduler) SweepRefresh(ctx context.Context) (Stats, error) {
	st := Stats{Sweep: SweepRefresh}
	campaigns, err := s.store.ActiveCampaigns(ctx)
	if err != nil {
		return st, fmt.Errorf("list active campaigns: %w", err)
	}

	owners := make(map[string]*store.User)
	for _, c := range campaigns {
		st.Examined++
		user, err := s.ownerOf(ctx, c.ClientID, owners)
		if err != nil {
			st.Failed++
			metrics.SweepItems.WithLabelValues(SweepRefresh, "failed").Inc()
			slog.Warn("Refresh sweep: owner lookup failed", "campaign", c.ID, "error", err)
			continue
		}
		if user == nil || user.WindsorAPIKey == "" {
			st.Skipped++
			metrics.SweepItems.WithLabelValues(SweepRefresh, "skipped").Inc()
			continue
		}
		job := queue.NewJob(queue.KindFetchCampaignData)
		job.CampaignID = c.ID
		job.UserID = user.ID
		if err := s.queue.Enqueue(ctx, job); err != nil {
			st.Failed++
			metrics.SweepItems.WithLabelValues(SweepRefresh, "failed").Inc()
			slog.Warn("Refresh sweep: enqueue failed", "campaign", c.ID, "error", err)
			continue
		}
		st.Enqueued++
		metrics.SweepItems.WithLabelValues(SweepRefresh, "enqueued").Inc()
	}
	return st, nil
}

// ownerOf resolves a client's owner, memoised per sweep. A nil user means
// the client or user no longer exists.
func (s *Scheduler) ownerOf(ctx context.Context, clientID string, cache map[string]*store.User) (*store.User, error) {
	if u, ok := cache[clientID]; ok {
		return u, nil
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if isNotFound(err) {
			cache[clientID] = nil
			return nil, nil
		}
		return nil, err
	}
	user, err := s.store.GetUser(ctx, client.UserID)
	if err != nil {
		if isNotFound(err) {
			cache[clientID] = nil
			return nil, nil
		}
		return nil, err
	}
	cache[clientID] = user
	return user, nil
}

// SweepReports enqueues every active schedule that came due since its last
// run (or creation). Last-run is written before the job is enqueued so a
// slow job is never fired twice by consecutive ticks.
func (s *Scheduler) SweepReports(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{Sweep: SweepReports}
	schedules, err := s.store.ActiveSchedules(ctx)
	if err != nil {
		return st, fmt.Errorf("list active schedules: %w", err)
	}

	for _, sc := range schedules {
		st.Examined++
		since := sc.CreatedAt
		if sc.LastRunAt != nil {
			since = *sc.LastRunAt
		}
		next, err := NextDue(sc.CronExpression, sc.Timezone, since)
		if err != nil {
			st.Skipped++
			metrics.SweepItems.WithLabelValues(SweepReports, "invalid").Inc()
			slog.Warn("Reports sweep: skipping invalid cron schedule", "schedule", sc.ID, "cron", sc.CronExpression, "error", err)
			continue
		}
		if next.After(now) {
			continue
		}

		if err := s.store.MarkScheduleRun(ctx, sc.ID, now); err != nil {
			st.Failed++
			metrics.SweepItems.WithLabelValues(SweepReports, "failed").Inc()
			slog.Warn("Reports sweep: mark run failed", "schedule", sc.ID, "error", err)
			continue
		}
		job := queue.NewJob(queue.KindRunScheduledReport)
		job.ScheduleID = sc.ID
		job.CampaignID = sc.CampaignID
		if err := s.queue.Enqueue(ctx, job); err != nil {
			st.Failed++
			metrics.SweepItems.WithLabelValues(SweepReports, "failed").Inc()
			slog.Warn("Reports sweep: enqueue failed", "schedule", sc.ID, "error", err)
			continue
		}
		st.Enqueued++
		metrics.SweepItems.WithLabelValues(SweepReports, "enqueued").Inc()
	}
	return st, nil
}

// Cleanup deletes snapshots older than the retention window.
func (s *Scheduler) Cleanup(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{Sweep: SweepCleanup}
	cutoff := now.UTC().AddDate(0, 0, -s.cfg.RetentionDays).Format(time.DateOnly)
	n, err := s.store.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return st, fmt.Errorf("cleanup snapshots: %w", err)
	}
	st.Deleted = n
	slog.Info("Cleanup: removed old snapshots", "deleted", n, "retention_days", s.cfg.RetentionDays)
	return st, nil
}
