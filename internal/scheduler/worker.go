package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// WorkerStore is what job handlers read and write.
type WorkerStore interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	GetClient(ctx context.Context, id string) (*store.Client, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetSchedule(ctx context.Context, id string) (*store.Schedule, error)
	UpsertSnapshot(ctx context.Context, snap *store.Snapshot) error
	WorkspacesForUser(ctx context.Context, userID string) ([]store.Workspace, error)
	ContextsForChannel(ctx context.Context, channelID string) ([]store.ChannelContext, error)
}

// KPISource fetches aggregated KPIs.
type KPISource interface {
	FetchCurrent(ctx context.Context, apiKey, externalCampaignID string, dr *windsor.DateRange) (windsor.KPIs, error)
}

// ReportRunner executes a skill.
type ReportRunner interface {
	Run(ctx context.Context, req skills.RunRequest) (*skills.RunResult, error)
}

// Delivery is a finished report addressed to a channel of a workspace.
type Delivery struct {
	Workspace store.Workspace
	ChannelID string
	Client    *store.Client
	Result    *skills.RunResult
}

// Deliverer posts finished reports to chat.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// WorkerDeps are the worker's collaborators.
type WorkerDeps struct {
	Store     WorkerStore
	KPIs      KPISource
	Runner    ReportRunner
	Deliverer Deliverer
}

// Worker consumes jobs with per-category concurrency limits.
type Worker struct {
	store      WorkerStore
	kpis       KPISource
	runner     ReportRunner
	deliverer  Deliverer
	semaphores map[Category]*Semaphore
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewWorker creates a worker. Report runs share the LLM limit; refreshes
// share the default limit.
func NewWorker(cfg config.SchedulerConfig, d WorkerDeps) *Worker {
	if cfg.MaxConcLLM <= 0 {
		cfg.MaxConcLLM = 3
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 5
	}
	return &Worker{
		store:     d.Store,
		kpis:      d.KPIs,
		runner:    d.Runner,
		deliverer: d.Deliverer,
		semaphores: map[Category]*Semaphore{
			CategoryLLM:     NewSemaphore(cfg.MaxConcLLM),
			CategoryDefault: NewSemaphore(cfg.MaxConcDefault),
		},
		now: time.Now,
	}
}

// CategoryOf maps a job kind to its concurrency category.
func CategoryOf(kind queue.Kind) Category {
	if kind == queue.KindRunScheduledReport {
		return CategoryLLM
	}
	return CategoryDefault
}

// Run consumes from c until ctx is done, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context, c queue.Consumer) error {
	slog.Info("Worker started")
	err := c.Consume(ctx, w.dispatch)
	w.wg.Wait()
	slog.Info("Worker stopped")
	return err
}

// dispatch blocks for a slot in the job's category, then runs the job on
// its own goroutine.
func (w *Worker) dispatch(ctx context.Context, job queue.Job) error {
	sem := w.semaphores[CategoryOf(job.Kind)]
	if err := sem.Acquire(ctx); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer sem.Release()
		if err := w.Handle(ctx, job); err != nil {
			slog.Warn("Job failed", "id", job.ID, "kind", job.Kind, "error", err)
		}
	}()
	return nil
}

// Handle runs one job synchronously.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	var err error
	switch job.Kind {
	case queue.KindFetchCampaignData:
		err = w.Refresh(ctx, job.CampaignID, job.UserID)
	case queue.KindRunScheduledReport:
		err = w.RunReport(ctx, job.ScheduleID)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Jobs.WithLabelValues(string(job.Kind), outcome).Inc()
	return err
}

// Refresh stores today's KPIs for one campaign.
func (w *Worker) Refresh(ctx context.Context, campaignID, userID string) error {
	campaign, err := w.store.GetCampaign(ctx, campaignID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !campaign.Active {
		return nil
	}
	user, err := w.store.GetUser(ctx, userID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.WindsorAPIKey == "" {
		slog.Warn("No Windsor API key for user", "user", userID)
		return nil
	}

	today := w.now().UTC().Format(time.DateOnly)
	k, err := w.kpis.FetchCurrent(ctx, user.WindsorAPIKey, campaign.ExternalID, &windsor.DateRange{Start: today, End: today})
	if err != nil {
		return fmt.Errorf("fetch campaign %s: %w", campaign.ID, err)
	}
	err = w.store.UpsertSnapshot(ctx, &store.Snapshot{
		CampaignID:     campaign.ID,
		Date:           today,
		Spend:          k.Spend,
		Impressions:    k.Impressions,
		Clicks:         k.Clicks,
		CTR:            k.CTR,
		CPC:            k.CPC,
		Conversions:    k.Conversions,
		ConversionRate: k.ConversionRate,
		ROAS:           k.ROAS,
		Reach:          k.Reach,
		Frequency:      k.Frequency,
		FetchedAt:      w.now().UTC(),
	})
	if err != nil {
		return err
	}
	slog.Info("Fetched data for campaign", "campaign", campaign.ID, "name", campaign.Name)
	return nil
}

// RunReport executes a schedule's skill and posts the result to the
// client's channel when one can be resolved.
func (w *Worker) RunReport(ctx context.Context, scheduleID string) error {
	sc, err := w.store.GetSchedule(ctx, scheduleID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sc.Active {
		return nil
	}
	client, err := w.store.GetClient(ctx, sc.ClientID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	user, err := w.store.GetUser(ctx, client.UserID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	res, err := w.runner.Run(ctx, skills.RunRequest{
		SkillID:    sc.SkillID,
		CampaignID: sc.CampaignID,
		APIKey:     user.WindsorAPIKey,
		Trigger:    store.TriggerSchedule,
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", sc.ID, err)
	}

	ws, err := w.ResolveWorkspace(ctx, user.ID, client.SlackChannelID)
	if err != nil {
		return err
	}
	if ws == nil {
		metrics.Deliveries.WithLabelValues("unresolved").Inc()
		slog.Info("Scheduled report stored without delivery", "schedule", sc.ID, "client", client.ID)
		return nil
	}
	if err := w.deliverer.Deliver(ctx, Delivery{Workspace: *ws, ChannelID: client.SlackChannelID, Client: client, Result: res}); err != nil {
		metrics.Deliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver schedule %s: %w", sc.ID, err)
	}
	metrics.Deliveries.WithLabelValues("delivered").Inc()
	slog.Info("Scheduled report delivered", "schedule", sc.ID, "channel", client.SlackChannelID, "team", ws.TeamID)
	return nil
}

// ResolveWorkspace picks the workspace to post into channelID: the one
// whose team already talks in that channel, else the user's only
// workspace. It returns nil when neither applies.
func (w *Worker) ResolveWorkspace(ctx context.Context, userID, channelID string) (*store.Workspace, error) {
	if channelID == "" || w.deliverer == nil {
		return nil, nil
	}
	workspaces, err := w.store.WorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(workspaces) == 0 {
		return nil, nil
	}
	contexts, err := w.store.ContextsForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, cc := range contexts {
		for i := range workspaces {
			if workspaces[i].TeamID == cc.TeamID {
				return &workspaces[i], nil
			}
		}
	}
	if len(workspaces) == 1 {
		return &workspaces[0], nil
	}
	return nil, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
