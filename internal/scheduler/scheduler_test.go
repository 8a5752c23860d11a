package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

var created = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	user     *store.User
	client   *store.Client
	campaign *store.Campaign
	queue    *queue.MemoryQueue
	sched    *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.Open(store.DriverModernc, filepath.Join(dir, "sched.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	u := &store.User{Email: "owner@example.com", Name: "Owner", WindsorAPIKey: "wk"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	c := &store.Client{UserID: u.ID, Name: "Acme", SlackChannelID: "C1", Active: true}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatal(err)
	}
	camp := &store.Campaign{ClientID: c.ID, Name: "Summer Sale", ExternalID: "fb-1", Active: true}
	if err := s.CreateCampaign(ctx, camp); err != nil {
		t.Fatal(err)
	}
	q := queue.NewMemoryQueue(64)
	sc := New(config.SchedulerConfig{LockPath: filepath.Join(dir, "scheduler.lock"), RetentionDays: 90}, s, q)
	return &fixture{store: s, user: u, client: c, campaign: camp, queue: q, sched: sc}
}

func (f *fixture) schedule(t *testing.T, expr string) *store.Schedule {
	t.Helper()
	sc := &store.Schedule{
		ClientID:       f.client.ID,
		CampaignID:     f.campaign.ID,
		SkillID:        "skill-1",
		CronExpression: expr,
		Active:         true,
		CreatedAt:      created,
	}
	if err := f.store.CreateSchedule(context.Background(), sc); err != nil {
		t.Fatal(err)
	}
	return sc
}

// drain closes q and returns everything that was pending.
func drain(q *queue.MemoryQueue) []queue.Job {
	q.Close()
	var out []queue.Job
	_ = q.Consume(context.Background(), func(_ context.Context, j queue.Job) error {
		out = append(out, j)
		return nil
	})
	return out
}

func TestNextDue(t *testing.T) {
	since := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		expr, tz string
		want     time.Time
	}{
		{"0 9 * * *", "UTC", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * *", "", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * *", "Mars/Olympus", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * *", "America/New_York", time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"30 7 * * 1", "UTC", time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextDue(tt.expr, tt.tz, since)
		if err != nil {
			t.Fatalf("NextDue(%q, %q): %v", tt.expr, tt.tz, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextDue(%q, %q) = %v, want %v", tt.expr, tt.tz, got.UTC(), tt.want)
		}
	}
	if _, err := NextDue("99 99 * * *", "UTC", since); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestSweepReportsFiresOnceAcrossTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.schedule(t, "0 9 * * *")

	before := time.Date(2024, 5, 1, 8, 59, 30, 0, time.UTC)
	st, err := f.sched.SweepReports(ctx, before)
	if err != nil || st.Enqueued != 0 || st.Examined != 1 {
		t.Fatalf("before due: %+v %v", st, err)
	}

	due := time.Date(2024, 5, 1, 9, 0, 10, 0, time.UTC)
	st, err = f.sched.SweepReports(ctx, due)
	if err != nil || st.Enqueued != 1 {
		t.Fatalf("at due: %+v %v", st, err)
	}
	got, _ := f.store.GetSchedule(ctx, sc.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(due) {
		t.Fatalf("last run not pre-written: %v", got.LastRunAt)
	}

	st, err = f.sched.SweepReports(ctx, due.Add(time.Minute))
	if err != nil || st.Enqueued != 0 {
		t.Fatalf("next tick should not refire: %+v %v", st, err)
	}

	jobs := drain(f.queue)
	if len(jobs) != 1 || jobs[0].Kind != queue.KindRunScheduledReport || jobs[0].ScheduleID != sc.ID {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestSweepReportsSkipsInvalidCron(t *testing.T) {
	f := newFixture(t)
	bad := f.schedule(t, "99 99 * * *")
	good := f.schedule(t, "0 9 * * *")

	st, err := f.sched.SweepReports(context.Background(), time.Date(2024, 5, 1, 9, 1, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if st.Examined != 2 || st.Skipped != 1 || st.Enqueued != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	jobs := drain(f.queue)
	if len(jobs) != 1 || jobs[0].ScheduleID != good.ID {
		t.Fatalf("expected only %s, got %+v", good.ID, jobs)
	}
	got, _ := f.store.GetSchedule(context.Background(), bad.ID)
	if got.LastRunAt != nil {
		t.Fatal("invalid schedule must not be marked as run")
	}
}

func TestSweepRefreshSkipsOwnersWithoutKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := &store.User{Email: "nokey@example.com", Name: "No Key"}
	if err := f.store.CreateUser(ctx, other); err != nil {
		t.Fatal(err)
	}
	oc := &store.Client{UserID: other.ID, Name: "Other", Active: true}
	if err := f.store.CreateClient(ctx, oc); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateCampaign(ctx, &store.Campaign{ClientID: oc.ID, Name: "Other Campaign", ExternalID: "fb-9", Active: true}); err != nil {
		t.Fatal(err)
	}

	st, err := f.sched.SweepRefresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Examined != 2 || st.Enqueued != 1 || st.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	jobs := drain(f.queue)
	if len(jobs) != 1 || jobs[0].CampaignID != f.campaign.ID || jobs[0].UserID != f.user.ID {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestCleanupDeletesOldSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-01-01", "2024-04-30"} {
		if err := f.store.UpsertSnapshot(ctx, &store.Snapshot{CampaignID: f.campaign.ID, Date: d}); err != nil {
			t.Fatal(err)
		}
	}
	st, err := f.sched.Cleanup(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || st.Deleted != 1 {
		t.Fatalf("cleanup: %+v %v", st, err)
	}
}

func TestRunSweepRespectsHostLock(t *testing.T) {
	f := newFixture(t)
	held := newSweepLock(f.sched.cfg.LockPath + "." + SweepReports)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("could not take lock: %v", err)
	}
	if got := held.Holder(); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("holder = %q", got)
	}
	if _, err := f.sched.RunSweep(context.Background(), SweepReports); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	held.Unlock()
	if _, err := f.sched.RunSweep(context.Background(), SweepReports); err != nil {
		t.Fatalf("sweep after unlock: %v", err)
	}
	if _, err := f.sched.RunSweep(context.Background(), "bogus"); !errors.Is(err, ErrUnknownSweep) {
		t.Fatalf("expected ErrUnknownSweep, got %v", err)
	}
}

func TestSemaphore(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("expected two slots")
	}
	if s.TryAcquire() {
		t.Fatal("third acquire should fail")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("blocking acquire should time out")
	}
	s.Release()
	if s.Available() != 1 {
		t.Fatalf("available = %d", s.Available())
	}
}

type fakeKPIs struct{}

func (fakeKPIs) FetchCurrent(_ context.Context, _, _ string, dr *windsor.DateRange) (windsor.KPIs, error) {
	if dr == nil || dr.Start != dr.End {
		return windsor.KPIs{}, errors.New("expected a single-day range")
	}
	return windsor.KPIs{Spend: 42, Clicks: 7}, nil
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []skills.RunRequest
}

func (r *fakeRunner) Run(_ context.Context, req skills.RunRequest) (*skills.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &skills.RunResult{Analysis: "all good", Report: &store.Report{ID: "r1"}}, nil
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (d *fakeDeliverer) Deliver(_ context.Context, del Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, del)
	return nil
}

func TestWorkerRefreshUpsertsTodaySnapshot(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(config.SchedulerConfig{}, WorkerDeps{Store: f.store, KPIs: fakeKPIs{}})
	w.now = func() time.Time { return time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := w.Refresh(ctx, f.campaign.ID, f.user.ID); err != nil {
			t.Fatal(err)
		}
	}
	snaps, err := f.store.Snapshots(ctx, f.campaign.ID, "2024-05-02", "2024-05-02")
	if err != nil || len(snaps) != 1 || snaps[0].Spend != 42 {
		t.Fatalf("snapshots: %+v %v", snaps, err)
	}
}

func TestWorkerRunReportDelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.UpsertWorkspace(ctx, &store.Workspace{TeamID: "T1", UserID: f.user.ID, AccessToken: "xoxb"}); err != nil {
		t.Fatal(err)
	}
	sc := f.schedule(t, "0 9 * * *")
	runner := &fakeRunner{}
	del := &fakeDeliverer{}
	w := NewWorker(config.SchedulerConfig{}, WorkerDeps{Store: f.store, Runner: runner, Deliverer: del})

	if err := w.RunReport(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	if len(runner.reqs) != 1 || runner.reqs[0].Trigger != store.TriggerSchedule || runner.reqs[0].APIKey != "wk" {
		t.Fatalf("unexpected run requests: %+v", runner.reqs)
	}
	if len(del.deliveries) != 1 || del.deliveries[0].ChannelID != "C1" || del.deliveries[0].Workspace.TeamID != "T1" {
		t.Fatalf("unexpected deliveries: %+v", del.deliveries)
	}
}

func TestResolveWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := NewWorker(config.SchedulerConfig{}, WorkerDeps{Store: f.store, Deliverer: &fakeDeliverer{}})

	ws, err := w.ResolveWorkspace(ctx, f.user.ID, "C1")
	if err != nil || ws != nil {
		t.Fatalf("no workspaces should resolve to nil, got %+v %v", ws, err)
	}

	for _, team := range []string{"T1", "T2"} {
		if err := f.store.UpsertWorkspace(ctx, &store.Workspace{TeamID: team, UserID: f.user.ID}); err != nil {
			t.Fatal(err)
		}
	}
	ws, _ = w.ResolveWorkspace(ctx, f.user.ID, "C1")
	if ws != nil {
		t.Fatalf("ambiguous workspaces should resolve to nil, got %+v", ws)
	}

	if _, err := f.store.LoadOrCreateChannelContext(ctx, "C1", "T2", ""); err != nil {
		t.Fatal(err)
	}
	ws, _ = w.ResolveWorkspace(ctx, f.user.ID, "C1")
	if ws == nil || ws.TeamID != "T2" {
		t.Fatalf("expected T2 from channel context, got %+v", ws)
	}
}

func TestWorkerRunProcessesQueuedJobs(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := NewWorker(config.SchedulerConfig{}, WorkerDeps{Store: f.store, KPIs: fakeKPIs{}})

	job := queue.NewJob(queue.KindFetchCampaignData)
	job.CampaignID = f.campaign.ID
	job.UserID = f.user.ID
	if err := f.queue.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	f.queue.Close()
	if err := w.Run(ctx, f.queue); err != nil {
		t.Fatal(err)
	}
	today := time.Now().UTC().Format(time.DateOnly)
	snaps, _ := f.store.Snapshots(ctx, f.campaign.ID, today, today)
	if len(snaps) != 1 {
		t.Fatalf("expected today's snapshot, got %d", len(snaps))
	}
	if CategoryOf(queue.KindRunScheduledReport) != CategoryLLM || CategoryOf(queue.KindFetchCampaignData) != CategoryDefault {
		t.Fatal("unexpected job categories")
	}
}
