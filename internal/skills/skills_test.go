package skills

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	tests := []struct {
		tmpl string
		vars map[string]string
		want string
	}{
		{"Hello {{name}}", map[string]string{"name": "Ada"}, "Hello Ada"},
		{"{{a}} and {{b}}", map[string]string{"a": "1"}, "1 and {{b}}"},
		{"{{ spaced }} {{x}}", map[string]string{"spaced": "no", "x": ""}, "{{ spaced }} "},
		{"{{a}}{{a}}", map[string]string{"a": "{{b}}"}, "{{b}}{{b}}"},
		{"no placeholders", nil, "no placeholders"},
	}
	for _, tt := range tests {
		if got := Render(tt.tmpl, tt.vars); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.DriverModernc, filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEngineExecuteErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sk := &store.Skill{Name: "Custom", PromptTemplate: "Hi {{campaignName}}", Category: "reporting", Origin: store.OriginCustom, Active: true}
	if err := s.CreateSkill(ctx, sk); err != nil {
		t.Fatal(err)
	}
	e := Engine{Skills: s}

	exec, err := e.Execute(ctx, sk.ID, map[string]string{"campaignName": "Summer"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Prompt != "Hi Summer" {
		t.Errorf("prompt = %q", exec.Prompt)
	}

	if _, err := e.Execute(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetSkillActive(ctx, sk.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(ctx, sk.ID, nil); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
}

func TestDefaultsParse(t *testing.T) {
	defs, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if len(defs) != 5 {
		t.Fatalf("expected 5 default skills, got %d", len(defs))
	}
	if defs[0].Name != DefaultSkillName {
		t.Errorf("first default = %q", defs[0].Name)
	}
	var comparison *store.SkillParameter
	for i := range defs[0].Parameters {
		if defs[0].Parameters[i].Name == "comparisonPeriod" {
			comparison = &defs[0].Parameters[i]
		}
	}
	if comparison == nil || comparison.Default != "day" || len(comparison.Options) != 2 {
		t.Errorf("comparisonPeriod parameter = %+v", comparison)
	}
	for _, d := range defs {
		if !strings.Contains(d.PromptTemplate, "{{") {
			t.Errorf("%s has no placeholders", d.Name)
		}
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created, updated, err := Seed(ctx, s)
	if err != nil || created != 5 || updated != 0 {
		t.Fatalf("first seed: created=%d updated=%d err=%v", created, updated, err)
	}
	first, err := s.SkillByName(ctx, DefaultSkillName, store.OriginSystem)
	if err != nil {
		t.Fatal(err)
	}
	created, updated, err = Seed(ctx, s)
	if err != nil || created != 0 || updated != 5 {
		t.Fatalf("second seed: created=%d updated=%d err=%v", created, updated, err)
	}
	again, _ := s.SkillByName(ctx, DefaultSkillName, store.OriginSystem)
	if again.ID != first.ID {
		t.Errorf("seed changed skill id %s -> %s", first.ID, again.ID)
	}
}

type fakeKPIs struct {
	kpis windsor.KPIs
	err  error
}

func (f *fakeKPIs) FetchCurrent(context.Context, string, string, *windsor.DateRange) (windsor.KPIs, error) {
	return f.kpis, f.err
}

type recordingProvider struct {
	mu       sync.Mutex
	requests []*provider.MessageRequest
	reply    string
}

func (p *recordingProvider) Name() string { return "fake" }

func (p *recordingProvider) CreateMessage(_ context.Context, req *provider.MessageRequest) (*provider.MessageResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return &provider.MessageResponse{Parts: []provider.Part{provider.TextPart{Text: p.reply}}, StopReason: provider.StopEndTurn}, nil
}

func seedCampaign(t *testing.T, s *store.Store) (*store.User, *store.Campaign) {
	t.Helper()
	ctx := context.Background()
	u := &store.User{Email: "m@x.io", Name: "M", WindsorAPIKey: "wk"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	c := &store.Client{UserID: u.ID, Name: "Acme", Active: true}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatal(err)
	}
	camp := &store.Campaign{ClientID: c.ID, Name: "Summer Sale", ExternalID: "111", Active: true}
	if err := s.CreateCampaign(ctx, camp); err != nil {
		t.Fatal(err)
	}
	return u, camp
}

func TestRunnerRendersAndStoresReport(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, _, err := Seed(ctx, s); err != nil {
		t.Fatal(err)
	}
	u, camp := seedCampaign(t, s)
	sk, _ := s.SkillByName(ctx, DefaultSkillName, store.OriginSystem)
	if err := s.UpsertSnapshot(ctx, &store.Snapshot{CampaignID: camp.ID, Date: "2026-10-14", Spend: 42}); err != nil {
		t.Fatal(err)
	}

	prov := &recordingProvider{reply: "All good."}
	r := &Runner{
		Store:    s,
		KPIs:     &fakeKPIs{kpis: windsor.KPIs{Spend: 100, Clicks: 10}},
		Provider: prov,
		Now:      func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) },
	}
	res, err := r.Run(ctx, RunRequest{SkillID: sk.ID, CampaignID: camp.ID, APIKey: "wk", UserID: u.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Analysis != "All good." {
		t.Errorf("analysis = %q", res.Analysis)
	}
	prompt := provider.TextOf(prov.requests[0].Messages[0].Parts)
	for _, want := range []string{"Campaign: Summer Sale", "Date: 2026-10-15", `"spend": 100`, "day-over-day", `"spend": 42`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if prov.requests[0].MaxTokens != 2048 {
		t.Errorf("max tokens = %d", prov.requests[0].MaxTokens)
	}
	reports, err := s.RecentReports(ctx, camp.ClientID, 5)
	if err != nil || len(reports) != 1 {
		t.Fatalf("reports = %v, %v", reports, err)
	}
	if reports[0].TriggeredBy != store.TriggerUser || reports[0].Content != "All good." {
		t.Errorf("report = %+v", reports[0])
	}
}

func TestRunnerErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	Seed(ctx, s)
	u, camp := seedCampaign(t, s)
	sk, _ := s.SkillByName(ctx, DefaultSkillName, store.OriginSystem)
	upstream := &windsor.UpstreamError{Attempts: 3, Err: errors.New("boom")}
	r := &Runner{Store: s, KPIs: &fakeKPIs{err: upstream}, Provider: &recordingProvider{}}

	if _, err := r.Run(ctx, RunRequest{SkillID: sk.ID, CampaignID: camp.ID, UserID: u.ID}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if _, err := r.Run(ctx, RunRequest{SkillID: sk.ID, CampaignID: camp.ID, APIKey: "k", UserID: "someone-else"}); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("expected ErrCampaignNotFound for foreign user, got %v", err)
	}
	_, err := r.Run(ctx, RunRequest{SkillID: sk.ID, CampaignID: camp.ID, APIKey: "k", UserID: u.ID})
	var ue *windsor.UpstreamError
	if !errors.As(err, &ue) {
		t.Errorf("expected UpstreamError, got %v", err)
	}
	if reports, _ := s.RecentReports(ctx, camp.ClientID, 5); len(reports) != 0 {
		t.Errorf("no report expected on failure, got %d", len(reports))
	}
}
