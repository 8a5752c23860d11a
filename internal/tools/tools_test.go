package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

type fixture struct {
	store    *store.Store
	user     *store.User
	client   *store.Client
	campaign *store.Campaign
	uc       UserContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(store.DriverModernc, filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	u := &store.User{Email: "owner@example.com", Name: "Owner", WindsorAPIKey: "wk"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	c := &store.Client{UserID: u.ID, Name: "Acme Shoes", SlackChannelID: "C1", Active: true}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatal(err)
	}
	camp := &store.Campaign{ClientID: c.ID, Name: "Summer Sale", ExternalID: "fb-1", Active: true}
	if err := s.CreateCampaign(ctx, camp); err != nil {
		t.Fatal(err)
	}
	if _, _, err := skills.Seed(ctx, s); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store:    s,
		user:     u,
		client:   c,
		campaign: camp,
		uc: UserContext{
			UserID:           u.ID,
			WindsorAPIKey:    "wk",
			SlackUserID:      "UOWNER",
			OwnerSlackUserID: "UOWNER",
			TeamID:           "T1",
			ChannelID:        "C1",
		},
	}
}

type fakeKPIs struct {
	calls atomic.Int32
	kpis  windsor.KPIs
	err   error
}

func (f *fakeKPIs) FetchCurrent(_ context.Context, _, ext string, _ *windsor.DateRange) (windsor.KPIs, error) {
	f.calls.Add(1)
	if f.err != nil {
		return windsor.KPIs{}, f.err
	}
	k := f.kpis
	if ext == "fb-2" {
		k.Spend *= 2
	}
	return k, nil
}

func (f *fakeKPIs) FetchHistory(_ context.Context, _, _, _ string, dr windsor.DateRange) ([]windsor.DataPoint, error) {
	f.calls.Add(1)
	return []windsor.DataPoint{{Date: dr.Start, Value: 1}, {Date: dr.End, Value: 2}}, nil
}

type fakeSyncer struct{ userID, apiKey string }

func (f *fakeSyncer) Sync(_ context.Context, userID, apiKey string) (windsor.SyncResult, error) {
	f.userID, f.apiKey = userID, apiKey
	return windsor.SyncResult{ClientsCreated: 1, CampaignsCreated: 2}, nil
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return m
}

func TestRegistryOrderAndDefinitions(t *testing.T) {
	r := NewCatalog(Deps{})
	want := []string{
		"search_clients_campaigns", "get_campaigns", "get_campaign_kpis", "compare_campaigns",
		"get_historical_data", "run_skill", "list_skills", "get_client_context", "create_schedule",
		"sync_clients_and_campaigns", "link_channel_to_client", "unlink_channel_from_client", "delete_client",
	}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d definitions, got %d", len(want), len(defs))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("definition %d = %s, want %s", i, d.Name, want[i])
		}
		if d.InputSchema["type"] != "object" {
			t.Errorf("%s: schema type = %v", d.Name, d.InputSchema["type"])
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "nope", nil, UserContext{})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestSearchByNameAndID(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	ctx := context.Background()

	out, err := r.Dispatch(ctx, "search_clients_campaigns", map[string]any{"query": "summer"}, f.uc)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	res := decode(t, out)
	camps := res["campaigns"].([]any)
	if len(camps) != 1 || camps[0].(map[string]any)["clientName"] != "Acme Shoes" {
		t.Fatalf("unexpected campaigns: %v", camps)
	}

	out, err = r.Dispatch(ctx, "search_clients_campaigns", map[string]any{"query": f.client.ID, "type": "client"}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	res = decode(t, out)
	if cl := res["clients"].([]any); len(cl) != 1 {
		t.Fatalf("expected exact id hit, got %v", cl)
	}
	if _, ok := res["campaigns"].([]any); !ok {
		t.Fatalf("campaigns should be an empty list, got %v", res["campaigns"])
	}
}

func TestSearchNoMatchMessage(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	out, err := r.Dispatch(context.Background(), "search_clients_campaigns", map[string]any{"query": "zzz"}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	if got := decode(t, out)["message"]; got != `No clients or campaigns found matching "zzz".` {
		t.Fatalf("message = %v", got)
	}
}

func TestSearchIsScopedToCaller(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	stranger := UserContext{UserID: "someone-else"}
	out, err := r.Dispatch(context.Background(), "search_clients_campaigns", map[string]any{"query": f.campaign.ID}, stranger)
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["message"] == nil {
		t.Fatalf("expected no match for another user, got %s", out)
	}
}

func TestSearchCapsCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		c := &store.Campaign{ClientID: f.client.ID, Name: fmt.Sprintf("Promo %02d", i), ExternalID: fmt.Sprintf("p%d", i), Active: true}
		if err := f.store.CreateCampaign(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	r := NewCatalog(Deps{Store: f.store})
	out, err := r.Dispatch(ctx, "search_clients_campaigns", map[string]any{"query": "promo", "type": "campaign"}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(decode(t, out)["campaigns"].([]any)); n != MaxCampaignResults {
		t.Fatalf("expected %d campaigns, got %d", MaxCampaignResults, n)
	}
}

func TestCampaignKPIs(t *testing.T) {
	f := newFixture(t)
	kp := &fakeKPIs{kpis: windsor.KPIs{Spend: 10, Clicks: 5}}
	r := NewCatalog(Deps{Store: f.store, KPIs: kp})
	ctx := context.Background()

	out, err := r.Dispatch(ctx, "get_campaign_kpis", map[string]any{"campaignId": f.campaign.ID}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["spend"] != 10.0 {
		t.Fatalf("unexpected kpis: %s", out)
	}

	noKey := f.uc
	noKey.WindsorAPIKey = ""
	if _, err := r.Dispatch(ctx, "get_campaign_kpis", map[string]any{"campaignId": f.campaign.ID}, noKey); !errors.Is(err, skills.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	bad := map[string]any{"campaignId": f.campaign.ID, "dateRange": map[string]any{"start": "2024-13-01", "end": "2024-01-02"}}
	var ve *ValidationError
	if _, err := r.Dispatch(ctx, "get_campaign_kpis", bad, f.uc); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCompareCampaignsKeepsRequestOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := &store.Campaign{ClientID: f.client.ID, Name: "Winter Sale", ExternalID: "fb-2", Active: true}
	if err := f.store.CreateCampaign(ctx, second); err != nil {
		t.Fatal(err)
	}
	kp := &fakeKPIs{kpis: windsor.KPIs{Spend: 10}}
	r := NewCatalog(Deps{Store: f.store, KPIs: kp})

	out, err := r.Dispatch(ctx, "compare_campaigns", map[string]any{
		"campaignIds": []any{second.ID, "missing", f.campaign.ID},
	}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	comps := decode(t, out)["comparisons"].([]any)
	if len(comps) != 2 {
		t.Fatalf("expected 2 comparisons, got %d", len(comps))
	}
	first := comps[0].(map[string]any)
	if first["name"] != "Winter Sale" || first["kpis"].(map[string]any)["spend"] != 20.0 {
		t.Fatalf("unexpected first comparison: %v", first)
	}
	if kp.calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", kp.calls.Load())
	}
}

func TestHistoricalDataRequiresRange(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store, KPIs: &fakeKPIs{}})
	ctx := context.Background()
	params := map[string]any{"campaignId": f.campaign.ID, "metric": "spend", "period": "daily"}
	if _, err := r.Dispatch(ctx, "get_historical_data", params, f.uc); err == nil {
		t.Fatal("expected error without dateRange")
	}
	params["dateRange"] = map[string]any{"start": "2024-01-01", "end": "2024-01-07"}
	out, err := r.Dispatch(ctx, "get_historical_data", params, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	if pts := decode(t, out)["dataPoints"].([]any); len(pts) != 2 {
		t.Fatalf("unexpected points: %v", pts)
	}
}

func TestCreateScheduleDefaultsToDailySummary(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	ctx := context.Background()

	out, err := r.Dispatch(ctx, "create_schedule", map[string]any{
		"campaignIds": []any{f.campaign.ID},
		"frequency":   "daily",
		"time":        "09:00",
	}, f.uc)
	if err != nil {
		t.Fatalf("create_schedule: %v", err)
	}
	if got := decode(t, out)["message"]; got != "Daily reports scheduled at 09:00 UTC for: Summer Sale." {
		t.Fatalf("message = %v", got)
	}

	scheds, err := f.store.SchedulesForClient(ctx, f.client.ID)
	if err != nil || len(scheds) != 1 {
		t.Fatalf("schedules: %v %v", scheds, err)
	}
	def, _ := f.store.SkillByName(ctx, skills.DefaultSkillName, store.OriginSystem)
	if scheds[0].CronExpression != "0 9 * * *" || scheds[0].SkillID != def.ID || scheds[0].Timezone != "UTC" {
		t.Fatalf("unexpected schedule: %+v", scheds[0])
	}
}

func TestCronFor(t *testing.T) {
	tests := []struct {
		freq, time string
		want       string
		wantErr    bool
	}{
		{"daily", "09:00", "0 9 * * *", false},
		{"weekly", "7:30", "30 7 * * 1", false},
		{"daily", "23:59", "59 23 * * *", false},
		{"daily", "24:00", "", true},
		{"daily", "12:60", "", true},
		{"daily", "9am", "", true},
		{"monthly", "09:00", "", true},
	}
	for _, tt := range tests {
		got, err := CronFor(tt.freq, tt.time)
		if tt.wantErr {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("CronFor(%s, %s): expected ValidationError, got %v", tt.freq, tt.time, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CronFor(%s, %s) = %q, %v; want %q", tt.freq, tt.time, got, err, tt.want)
		}
	}
}

func TestAdminToolsDenyNonOwnerWithoutMutation(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	ctx := context.Background()
	guest := f.uc
	guest.SlackUserID = "UGUEST"

	for _, name := range []string{"link_channel_to_client", "unlink_channel_from_client", "delete_client"} {
		_, err := r.Dispatch(ctx, name, map[string]any{"clientId": f.client.ID, "channelId": "C9"}, guest)
		var pd *PermissionDeniedError
		if !errors.As(err, &pd) {
			t.Fatalf("%s: expected PermissionDeniedError, got %v", name, err)
		}
		if !strings.Contains(err.Error(), "<@UOWNER>") {
			t.Errorf("%s: message should name the owner: %s", name, err)
		}
	}

	c, err := f.store.GetClient(ctx, f.client.ID)
	if err != nil {
		t.Fatalf("client should still exist: %v", err)
	}
	if c.SlackChannelID != "C1" {
		t.Fatalf("channel changed to %q", c.SlackChannelID)
	}
}

func TestRequireOwnerAllowsUnknownIdentities(t *testing.T) {
	if err := RequireOwner(UserContext{SlackUserID: "U1"}, "x"); err != nil {
		t.Fatalf("unknown owner should be allowed: %v", err)
	}
	if err := RequireOwner(UserContext{OwnerSlackUserID: "U1"}, "x"); err != nil {
		t.Fatalf("unknown requester should be allowed: %v", err)
	}
	err := RequireOwner(UserContext{SlackUserID: "U2", OwnerSlackUserID: "U1"}, "delete a client")
	want := "Only the main Sentinel user (<@U1>) can delete a client. Please contact them to perform this action."
	if err == nil || err.Error() != want {
		t.Fatalf("got %v, want %q", err, want)
	}
}

func TestLinkAndDeleteClientAsOwner(t *testing.T) {
	f := newFixture(t)
	r := NewCatalog(Deps{Store: f.store})
	ctx := context.Background()
	if _, err := f.store.LoadOrCreateChannelContext(ctx, "C9", "T1", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Dispatch(ctx, "link_channel_to_client", map[string]any{"clientId": f.client.ID, "channelId": "C9"}, f.uc); err != nil {
		t.Fatalf("link: %v", err)
	}
	cc, err := f.store.ChannelContext(ctx, "C9", "T1")
	if err != nil || cc.ClientID != f.client.ID {
		t.Fatalf("context not linked: %+v %v", cc, err)
	}

	out, err := r.Dispatch(ctx, "delete_client", map[string]any{"clientId": f.client.ID}, f.uc)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := `Client "Acme Shoes" deleted along with 1 campaign(s) and 1 channel context(s).`
	if got := decode(t, out)["message"]; got != want {
		t.Fatalf("message = %v", got)
	}
	if _, err := f.store.GetClient(ctx, f.client.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("client should be gone, got %v", err)
	}
}

func TestClientContextTruncatesReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("x", 300)
	if err := f.store.CreateReport(ctx, &store.Report{ClientID: f.client.ID, CampaignID: f.campaign.ID, Content: long, TriggeredBy: store.TriggerUser}); err != nil {
		t.Fatal(err)
	}
	r := NewCatalog(Deps{Store: f.store})
	out, err := r.Dispatch(ctx, "get_client_context", map[string]any{"slackChannelId": "C1"}, f.uc)
	if err != nil {
		t.Fatal(err)
	}
	reports := decode(t, out)["recentReports"].([]any)
	content := reports[0].(map[string]any)["content"].(string)
	if content != strings.Repeat("x", 200)+"..." {
		t.Fatalf("unexpected preview length %d", len(content))
	}
}

func TestSyncPassesCallerCredential(t *testing.T) {
	sy := &fakeSyncer{}
	r := NewCatalog(Deps{Syncer: sy})
	out, err := r.Dispatch(context.Background(), "sync_clients_and_campaigns", nil, UserContext{UserID: "u1", WindsorAPIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if sy.userID != "u1" || sy.apiKey != "k" || decode(t, out)["campaignsCreated"] != 2.0 {
		t.Fatalf("unexpected sync: %+v %s", sy, out)
	}
	if _, err := r.Dispatch(context.Background(), "sync_clients_and_campaigns", nil, UserContext{UserID: "u1"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }

func (staticProvider) CreateMessage(context.Context, *provider.MessageRequest) (*provider.MessageResponse, error) {
	return &provider.MessageResponse{Parts: []provider.Part{provider.TextPart{Text: "fine"}}, StopReason: provider.StopEndTurn}, nil
}

func TestRunSkillSurfacesUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := windsor.New(windsor.Options{
		BaseURL: srv.URL,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	runner := &skills.Runner{Store: f.store, KPIs: gw, Provider: staticProvider{}}
	r := NewCatalog(Deps{Store: f.store, KPIs: gw, Runner: runner})

	def, _ := f.store.SkillByName(context.Background(), skills.DefaultSkillName, store.OriginSystem)
	_, err := r.Dispatch(context.Background(), "run_skill", map[string]any{"skillId": def.ID, "campaignId": f.campaign.ID}, f.uc)
	var ue *windsor.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 upstream attempts, got %d", hits.Load())
	}
	reports, _ := f.store.RecentReports(context.Background(), f.client.ID, 5)
	if len(reports) != 0 {
		t.Fatalf("no report should be stored, got %d", len(reports))
	}
}
