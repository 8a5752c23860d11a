package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// ErrNoCredential means the user has no aggregator API key.
var ErrNoCredential = errors.New("windsor API key not configured")

// ErrCampaignNotFound means the campaign is unknown or not the caller's.
var ErrCampaignNotFound = errors.New("campaign not found")

// KPISource fetches aggregated KPIs.
type KPISource interface {
	FetchCurrent(ctx context.Context, apiKey, externalCampaignID string, dr *windsor.DateRange) (windsor.KPIs, error)
}

// RunnerStore is what a skill run reads and writes.
type RunnerStore interface {
	SkillGetter
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	CampaignForUser(ctx context.Context, id, userID string) (*store.CampaignMatch, error)
	Snapshots(ctx context.Context, campaignID, from, to string) ([]store.Snapshot, error)
	CreateReport(ctx context.Context, r *store.Report) error
}

// RunRequest is one skill run. UserID scopes the campaign lookup; it is
// empty for scheduled runs, whose campaign is already owner-resolved.
type RunRequest struct {
	SkillID           string
	CampaignID        string
	AdditionalContext string
	APIKey            string
	UserID            string
	Trigger           string
}

// RunResult is the outcome of a skill run.
type RunResult struct {
	Analysis string
	Report   *store.Report
	Campaign *store.Campaign
	Skill    *store.Skill
}

// Runner is the shared skill pipeline: fetch KPIs, render, call the model,
// store the report.
type Runner struct {
	Store     RunnerStore
	KPIs      KPISource
	Provider  provider.AIProvider
	MaxTokens int
	Now       func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes a skill against a campaign.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.APIKey == "" {
		return nil, ErrNoCredential
	}
	campaign, err := r.loadCampaign(ctx, req)
	if err != nil {
		return nil, err
	}

	kpis, err := r.KPIs.FetchCurrent(ctx, req.APIKey, campaign.ExternalID, nil)
	if err != nil {
		return nil, err
	}

	today := r.now().UTC()
	vars := map[string]string{
		"campaignName":      campaign.Name,
		"currentKPIs":       indentJSON(kpis),
		"date":              today.Format("2006-01-02"),
		"additionalContext": req.AdditionalContext,
	}
	r.addSnapshotVars(ctx, vars, campaign.ID, today)

	sk, err := r.Store.GetSkill(ctx, req.SkillID)
	if err == nil {
		fillDefaults(vars, sk.Parameters)
	}

	engine := Engine{Skills: r.Store}
	exec, err := engine.Execute(ctx, req.SkillID, vars)
	if err != nil {
		return nil, err
	}

	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	resp, err := r.Provider.CreateMessage(ctx, &provider.MessageRequest{
		Messages:  []provider.Message{provider.UserText(exec.Prompt)},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	analysis := provider.TextOf(resp.Parts)

	trigger := req.Trigger
	if trigger == "" {
		trigger = store.TriggerUser
	}
	report := &store.Report{
		ClientID:    campaign.ClientID,
		CampaignID:  campaign.ID,
		SkillID:     exec.Skill.ID,
		Content:     analysis,
		TriggeredBy: trigger,
	}
	if err := r.Store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return &RunResult{Analysis: analysis, Report: report, Campaign: campaign, Skill: exec.Skill}, nil
}

func (r *Runner) loadCampaign(ctx context.Context, req RunRequest) (*store.Campaign, error) {
	if req.UserID != "" {
		m, err := r.Store.CampaignForUser(ctx, req.CampaignID, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		if err != nil {
			return nil, err
		}
		return &m.Campaign, nil
	}
	c, err := r.Store.GetCampaign(ctx, req.CampaignID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	return c, err
}

// addSnapshotVars sets previousKPIs and historicalData from stored daily
// snapshots when there are any.
func (r *Runner) addSnapshotVars(ctx context.Context, vars map[string]string, campaignID string, today time.Time) {
	from := today.AddDate(0, 0, -7).Format("2006-01-02")
	to := today.AddDate(0, 0, -1).Format("2006-01-02")
	snaps, err := r.Store.Snapshots(ctx, campaignID, from, to)
	if err != nil || len(snaps) == 0 {
		return
	}
	vars["historicalData"] = indentJSON(snaps)
	if last := snaps[len(snaps)-1]; last.Date == to {
		vars["previousKPIs"] = indentJSON(snapshotKPIs(last))
	}
}

func snapshotKPIs(s store.Snapshot) windsor.KPIs {
	return windsor.KPIs{
		Spend:          s.Spend,
		Impressions:    s.Impressions,
		Clicks:         s.Clicks,
		CTR:            s.CTR,
		CPC:            s.CPC,
		Conversions:    s.Conversions,
		ConversionRate: s.ConversionRate,
		ROAS:           s.ROAS,
		Reach:          s.Reach,
		Frequency:      s.Frequency,
	}
}

func fillDefaults(vars map[string]string, params []store.SkillParameter) {
	for _, p := range params {
		if _, set := vars[p.Name]; set || p.Default == nil {
			continue
		}
		vars[p.Name] = fmt.Sprint(p.Default)
	}
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
