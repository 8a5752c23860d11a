package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

var errClientNotFound = errors.New("client not found")

// clientForUser resolves a client owned by the caller.
func clientForUser(ctx context.Context, s Store, id, userID string) (*store.Client, error) {
	c, err := s.ClientForUser(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errClientNotFound
	}
	return c, err
}

// campaignForUser resolves a campaign whose client is owned by the caller.
func campaignForUser(ctx context.Context, s Store, id, userID string) (*store.CampaignMatch, error) {
	m, err := s.CampaignForUser(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, skills.ErrCampaignNotFound
	}
	return m, err
}

// parseDateRange reads an optional {start, end} object.
func parseDateRange(params map[string]any, key string) (*windsor.DateRange, error) {
	obj := GetObject(params, key)
	if obj == nil {
		return nil, nil
	}
	dr := &windsor.DateRange{Start: GetString(obj, "start", ""), End: GetString(obj, "end", "")}
	for field, v := range map[string]string{key + ".start": dr.Start, key + ".end": dr.End} {
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return nil, &ValidationError{Field: field, Msg: "must be a YYYY-MM-DD date"}
		}
	}
	if dr.End < dr.Start {
		return nil, &ValidationError{Field: key, Msg: "end is before start"}
	}
	return dr, nil
}

// GetCampaignsTool lists a client's active campaigns.
type GetCampaignsTool struct {
	store Store
}

func (t *GetCampaignsTool) Name() string { return "get_campaigns" }

func (t *GetCampaignsTool) Description() string {
	return "List the active campaigns of a client."
}

func (t *GetCampaignsTool) Parameters() map[string]any {
	return schema(map[string]any{"clientId": str("Client ID")}, "clientId")
}

func (t *GetCampaignsTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	clientID := GetString(params, "clientId", "")
	if clientID == "" {
		return "", required("clientId")
	}
	client, err := clientForUser(ctx, t.store, clientID, uc.UserID)
	if err != nil {
		return "", err
	}
	campaigns, err := t.store.CampaignsForClient(ctx, client.ID, true)
	if err != nil {
		return "", err
	}
	type item struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		FacebookCampaignID string `json:"facebookCampaignId"`
		IsActive           bool   `json:"isActive"`
	}
	out := make([]item, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, item{ID: c.ID, Name: c.Name, FacebookCampaignID: c.ExternalID, IsActive: c.Active})
	}
	return jsonResult(map[string]any{"campaigns": out})
}

// CompareCampaignsTool fetches KPIs for several campaigns at once.
type CompareCampaignsTool struct {
	store Store
	kpis  KPISource
}

func (t *CompareCampaignsTool) Name() string { return "compare_campaigns" }

func (t *CompareCampaignsTool) Description() string {
	return "Compare the KPIs of two or more campaigns side by side."
}

func (t *CompareCampaignsTool) Parameters() map[string]any {
	return schema(map[string]any{
		"campaignIds": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Campaign IDs to compare",
		},
		"dateRange": dateRangeSchema(false),
	}, "campaignIds")
}

type comparison struct {
	CampaignID string       `json:"campaignId"`
	Name       string       `json:"name"`
	KPIs       windsor.KPIs `json:"kpis"`
}

func (t *CompareCampaignsTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	ids := GetStringSlice(params, "campaignIds")
	if len(ids) == 0 {
		return "", required("campaignIds")
	}
	dr, err := parseDateRange(params, "dateRange")
	if err != nil {
		return "", err
	}
	if uc.WindsorAPIKey == "" {
		return "", skills.ErrNoCredential
	}

	var campaigns []*store.CampaignMatch
	for _, id := range ids {
		m, err := t.store.CampaignForUser(ctx, id, uc.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		campaigns = append(campaigns, m)
	}
	if len(campaigns) == 0 {
		return "", skills.ErrCampaignNotFound
	}

	results := make([]comparison, len(campaigns))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range campaigns {
		g.Go(func() error {
			k, err := t.kpis.FetchCurrent(gctx, uc.WindsorAPIKey, c.ExternalID, dr)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			results[i] = comparison{CampaignID: c.ID, Name: c.Name, KPIs: k}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"comparisons": results})
}
