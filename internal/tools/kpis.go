package tools

import (
	"context"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// CampaignKPIsTool returns aggregated KPIs of one campaign.
type CampaignKPIsTool struct {
	store Store
	kpis  KPISource
}

func (t *CampaignKPIsTool) Name() string { return "get_campaign_kpis" }

func (t *CampaignKPIsTool) Description() string {
	return "Get aggregated KPIs (spend, impressions, clicks, CTR, CPC, conversions, conversion rate, ROAS, reach, frequency) for a campaign. Defaults to the last 30 days."
}

func (t *CampaignKPIsTool) Parameters() map[string]any {
	return schema(map[string]any{
		"campaignId": str("Campaign ID"),
		"dateRange":  dateRangeSchema(false),
	}, "campaignId")
}

func (t *CampaignKPIsTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	campaignID := GetString(params, "campaignId", "")
	if campaignID == "" {
		return "", required("campaignId")
	}
	dr, err := parseDateRange(params, "dateRange")
	if err != nil {
		return "", err
	}
	if uc.WindsorAPIKey == "" {
		return "", skills.ErrNoCredential
	}
	campaign, err := campaignForUser(ctx, t.store, campaignID, uc.UserID)
	if err != nil {
		return "", err
	}
	k, err := t.kpis.FetchCurrent(ctx, uc.WindsorAPIKey, campaign.ExternalID, dr)
	if err != nil {
		return "", err
	}
	return jsonResult(k)
}

// HistoricalDataTool returns one metric as a dated series.
type HistoricalDataTool struct {
	store Store
	kpis  KPISource
}

func (t *HistoricalDataTool) Name() string { return "get_historical_data" }

func (t *HistoricalDataTool) Description() string {
	return "Get the daily history of one metric for a campaign over a date range, for trend analysis."
}

func (t *HistoricalDataTool) Parameters() map[string]any {
	return schema(map[string]any{
		"campaignId": str("Campaign ID"),
		"metric":     str("Metric name, e.g. spend, clicks, ctr, roas, conversions"),
		"period": map[string]any{
			"type":        "string",
			"enum":        []string{"daily", "weekly", "monthly"},
			"description": "Granularity the user asked about",
		},
		"dateRange": dateRangeSchema(true),
	}, "campaignId", "metric", "period", "dateRange")
}

func (t *HistoricalDataTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	campaignID := GetString(params, "campaignId", "")
	metric := GetString(params, "metric", "")
	period := GetString(params, "period", "daily")
	switch {
	case campaignID == "":
		return "", required("campaignId")
	case metric == "":
		return "", required("metric")
	}
	switch period {
	case "daily", "weekly", "monthly":
	default:
		return "", &ValidationError{Field: "period", Msg: "must be daily, weekly or monthly"}
	}
	dr, err := parseDateRange(params, "dateRange")
	if err != nil {
		return "", err
	}
	if dr == nil {
		return "", required("dateRange")
	}
	if uc.WindsorAPIKey == "" {
		return "", skills.ErrNoCredential
	}
	campaign, err := campaignForUser(ctx, t.store, campaignID, uc.UserID)
	if err != nil {
		return "", err
	}
	points, err := t.kpis.FetchHistory(ctx, uc.WindsorAPIKey, campaign.ExternalID, metric, *dr)
	if err != nil {
		return "", err
	}
	if points == nil {
		points = []windsor.DataPoint{}
	}
	return jsonResult(map[string]any{"metric": metric, "period": period, "dataPoints": points})
}
