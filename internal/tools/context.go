package tools

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelhq/sentinel/internal/store"
)

const (
	recentReportLimit = 5
	reportPreviewLen  = 200
)

var errNoChannelClient = errors.New("no client found for this channel")

// ClientContextTool summarizes the client linked to a channel.
type ClientContextTool struct {
	store Store
}

func (t *ClientContextTool) Name() string { return "get_client_context" }

func (t *ClientContextTool) Description() string {
	return "Get the client linked to a Slack channel with its active campaigns and most recent reports."
}

func (t *ClientContextTool) Parameters() map[string]any {
	return schema(map[string]any{"slackChannelId": str("Slack channel ID")}, "slackChannelId")
}

// preview cuts content to its first 200 characters and marks the cut.
func preview(content string) string {
	r := []rune(content)
	if len(r) > reportPreviewLen {
		r = r[:reportPreviewLen]
	}
	return string(r) + "..."
}

func (t *ClientContextTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	channelID := GetString(params, "slackChannelId", uc.ChannelID)
	if channelID == "" {
		return "", required("slackChannelId")
	}
	client, err := t.store.ClientByChannel(ctx, uc.UserID, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errNoChannelClient
	}
	if err != nil {
		return "", err
	}
	campaigns, err := t.store.CampaignsForClient(ctx, client.ID, true)
	if err != nil {
		return "", err
	}
	reports, err := t.store.RecentReports(ctx, client.ID, recentReportLimit)
	if err != nil {
		return "", err
	}

	type campaignItem struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		FacebookCampaignID string `json:"facebookCampaignId"`
	}
	type reportItem struct {
		ID          string    `json:"id"`
		Content     string    `json:"content"`
		CreatedAt   time.Time `json:"createdAt"`
		TriggeredBy string    `json:"triggeredBy"`
	}
	cs := make([]campaignItem, 0, len(campaigns))
	for _, c := range campaigns {
		cs = append(cs, campaignItem{ID: c.ID, Name: c.Name, FacebookCampaignID: c.ExternalID})
	}
	rs := make([]reportItem, 0, len(reports))
	for _, r := range reports {
		rs = append(rs, reportItem{ID: r.ID, Content: preview(r.Content), CreatedAt: r.CreatedAt, TriggeredBy: r.TriggeredBy})
	}
	return jsonResult(map[string]any{
		"client":        clientHit{ID: client.ID, Name: client.Name, SlackChannelID: client.SlackChannelID},
		"campaigns":     cs,
		"recentReports": rs,
	})
}
