package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sentinelhq/sentinel/internal/store"
)

// Search result caps.
const (
	MaxClientResults   = 10
	MaxCampaignResults = 20
)

type clientHit struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SlackChannelID string `json:"slackChannelId"`
}

type campaignHit struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
}

type searchResult struct {
	Clients   []clientHit   `json:"clients"`
	Campaigns []campaignHit `json:"campaigns"`
	Message   string        `json:"message,omitempty"`
}

// SearchTool finds the caller's clients and campaigns by id or name.
type SearchTool struct {
	store Store
}

func (t *SearchTool) Name() string { return "search_clients_campaigns" }

func (t *SearchTool) Description() string {
	return "Search for clients and/or campaigns by name or ID. Use this first to resolve names mentioned by the user into IDs."
}

func (t *SearchTool) Parameters() map[string]any {
	return schema(map[string]any{
		"query": str("Name fragment or exact ID to search for"),
		"type": map[string]any{
			"type":        "string",
			"enum":        []string{"client", "campaign", "both"},
			"description": "What to search (default both)",
		},
	}, "query")
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "", required("query")
	}
	kind := GetString(params, "type", "both")
	switch kind {
	case "client", "campaign", "both":
	default:
		return "", &ValidationError{Field: "type", Msg: "must be client, campaign or both"}
	}

	res := searchResult{Clients: []clientHit{}, Campaigns: []campaignHit{}}
	byID := store.IsID(query)

	if kind != "campaign" {
		clients, err := t.searchClients(ctx, query, byID, uc.UserID)
		if err != nil {
			return "", err
		}
		for _, c := range clients {
			res.Clients = append(res.Clients, clientHit{ID: c.ID, Name: c.Name, SlackChannelID: c.SlackChannelID})
		}
	}
	if kind != "client" {
		campaigns, err := t.searchCampaigns(ctx, query, byID, uc.UserID)
		if err != nil {
			return "", err
		}
		for _, c := range campaigns {
			res.Campaigns = append(res.Campaigns, campaignHit{ID: c.ID, Name: c.Name, ClientID: c.ClientID, ClientName: c.ClientName})
		}
	}

	if len(res.Clients)+len(res.Campaigns) == 0 {
		res.Message = fmt.Sprintf("No clients or campaigns found matching %q.", query)
	}
	return jsonResult(res)
}

func (t *SearchTool) searchClients(ctx context.Context, query string, byID bool, userID string) ([]store.Client, error) {
	if !byID {
		return t.store.SearchClients(ctx, userID, query, MaxClientResults)
	}
	c, err := t.store.ClientForUser(ctx, query, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []store.Client{*c}, nil
}

func (t *SearchTool) searchCampaigns(ctx context.Context, query string, byID bool, userID string) ([]store.CampaignMatch, error) {
	if !byID {
		return t.store.SearchCampaigns(ctx, userID, query, MaxCampaignResults)
	}
	m, err := t.store.CampaignForUser(ctx, query, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []store.CampaignMatch{*m}, nil
}
