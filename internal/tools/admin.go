package tools

import (
	"context"
	"errors"
	"fmt"
)

// LinkChannelTool binds a Slack channel to a client. Owner only.
type LinkChannelTool struct {
	store Store
}

func (t *LinkChannelTool) Name() string { return "link_channel_to_client" }

func (t *LinkChannelTool) Description() string {
	return "Link a Slack channel to a client so its reports are posted there. Defaults to the current channel. Only the workspace owner may do this."
}

func (t *LinkChannelTool) Parameters() map[string]any {
	return schema(map[string]any{
		"clientId":  str("Client ID"),
		"channelId": str("Slack channel ID (defaults to the current channel)"),
	}, "clientId")
}

func (t *LinkChannelTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	if err := RequireOwner(uc, "link a Slack channel to a client"); err != nil {
		return "", err
	}
	clientID := GetString(params, "clientId", "")
	if clientID == "" {
		return "", required("clientId")
	}
	channelID := GetString(params, "channelId", uc.ChannelID)
	if channelID == "" {
		return "", errors.New("no channel ID available")
	}
	client, err := clientForUser(ctx, t.store, clientID, uc.UserID)
	if err != nil {
		return "", err
	}
	client.SlackChannelID = channelID
	if err := t.store.UpdateClient(ctx, client); err != nil {
		return "", err
	}
	if uc.TeamID != "" {
		if err := t.store.SetContextClient(ctx, channelID, uc.TeamID, client.ID); err != nil {
			return "", err
		}
	}
	return jsonResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Channel linked to client %q. Reports for this client will now appear in this channel.", client.Name),
	})
}

// UnlinkChannelTool clears a client's channel binding. Owner only.
type UnlinkChannelTool struct {
	store Store
}

func (t *UnlinkChannelTool) Name() string { return "unlink_channel_from_client" }

func (t *UnlinkChannelTool) Description() string {
	return "Unlink a client from its Slack channel. Only the workspace owner may do this."
}

func (t *UnlinkChannelTool) Parameters() map[string]any {
	return schema(map[string]any{"clientId": str("Client ID")}, "clientId")
}

func (t *UnlinkChannelTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	if err := RequireOwner(uc, "unlink a Slack channel from a client"); err != nil {
		return "", err
	}
	clientID := GetString(params, "clientId", "")
	if clientID == "" {
		return "", required("clientId")
	}
	client, err := clientForUser(ctx, t.store, clientID, uc.UserID)
	if err != nil {
		return "", err
	}
	prev := client.SlackChannelID
	client.SlackChannelID = ""
	if err := t.store.UpdateClient(ctx, client); err != nil {
		return "", err
	}
	if prev != "" && uc.TeamID != "" {
		if err := t.store.SetContextClient(ctx, prev, uc.TeamID, ""); err != nil {
			return "", err
		}
	}
	return jsonResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Channel successfully unlinked from client %q.", client.Name),
	})
}

// DeleteClientTool removes a client and everything hanging off it. Owner
// only.
type DeleteClientTool struct {
	store Store
}

func (t *DeleteClientTool) Name() string { return "delete_client" }

func (t *DeleteClientTool) Description() string {
	return "Permanently delete a client with its campaigns, schedules and channel contexts. Only the workspace owner may do this. Confirm with the user first."
}

func (t *DeleteClientTool) Parameters() map[string]any {
	return schema(map[string]any{"clientId": str("Client ID")}, "clientId")
}

func (t *DeleteClientTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	if err := RequireOwner(uc, "delete a client"); err != nil {
		return "", err
	}
	clientID := GetString(params, "clientId", "")
	if clientID == "" {
		return "", required("clientId")
	}
	client, err := clientForUser(ctx, t.store, clientID, uc.UserID)
	if err != nil {
		return "", err
	}
	res, err := t.store.DeleteClient(ctx, client.ID)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Client %q deleted along with %d campaign(s) and %d channel context(s).",
			client.Name, res.Campaigns, res.Contexts),
	})
}
