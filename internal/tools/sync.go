package tools

import (
	"context"
	"errors"
)

var errSyncNoKey = errors.New("windsor API key not configured; add it in settings")

// SyncTool mirrors aggregator accounts and campaigns into the store.
type SyncTool struct {
	syncer CampaignSyncer
}

func (t *SyncTool) Name() string { return "sync_clients_and_campaigns" }

func (t *SyncTool) Description() string {
	return "Import clients (ad accounts) and campaigns from the data connector. Use when the user asks to refresh or sync their accounts."
}

func (t *SyncTool) Parameters() map[string]any {
	return schema(map[string]any{})
}

func (t *SyncTool) Execute(ctx context.Context, _ map[string]any, uc UserContext) (string, error) {
	if uc.WindsorAPIKey == "" {
		return "", errSyncNoKey
	}
	res, err := t.syncer.Sync(ctx, uc.UserID, uc.WindsorAPIKey)
	if err != nil {
		return "", err
	}
	return jsonResult(res)
}
