package windsor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sentinelhq/sentinel/internal/store"
)

// SyncStore is the subset of the store the syncer writes to.
type SyncStore interface {
	ClientByAccount(ctx context.Context, userID, accountID string) (*store.Client, error)
	ClientByName(ctx context.Context, userID, name string) (*store.Client, error)
	CreateClient(ctx context.Context, c *store.Client) error
	UpdateClient(ctx context.Context, c *store.Client) error
	CampaignByExternalID(ctx context.Context, clientID, externalID string) (*store.Campaign, error)
	CreateCampaign(ctx context.Context, c *store.Campaign) error
	UpdateCampaign(ctx context.Context, c *store.Campaign) error
}

// CampaignLister lists the campaigns visible to an API key.
type CampaignLister interface {
	FetchAllCampaigns(ctx context.Context, apiKey string) ([]CampaignSummary, error)
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	ClientsCreated   int `json:"clientsCreated"`
	ClientsUpdated   int `json:"clientsUpdated"`
	CampaignsCreated int `json:"campaignsCreated"`
	CampaignsUpdated int `json:"campaignsUpdated"`
}

// Syncer mirrors the connector's accounts and campaigns into the store.
type Syncer struct {
	Source CampaignLister
	Store  SyncStore
}

// Sync groups campaigns by ad account, matches each account to a client
// (by account id, then by name) or creates one, and upserts its campaigns.
func (s *Syncer) Sync(ctx context.Context, userID, apiKey string) (SyncResult, error) {
	var res SyncResult
	summaries, err := s.Source.FetchAllCampaigns(ctx, apiKey)
	if err != nil {
		return res, err
	}

	var order []string
	byAccount := make(map[string][]CampaignSummary)
	for _, cs := range summaries {
		if _, ok := byAccount[cs.AccountID]; !ok {
			order = append(order, cs.AccountID)
		}
		byAccount[cs.AccountID] = append(byAccount[cs.AccountID], cs)
	}

	for _, accountID := range order {
		campaigns := byAccount[accountID]
		client, created, err := s.matchClient(ctx, userID, accountID, campaigns[0].AccountName)
		if err != nil {
			return res, err
		}
		if created {
			res.ClientsCreated++
		} else {
			res.ClientsUpdated++
		}

		for _, cs := range campaigns {
			existing, err := s.Store.CampaignByExternalID(ctx, client.ID, cs.CampaignID)
			switch {
			case err == nil:
				existing.Name = cs.CampaignName
				if err := s.Store.UpdateCampaign(ctx, existing); err != nil {
					return res, fmt.Errorf("update campaign %s: %w", cs.CampaignID, err)
				}
				res.CampaignsUpdated++
			case errors.Is(err, store.ErrNotFound):
				c := &store.Campaign{ClientID: client.ID, Name: cs.CampaignName, ExternalID: cs.CampaignID, Active: true}
				if err := s.Store.CreateCampaign(ctx, c); err != nil {
					return res, fmt.Errorf("create campaign %s: %w", cs.CampaignID, err)
				}
				res.CampaignsCreated++
			default:
				return res, err
			}
		}
	}
	return res, nil
}

func (s *Syncer) matchClient(ctx context.Context, userID, accountID, accountName string) (*store.Client, bool, error) {
	client, err := s.Store.ClientByAccount(ctx, userID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		client, err = s.Store.ClientByName(ctx, userID, accountName)
	}
	switch {
	case err == nil:
		client.WindsorAccountID = accountID
		if err := s.Store.UpdateClient(ctx, client); err != nil {
			return nil, false, fmt.Errorf("update client %s: %w", client.ID, err)
		}
		return client, false, nil
	case errors.Is(err, store.ErrNotFound):
		client = &store.Client{UserID: userID, Name: accountName, WindsorAccountID: accountID, Active: true}
		if err := s.Store.CreateClient(ctx, client); err != nil {
			return nil, false, fmt.Errorf("create client %s: %w", accountName, err)
		}
		return client, true, nil
	default:
		return nil, false, err
	}
}
