package store

import (
	"context"
	"fmt"
)

// CreateCampaign inserts a campaign under a client.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	now := s.now().UTC()
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, client_id, name, external_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.Name, c.ExternalID, boolInt(c.Active), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// UpdateCampaign writes name and active flag.
func (s *Store) UpdateCampaign(ctx context.Context, c *Campaign) error {
	c.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET name = ?, active = ?, updated_at = ? WHERE id = ?`,
		c.Name, boolInt(c.Active), toMillis(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

const campaignColumns = `c.id, c.client_id, c.name, c.external_id, c.active, c.created_at, c.updated_at`

func scanCampaign(row interface{ Scan(...any) error }, extra ...any) (*Campaign, error) {
	var c Campaign
	var created, updated int64
	dest := append([]any{&c.ID, &c.ClientID, &c.Name, &c.ExternalID, &c.Active, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}

func (s *Store) queryCampaigns(ctx context.Context, query string, args ...any) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCampaign loads a campaign by id without owner scoping.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "campaign")
	}
	return c, nil
}

// CampaignForUser loads a campaign only if its client belongs to userID,
// with the client's name attached.
func (s *Store) CampaignForUser(ctx context.Context, id, userID string) (*CampaignMatch, error) {
	var m CampaignMatch
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`, cl.name FROM campaigns c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.id = ? AND cl.user_id = ?`, id, userID), &m.ClientName)
	if err != nil {
		return nil, notFound(err, "campaign")
	}
	m.Campaign = *c
	return &m, nil
}

// CampaignsForClient lists a client's campaigns, optionally only active ones.
func (s *Store) CampaignsForClient(ctx context.Context, clientID string, activeOnly bool) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns c WHERE c.client_id = ?`
	if activeOnly {
		q += ` AND c.active = 1`
	}
	return s.queryCampaigns(ctx, q+` ORDER BY c.name`, clientID)
}

// ActiveCampaigns lists every active campaign across all tenants.
func (s *Store) ActiveCampaigns(ctx context.Context) ([]Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.active = 1 ORDER BY c.created_at`)
}

// CampaignByExternalID finds a client's campaign by aggregator id.
func (s *Store) CampaignByExternalID(ctx context.Context, clientID, externalID string) (*Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns c WHERE c.client_id = ? AND c.external_id = ?`, clientID, externalID))
	if err != nil {
		return nil, notFound(err, "campaign")
	}
	return c, nil
}

// SearchCampaigns matches campaigns of the user's clients by
// case-insensitive substring.
func (s *Store) SearchCampaigns(ctx context.Context, userID, query string, limit int) ([]CampaignMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`, cl.name FROM campaigns c
		JOIN clients cl ON cl.id = c.client_id
		WHERE cl.user_id = ? AND c.name LIKE ? ESCAPE '\'
		ORDER BY c.name LIMIT ?`, userID, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search campaigns: %w", err)
	}
	defer rows.Close()
	var out []CampaignMatch
	for rows.Next() {
		var m CampaignMatch
		c, err := scanCampaign(rows, &m.ClientName)
		if err != nil {
			return nil, err
		}
		m.Campaign = *c
		out = append(out, m)
	}
	return out, rows.Err()
}
