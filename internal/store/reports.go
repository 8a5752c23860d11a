package store

import (
	"context"
	"fmt"
)

// CreateReport appends a report.
func (s *Store) CreateReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, client_id, campaign_id, skill_id, content, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, r.CampaignID, r.SkillID, r.Content, r.TriggeredBy, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// RecentReports returns a client's newest reports first.
func (s *Store) RecentReports(ctx context.Context, clientID string, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, campaign_id, skill_id, content, triggered_by, created_at
		FROM reports WHERE client_id = ? ORDER BY created_at DESC, id LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		var r Report
		var created int64
		if err := rows.Scan(&r.ID, &r.ClientID, &r.CampaignID, &r.SkillID, &r.Content, &r.TriggeredBy, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
