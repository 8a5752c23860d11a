package store

import (
	"context"
	"fmt"
)

// UpsertSnapshot stores the KPIs of one campaign-day. Re-running for the
// same (campaign, date) overwrites the previous values.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (campaign_id, date, spend, impressions, clicks, ctr, cpc, conversions, conversion_rate, roas, reach, frequency, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, date) DO UPDATE SET
			spend = excluded.spend,
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			ctr = excluded.ctr,
			cpc = excluded.cpc,
			conversions = excluded.conversions,
			conversion_rate = excluded.conversion_rate,
			roas = excluded.roas,
			reach = excluded.reach,
			frequency = excluded.frequency,
			fetched_at = excluded.fetched_at`,
		snap.CampaignID, snap.Date, snap.Spend, snap.Impressions, snap.Clicks, snap.CTR, snap.CPC,
		snap.Conversions, snap.ConversionRate, snap.ROAS, snap.Reach, snap.Frequency, toMillis(snap.FetchedAt))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Snapshots returns a campaign's snapshots with from <= date <= to, oldest first.
func (s *Store) Snapshots(ctx context.Context, campaignID, from, to string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT campaign_id, date, spend, impressions, clicks, ctr, cpc, conversions, conversion_rate, roas, reach, frequency, fetched_at
		FROM snapshots WHERE campaign_id = ? AND date >= ? AND date <= ? ORDER BY date`, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var fetched int64
		if err := rows.Scan(&snap.CampaignID, &snap.Date, &snap.Spend, &snap.Impressions, &snap.Clicks, &snap.CTR, &snap.CPC,
			&snap.Conversions, &snap.ConversionRate, &snap.ROAS, &snap.Reach, &snap.Frequency, &fetched); err != nil {
			return nil, err
		}
		snap.FetchedAt = fromMillis(fetched)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshotsBefore removes snapshots dated strictly before date.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return res.RowsAffected()
}
