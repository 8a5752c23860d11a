package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const contextColumns = `id, channel_id, team_id, client_id, history, version, updated_at`

func scanContext(row interface{ Scan(...any) error }) (*ChannelContext, error) {
	var c ChannelContext
	var clientID sql.NullString
	var history string
	var updated int64
	if err := row.Scan(&c.ID, &c.ChannelID, &c.TeamID, &clientID, &history, &c.Version, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &c.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	c.ClientID = clientID.String
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// ChannelContext loads the conversation context of (channel, team).
func (s *Store) ChannelContext(ctx context.Context, channelID, teamID string) (*ChannelContext, error) {
	c, err := scanContext(s.db.QueryRowContext(ctx,
		`SELECT `+contextColumns+` FROM channel_contexts WHERE channel_id = ? AND team_id = ?`, channelID, teamID))
	if err != nil {
		return nil, notFound(err, "channel context")
	}
	return c, nil
}

// ContextsForChannel lists every context recorded for a channel id across
// teams, most recently used first.
func (s *Store) ContextsForChannel(ctx context.Context, channelID string) ([]ChannelContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contextColumns+` FROM channel_contexts WHERE channel_id = ? ORDER BY updated_at DESC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel contexts: %w", err)
	}
	defer rows.Close()
	var out []ChannelContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// LoadOrCreateChannelContext returns the existing context or creates an
// empty one linked to clientID.
func (s *Store) LoadOrCreateChannelContext(ctx context.Context, channelID, teamID, clientID string) (*ChannelContext, error) {
	c, err := s.ChannelContext(ctx, channelID, teamID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c = &ChannelContext{
		ID:        newID(),
		ChannelID: channelID,
		TeamID:    teamID,
		ClientID:  clientID,
		History:   []Turn{},
		Version:   1,
		UpdatedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_contexts (id, channel_id, team_id, client_id, history, version, updated_at)
		VALUES (?, ?, ?, ?, '[]', 1, ?)
		ON CONFLICT(channel_id, team_id) DO NOTHING`,
		c.ID, channelID, teamID, nullString(clientID), toMillis(c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create channel context: %w", err)
	}
	// Another writer may have won the insert race; read back whichever row exists.
	return s.ChannelContext(ctx, channelID, teamID)
}

// SaveChannelContext writes history and client link if the stored version
// still equals c.Version, then bumps the version. A stale write returns
// ErrConflict.
func (s *Store) SaveChannelContext(ctx context.Context, c *ChannelContext) error {
	history, err := json.Marshal(c.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_contexts SET history = ?, client_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(history), nullString(c.ClientID), toMillis(now), c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("save channel context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("channel context %s: %w", c.ID, ErrConflict)
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

// SetContextClient points the (channel, team) context at clientID, or
// clears the link when clientID is empty. Missing contexts are left alone.
func (s *Store) SetContextClient(ctx context.Context, channelID, teamID, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE channel_contexts SET client_id = ?, version = version + 1, updated_at = ?
		WHERE channel_id = ? AND team_id = ?`,
		nullString(clientID), toMillis(s.now()), channelID, teamID)
	if err != nil {
		return fmt.Errorf("link channel context: %w", err)
	}
	return nil
}
