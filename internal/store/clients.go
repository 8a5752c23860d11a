package store

import (
	"context"
	"fmt"
)

// CreateClient inserts a client for its owning user.
func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	now := s.now().UTC()
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, user_id, name, slack_channel_id, windsor_account_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.SlackChannelID, c.WindsorAccountID, boolInt(c.Active), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// UpdateClient writes name, channel, account and active flag.
func (s *Store) UpdateClient(ctx context.Context, c *Client) error {
	c.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET name = ?, slack_channel_id = ?, windsor_account_id = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.SlackChannelID, c.WindsorAccountID, boolInt(c.Active), toMillis(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

const clientColumns = `id, user_id, name, slack_channel_id, windsor_account_id, active, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*Client, error) {
	var c Client
	var created, updated int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.SlackChannelID, &c.WindsorAccountID, &c.Active, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}

func (s *Store) queryClients(ctx context.Context, query string, args ...any) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) oneClient(ctx context.Context, query string, args ...any) (*Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "client")
	}
	return c, nil
}

// GetClient loads a client by id without owner scoping. Internal callers
// (sweeps, report delivery) use it; tools use ClientForUser.
func (s *Store) GetClient(ctx context.Context, id string) (*Client, error) {
	return s.oneClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
}

// ClientForUser loads a client only if it belongs to userID.
func (s *Store) ClientForUser(ctx context.Context, id, userID string) (*Client, error) {
	return s.oneClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ? AND user_id = ?`, id, userID)
}

// ClientByChannel finds the user's client linked to a Slack channel.
func (s *Store) ClientByChannel(ctx context.Context, userID, channelID string) (*Client, error) {
	if channelID == "" {
		return nil, fmt.Errorf("client: %w", ErrNotFound)
	}
	return s.oneClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE user_id = ? AND slack_channel_id = ? ORDER BY created_at LIMIT 1`, userID, channelID)
}

// ClientByAccount finds the user's client mapped to an aggregator account.
func (s *Store) ClientByAccount(ctx context.Context, userID, accountID string) (*Client, error) {
	return s.oneClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE user_id = ? AND windsor_account_id = ? ORDER BY created_at LIMIT 1`, userID, accountID)
}

// ClientByName finds the user's client with an exact name.
func (s *Store) ClientByName(ctx context.Context, userID, name string) (*Client, error) {
	return s.oneClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE user_id = ? AND name = ? ORDER BY created_at LIMIT 1`, userID, name)
}

// ClientsForUser lists every client of a user by name.
func (s *Store) ClientsForUser(ctx context.Context, userID string) ([]Client, error) {
	return s.queryClients(ctx, `SELECT `+clientColumns+` FROM clients WHERE user_id = ? ORDER BY name`, userID)
}

// SearchClients matches the user's clients by case-insensitive substring.
func (s *Store) SearchClients(ctx context.Context, userID, query string, limit int) ([]Client, error) {
	return s.queryClients(ctx, `SELECT `+clientColumns+` FROM clients
		WHERE user_id = ? AND name LIKE ? ESCAPE '\' ORDER BY name LIMIT ?`,
		userID, likePattern(query), limit)
}

// DeleteResult reports what a client deletion removed.
type DeleteResult struct {
	Campaigns int64
	Contexts  int64
}

// DeleteClient removes a client together with its campaigns, schedules and
// channel contexts.
func (s *Store) DeleteClient(ctx context.Context, id string) (DeleteResult, error) {
	var out DeleteResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("delete client: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE client_id = ?`, id); err != nil {
		return out, fmt.Errorf("delete schedules: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE client_id = ?`, id)
	if err != nil {
		return out, fmt.Errorf("delete campaigns: %w", err)
	}
	out.Campaigns, _ = res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM channel_contexts WHERE client_id = ?`, id)
	if err != nil {
		return out, fmt.Errorf("delete channel contexts: %w", err)
	}
	out.Contexts, _ = res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return out, fmt.Errorf("delete client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return DeleteResult{}, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return out, tx.Commit()
}
