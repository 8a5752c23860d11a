package store

import (
	"context"
	"fmt"
	"strings"
)

// CreateUser inserts a user. ID and CreatedAt are filled in when empty.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	key, err := s.seal(u.WindsorAPIKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, windsor_api_key, timezone, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, key, u.Timezone, toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, windsor_api_key, timezone, created_at`

func (s *Store) scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.WindsorAPIKey, &u.Timezone, &created); err != nil {
		return nil, err
	}
	if err := s.unseal(&u.WindsorAPIKey); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// UserByEmail loads a user by email (case-insensitive).
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// SetWindsorKey replaces the user's aggregator API key.
func (s *Store) SetWindsorKey(ctx context.Context, userID, key string) error {
	sealed, err := s.seal(key)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET windsor_api_key = ? WHERE id = ?`, sealed, userID)
	if err != nil {
		return fmt.Errorf("set windsor key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// UpsertWorkspace records (or refreshes) a Slack installation for a user.
func (s *Store) UpsertWorkspace(ctx context.Context, w *Workspace) error {
	if w.InstalledAt.IsZero() {
		w.InstalledAt = s.now().UTC()
	}
	token, err := s.seal(w.AccessToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspaces (team_id, user_id, team_name, access_token, bot_user_id, owner_slack_user_id, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			user_id = excluded.user_id,
			team_name = excluded.team_name,
			access_token = excluded.access_token,
			bot_user_id = excluded.bot_user_id,
			owner_slack_user_id = excluded.owner_slack_user_id`,
		w.TeamID, w.UserID, w.TeamName, token, w.BotUserID, w.OwnerSlackUserID, toMillis(w.InstalledAt))
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	return nil
}

const workspaceColumns = `team_id, user_id, team_name, access_token, bot_user_id, owner_slack_user_id, installed_at`

func (s *Store) scanWorkspace(row interface{ Scan(...any) error }) (*Workspace, error) {
	var w Workspace
	var installed int64
	if err := row.Scan(&w.TeamID, &w.UserID, &w.TeamName, &w.AccessToken, &w.BotUserID, &w.OwnerSlackUserID, &installed); err != nil {
		return nil, err
	}
	if err := s.unseal(&w.AccessToken); err != nil {
		return nil, err
	}
	w.InstalledAt = fromMillis(installed)
	return &w, nil
}

// WorkspaceByTeam resolves the installation for a Slack team.
func (s *Store) WorkspaceByTeam(ctx context.Context, teamID string) (*Workspace, error) {
	w, err := s.scanWorkspace(s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE team_id = ?`, teamID))
	if err != nil {
		return nil, notFound(err, "workspace")
	}
	return w, nil
}

// WorkspacesForUser lists a user's installations, oldest first.
func (s *Store) WorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE user_id = ? ORDER BY installed_at, team_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	var out []Workspace
	for rows.Next() {
		w, err := s.scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
