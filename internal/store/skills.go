package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateSkill inserts a skill.
func (s *Store) CreateSkill(ctx context.Context, sk *Skill) error {
	now := s.now().UTC()
	if sk.ID == "" {
		sk.ID = newID()
	}
	if sk.Origin == "" {
		sk.Origin = OriginCustom
	}
	sk.CreatedAt, sk.UpdatedAt = now, now
	params, err := json.Marshal(nonNilParams(sk.Parameters))
	if err != nil {
		return fmt.Errorf("encode skill parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, prompt_template, parameters, category, origin, created_by, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.Name, sk.Description, sk.PromptTemplate, string(params), sk.Category, sk.Origin,
		nullString(sk.CreatedBy), boolInt(sk.Active), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("create skill: %w", err)
	}
	return nil
}

// UpsertSystemSkill creates a system skill or refreshes the one with the
// same name, keeping its id and active flag.
func (s *Store) UpsertSystemSkill(ctx context.Context, sk *Skill) (created bool, err error) {
	existing, err := s.SkillByName(ctx, sk.Name, OriginSystem)
	if errors.Is(err, ErrNotFound) {
		sk.Origin = OriginSystem
		sk.CreatedBy = ""
		sk.Active = true
		return true, s.CreateSkill(ctx, sk)
	}
	if err != nil {
		return false, err
	}
	params, err := json.Marshal(nonNilParams(sk.Parameters))
	if err != nil {
		return false, fmt.Errorf("encode skill parameters: %w", err)
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE skills SET description = ?, prompt_template = ?, parameters = ?, category = ?, updated_at = ?
		WHERE id = ?`,
		sk.Description, sk.PromptTemplate, string(params), sk.Category, toMillis(now), existing.ID)
	if err != nil {
		return false, fmt.Errorf("update system skill: %w", err)
	}
	sk.ID = existing.ID
	sk.Origin = OriginSystem
	sk.Active = existing.Active
	return false, nil
}

// SetSkillActive toggles a skill's active flag.
func (s *Store) SetSkillActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE skills SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("set skill active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill %s: %w", id, ErrNotFound)
	}
	return nil
}

const skillColumns = `id, name, description, prompt_template, parameters, category, origin, created_by, active, created_at, updated_at`

func scanSkill(row interface{ Scan(...any) error }) (*Skill, error) {
	var sk Skill
	var params string
	var createdBy sql.NullString
	var created, updated int64
	if err := row.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.PromptTemplate, &params, &sk.Category, &sk.Origin,
		&createdBy, &sk.Active, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &sk.Parameters); err != nil {
		return nil, fmt.Errorf("decode skill parameters: %w", err)
	}
	sk.CreatedBy = createdBy.String
	sk.CreatedAt, sk.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &sk, nil
}

// GetSkill loads a skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (*Skill, error) {
	sk, err := scanSkill(s.db.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "skill")
	}
	return sk, nil
}

// SkillByName finds a skill by exact name and origin.
func (s *Store) SkillByName(ctx context.Context, name, origin string) (*Skill, error) {
	sk, err := scanSkill(s.db.QueryRowContext(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE name = ? AND origin = ? ORDER BY created_at LIMIT 1`, name, origin))
	if err != nil {
		return nil, notFound(err, "skill")
	}
	return sk, nil
}

// SkillsForUser lists active system skills plus the user's own active skills.
func (s *Store) SkillsForUser(ctx context.Context, userID string) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+skillColumns+` FROM skills
		WHERE active = 1 AND (origin = ? OR created_by = ?)
		ORDER BY origin DESC, name`, OriginSystem, userID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()
	var out []Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sk)
	}
	return out, rows.Err()
}

func nonNilParams(p []SkillParameter) []SkillParameter {
	if p == nil {
		return []SkillParameter{}
	}
	return p
}
