package skills

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/sentinelhq/sentinel/internal/store"
)

// DefaultSkillName is the skill used by schedules created without one.
const DefaultSkillName = "Daily Performance Summary"

//go:embed defaults.yaml
var defaultsYAML []byte

type defaultSkill struct {
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	Category       string                 `yaml:"category"`
	Parameters     []store.SkillParameter `yaml:"parameters"`
	PromptTemplate string                 `yaml:"promptTemplate"`
}

// Defaults returns the built-in system skills.
func Defaults() ([]store.Skill, error) {
	var raw struct {
		Skills []defaultSkill `yaml:"skills"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse default skills: %w", err)
	}
	out := make([]store.Skill, 0, len(raw.Skills))
	for _, d := range raw.Skills {
		out = append(out, store.Skill{
			Name:           d.Name,
			Description:    d.Description,
			Category:       d.Category,
			Parameters:     d.Parameters,
			PromptTemplate: d.PromptTemplate,
			Origin:         store.OriginSystem,
			Active:         true,
		})
	}
	return out, nil
}

// SeedStore persists system skills.
type SeedStore interface {
	UpsertSystemSkill(ctx context.Context, sk *store.Skill) (bool, error)
}

// Seed creates or refreshes the built-in skills by name.
func Seed(ctx context.Context, s SeedStore) (created, updated int, err error) {
	defs, err := Defaults()
	if err != nil {
		return 0, 0, err
	}
	for i := range defs {
		isNew, err := s.UpsertSystemSkill(ctx, &defs[i])
		if err != nil {
			return created, updated, fmt.Errorf("seed %q: %w", defs[i].Name, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	slog.Info("Seeded system skills", "created", created, "updated", updated)
	return created, updated, nil
}
