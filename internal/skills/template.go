// Package skills renders skill prompt templates and runs them against
// campaign data.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sentinelhq/sentinel/internal/store"
)

var (
	// ErrNotFound is returned for an unknown skill id.
	ErrNotFound = errors.New("skill not found")
	// ErrInactive is returned when the skill exists but is disabled.
	ErrInactive = errors.New("skill is inactive")
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render replaces {{name}} placeholders with vars. Placeholders with no
// entry in vars are left as they are.
func Render(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// SkillGetter loads skills by id.
type SkillGetter interface {
	GetSkill(ctx context.Context, id string) (*store.Skill, error)
}

// Execution is a rendered skill.
type Execution struct {
	Skill  *store.Skill
	Prompt string
}

// Engine resolves skills and renders their templates.
type Engine struct {
	Skills SkillGetter
}

// Execute loads an active skill and renders its template with vars.
func (e *Engine) Execute(ctx context.Context, skillID string, vars map[string]string) (*Execution, error) {
	sk, err := e.Skills.GetSkill(ctx, skillID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, skillID)
	}
	if err != nil {
		return nil, err
	}
	if !sk.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactive, sk.Name)
	}
	prompt := Render(sk.PromptTemplate, vars)
	slog.Info("Executed skill", "skill", sk.Name, "id", sk.ID)
	return &Execution{Skill: sk, Prompt: prompt}, nil
}
