package tools

import (
	"context"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
)

// RunSkillTool runs a skill template against a campaign and stores the
// report.
type RunSkillTool struct {
	runner SkillRunner
}

func (t *RunSkillTool) Name() string { return "run_skill" }

func (t *RunSkillTool) Description() string {
	return "Run an analysis skill on a campaign. Fetches current KPIs, renders the skill prompt and returns the analysis. Use list_skills to find skill IDs."
}

func (t *RunSkillTool) Parameters() map[string]any {
	return schema(map[string]any{
		"skillId":           str("Skill ID"),
		"campaignId":        str("Campaign ID"),
		"additionalContext": str("Extra instructions from the user"),
	}, "skillId", "campaignId")
}

func (t *RunSkillTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	skillID := GetString(params, "skillId", "")
	campaignID := GetString(params, "campaignId", "")
	switch {
	case skillID == "":
		return "", required("skillId")
	case campaignID == "":
		return "", required("campaignId")
	}
	res, err := t.runner.Run(ctx, skills.RunRequest{
		SkillID:           skillID,
		CampaignID:        campaignID,
		AdditionalContext: GetString(params, "additionalContext", ""),
		APIKey:            uc.WindsorAPIKey,
		UserID:            uc.UserID,
		Trigger:           store.TriggerUser,
	})
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"analysis": res.Analysis})
}

// ListSkillsTool lists the skills available to the caller.
type ListSkillsTool struct {
	store Store
}

func (t *ListSkillsTool) Name() string { return "list_skills" }

func (t *ListSkillsTool) Description() string {
	return "List the analysis skills available to the user (system skills and their own)."
}

func (t *ListSkillsTool) Parameters() map[string]any {
	return schema(map[string]any{})
}

func (t *ListSkillsTool) Execute(ctx context.Context, _ map[string]any, uc UserContext) (string, error) {
	list, err := t.store.SkillsForUser(ctx, uc.UserID)
	if err != nil {
		return "", err
	}
	type item struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Type        string `json:"type"`
	}
	out := make([]item, 0, len(list))
	for _, s := range list {
		out = append(out, item{ID: s.ID, Name: s.Name, Description: s.Description, Category: s.Category, Type: s.Origin})
	}
	return jsonResult(map[string]any{"skills": out})
}
