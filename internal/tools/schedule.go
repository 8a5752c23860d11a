package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
)

var timeOfDayRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

var errNoValidCampaigns = errors.New("no valid campaigns found for the provided IDs")

// CronFor converts a frequency and HH:MM time into a five-field cron
// expression. Weekly schedules fire on Monday.
func CronFor(frequency, hhmm string) (string, error) {
	if frequency != "daily" && frequency != "weekly" {
		return "", &ValidationError{Field: "frequency", Msg: "must be daily or weekly"}
	}
	if !timeOfDayRe.MatchString(hhmm) {
		return "", &ValidationError{Field: "time", Msg: `must be in HH:MM format (e.g. "09:00")`}
	}
	hs, ms, _ := strings.Cut(hhmm, ":")
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if h > 23 || m > 59 {
		return "", &ValidationError{Field: "time", Msg: "is out of range"}
	}
	dow := "*"
	if frequency == "weekly" {
		dow = "1"
	}
	return fmt.Sprintf("%d %d * * %s", m, h, dow), nil
}

// CreateScheduleTool creates recurring report schedules.
type CreateScheduleTool struct {
	store Store
}

func (t *CreateScheduleTool) Name() string { return "create_schedule" }

func (t *CreateScheduleTool) Description() string {
	return "Schedule recurring reports for one or more campaigns. Times are UTC. Without a skillId the Daily Performance Summary skill is used."
}

func (t *CreateScheduleTool) Parameters() map[string]any {
	return schema(map[string]any{
		"campaignIds": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Campaign IDs to schedule",
		},
		"frequency": map[string]any{
			"type": "string",
			"enum": []string{"daily", "weekly"},
		},
		"time":    str("Time of day in HH:MM (UTC)"),
		"skillId": str("Skill ID (optional)"),
	}, "campaignIds", "frequency", "time")
}

func (t *CreateScheduleTool) Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error) {
	ids := GetStringSlice(params, "campaignIds")
	frequency := GetString(params, "frequency", "")
	hhmm := GetString(params, "time", "")
	if len(ids) == 0 {
		return "", required("campaignIds")
	}
	expr, err := CronFor(frequency, hhmm)
	if err != nil {
		return "", err
	}

	skillID := GetString(params, "skillId", "")
	if skillID == "" {
		def, err := t.store.SkillByName(ctx, skills.DefaultSkillName, store.OriginSystem)
		if errors.Is(err, store.ErrNotFound) {
			return "", errors.New("default skill not found; run `sentinel seed` first")
		}
		if err != nil {
			return "", err
		}
		skillID = def.ID
	} else if _, err := t.store.GetSkill(ctx, skillID); err != nil {
		return "", fmt.Errorf("skill %s: %w", skillID, err)
	}

	var created []string
	for _, id := range ids {
		m, err := t.store.CampaignForUser(ctx, id, uc.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		err = t.store.CreateSchedule(ctx, &store.Schedule{
			ClientID:       m.ClientID,
			CampaignID:     m.ID,
			SkillID:        skillID,
			CronExpression: expr,
			Timezone:       "UTC",
			Active:         true,
		})
		if err != nil {
			return "", err
		}
		created = append(created, m.Name)
	}
	if len(created) == 0 {
		return "", errNoValidCampaigns
	}

	return jsonResult(map[string]any{
		"scheduled": created,
		"frequency": frequency,
		"time":      hhmm,
		"message": fmt.Sprintf("%s%s reports scheduled at %s UTC for: %s.",
			strings.ToUpper(frequency[:1]), frequency[1:], hhmm, strings.Join(created, ", ")),
	})
}
