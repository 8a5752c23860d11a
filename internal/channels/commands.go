package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/tools"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// Response is one reply to a slash command or button click.
type Response struct {
	Text    string
	Blocks  []slack.Block
	Replace bool
}

// Respond sends a Response back to the requester.
type Respond func(ctx context.Context, r Response) error

// CommandStore is what slash commands and buttons read and write.
type CommandStore interface {
	WorkspaceByTeam(ctx context.Context, teamID string) (*store.Workspace, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ClientByChannel(ctx context.Context, userID, channelID string) (*store.Client, error)
	CampaignsForClient(ctx context.Context, clientID string, activeOnly bool) ([]store.Campaign, error)
	SkillByName(ctx context.Context, name, origin string) (*store.Skill, error)
	SkillsForUser(ctx context.Context, userID string) ([]store.Skill, error)
	CreateSchedule(ctx context.Context, sc *store.Schedule) error
}

// CommandRunner executes skills.
type CommandRunner interface {
	Run(ctx context.Context, req skills.RunRequest) (*skills.RunResult, error)
}

// CommandKPIs fetches current KPIs.
type CommandKPIs interface {
	FetchCurrent(ctx context.Context, apiKey, externalCampaignID string, dr *windsor.DateRange) (windsor.KPIs, error)
}

// Commands implements the slash command and button handlers.
type Commands struct {
	Store  CommandStore
	Runner CommandRunner
	KPIs   CommandKPIs
	Pin    func(ctx context.Context, token, channelID, ts string) error
}

const (
	msgNoAccount   = "No Sentinel account linked to this workspace."
	msgNoClient    = "This channel is not linked to any client."
	msgNoDefault   = "Default skill not found. Please run `sentinel seed`."
	msgUnknownCmd  = "Unknown command. Use `/sentinel help` to see available commands."
	msgDateRange   = "Date range selection is not available from buttons yet. Ask me in the channel instead, for example \"Show me campaign X performance for the last 30 days\"."
	msgCommandFail = "An error occurred. Please try again."
)

var helpLines = []string{
	"`/sentinel report [campaign_name]`: generate a report for a campaign",
	"`/sentinel compare [campaign1] [campaign2]`: compare campaigns side by side",
	"`/sentinel schedule [daily|weekly] [HH:MM]`: schedule recurring reports for this channel",
	"`/sentinel skills`: list available skills",
	"`/sentinel help`: show this message",
}

// HandleCommand routes "/sentinel <sub> args".
func (c *Commands) HandleCommand(ctx context.Context, cmd slack.SlashCommand, respond Respond) error {
	sub, args, _ := strings.Cut(strings.TrimSpace(cmd.Text), " ")
	args = strings.TrimSpace(args)

	var err error
	switch strings.ToLower(sub) {
	case "", "help":
		return respond(ctx, helpResponse())
	case "report":
		err = c.report(ctx, cmd, args, respond)
	case "compare":
		err = c.compare(ctx, cmd, args, respond)
	case "schedule":
		err = c.schedule(ctx, cmd, args, respond)
	case "skills":
		err = c.listSkills(ctx, cmd, respond)
	default:
		return respond(ctx, Response{Text: msgUnknownCmd})
	}
	if err != nil {
		slog.Error("Slash command failed", "sub", sub, "team", cmd.TeamID, "channel", cmd.ChannelID, "error", err)
		return respond(ctx, Response{Text: msgCommandFail})
	}
	return nil
}

func helpResponse() Response {
	text := "*Sentinel, marketing report bot*\n\nAvailable commands:\n" + strings.Join(helpLines, "\n") +
		"\n\nYou can also mention me in any client channel and ask about your campaigns."
	return Response{
		Text:   text,
		Blocks: []slack.Block{slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)},
	}
}

// owner resolves the Sentinel user behind a workspace. A nil user means
// the workspace is not installed; the caller has already been told.
func (c *Commands) owner(ctx context.Context, teamID string, respond Respond) (*store.User, error) {
	ws, err := c.Store.WorkspaceByTeam(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, respond(ctx, Response{Text: msgNoAccount})
	}
	if err != nil {
		return nil, err
	}
	u, err := c.Store.GetUser(ctx, ws.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, respond(ctx, Response{Text: msgNoAccount})
	}
	return u, err
}

// channelClient resolves the user and the client linked to the channel.
func (c *Commands) channelClient(ctx context.Context, cmd slack.SlashCommand, respond Respond) (*store.User, *store.Client, error) {
	u, err := c.owner(ctx, cmd.TeamID, respond)
	if u == nil || err != nil {
		return nil, nil, err
	}
	cl, err := c.Store.ClientByChannel(ctx, u.ID, cmd.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, respond(ctx, Response{Text: msgNoClient})
	}
	if err != nil {
		return nil, nil, err
	}
	return u, cl, nil
}

// matchCampaign finds the first campaign whose name contains name, case
// insensitively.
func matchCampaign(campaigns []store.Campaign, name string) *store.Campaign {
	needle := strings.ToLower(name)
	for i := range campaigns {
		if strings.Contains(strings.ToLower(campaigns[i].Name), needle) {
			return &campaigns[i]
		}
	}
	return nil
}

func (c *Commands) report(ctx context.Context, cmd slack.SlashCommand, name string, respond Respond) error {
	if name == "" {
		return respond(ctx, Response{Text: "Please specify a campaign name: `/sentinel report [campaign_name]`"})
	}
	u, cl, err := c.channelClient(ctx, cmd, respond)
	if cl == nil || err != nil {
		return err
	}
	campaigns, err := c.Store.CampaignsForClient(ctx, cl.ID, false)
	if err != nil {
		return err
	}
	campaign := matchCampaign(campaigns, name)
	if campaign == nil {
		return respond(ctx, Response{Text: fmt.Sprintf("Campaign %q not found for this client.", name)})
	}
	def, err := c.Store.SkillByName(ctx, skills.DefaultSkillName, store.OriginSystem)
	if errors.Is(err, store.ErrNotFound) {
		return respond(ctx, Response{Text: msgNoDefault})
	}
	if err != nil {
		return err
	}

	if err := respond(ctx, Response{Text: fmt.Sprintf("Generating report for *%s*... This may take a moment.", campaign.Name)}); err != nil {
		return err
	}
	res, err := c.Runner.Run(ctx, skills.RunRequest{
		SkillID:    def.ID,
		CampaignID: campaign.ID,
		APIKey:     u.WindsorAPIKey,
		UserID:     u.ID,
		Trigger:    store.TriggerUser,
	})
	if err != nil {
		return err
	}
	return respond(ctx, Response{Text: res.Analysis, Blocks: ReportBlocks(res.Analysis, campaign.ID, def.ID)})
}

func (c *Commands) compare(ctx context.Context, cmd slack.SlashCommand, args string, respond Respond) error {
	names := strings.Fields(args)
	if len(names) < 2 {
		return respond(ctx, Response{Text: "Please specify two campaign names: `/sentinel compare [campaign1] [campaign2]`"})
	}
	u, cl, err := c.channelClient(ctx, cmd, respond)
	if cl == nil || err != nil {
		return err
	}
	if u.WindsorAPIKey == "" {
		return respond(ctx, Response{Text: "No Windsor.ai API key is configured for this account."})
	}
	campaigns, err := c.Store.CampaignsForClient(ctx, cl.ID, false)
	if err != nil {
		return err
	}
	matched := make([]*store.Campaign, len(names))
	var missing []string
	for i, n := range names {
		if matched[i] = matchCampaign(campaigns, n); matched[i] == nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return respond(ctx, Response{Text: "Campaign(s) not found: " + strings.Join(missing, ", ")})
	}

	if err := respond(ctx, Response{Text: "Comparing campaigns... This may take a moment."}); err != nil {
		return err
	}
	kpis := make([]windsor.KPIs, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	for i, camp := range matched {
		g.Go(func() error {
			k, err := c.KPIs.FetchCurrent(gctx, u.WindsorAPIKey, camp.ExternalID, nil)
			if err != nil {
				return err
			}
			kpis[i] = k
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lines := make([]string, len(matched))
	for i, camp := range matched {
		k := kpis[i]
		lines[i] = fmt.Sprintf("*%s*\nSpend: $%.2f | CTR: %.2f%% | ROAS: %.2f | Conversions: %g",
			camp.Name, k.Spend, k.CTR, k.ROAS, k.Conversions)
	}
	text := strings.Join(lines, "\n\n")
	return respond(ctx, Response{
		Text: text,
		Blocks: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Campaign Comparison", false, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		},
	})
}

func (c *Commands) schedule(ctx context.Context, cmd slack.SlashCommand, args string, respond Respond) error {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return respond(ctx, Response{Text: "Usage: `/sentinel schedule [daily|weekly] [HH:MM]`\nExample: `/sentinel schedule daily 09:00`"})
	}
	frequency, at := strings.ToLower(parts[0]), parts[1]
	expr, err := tools.CronFor(frequency, at)
	if err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			return respond(ctx, Response{Text: fmt.Sprintf("Invalid %s: %s.", verr.Field, verr.Msg)})
		}
		return err
	}

	u, cl, err := c.channelClient(ctx, cmd, respond)
	if cl == nil || err != nil {
		return err
	}
	campaigns, err := c.Store.CampaignsForClient(ctx, cl.ID, true)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		return respond(ctx, Response{Text: "No active campaigns found for this client."})
	}
	def, err := c.Store.SkillByName(ctx, skills.DefaultSkillName, store.OriginSystem)
	if errors.Is(err, store.ErrNotFound) {
		return respond(ctx, Response{Text: msgNoDefault})
	}
	if err != nil {
		return err
	}
	for _, camp := range campaigns {
		err := c.Store.CreateSchedule(ctx, &store.Schedule{
			ClientID:       cl.ID,
			CampaignID:     camp.ID,
			SkillID:        def.ID,
			CronExpression: expr,
			Timezone:       u.Timezone,
			Active:         true,
		})
		if err != nil {
			return err
		}
	}
	return respond(ctx, Response{Text: fmt.Sprintf("Scheduled %s reports at %s for %d campaign(s) in this channel.", frequency, at, len(campaigns))})
}

func (c *Commands) listSkills(ctx context.Context, cmd slack.SlashCommand, respond Respond) error {
	u, err := c.owner(ctx, cmd.TeamID, respond)
	if u == nil || err != nil {
		return err
	}
	list, err := c.Store.SkillsForUser(ctx, u.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return respond(ctx, Response{Text: "No skills available. Run `sentinel seed` to install the defaults."})
	}
	var b strings.Builder
	b.WriteString("*Available Skills:*")
	for _, sk := range list {
		fmt.Fprintf(&b, "\n• *%s* (%s): %s", sk.Name, sk.Category, sk.Description)
	}
	return respond(ctx, Response{Text: b.String()})
}

// HandleAction processes one report button click.
func (c *Commands) HandleAction(ctx context.Context, cb slack.InteractionCallback, action *slack.BlockAction, respond Respond) error {
	switch action.ActionID {
	case ActionRefresh:
		return c.refresh(ctx, cb.Team.ID, action.Value, respond)
	case ActionDateRange:
		return respond(ctx, Response{Text: msgDateRange})
	case ActionShare:
		return c.share(ctx, cb, respond)
	default:
		slog.Debug("Ignoring unknown Slack action", "action", action.ActionID)
		return nil
	}
}

func (c *Commands) refresh(ctx context.Context, teamID, value string, respond Respond) error {
	campaignID, skillID, ok := strings.Cut(value, ":")
	if !ok || campaignID == "" || skillID == "" {
		return respond(ctx, Response{Text: "This report can no longer be refreshed."})
	}
	u, err := c.owner(ctx, teamID, respond)
	if u == nil || err != nil {
		return err
	}
	if err := respond(ctx, Response{Text: "Refreshing report..."}); err != nil {
		return err
	}
	res, err := c.Runner.Run(ctx, skills.RunRequest{
		SkillID:    skillID,
		CampaignID: campaignID,
		APIKey:     u.WindsorAPIKey,
		UserID:     u.ID,
		Trigger:    store.TriggerUser,
	})
	if err != nil {
		slog.Error("Report refresh failed", "campaign", campaignID, "skill", skillID, "error", err)
		return respond(ctx, Response{Text: "An error occurred refreshing the report."})
	}
	return respond(ctx, Response{Text: res.Analysis, Blocks: ReportBlocks(res.Analysis, campaignID, skillID), Replace: true})
}

func (c *Commands) share(ctx context.Context, cb slack.InteractionCallback, respond Respond) error {
	channelID, ts := cb.Channel.ID, cb.Message.Timestamp
	if channelID == "" || ts == "" || c.Pin == nil {
		return respond(ctx, Response{Text: "Could not share the report."})
	}
	ws, err := c.Store.WorkspaceByTeam(ctx, cb.Team.ID)
	if errors.Is(err, store.ErrNotFound) {
		return respond(ctx, Response{Text: msgNoAccount})
	}
	if err != nil {
		return err
	}
	if err := c.Pin(ctx, ws.AccessToken, channelID, ts); err != nil {
		slog.Error("Report share failed", "channel", channelID, "error", err)
		return respond(ctx, Response{Text: "An error occurred sharing the report."})
	}
	return respond(ctx, Response{Text: "Report pinned to channel!"})
}
