package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/sentinelhq/sentinel/internal/agent"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/store"
)

// Conversation handles one mention end to end.
type Conversation interface {
	Handle(ctx context.Context, in agent.Inbound, r agent.Replier) error
}

// WorkspaceStore resolves bot tokens by team.
type WorkspaceStore interface {
	WorkspaceByTeam(ctx context.Context, teamID string) (*store.Workspace, error)
}

// GatewayDeps are the collaborators of a SlackGateway.
type GatewayDeps struct {
	Store     WorkspaceStore
	Agent     Conversation
	Commands  *Commands
	Messenger *Messenger
	// Respond overrides how command responses are sent. Defaults to the
	// request's response_url.
	Respond func(responseURL string) Respond
}

// SlackGateway receives events over Socket Mode. Every event is
// acknowledged before it is handled on its own goroutine.
type SlackGateway struct {
	cfg  config.SlackConfig
	deps GatewayDeps
	wg   sync.WaitGroup
}

// NewSlackGateway creates a gateway.
func NewSlackGateway(cfg config.SlackConfig, deps GatewayDeps) *SlackGateway {
	if deps.Respond == nil {
		deps.Respond = webhookResponder
	}
	return &SlackGateway{cfg: cfg, deps: deps}
}

// Run connects and processes events until ctx is done, then waits for
// in-flight handlers.
func (g *SlackGateway) Run(ctx context.Context) error {
	if g.cfg.AppToken == "" {
		return errors.New("slack app token is required for socket mode")
	}
	api := slack.New(g.cfg.BotToken, slack.OptionAppLevelToken(g.cfg.AppToken))
	client := socketmode.New(api)

	errc := make(chan error, 1)
	go func() { errc <- client.RunContext(ctx) }()
	slog.Info("Slack gateway started")

	defer func() {
		g.wg.Wait()
		slog.Info("Slack gateway stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("socket mode: %w", err)
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			g.dispatch(ctx, client, evt)
		}
	}
}

func (g *SlackGateway) dispatch(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Debug("Connecting to Slack...")
		return
	case socketmode.EventTypeConnected:
		slog.Info("Connected to Slack")
		return
	case socketmode.EventTypeConnectionError:
		slog.Warn("Slack connection error")
		return
	case socketmode.EventTypeEventsAPI, socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
	default:
		return
	}
	if evt.Request != nil {
		client.Ack(*evt.Request)
	}
	metrics.SlackEvents.WithLabelValues(string(evt.Type)).Inc()
	g.spawn(ctx, func(ctx context.Context) {
		switch data := evt.Data.(type) {
		case slackevents.EventsAPIEvent:
			g.HandleEventsAPI(ctx, data)
		case slack.SlashCommand:
			g.HandleSlashCommand(ctx, data)
		case slack.InteractionCallback:
			g.HandleInteraction(ctx, data)
		}
	})
}

func (g *SlackGateway) spawn(ctx context.Context, fn func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Slack handler panic", "panic", r)
			}
		}()
		fn(context.WithoutCancel(ctx))
	}()
}

// HandleEventsAPI routes app mentions to the conversation loop.
func (g *SlackGateway) HandleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	mention, ok := ev.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok || mention == nil || mention.BotID != "" {
		return
	}
	token, err := g.token(ctx, ev.TeamID)
	if err != nil {
		slog.Warn("Dropping mention: no bot token", "team", ev.TeamID, "error", err)
		return
	}
	in := agent.Inbound{
		TeamID:    ev.TeamID,
		ChannelID: mention.Channel,
		UserID:    mention.User,
		Text:      mention.Text,
	}
	if err := g.deps.Agent.Handle(ctx, in, g.deps.Messenger.Replier(token, mention.Channel)); err != nil {
		slog.Error("Mention handling failed", "team", ev.TeamID, "channel", mention.Channel, "error", err)
	}
}

// token returns the installed workspace's bot token, or the configured
// bot token for teams that have not installed yet so they can be told
// how to onboard.
func (g *SlackGateway) token(ctx context.Context, teamID string) (string, error) {
	ws, err := g.deps.Store.WorkspaceByTeam(ctx, teamID)
	if err == nil && ws.AccessToken != "" {
		return ws.AccessToken, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if g.cfg.BotToken != "" {
		return g.cfg.BotToken, nil
	}
	return "", fmt.Errorf("workspace %s not installed", teamID)
}

// HandleSlashCommand routes the configured command to Commands.
func (g *SlackGateway) HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	if want := g.cfg.Command; want != "" && !strings.EqualFold(cmd.Command, want) {
		slog.Debug("Ignoring slash command", "command", cmd.Command)
		return
	}
	if err := g.deps.Commands.HandleCommand(ctx, cmd, g.deps.Respond(cmd.ResponseURL)); err != nil {
		slog.Error("Slash command response failed", "command", cmd.Command, "error", err)
	}
}

// HandleInteraction routes block action clicks to Commands.
func (g *SlackGateway) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	respond := g.deps.Respond(cb.ResponseURL)
	for _, action := range cb.ActionCallback.BlockActions {
		if err := g.deps.Commands.HandleAction(ctx, cb, action, respond); err != nil {
			slog.Error("Slack action failed", "action", action.ActionID, "error", err)
		}
	}
}

// webhookResponder answers through a response_url. Responses are
// ephemeral unless they replace the original message.
func webhookResponder(responseURL string) Respond {
	return func(ctx context.Context, r Response) error {
		if responseURL == "" {
			return errors.New("missing response_url")
		}
		msg := &slack.WebhookMessage{Text: r.Text, ReplaceOriginal: r.Replace}
		if !r.Replace {
			msg.ResponseType = "ephemeral"
		}
		if len(r.Blocks) > 0 {
			msg.Blocks = &slack.Blocks{BlockSet: r.Blocks}
		}
		return slack.PostWebhookContext(ctx, responseURL, msg)
	}
}
