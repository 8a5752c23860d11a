// Package agent runs the conversational tool-use loop that turns a chat
// message into a reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/tools"
)

// Reply texts.
const (
	NoTextReply    = "I processed your request but have no text response."
	ApologyReply   = "Sorry, I encountered an error processing your request. Please try again."
	OnboardingText = "This Slack workspace is not connected to Sentinel yet. Please complete the installation from the Sentinel dashboard, then mention me again."
	StallText      = ":hourglass_flowing_sand: Still working on it, this may take a moment..."
)

// Defaults applied when Options leave a field zero.
const (
	DefaultMaxIterations = 10
	DefaultHistoryTurns  = 20
	DefaultMaxTokens     = 2048
	DefaultStallAfter    = 5 * time.Second
)

var mentionRe = regexp.MustCompile(`<@[^>]+>\s*`)

// Store is the persistence the orchestrator needs.
type Store interface {
	WorkspaceByTeam(ctx context.Context, teamID string) (*store.Workspace, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ClientByChannel(ctx context.Context, userID, channelID string) (*store.Client, error)
	LoadOrCreateChannelContext(ctx context.Context, channelID, teamID, clientID string) (*store.ChannelContext, error)
	SaveChannelContext(ctx context.Context, c *store.ChannelContext) error
}

// Dispatcher exposes the tool catalog and routes calls.
type Dispatcher interface {
	Definitions() []provider.ToolDefinition
	Dispatch(ctx context.Context, name string, params map[string]any, uc tools.UserContext) (string, error)
}

// Replier is a chat surface bound to one channel.
type Replier interface {
	// Post sends a new message and returns a reference for Update.
	Post(ctx context.Context, text string) (string, error)
	// Update replaces the text of a previously posted message.
	Update(ctx context.Context, ref, text string) error
}

// Inbound is one chat message addressed to the bot.
type Inbound struct {
	TeamID    string
	ChannelID string
	UserID    string
	Text      string
}

// Options configures an Orchestrator.
type Options struct {
	Store         Store
	Tools         Dispatcher
	Provider      provider.AIProvider
	MaxTokens     int
	MaxIterations int
	HistoryTurns  int
	StallAfter    time.Duration
	Now           func() time.Time
}

// Orchestrator handles inbound messages end to end.
type Orchestrator struct {
	store         Store
	tools         Dispatcher
	provider      provider.AIProvider
	maxTokens     int
	maxIterations int
	historyTurns  int
	stallAfter    time.Duration
	now           func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:         opts.Store,
		tools:         opts.Tools,
		provider:      opts.Provider,
		maxTokens:     opts.MaxTokens,
		maxIterations: opts.MaxIterations,
		historyTurns:  opts.HistoryTurns,
		stallAfter:    opts.StallAfter,
		now:           opts.Now,
	}
	if o.maxTokens <= 0 {
		o.maxTokens = DefaultMaxTokens
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.historyTurns <= 0 {
		o.historyTurns = DefaultHistoryTurns
	}
	if o.stallAfter <= 0 {
		o.stallAfter = DefaultStallAfter
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// StripMentions removes <@U...> mentions and surrounding space.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// Handle processes one message and always leaves the channel with either a
// reply or an apology. The returned error is for logging only.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound, r Replier) error {
	text := StripMentions(in.Text)
	if text == "" {
		return nil
	}

	ws, err := o.store.WorkspaceByTeam(ctx, in.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		_, perr := r.Post(ctx, OnboardingText)
		return perr
	}
	if err != nil {
		return o.apologize(ctx, r, nil, fmt.Errorf("resolve workspace: %w", err))
	}

	stall := startStall(ctx, r, o.stallAfter, StallText)
	defer stall.cancel()

	reply, cc, err := o.converse(ctx, in, ws, text)
	if err != nil {
		return o.apologize(ctx, r, stall, err)
	}
	if err := stall.deliver(ctx, reply); err != nil {
		slog.Error("Failed to deliver reply", "channel", in.ChannelID, "error", err)
	}

	userTurn := store.Turn{Role: store.RoleUser, Content: text, Timestamp: o.now().UTC()}
	botTurn := store.Turn{Role: store.RoleAssistant, Content: reply, Timestamp: o.now().UTC()}
	if err := o.persist(ctx, cc, userTurn, botTurn); err != nil {
		slog.Error("Failed to save channel context", "channel", in.ChannelID, "team", in.TeamID, "error", err)
		return err
	}
	return nil
}

func (o *Orchestrator) apologize(ctx context.Context, r Replier, stall *stallNotice, cause error) error {
	slog.Error("Message handling failed", "error", cause)
	var err error
	if stall != nil {
		err = stall.deliver(ctx, ApologyReply)
	} else {
		_, err = r.Post(ctx, ApologyReply)
	}
	if err != nil {
		slog.Error("Failed to post apology", "error", err)
	}
	return cause
}

// converse loads the conversation, runs the loop and returns the reply with
// the context it was built from.
func (o *Orchestrator) converse(ctx context.Context, in Inbound, ws *store.Workspace, text string) (string, *store.ChannelContext, error) {
	user, err := o.store.GetUser(ctx, ws.UserID)
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}
	client, err := o.store.ClientByChannel(ctx, user.ID, in.ChannelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("load channel client: %w", err)
	}
	clientID := ""
	if client != nil {
		clientID = client.ID
	}

	cc, err := o.store.LoadOrCreateChannelContext(ctx, in.ChannelID, in.TeamID, clientID)
	if err != nil {
		return "", nil, fmt.Errorf("load channel context: %w", err)
	}
	if cc.ClientID == "" && clientID != "" {
		cc.ClientID = clientID
	}

	messages := make([]provider.Message, 0, len(cc.History)+1)
	for _, t := range cc.History {
		messages = append(messages, turnMessage(t))
	}
	messages = append(messages, provider.UserText(text))

	uc := tools.UserContext{
		UserID:           user.ID,
		WindsorAPIKey:    user.WindsorAPIKey,
		SlackUserID:      in.UserID,
		OwnerSlackUserID: ws.OwnerSlackUserID,
		TeamID:           in.TeamID,
		ChannelID:        in.ChannelID,
	}
	res, err := o.Run(ctx, SystemPrompt(client, in.ChannelID, o.now()), messages, uc)
	if err != nil {
		return "", nil, err
	}
	return res.Text, cc, nil
}

func turnMessage(t store.Turn) provider.Message {
	if t.Role == store.RoleAssistant {
		return provider.AssistantText(t.Content)
	}
	return provider.UserText(t.Content)
}

// persist appends the exchange and saves it. A concurrent writer causes one
// reload and retry.
func (o *Orchestrator) persist(ctx context.Context, cc *store.ChannelContext, turns ...store.Turn) error {
	cc.History = append(cc.History, turns...)
	cc.Trim(o.historyTurns)
	err := o.store.SaveChannelContext(ctx, cc)
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	fresh, err := o.store.LoadOrCreateChannelContext(ctx, cc.ChannelID, cc.TeamID, cc.ClientID)
	if err != nil {
		return err
	}
	slog.Debug("Channel context changed concurrently, retrying save", "channel", cc.ChannelID, "version", fresh.Version)
	fresh.History = append(fresh.History, turns...)
	fresh.Trim(o.historyTurns)
	return o.store.SaveChannelContext(ctx, fresh)
}
