package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/sentinelhq/sentinel/internal/agent"
	"github.com/sentinelhq/sentinel/internal/scheduler"
)

// Button action ids attached to report messages.
const (
	ActionRefresh   = "report_refresh"
	ActionDateRange = "report_date_range"
	ActionShare     = "report_share"
)

const maxSendAttempts = 3

// DeliveryError reports a Slack call that failed after retries.
type DeliveryError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("slack %s %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Messenger posts to Slack on behalf of installed workspaces. One API
// client is kept per bot token.
type Messenger struct {
	apiURL string
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	clients map[string]*slack.Client
}

// NewMessenger creates a Messenger. An empty apiURL means the public
// Slack API.
func NewMessenger(apiURL string) *Messenger {
	if apiURL != "" {
		apiURL = strings.TrimRight(apiURL, "/") + "/"
	}
	return &Messenger{apiURL: apiURL, sleep: sleepCtx, clients: make(map[string]*slack.Client)}
}

func (m *Messenger) client(token string) *slack.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[token]; ok {
		return c
	}
	var opts []slack.Option
	if m.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(m.apiURL))
	}
	c := slack.New(token, opts...)
	m.clients[token] = c
	return c
}

// Post sends a message and returns its timestamp.
func (m *Messenger) Post(ctx context.Context, token, channelID, text string, blocks ...slack.Block) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	var ts string
	err := m.withRetry(ctx, func() error {
		var err error
		_, ts, err = m.client(token).PostMessageContext(ctx, channelID, opts...)
		return err
	})
	if err != nil {
		return "", &DeliveryError{Op: "post", ChannelID: channelID, Err: err}
	}
	return ts, nil
}

// Update replaces the text of an existing message.
func (m *Messenger) Update(ctx context.Context, token, channelID, ts, text string) error {
	err := m.withRetry(ctx, func() error {
		_, _, _, err := m.client(token).UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return &DeliveryError{Op: "update", ChannelID: channelID, Err: err}
	}
	return nil
}

// Pin pins a message to its channel.
func (m *Messenger) Pin(ctx context.Context, token, channelID, ts string) error {
	err := m.withRetry(ctx, func() error {
		return m.client(token).AddPinContext(ctx, channelID, slack.ItemRef{Channel: channelID, Timestamp: ts})
	})
	if err != nil {
		return &DeliveryError{Op: "pin", ChannelID: channelID, Err: err}
	}
	return nil
}

// Deliver posts a scheduled report into the client's channel.
func (m *Messenger) Deliver(ctx context.Context, d scheduler.Delivery) error {
	if d.Result == nil {
		return errors.New("delivery without a result")
	}
	title := "Scheduled report"
	if d.Result.Campaign != nil {
		title = fmt.Sprintf("Scheduled report for *%s*", d.Result.Campaign.Name)
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), nil, nil),
	}
	blocks = append(blocks, ReportBlocks(d.Result.Analysis, campaignOf(d), skillOf(d))...)
	_, err := m.Post(ctx, d.Workspace.AccessToken, d.ChannelID, d.Result.Analysis, blocks...)
	return err
}

func campaignOf(d scheduler.Delivery) string {
	if d.Result.Campaign != nil {
		return d.Result.Campaign.ID
	}
	if d.Result.Report != nil {
		return d.Result.Report.CampaignID
	}
	return ""
}

func skillOf(d scheduler.Delivery) string {
	if d.Result.Skill != nil {
		return d.Result.Skill.ID
	}
	if d.Result.Report != nil {
		return d.Result.Report.SkillID
	}
	return ""
}

// Replier returns a reply handle for one channel.
func (m *Messenger) Replier(token, channelID string) agent.Replier {
	return &channelReplier{m: m, token: token, channelID: channelID}
}

type channelReplier struct {
	m         *Messenger
	token     string
	channelID string
}

func (r *channelReplier) Post(ctx context.Context, text string) (string, error) {
	return r.m.Post(ctx, r.token, r.channelID, text)
}

func (r *channelReplier) Update(ctx context.Context, ref, text string) error {
	return r.m.Update(ctx, r.token, r.channelID, ref, text)
}

// withRetry retries calls rejected by Slack's rate limiter after the
// advertised delay.
func (m *Messenger) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err = fn()
		var rle *slack.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxSendAttempts {
			return err
		}
		slog.Warn("Slack rate limited, retrying", "retry_after", rle.RetryAfter, "attempt", attempt)
		if serr := m.sleep(ctx, rle.RetryAfter); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportBlocks renders an analysis with the refresh, date range and share
// buttons. The refresh value carries "campaignID:skillID".
func ReportBlocks(analysis, campaignID, skillID string) []slack.Block {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, truncate(analysis, 2900), false, false), nil, nil)
	refresh := slack.NewButtonBlockElement(ActionRefresh, campaignID+":"+skillID,
		slack.NewTextBlockObject(slack.PlainTextType, "Refresh", false, false))
	dateRange := slack.NewButtonBlockElement(ActionDateRange, campaignID,
		slack.NewTextBlockObject(slack.PlainTextType, "Change Date Range", false, false))
	share := slack.NewButtonBlockElement(ActionShare, campaignID,
		slack.NewTextBlockObject(slack.PlainTextType, "Share", false, false))
	return []slack.Block{section, slack.NewActionBlock("report_actions", refresh, dateRange, share)}
}

// truncate keeps section text under Slack's 3000 character block limit.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n... (truncated)"
}
