package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/store"
)

const formatting = "Be concise and data-driven. Format responses for Slack: *bold*, _italic_ and bullet points, no markdown headings or tables."

// SystemPrompt builds the system prompt. A channel linked to a client gets
// a client-scoped prompt; other channels get a generic one that points at
// account sync.
func SystemPrompt(client *store.Client, channelID string, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are Sentinel, a marketing report assistant. You help marketers analyze Facebook Ads campaigns ")
	b.WriteString("using tools that fetch campaign data, run analysis skills and manage report schedules.\n\n")
	fmt.Fprintf(&b, "Today is %s (UTC). The current Slack channel is %s.\n", now.UTC().Format("2006-01-02"), channelID)
	if client != nil {
		fmt.Fprintf(&b, "This channel is linked to the client %q (id %s). Assume questions are about this client unless told otherwise.\n", client.Name, client.ID)
	} else {
		b.WriteString("This channel is not linked to a client. Use search_clients_campaigns to resolve names into IDs. ")
		b.WriteString("If a client or campaign the user mentions cannot be found, offer to run sync_clients_and_campaigns to import the latest accounts.\n")
	}
	b.WriteString("Always resolve names to IDs with search_clients_campaigns before calling tools that take IDs.\n")
	b.WriteString(formatting)
	return b.String()
}
