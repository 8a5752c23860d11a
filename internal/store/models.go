package store

import "time"

// User is a Sentinel account.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	WindsorAPIKey string    `json:"-"`
	Timezone      string    `json:"timezone"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Workspace is a Slack workspace installed by a user. A user may connect
// several; tokens are keyed by team id.
type Workspace struct {
	TeamID           string    `json:"teamId"`
	UserID           string    `json:"userId"`
	TeamName         string    `json:"teamName"`
	AccessToken      string    `json:"-"`
	BotUserID        string    `json:"botUserId,omitempty"`
	OwnerSlackUserID string    `json:"ownerSlackUserId,omitempty"`
	InstalledAt      time.Time `json:"installedAt"`
}

// Client is an advertiser account managed by a user.
type Client struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	SlackChannelID   string    `json:"slackChannelId"`
	WindsorAccountID string    `json:"windsorAccountId,omitempty"`
	Active           bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Campaign is a tracked ad campaign. ExternalID is the Facebook campaign id
// used to filter aggregator rows.
type Campaign struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"clientId"`
	Name       string    `json:"name"`
	ExternalID string    `json:"facebookCampaignId"`
	Active     bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CampaignMatch is a campaign search hit with its client's name attached.
type CampaignMatch struct {
	Campaign
	ClientName string `json:"clientName"`
}

// Snapshot is one day of stored KPIs for a campaign.
type Snapshot struct {
	CampaignID     string    `json:"campaignId"`
	Date           string    `json:"date"`
	Spend          float64   `json:"spend"`
	Impressions    float64   `json:"impressions"`
	Clicks         float64   `json:"clicks"`
	CTR            float64   `json:"ctr"`
	CPC            float64   `json:"cpc"`
	Conversions    float64   `json:"conversions"`
	ConversionRate float64   `json:"conversionRate"`
	ROAS           float64   `json:"roas"`
	Reach          float64   `json:"reach"`
	Frequency      float64   `json:"frequency"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// Skill origins.
const (
	OriginSystem = "system"
	OriginCustom = "custom"
)

// SkillParameter describes one template input of a skill.
type SkillParameter struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Required    bool     `json:"required" yaml:"required"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	Description string   `json:"description" yaml:"description"`
}

// Skill is a named prompt template.
type Skill struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	PromptTemplate string           `json:"promptTemplate"`
	Parameters     []SkillParameter `json:"parameters"`
	Category       string           `json:"category"`
	Origin         string           `json:"type"`
	CreatedBy      string           `json:"createdBy,omitempty"`
	Active         bool             `json:"isActive"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Schedule is a recurring report trigger.
type Schedule struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"clientId"`
	CampaignID     string     `json:"campaignId"`
	SkillID        string     `json:"skillId"`
	CronExpression string     `json:"cronExpression"`
	Timezone       string     `json:"timezone"`
	Active         bool       `json:"isActive"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Report trigger sources.
const (
	TriggerUser     = "user"
	TriggerSchedule = "schedule"
)

// Report is the stored output of one skill execution.
type Report struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	CampaignID  string    `json:"campaignId"`
	SkillID     string    `json:"skillId"`
	Content     string    `json:"content"`
	TriggeredBy string    `json:"triggeredBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a channel's conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelContext is the rolling conversation history of one channel.
type ChannelContext struct {
	ID        string
	ChannelID string
	TeamID    string
	ClientID  string
	History   []Turn
	Version   int64
	UpdatedAt time.Time
}

// Trim keeps only the most recent max turns.
func (c *ChannelContext) Trim(max int) {
	if max > 0 && len(c.History) > max {
		c.History = append([]Turn(nil), c.History[len(c.History)-max:]...)
	}
}
