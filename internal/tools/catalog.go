package tools

import (
	"context"

	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// Store is the subset of the domain store the catalog uses.
type Store interface {
	ClientForUser(ctx context.Context, id, userID string) (*store.Client, error)
	ClientByChannel(ctx context.Context, userID, channelID string) (*store.Client, error)
	UpdateClient(ctx context.Context, c *store.Client) error
	SearchClients(ctx context.Context, userID, query string, limit int) ([]store.Client, error)
	DeleteClient(ctx context.Context, id string) (store.DeleteResult, error)

	CampaignForUser(ctx context.Context, id, userID string) (*store.CampaignMatch, error)
	CampaignsForClient(ctx context.Context, clientID string, activeOnly bool) ([]store.Campaign, error)
	SearchCampaigns(ctx context.Context, userID, query string, limit int) ([]store.CampaignMatch, error)

	SkillsForUser(ctx context.Context, userID string) ([]store.Skill, error)
	SkillByName(ctx context.Context, name, origin string) (*store.Skill, error)
	GetSkill(ctx context.Context, id string) (*store.Skill, error)

	CreateSchedule(ctx context.Context, sc *store.Schedule) error
	RecentReports(ctx context.Context, clientID string, limit int) ([]store.Report, error)
	SetContextClient(ctx context.Context, channelID, teamID, clientID string) error
}

// KPISource is the aggregator gateway as seen by the catalog.
type KPISource interface {
	FetchCurrent(ctx context.Context, apiKey, externalCampaignID string, dr *windsor.DateRange) (windsor.KPIs, error)
	FetchHistory(ctx context.Context, apiKey, externalCampaignID, metric string, dr windsor.DateRange) ([]windsor.DataPoint, error)
}

// SkillRunner executes a skill end to end.
type SkillRunner interface {
	Run(ctx context.Context, req skills.RunRequest) (*skills.RunResult, error)
}

// CampaignSyncer mirrors aggregator accounts into the store.
type CampaignSyncer interface {
	Sync(ctx context.Context, userID, apiKey string) (windsor.SyncResult, error)
}

// Deps are the collaborators shared by catalog tools.
type Deps struct {
	Store  Store
	KPIs   KPISource
	Runner SkillRunner
	Syncer CampaignSyncer
}

// NewCatalog registers every Sentinel tool.
func NewCatalog(d Deps) *Registry {
	r := NewRegistry()
	r.Register(&SearchTool{store: d.Store})
	r.Register(&GetCampaignsTool{store: d.Store})
	r.Register(&CampaignKPIsTool{store: d.Store, kpis: d.KPIs})
	r.Register(&CompareCampaignsTool{store: d.Store, kpis: d.KPIs})
	r.Register(&HistoricalDataTool{store: d.Store, kpis: d.KPIs})
	r.Register(&RunSkillTool{runner: d.Runner})
	r.Register(&ListSkillsTool{store: d.Store})
	r.Register(&ClientContextTool{store: d.Store})
	r.Register(&CreateScheduleTool{store: d.Store})
	r.Register(&SyncTool{syncer: d.Syncer})
	r.Register(&LinkChannelTool{store: d.Store})
	r.Register(&UnlinkChannelTool{store: d.Store})
	r.Register(&DeleteClientTool{store: d.Store})
	return r
}
