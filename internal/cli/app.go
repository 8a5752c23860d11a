package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sentinelhq/sentinel/internal/agent"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/secrets"
	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/tools"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

// openStore opens the configured database, creating its directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	if err := config.EnsureDir(filepath.Dir(cfg.Database.Path)); err != nil {
		return nil, fmt.Errorf("database dir: %w", err)
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sealer, err := secrets.Load(cfg.Secrets)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("master key: %w", err)
	}
	if sealer != nil {
		st.SetSealer(sealer)
	}
	return st, nil
}

// newGateway builds the Windsor client with the in-memory cache, or the
// shared Redis cache when one is configured. The returned func releases
// the cache.
func newGateway(ctx context.Context, cfg *config.Config) (*windsor.Client, func(), error) {
	wc := cfg.Windsor
	opts := windsor.Options{
		BaseURL:     wc.BaseURL,
		Source:      wc.Source,
		CacheTTL:    time.Duration(wc.CacheTTLMinutes) * time.Minute,
		MaxAttempts: wc.MaxAttempts,
		BaseDelay:   time.Duration(wc.BackoffSeconds) * time.Second,
	}
	release := func() {}
	if wc.RedisAddr != "" {
		rc, err := windsor.NewRedisCache(ctx, windsor.RedisOptions{Addr: wc.RedisAddr, Password: wc.RedisPassword, DB: wc.RedisDB})
		if err != nil {
			return nil, nil, err
		}
		opts.Cache = rc
		release = func() {
			if err := rc.Close(); err != nil {
				slog.Warn("Closing KPI cache", "error", err)
			}
		}
		slog.Info("Using shared KPI cache", "addr", wc.RedisAddr)
	}
	return windsor.New(opts), release, nil
}

// services is the wired application core shared by serve and the
// one-shot commands.
type services struct {
	store    *store.Store
	gateway  *windsor.Client
	provider provider.AIProvider
	runner   *skills.Runner
	catalog  *tools.Registry
	agent    *agent.Orchestrator
	release  func()
}

func buildServices(ctx context.Context, cfg *config.Config, st *store.Store) (*services, error) {
	gw, release, err := newGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	prov, err := provider.Resolve(ctx, cfg)
	if err != nil {
		release()
		return nil, fmt.Errorf("provider: %w", err)
	}
	runner := &skills.Runner{Store: st, KPIs: gw, Provider: prov, MaxTokens: cfg.Model.MaxTokens}
	catalog := tools.NewCatalog(tools.Deps{
		Store:  st,
		KPIs:   gw,
		Runner: runner,
		Syncer: &windsor.Syncer{Source: gw, Store: st},
	})
	orch := agent.New(agent.Options{
		Store:         st,
		Tools:         catalog,
		Provider:      prov,
		MaxTokens:     cfg.Model.MaxTokens,
		MaxIterations: cfg.Model.MaxToolIterations,
		HistoryTurns:  cfg.Model.HistoryTurns,
		StallAfter:    time.Duration(cfg.Model.StallNoticeSeconds) * time.Second,
	})
	return &services{
		store:    st,
		gateway:  gw,
		provider: prov,
		runner:   runner,
		catalog:  catalog,
		agent:    orch,
		release:  release,
	}, nil
}
