package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelhq/sentinel/internal/channels"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/ops"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/scheduler"
	"github.com/sentinelhq/sentinel/internal/skills"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack gateway, scheduler, worker and ops server",
	RunE:  runServe,
}

var serveSignalNotify = signal.NotifyContext

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "🛰️ Sentinel Server")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, stop := serveSignalNotify(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	created, updated, err := skills.Seed(ctx, st)
	if err != nil {
		return fmt.Errorf("seed skills: %w", err)
	}
	slog.Info("System skills seeded", "created", created, "updated", updated)

	svc, err := buildServices(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer svc.release()

	q, err := queue.Open(cfg.Queue)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer q.Close()

	messenger := channels.NewMessenger("")
	worker := scheduler.NewWorker(cfg.Scheduler, scheduler.WorkerDeps{
		Store:     st,
		KPIs:      svc.gateway,
		Runner:    svc.runner,
		Deliverer: messenger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx, q) })

	opsHandler := &ops.Handler{Store: st}
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, st, q)
		opsHandler.Sweeps = sched
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		fmt.Fprintln(out, "Scheduler: disabled")
	}

	if cfg.Slack.Enabled {
		gw := channels.NewSlackGateway(cfg.Slack, channels.GatewayDeps{
			Store: st,
			Agent: svc.agent,
			Commands: &channels.Commands{
				Store:  st,
				Runner: svc.runner,
				KPIs:   svc.gateway,
				Pin:    messenger.Pin,
			},
			Messenger: messenger,
		})
		g.Go(func() error { return gw.Run(gctx) })
	} else {
		fmt.Fprintln(out, "Slack:     disabled")
	}

	if cfg.Ops.Enabled {
		g.Go(func() error { return ops.Serve(gctx, cfg.Ops.Addr, opsHandler) })
	}

	fmt.Fprintf(out, "Provider:  %s\nQueue:     %s\nDatabase:  %s\n", svc.provider.Name(), queueName(cfg.Queue), cfg.Database.Path)
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Fprintln(out, "Shut down.")
	return nil
}

func queueName(qc config.QueueConfig) string {
	if qc.Backend == "kafka" {
		return fmt.Sprintf("kafka (%s, topic %s)", qc.Brokers, qc.Topic)
	}
	return "memory"
}
