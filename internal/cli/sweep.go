package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/channels"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/scheduler"
	"github.com/sentinelhq/sentinel/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:       "sweep refresh|reports|cleanup",
	Short:     "Run one sweep now and process the jobs it enqueues",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{scheduler.SweepRefresh, scheduler.SweepReports, scheduler.SweepCleanup},
	RunE:      runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	name := args[0]
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := cmd.Context()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.NewMemoryQueue(cfg.Queue.Buffer)
	sched := scheduler.New(cfg.Scheduler, st, q)
	stats, err := sched.RunSweep(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sweep %s: examined %d, enqueued %d, skipped %d, failed %d, deleted %d\n",
		stats.Sweep, stats.Examined, stats.Enqueued, stats.Skipped, stats.Failed, stats.Deleted)
	if stats.Enqueued == 0 {
		q.Close()
		return nil
	}
	return drainJobs(ctx, cfg, st, q)
}

// drainJobs runs every queued job in-process, then returns.
func drainJobs(ctx context.Context, cfg *config.Config, st *store.Store, q *queue.MemoryQueue) error {
	svc, err := buildServices(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer svc.release()
	worker := scheduler.NewWorker(cfg.Scheduler, scheduler.WorkerDeps{
		Store:     st,
		KPIs:      svc.gateway,
		Runner:    svc.runner,
		Deliverer: channels.NewMessenger(""),
	})
	q.Close()
	return worker.Run(ctx, q)
}
