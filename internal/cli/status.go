package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ Sentinel Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 Sentinel Status")
		fmt.Fprintf(out, "Version:   %s\n", version)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if path, err := config.ConfigPath(); err == nil {
			fmt.Fprintf(out, "Config:    %s\n", path)
		}
		fmt.Fprintf(out, "Model:     %s %s\n", cfg.Model.Provider, cfg.Model.Name)
		fmt.Fprintf(out, "API key:   %s\n", found(providerKey(cfg) != ""))
		fmt.Fprintf(out, "Slack:     %s\n", check(cfg.Slack.Enabled))
		fmt.Fprintf(out, "Scheduler: %s\n", check(cfg.Scheduler.Enabled))
		fmt.Fprintf(out, "Queue:     %s\n", queueName(cfg.Queue))
		fmt.Fprintf(out, "Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
		fmt.Fprintf(out, "Secrets:   %s\n", cfg.Secrets.Backend)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		counts, err := st.Counts(cmd.Context())
		if err != nil {
			return err
		}
		tables := make([]string, 0, len(counts))
		for t := range counts {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(out, "  %-17s %d\n", t, counts[t])
		}
		return nil
	},
}

func providerKey(cfg *config.Config) string {
	if cfg.Model.Provider == "gemini" {
		return cfg.Providers.Gemini.APIKey
	}
	return cfg.Providers.Anthropic.APIKey
}

func check(ok bool) string {
	if ok {
		return "✓ enabled"
	}
	return "✗ disabled"
}

func found(ok bool) string {
	if ok {
		return "✓ found"
	}
	return "✗ not found"
}
