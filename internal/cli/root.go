package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/sentinelhq/sentinel/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____             _   _            _\n" +
		" / ___|  ___ _ __ | |_(_)_ __   ___| |\n" +
		" \\___ \\ / _ \\ '_ \\| __| | '_ \\ / _ \\ |\n" +
		"  ___) |  __/ | | | |_| | | | |  __/ |\n" +
		" |____/ \\___|_| |_|\\__|_|_| |_|\\___|_|\n"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - campaign reporting assistant for Slack",
	Long:  color.CyanString(logo) + "\nConversational Facebook Ads reporting backed by Windsor.ai and an LLM.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(syncCmd)
}

// setupLogging installs the default slog handler. SENTINEL_LOG_FORMAT=json
// switches to JSON output; --verbose wins over SENTINEL_LOG_LEVEL.
func setupLogging(w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("SENTINEL_LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(os.Getenv("SENTINEL_LOG_FORMAT"), "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
