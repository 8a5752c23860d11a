package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".sentinel"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SENTINEL_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SENTINEL_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFiles()

	path, err := ConfigPath()
	if err == nil {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	groups := []struct {
		prefix string
		spec   any
	}{
		{"SENTINEL", &cfg.Database},
		{"SENTINEL_MODEL", &cfg.Model},
		{"SENTINEL_ANTHROPIC", &cfg.Providers.Anthropic},
		{"SENTINEL_GEMINI", &cfg.Providers.Gemini},
		{"SENTINEL_WINDSOR", &cfg.Windsor},
		{"SENTINEL_SLACK", &cfg.Slack},
		{"SENTINEL_SCHEDULER", &cfg.Scheduler},
		{"SENTINEL_QUEUE", &cfg.Queue},
		{"SENTINEL_OPS", &cfg.Ops},
		{"SENTINEL_SECRETS", &cfg.Secrets},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return nil, fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	// Conventional key names used by the SDKs.
	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.Gemini.APIKey == "" {
		cfg.Providers.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if p, err := expandHome(cfg.Database.Path); err == nil {
		cfg.Database.Path = p
	}
	if p, err := expandHome(cfg.Scheduler.LockPath); err == nil {
		cfg.Scheduler.LockPath = p
	}
	if p, err := expandHome(cfg.Secrets.KeyFile); err == nil {
		cfg.Secrets.KeyFile = p
	}

	normalize(cfg)
	return cfg, nil
}

// normalize replaces zero or out-of-range values with defaults.
func normalize(cfg *Config) {
	def := DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "sqlite", "sqlite3":
		cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	default:
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Model.MaxToolIterations <= 0 {
		cfg.Model.MaxToolIterations = def.Model.MaxToolIterations
	}
	if cfg.Model.HistoryTurns <= 0 {
		cfg.Model.HistoryTurns = def.Model.HistoryTurns
	}
	if cfg.Model.StallNoticeSeconds <= 0 {
		cfg.Model.StallNoticeSeconds = def.Model.StallNoticeSeconds
	}
	if cfg.Windsor.CacheTTLMinutes <= 0 {
		cfg.Windsor.CacheTTLMinutes = def.Windsor.CacheTTLMinutes
	}
	if cfg.Windsor.MaxAttempts <= 0 {
		cfg.Windsor.MaxAttempts = def.Windsor.MaxAttempts
	}
	if cfg.Windsor.BackoffSeconds <= 0 {
		cfg.Windsor.BackoffSeconds = def.Windsor.BackoffSeconds
	}
	if cfg.Scheduler.RetentionDays <= 0 {
		cfg.Scheduler.RetentionDays = def.Scheduler.RetentionDays
	}
	if cfg.Scheduler.MaxConcLLM <= 0 {
		cfg.Scheduler.MaxConcLLM = def.Scheduler.MaxConcLLM
	}
	if cfg.Scheduler.MaxConcDefault <= 0 {
		cfg.Scheduler.MaxConcDefault = def.Scheduler.MaxConcDefault
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Queue.Backend)) {
	case "kafka":
		cfg.Queue.Backend = "kafka"
	default:
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Buffer <= 0 {
		cfg.Queue.Buffer = def.Queue.Buffer
	}
	if cfg.Slack.Command == "" {
		cfg.Slack.Command = def.Slack.Command
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Secrets.Backend)) {
	case "file", "keyring", "auto", "none":
		cfg.Secrets.Backend = strings.ToLower(strings.TrimSpace(cfg.Secrets.Backend))
	default:
		cfg.Secrets.Backend = def.Secrets.Backend
	}
	if cfg.Secrets.KeyFile == "" {
		cfg.Secrets.KeyFile = def.Secrets.KeyFile
		if p, err := expandHome(cfg.Secrets.KeyFile); err == nil {
			cfg.Secrets.KeyFile = p
		}
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
