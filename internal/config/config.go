// Package config provides configuration types and loading for sentinel.
package config

// Config is the root configuration struct.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Windsor   WindsorConfig   `json:"windsor"`
	Slack     SlackConfig     `json:"slack"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queue     QueueConfig     `json:"queue"`
	Ops       OpsConfig       `json:"ops"`
	Secrets   SecretsConfig   `json:"secrets"`
}

// ---------------------------------------------------------------------------
// Database – relational store
// ---------------------------------------------------------------------------

// DatabaseConfig selects the sqlite driver and file. Tags carry the group
// name so envconfig's unprefixed fallback never picks up $PATH.
type DatabaseConfig struct {
	Driver string `json:"driver" envconfig:"DATABASE_DRIVER"` // "sqlite" (modernc) or "sqlite3" (mattn)
	Path   string `json:"path" envconfig:"DATABASE_PATH"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups model and conversation-loop settings.
type ModelConfig struct {
	Provider           string `json:"provider" envconfig:"PROVIDER"`
	Name               string `json:"name" envconfig:"NAME"`
	MaxTokens          int    `json:"maxTokens" envconfig:"MAX_TOKENS"`
	MaxToolIterations  int    `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	HistoryTurns       int    `json:"historyTurns" envconfig:"HISTORY_TURNS"`
	StallNoticeSeconds int    `json:"stallNoticeSeconds" envconfig:"STALL_NOTICE_SECONDS"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains the AI backends.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	Gemini    ProviderConfig `json:"gemini"`
}

// ProviderConfig contains settings for a single AI backend.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model   string `json:"model,omitempty" envconfig:"MODEL"`
}

// ---------------------------------------------------------------------------
// Windsor – KPI aggregator
// ---------------------------------------------------------------------------

// WindsorConfig configures the KPI gateway and its cache.
type WindsorConfig struct {
	BaseURL         string `json:"baseUrl" envconfig:"BASE_URL"`
	Source          string `json:"source" envconfig:"SOURCE"`
	CacheTTLMinutes int    `json:"cacheTtlMinutes" envconfig:"CACHE_TTL_MINUTES"`
	MaxAttempts     int    `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	BackoffSeconds  int    `json:"backoffSeconds" envconfig:"BACKOFF_SECONDS"`
	RedisAddr       string `json:"redisAddr,omitempty" envconfig:"REDIS_ADDR"`
	RedisPassword   string `json:"redisPassword,omitempty" envconfig:"REDIS_PASSWORD"`
	RedisDB         int    `json:"redisDb,omitempty" envconfig:"REDIS_DB"`
}

// ---------------------------------------------------------------------------
// Slack – chat surface
// ---------------------------------------------------------------------------

// SlackConfig configures the socket-mode gateway.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	AppToken string `json:"appToken" envconfig:"APP_TOKEN"`
	BotToken string `json:"botToken,omitempty" envconfig:"BOT_TOKEN"`
	Command  string `json:"command" envconfig:"COMMAND"`
}

// ---------------------------------------------------------------------------
// Scheduler – sweeps
// ---------------------------------------------------------------------------

// SchedulerConfig contains the sweep cadences and worker limits.
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"ENABLED"`
	RefreshSpec    string `json:"refreshSpec" envconfig:"REFRESH_SPEC"`
	ReportSpec     string `json:"reportSpec" envconfig:"REPORT_SPEC"`
	CleanupSpec    string `json:"cleanupSpec" envconfig:"CLEANUP_SPEC"`
	RetentionDays  int    `json:"retentionDays" envconfig:"RETENTION_DAYS"`
	MaxConcLLM     int    `json:"maxConcLLM" envconfig:"MAX_CONC_LLM"`
	MaxConcDefault int    `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
	LockPath       string `json:"lockPath" envconfig:"LOCK_PATH"`
}

// ---------------------------------------------------------------------------
// Queue – job transport
// ---------------------------------------------------------------------------

// QueueConfig selects the job transport.
type QueueConfig struct {
	Backend string `json:"backend" envconfig:"BACKEND"` // "memory" or "kafka"
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
	GroupID string `json:"groupId" envconfig:"GROUP_ID"`
	Buffer  int    `json:"buffer" envconfig:"BUFFER"`
}

// ---------------------------------------------------------------------------
// Ops – health and metrics endpoint
// ---------------------------------------------------------------------------

// OpsConfig configures the ops HTTP server.
type OpsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// ---------------------------------------------------------------------------
// Secrets – credential encryption at rest
// ---------------------------------------------------------------------------

// SecretsConfig selects where the master key for stored credentials lives.
type SecretsConfig struct {
	Backend   string `json:"backend" envconfig:"BACKEND"` // "file", "keyring", "auto" or "none"
	KeyFile   string `json:"keyFile" envconfig:"KEY_FILE"`
	MasterKey string `json:"-" envconfig:"MASTER_KEY"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.sentinel/sentinel.db",
		},
		Model: ModelConfig{
			Provider:           "anthropic",
			MaxTokens:          2048,
			MaxToolIterations:  10,
			HistoryTurns:       20,
			StallNoticeSeconds: 5,
		},
		Windsor: WindsorConfig{
			BaseURL:         "https://connectors.windsor.ai/all",
			Source:          "facebook",
			CacheTTLMinutes: 15,
			MaxAttempts:     3,
			BackoffSeconds:  2,
		},
		Slack: SlackConfig{
			Command: "/sentinel",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			RefreshSpec:    "0 * * * *",
			ReportSpec:     "* * * * *",
			CleanupSpec:    "0 0 * * *",
			RetentionDays:  90,
			MaxConcLLM:     3,
			MaxConcDefault: 5,
			LockPath:       "~/.sentinel/scheduler.lock",
		},
		Queue: QueueConfig{
			Backend: "memory",
			Topic:   "sentinel.jobs",
			GroupID: "sentinel-workers",
			Buffer:  256,
		},
		Ops: OpsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Secrets: SecretsConfig{
			Backend: "file",
			KeyFile: "~/.sentinel/master.key",
		},
	}
}
