// Package config loads the daemon's text configuration file and
// resolves secrets from the environment: secrets are read from
// environment variables, everything else from a YAML file at a
// canonical path.
package config

import "time"

// Config is the fully resolved daemon configuration: everything
// needed to construct a coordinator.Config and store.Config except
// the secrets, which are never read from this struct's source file.
type Config struct {
	configDir string

	Store     StoreConfig
	HTTP      HTTPConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
	Webhooks  WebhookRegistry
	Adapters  AdapterConfig
	Autonomous AutonomousConfig
}

// ConfigDir returns the directory the config file was loaded from,
// used to resolve pipeline-definition file paths given relative to it.
func (c *Config) ConfigDir() string { return c.configDir }

// StoreConfig controls the embedded sqlite file.
type StoreConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// HTTPConfig controls the webhook/health/metrics HTTP listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// QueueConfig controls the event queue worker pool.
type QueueConfig struct {
	WorkerCount         int           `yaml:"worker_count"`
	MaxConcurrentEvents int           `yaml:"max_concurrent_events"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	PollIntervalJitter  time.Duration `yaml:"poll_interval_jitter"`
}

// SchedulerConfig controls the cron evaluator loop cadence.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// AutonomousConfig controls the autonomous controller's default
// tunables, overridable per-epic via AutonomousSession.config blob.
type AutonomousConfig struct {
	MaxReviewIterations int    `yaml:"max_review_iterations"`
	SummaryTokenCap     int    `yaml:"summary_token_cap"`
	StandardModel       string `yaml:"standard_model"`
	PremiumModel        string `yaml:"premium_model"`
	FastModel           string `yaml:"fast_model"`
}

// AdapterConfig names the environment variables holding adapter
// secrets, which are env-only and never stored in the YAML file. Only
// the env var *names* are configurable; values are resolved at
// startup by cmd/orchestratord.
type AdapterConfig struct {
	LLMAPIKeyEnv       string `yaml:"llm_api_key_env"`
	ForgeTokenEnv      string `yaml:"forge_token_env"`
	CITokenEnv         string `yaml:"ci_token_env"`
	WebhookSecretEnv   string `yaml:"webhook_secret_env"`
	SlackTokenEnv      string `yaml:"slack_token_env"`
	SlackChannel       string `yaml:"slack_channel"`
}
