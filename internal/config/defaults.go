package config

import "time"

// Default returns the built-in configuration, used as the merge base
// before a YAML file's values override it.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:            "orchestrator.db",
			MaxOpenConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Queue: QueueConfig{
			WorkerCount:         4,
			MaxConcurrentEvents: 16,
			PollInterval:        2 * time.Second,
			PollIntervalJitter:  500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			TickInterval: time.Minute,
		},
		Retention: RetentionConfig{
			WorktreeTTL:     24 * time.Hour,
			WebhookEventTTL: 7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Webhooks: DefaultWebhookRegistry(),
		Adapters: AdapterConfig{
			LLMAPIKeyEnv:     "ANTHROPIC_API_KEY",
			ForgeTokenEnv:    "FORGE_TOKEN",
			CITokenEnv:       "CI_TOKEN",
			WebhookSecretEnv: "WEBHOOK_SECRET",
			SlackTokenEnv:    "SLACK_BOT_TOKEN",
		},
		Autonomous: AutonomousConfig{
			MaxReviewIterations: 3,
			SummaryTokenCap:     2000,
			StandardModel:       "claude-sonnet-4-5",
			PremiumModel:        "claude-opus-4-1",
			FastModel:           "claude-haiku-4-5",
		},
	}
}

// RetentionConfig controls the background retention sweep that
// reclaims stale worktrees and purges old terminal webhook events.
type RetentionConfig struct {
	// WorktreeTTL is how long a worktree may sit in Stale before the
	// sweep removes it from disk and the store.
	WorktreeTTL time.Duration `yaml:"worktree_ttl"`
	// WebhookEventTTL is the max age of a terminal (completed or
	// dead-letter) webhook event before it is purged.
	WebhookEventTTL time.Duration `yaml:"webhook_event_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}
