package config

import "fmt"

// Validate checks the cross-field rules Default() alone can't enforce,
// failing fast on the first invalid field.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return NewValidationError("store", "path", fmt.Errorf("must not be empty"))
	}
	if cfg.Queue.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("must be at least 1, got %d", cfg.Queue.WorkerCount))
	}
	if cfg.Queue.MaxConcurrentEvents < 1 {
		return NewValidationError("queue", "max_concurrent_events", fmt.Errorf("must be at least 1, got %d", cfg.Queue.MaxConcurrentEvents))
	}
	if cfg.Queue.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("must be positive, got %v", cfg.Queue.PollInterval))
	}
	if cfg.Queue.PollIntervalJitter >= cfg.Queue.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter", fmt.Errorf("must be less than poll_interval"))
	}
	if cfg.Scheduler.TickInterval <= 0 {
		return NewValidationError("scheduler", "tick_interval", fmt.Errorf("must be positive"))
	}
	if cfg.Autonomous.MaxReviewIterations < 1 {
		return NewValidationError("autonomous", "max_review_iterations", fmt.Errorf("must be at least 1"))
	}
	if cfg.Autonomous.SummaryTokenCap < 1 {
		return NewValidationError("autonomous", "summary_token_cap", fmt.Errorf("must be at least 1"))
	}
	for kind, rule := range cfg.Webhooks {
		if rule.AgentKind == "" {
			return NewValidationError("webhooks", kind, fmt.Errorf("agent_kind must not be empty"))
		}
	}
	return nil
}
