package config

import "github.com/agentflow/orchestrator/internal/models"

// WebhookRule maps one recognised webhook event kind to the agent kind
// it should spawn and the filter gating which deliveries qualify.
type WebhookRule struct {
	AgentKind models.AgentKind `yaml:"agent_kind"`
	Filter    WebhookFilter    `yaml:"filter"`
}

// WebhookFilter is the closed set of supported filter keys. Keys
// combine with AND; values within one key's list combine with OR.
// A zero-value filter (no keys set) accepts everything.
type WebhookFilter struct {
	BaseBranch []string `yaml:"base_branch,omitempty"`
	SkipForks  *bool    `yaml:"skip_forks,omitempty"`
	Conclusion []string `yaml:"conclusion,omitempty"`
	Labels     []string `yaml:"labels,omitempty"`
	Author     []string `yaml:"author,omitempty"`
	Paths      []string `yaml:"paths,omitempty"`
}

// WebhookRegistry is the event-kind → rule map loaded from the
// webhooks section of the configuration file.
type WebhookRegistry map[string]WebhookRule

// DefaultWebhookRegistry wires every recognised event kind to a
// sensible agent-kind default with no filter, so an operator who never
// touches the webhooks section of the config file still gets working
// ingestion.
func DefaultWebhookRegistry() WebhookRegistry {
	return WebhookRegistry{
		"pull_request.opened":            {AgentKind: models.AgentKindPrShepherd},
		"pull_request_review.submitted":   {AgentKind: models.AgentKindCodeReviewer},
		"check_run.completed":            {AgentKind: models.AgentKindPrController},
		"check_suite.completed":          {AgentKind: models.AgentKindPrController},
		"push":                           {AgentKind: models.AgentKindExplorer},
		"issues.opened":                  {AgentKind: models.AgentKindIssueFixer},
	}
}
