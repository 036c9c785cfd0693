package models

import "time"

// WebhookEventStatus is the closed set of event queue states.
type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusCompleted  WebhookEventStatus = "completed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
	WebhookEventStatusDeadLetter WebhookEventStatus = "dead-letter"
)

// WebhookEvent is a durable inbound event. DeliveryID uniqueness
// enforces idempotency.
type WebhookEvent struct {
	ID          string
	DeliveryID  string
	Type        string
	Payload     map[string]any
	Status      WebhookEventStatus
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time
	Error       *string
	ReceivedAt  time.Time
	UpdatedAt   time.Time
}

// MissedRunPolicy controls how a Schedule behaves after downtime.
type MissedRunPolicy string

const (
	MissedRunFireOnceCatchup MissedRunPolicy = "fire_once_catchup"
	MissedRunSkip            MissedRunPolicy = "skip"
)

// Schedule is a cron definition plus its next/last-run bookkeeping.
type Schedule struct {
	ID         string
	Name       string
	Expression string
	AgentKind  AgentKind
	Task       string
	Enabled    bool
	MissedRun  MissedRunPolicy
	LastRun    *time.Time
	NextRun    time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScheduleRun is one historical firing of a Schedule.
type ScheduleRun struct {
	ID           string
	ScheduleID   string
	ScheduledFor time.Time
	FiredAt      time.Time
	DeliveryID   string
	WebhookEventID string
}

// AuditActorType is the closed set of AuditLog actor kinds.
type AuditActorType string

const (
	AuditActorUser      AuditActorType = "user"
	AuditActorSystem    AuditActorType = "system"
	AuditActorAgent     AuditActorType = "agent"
	AuditActorAPIKey    AuditActorType = "api_key"
	AuditActorWebhook   AuditActorType = "webhook"
)

// AuditLog is an append-only record of every externally-observable
// mutation in the system. Never mutated after insert.
type AuditLog struct {
	ID           string
	Timestamp    time.Time
	Actor        string
	ActorType    AuditActorType
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IP           string
	UserAgent    string
	Success      bool
	Error        *string
}
