package models

import "time"

// AutonomousState is the controller's own meta-state-machine states.
type AutonomousState string

const (
	AutonomousStateIdle         AutonomousState = "idle"
	AutonomousStateAnalyzing    AutonomousState = "analyzing"
	AutonomousStateDiscovering  AutonomousState = "discovering"
	AutonomousStatePlanning     AutonomousState = "planning"
	AutonomousStateExecuting    AutonomousState = "executing"
	AutonomousStateReviewing    AutonomousState = "reviewing"
	AutonomousStatePrCreation   AutonomousState = "pr_creation"
	AutonomousStatePrMonitoring AutonomousState = "pr_monitoring"
	AutonomousStatePrFixing     AutonomousState = "pr_fixing"
	AutonomousStatePrMerging    AutonomousState = "pr_merging"
	AutonomousStateCompleting   AutonomousState = "completing"
	AutonomousStateBlocked      AutonomousState = "blocked"
	AutonomousStatePaused       AutonomousState = "paused"
	AutonomousStateDone         AutonomousState = "done"
)

// WorkQueueItem is one entry in an AutonomousSession's ordered pending
// work list (typically a story reference).
type WorkQueueItem struct {
	StoryID  string `json:"story_id"`
	Sequence int    `json:"sequence"`
}

// AutonomousMetrics tracks running counters the controller reports
// through the `epic auto-status` surface.
type AutonomousMetrics struct {
	StoriesCompleted int `json:"stories_completed"`
	ReviewIterations int `json:"review_iterations"`
	RecoveryAttempts int `json:"recovery_attempts"`
	PRsMerged        int `json:"prs_merged"`
}

// AutonomousSession is the controller's persisted run state for one
// epic being driven end-to-end.
type AutonomousSession struct {
	ID              string
	EpicID          string
	State           AutonomousState
	CurrentStoryID  *string
	CurrentAgentID  *string
	Config          map[string]any
	WorkQueue       []WorkQueueItem
	CompletedItems  []WorkQueueItem
	Metrics         AutonomousMetrics
	ErrorReason     *string
	BlockedReason   *string
	PauseReason     *string
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ContinuationStatus is the closed set of AgentContinuation states.
type ContinuationStatus string

const (
	ContinuationStatusPending   ContinuationStatus = "pending"
	ContinuationStatusExecuting ContinuationStatus = "executing"
	ContinuationStatusCompleted ContinuationStatus = "completed"
	ContinuationStatusFailed    ContinuationStatus = "failed"
	ContinuationStatusCancelled ContinuationStatus = "cancelled"
)

// AgentContinuation is a queued request to resume a completed agent
// with additional input (structured feedback from review, etc). Only
// agents in Completed may be targeted; Terminated is rejected with
// InvariantViolation.
type AgentContinuation struct {
	ID        string
	AgentID   string
	Reason    string
	Message   string
	Context   map[string]any
	Status    ContinuationStatus
	Result    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EdgeCaseKind is the closed set of recognised external anomalies.
type EdgeCaseKind string

const (
	EdgeCaseDelayedCIReview  EdgeCaseKind = "delayed-ci-review"
	EdgeCaseMergeConflict    EdgeCaseKind = "merge-conflict"
	EdgeCaseFlakyTest        EdgeCaseKind = "flaky-test"
	EdgeCaseServiceDowntime  EdgeCaseKind = "service-downtime"
	EdgeCaseDependencyFailure EdgeCaseKind = "dependency-failure"
	EdgeCaseReviewPingPong   EdgeCaseKind = "review-ping-pong"
	EdgeCaseContextOverflow  EdgeCaseKind = "context-overflow"
	EdgeCaseRateLimit        EdgeCaseKind = "rate-limit"
	EdgeCaseTimeout          EdgeCaseKind = "timeout"
	EdgeCaseAuthError        EdgeCaseKind = "auth-error"
	EdgeCaseNetworkError     EdgeCaseKind = "network-error"
	EdgeCaseUnknown          EdgeCaseKind = "unknown"
)

// EdgeCaseEvent is an observation row recording one detected anomaly.
type EdgeCaseEvent struct {
	ID                  string
	AutonomousSessionID string
	Kind                EdgeCaseKind
	Detail              map[string]any
	CreatedAt           time.Time
}

// EdgeCaseLearning is a learned remedy pattern associated with an
// EdgeCaseKind, accumulated across sessions.
type EdgeCaseLearning struct {
	ID         string
	Kind       EdgeCaseKind
	Remedy     string
	TimesSeen  int
	LastSeenAt time.Time
}

// StuckDetectionKind enumerates the per-agent stuck heuristics.
type StuckDetectionKind string

const (
	StuckNoProgress       StuckDetectionKind = "no_progress"
	StuckTurnBudget       StuckDetectionKind = "turn_budget_exhausted"
	StuckCIStale          StuckDetectionKind = "ci_stale"
	StuckReviewSLA        StuckDetectionKind = "review_sla_exceeded"
	StuckRepeatedError    StuckDetectionKind = "repeated_error"
	StuckContextNearCap   StuckDetectionKind = "context_near_cap"
)

// StuckDetection is an observation row written whenever a stuck
// heuristic fires positive for an agent.
type StuckDetection struct {
	ID        string
	AgentID   string
	Kind      StuckDetectionKind
	Detail    map[string]any
	CreatedAt time.Time
}

// RecoveryAction enumerates the actions the recovery policy table can take.
type RecoveryAction string

const (
	RecoveryForkSession     RecoveryAction = "fork_session"
	RecoveryEscalateModel   RecoveryAction = "escalate_model"
	RecoveryRequeryCI       RecoveryAction = "requery_ci"
	RecoveryEscalateHuman   RecoveryAction = "escalate_human"
	RecoverySpawnConflictResolver RecoveryAction = "spawn_conflict_resolver"
	RecoveryBackoff         RecoveryAction = "backoff"
	RecoveryBlock           RecoveryAction = "block"
)

// RecoveryAttempt records one action taken by the controller in
// response to a StuckDetection.
type RecoveryAttempt struct {
	ID                string
	StuckDetectionID  string
	AgentID           string
	Action            RecoveryAction
	Outcome           string
	CreatedAt         time.Time
}

// ReviewVerdict is the closed set of code review outcomes.
type ReviewVerdict string

const (
	ReviewVerdictApproved         ReviewVerdict = "approved"
	ReviewVerdictRequestedChanges ReviewVerdict = "requested_changes"
	ReviewVerdictCommented        ReviewVerdict = "commented"
)

// IssueSeverity is the closed set of code review issue severities.
type IssueSeverity string

const (
	IssueSeverityCritical IssueSeverity = "critical"
	IssueSeverityHigh     IssueSeverity = "high"
	IssueSeverityMedium   IssueSeverity = "medium"
	IssueSeverityLow      IssueSeverity = "low"
)

// CodeReviewResult is a per-story quality-gate record produced by a
// code-reviewer agent.
type CodeReviewResult struct {
	ID         string
	StoryID    string
	AgentID    string
	Iteration  int
	Verdict    ReviewVerdict
	Issues     []ReviewIssue
	CreatedAt  time.Time
}

// ReviewIssue is one finding within a CodeReviewResult.
type ReviewIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	File        string        `json:"file,omitempty"`
}

// StoryEvaluation records the acceptance-criteria and completion-gate
// check for one story, at one point in time.
type StoryEvaluation struct {
	ID                   string
	StoryID              string
	CriteriaMet          int
	CriteriaTotal        int
	CIGreen              bool
	ReviewApproved       bool
	MergeableState       bool
	BlockedSignalPresent bool
	Passed               bool
	CreatedAt            time.Time
}

// CiCheckResult captures one polled snapshot of CI status for a PR.
type CiCheckResult struct {
	ID         string
	PrQueueID  string
	CheckName  string
	Conclusion string
	UpdatedAt  time.Time
	CreatedAt  time.Time
}

// WorkEvaluation is a generic health-observation row the controller
// writes while deciding whether to advance, wait, or escalate.
type WorkEvaluation struct {
	ID          string
	AgentID     string
	Summary     string
	ShouldAdvance bool
	CreatedAt   time.Time
}

// ReviewIteration tracks one Executing<->Reviewing round-trip for a story.
type ReviewIteration struct {
	ID          string
	StoryID     string
	Iteration   int
	Outcome     string
	CreatedAt   time.Time
}
