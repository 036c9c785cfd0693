package models

import "time"

// FailurePolicy is a stage's on_failure behaviour.
type FailurePolicy string

const (
	FailurePolicyHalt     FailurePolicy = "halt"
	FailurePolicyContinue FailurePolicy = "continue"
	FailurePolicyRollback FailurePolicy = "rollback"
)

// TimeoutAction is the declared default when an approval's deadline
// passes with no decisions.
type TimeoutAction string

const (
	TimeoutActionApprove TimeoutAction = "approve"
	TimeoutActionReject  TimeoutAction = "reject"
)

// Pipeline is a declarative, validated, persisted pipeline definition.
// Both the original text and the parsed AST are stored, so the exact
// source an operator authored is always recoverable.
type Pipeline struct {
	ID         string
	Name       string
	SourceText string
	Definition PipelineDefinition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PipelineDefinition is the parsed AST of a pipeline's YAML text.
type PipelineDefinition struct {
	Name      string             `yaml:"name" json:"name"`
	Triggers  []PipelineTrigger  `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Variables map[string]string  `yaml:"variables,omitempty" json:"variables,omitempty"`
	Stages    []StageDefinition  `yaml:"stages" json:"stages"`
}

// PipelineTrigger filters which events may start a run.
type PipelineTrigger struct {
	Event   string   `yaml:"event" json:"event"`
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// ApprovalDefinition describes a quorum-gated approval on a stage.
type ApprovalDefinition struct {
	Approvers      []string `yaml:"approvers" json:"approvers"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	TimeoutAction  TimeoutAction `yaml:"timeout_action,omitempty" json:"timeout_action,omitempty"`
}

// WhenClause conditionally gates stage eligibility. Terms at the same
// level combine with AND; Or provides alternative paths.
type WhenClause struct {
	Branch    []string          `yaml:"branch,omitempty" json:"branch,omitempty"`
	Paths     []string          `yaml:"paths,omitempty" json:"paths,omitempty"`
	Labels    []string          `yaml:"labels,omitempty" json:"labels,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Or        []WhenClause      `yaml:"or,omitempty" json:"or,omitempty"`
}

// StageDefinition is one node in the pipeline's stage DAG.
type StageDefinition struct {
	Name             string              `yaml:"name" json:"name"`
	AgentKind        AgentKind           `yaml:"agent_kind" json:"agent_kind"`
	Task             string              `yaml:"task" json:"task"`
	Timeout          time.Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	OnFailure        FailurePolicy       `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	RollbackTo       string              `yaml:"rollback_to,omitempty" json:"rollback_to,omitempty"`
	RequiresApproval *ApprovalDefinition `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
	DependsOn        []string            `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ParallelWith     []string            `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`
	When             *WhenClause         `yaml:"when,omitempty" json:"when,omitempty"`
}

// PipelineRunStatus is the terminal/non-terminal status of a run.
type PipelineRunStatus string

const (
	PipelineRunStatusRunning PipelineRunStatus = "running"
	PipelineRunStatusSucceeded PipelineRunStatus = "succeeded"
	PipelineRunStatusFailed   PipelineRunStatus = "failed"
	PipelineRunStatusCancelled PipelineRunStatus = "cancelled"
)

// PipelineRun is one execution of a Pipeline against a trigger context.
type PipelineRun struct {
	ID          string
	PipelineID  string
	TriggerCtx  map[string]any
	Variables   map[string]string
	Status      PipelineRunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// StageStatus is the per-stage state machine.
type StageStatus string

const (
	StageStatusPending          StageStatus = "pending"
	StageStatusRunning          StageStatus = "running"
	StageStatusWaitingApproval  StageStatus = "waiting_approval"
	StageStatusSucceeded        StageStatus = "succeeded"
	StageStatusFailed           StageStatus = "failed"
	StageStatusSkipped          StageStatus = "skipped"
	StageStatusCancelled        StageStatus = "cancelled"
)

// PipelineStage is the persisted execution state of one stage within
// one run.
type PipelineStage struct {
	ID          string
	RunID       string
	Name        string
	Status      StageStatus
	AgentID     *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailureReason *string
}

// ApprovalStatus is the resolution state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalDecision is one named approver's vote.
type ApprovalDecision struct {
	Approver string    `json:"approver"`
	Approve  bool      `json:"approve"`
	At       time.Time `json:"at"`
}

// ApprovalRequest gates a PipelineStage behind a quorum of approvers.
// ResolvedAt is set iff approval_count >= required_count, a rejection
// occurred, or the timeout fired.
type ApprovalRequest struct {
	ID             string
	StageID        string
	Approvers      []string
	RequiredCount  int
	Decisions      []ApprovalDecision
	TimeoutSeconds int
	TimeoutAction  TimeoutAction
	Status         ApprovalStatus
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// RollbackEvent records one rollback triggered by a failed stage whose
// on_failure policy is "rollback".
type RollbackEvent struct {
	ID         string
	RunID      string
	FromStage  string
	TargetStage string
	Reason     string
	CreatedAt  time.Time
}
