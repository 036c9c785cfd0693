// Package models defines the persisted entities that make up the
// orchestrator's data model: agents, sessions, dependencies, work
// items, and the observation/audit trail around them.
package models

import "time"

// AgentState is the authoritative set of states an Agent can occupy.
// The legal transition table lives in agentcore, not here — this type
// only enumerates the closed set.
type AgentState string

const (
	AgentStateCreated             AgentState = "created"
	AgentStateInitializing        AgentState = "initializing"
	AgentStateRunning             AgentState = "running"
	AgentStateWaitingForInput     AgentState = "waiting_for_input"
	AgentStateWaitingForExternal  AgentState = "waiting_for_external"
	AgentStatePaused              AgentState = "paused"
	AgentStateCompleted           AgentState = "completed"
	AgentStateFailed              AgentState = "failed"
	AgentStateTerminated          AgentState = "terminated"
)

// Terminal reports whether the state is one of the immutable terminal
// states: Completed, Failed, Terminated.
func (s AgentState) Terminal() bool {
	switch s {
	case AgentStateCompleted, AgentStateFailed, AgentStateTerminated:
		return true
	default:
		return false
	}
}

// AgentKind is the closed set of agent roles the controller can spawn.
type AgentKind string

const (
	AgentKindStoryDeveloper      AgentKind = "story-developer"
	AgentKindCodeReviewer        AgentKind = "code-reviewer"
	AgentKindIssueFixer          AgentKind = "issue-fixer"
	AgentKindPrShepherd          AgentKind = "pr-shepherd"
	AgentKindBmadOrchestrator    AgentKind = "bmad-orchestrator"
	AgentKindExplorer            AgentKind = "explorer"
	AgentKindPrController        AgentKind = "pr-controller"
	AgentKindConflictResolver    AgentKind = "conflict-resolver"
	AgentKindBackgroundController AgentKind = "background-controller"
	AgentKindScheduler           AgentKind = "scheduler"
)

// AgentContext is the structured key/value blob attached to an Agent,
// with well-known optional parent references plus a free-form Custom
// bag for role-specific data.
type AgentContext struct {
	Epic     string         `json:"epic,omitempty"`
	Story    string         `json:"story,omitempty"`
	PRNumber int            `json:"pr_number,omitempty"`
	Branch   string         `json:"branch,omitempty"`
	Worktree string         `json:"worktree,omitempty"`
	Custom   map[string]any `json:"custom,omitempty"`
}

// Agent is the primary unit of work: one autonomous worker with its
// own state machine and conversation history.
type Agent struct {
	ID          string
	Kind        AgentKind
	State       AgentState
	Task        string
	Context     AgentContext
	SessionID   *string
	ParentID    *string
	WorktreeID  *string
	ErrorMessage *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// MessageRole is the closed set of roles for an AgentMessage.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall is a structured tool invocation recorded on an AgentMessage.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the structured outcome of a ToolCall, recorded on the
// following AgentMessage.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// AgentMessage is one append-only turn in an agent's conversation.
// Never mutated after insert; cascade-deleted with the owning agent.
type AgentMessage struct {
	ID           string
	AgentID      string
	Role         MessageRole
	Content      string
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// DependencyKind is required or optional; only the required subgraph
// must stay acyclic and is consulted when checking readiness.
type DependencyKind string

const (
	DependencyRequired DependencyKind = "required"
	DependencyOptional DependencyKind = "optional"
)

// AgentDependency is a directed edge agent -> agent (From depends on To).
type AgentDependency struct {
	ID        string
	AgentID   string // the dependent (waiting) agent
	DependsOn string // the agent it depends on
	Kind      DependencyKind
	CreatedAt time.Time
}

// StateTransition is the immutable append-only log of every Agent
// state change, written inside the same transaction as the mutation.
type StateTransition struct {
	ID                 string
	AgentID            string
	From                AgentState
	To                  AgentState
	Trigger             string
	DependencySnapshot  map[string]AgentState
	Success             bool
	Error               *string
	Timestamp           time.Time
}

// Worktree is an isolated filesystem workspace bound to a branch.
type WorktreeStatus string

const (
	WorktreeStatusActive  WorktreeStatus = "active"
	WorktreeStatusStale   WorktreeStatus = "stale"
	WorktreeStatusRemoved WorktreeStatus = "removed"
)

type Worktree struct {
	ID         string
	Name       string
	Path       string
	Branch     string
	BaseBranch string
	Status     WorktreeStatus
	OwnerAgent *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session is an LLM-side conversation handle. Forking creates a new
// Session whose Parent pointer forms a forest, never a cycle.
type Session struct {
	ID                 string
	AgentID            string
	ParentID           *string
	ExternalSessionID  string
	AccumulatedTokens  int
	ForkedAt           *time.Time
	ClosedAt           *time.Time
	CreatedAt          time.Time
}
