package models

import "time"

// MergeStrategy enumerates how a PrQueueItem is merged once approved.
type MergeStrategy string

const (
	MergeStrategySquash MergeStrategy = "squash"
	MergeStrategyRebase MergeStrategy = "rebase"
	MergeStrategyMerge  MergeStrategy = "merge"
)

// PrQueueStatus is the closed set of PrQueueItem states.
type PrQueueStatus string

const (
	PrQueueStatusQueued    PrQueueStatus = "queued"
	PrQueueStatusCreating  PrQueueStatus = "creating"
	PrQueueStatusOpen      PrQueueStatus = "open"
	PrQueueStatusReviewing PrQueueStatus = "reviewing"
	PrQueueStatusMerging   PrQueueStatus = "merging"
	PrQueueStatusMerged    PrQueueStatus = "merged"
	PrQueueStatusFailed    PrQueueStatus = "failed"
)

// ActiveLockStatuses are the statuses counted against the
// at-most-one-per-repository advisory lock.
var ActiveLockStatuses = []PrQueueStatus{PrQueueStatusCreating, PrQueueStatusMerging}

// PrQueueItem represents one PR moving through the merge pipeline for
// a repository. At most one item per repository may be in
// {creating, merging} at a time.
type PrQueueItem struct {
	ID            string
	Epic          string
	Repository    string
	WorktreeID    string
	Branch        string
	Title         string
	Body          string
	PRNumber      *int
	Status        PrQueueStatus
	MergeStrategy MergeStrategy
	OwnerAgent    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorkItemStatus is shared by Epic and Story.
type WorkItemStatus string

const (
	WorkItemStatusPending    WorkItemStatus = "pending"
	WorkItemStatusActive     WorkItemStatus = "active"
	WorkItemStatusCompleted  WorkItemStatus = "completed"
	WorkItemStatusBlocked    WorkItemStatus = "blocked"
	WorkItemStatusCancelled  WorkItemStatus = "cancelled"
)

// Epic is a top-level work item that the Autonomous Controller drives
// end-to-end. It owns an ordered set of Stories.
type Epic struct {
	ID          string
	Title       string
	Description string
	Status      WorkItemStatus
	OwnerAgent  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Story belongs to exactly one Epic and is cascade-deleted with it.
type Story struct {
	ID                 string
	EpicID             string
	Title              string
	AcceptanceCriteria map[string]any
	Status             WorkItemStatus
	OwnerAgent         *string
	Sequence           int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
