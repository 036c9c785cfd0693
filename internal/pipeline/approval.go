package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// requiredCount is a simple majority of named approvers, rounding up:
// 1 approver needs 1, 2 need 2, 3 need 2, 4 need 3. Majority is the
// least surprising default for a review-approval gate.
func requiredCount(approvers []string) int {
	return len(approvers)/2 + 1
}

// OpenApproval creates a pending ApprovalRequest for a stage.
func OpenApproval(ctx context.Context, s *store.Store, stageID string, def models.ApprovalDefinition) (models.ApprovalRequest, error) {
	req := &models.ApprovalRequest{
		StageID:        stageID,
		Approvers:      def.Approvers,
		RequiredCount:  requiredCount(def.Approvers),
		TimeoutSeconds: def.TimeoutSeconds,
		TimeoutAction:  def.TimeoutAction,
		Status:         models.ApprovalStatusPending,
	}
	if err := s.CreateApprovalRequest(ctx, req); err != nil {
		return models.ApprovalRequest{}, err
	}
	return s.GetApprovalRequest(ctx, req.ID)
}

// Decide records one approver's vote and resolves the request if the
// vote brings it to quorum or to an outright rejection. A single "no"
// vote rejects immediately: the approval gate is a unanimous veto,
// majority approve.
func Decide(ctx context.Context, s *store.Store, requestID, approver string, approve bool) (models.ApprovalRequest, error) {
	req, err := s.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if req.Status != models.ApprovalStatusPending {
		return models.ApprovalRequest{}, fmt.Errorf("approval request %q already resolved as %q", requestID, req.Status)
	}

	decision := models.ApprovalDecision{Approver: approver, Approve: approve, At: time.Now().UTC()}

	var resolve *models.ApprovalStatus
	if !approve {
		rejected := models.ApprovalStatusRejected
		resolve = &rejected
	} else {
		approvals := 1
		for _, d := range req.Decisions {
			if d.Approve {
				approvals++
			}
		}
		if approvals >= req.RequiredCount {
			approved := models.ApprovalStatusApproved
			resolve = &approved
		}
	}

	if err := s.RecordApprovalDecision(ctx, requestID, decision, resolve); err != nil {
		return models.ApprovalRequest{}, err
	}
	return s.GetApprovalRequest(ctx, requestID)
}

// ResolveTimeout closes a still-pending request whose deadline has
// passed, applying its declared TimeoutAction.
func ResolveTimeout(ctx context.Context, s *store.Store, req models.ApprovalRequest, now time.Time) (models.ApprovalRequest, error) {
	if req.Status != models.ApprovalStatusPending {
		return req, nil
	}
	deadline := req.CreatedAt.Add(time.Duration(req.TimeoutSeconds) * time.Second)
	if now.Before(deadline) {
		return req, nil
	}

	resolved := models.ApprovalStatusRejected
	if req.TimeoutAction == models.TimeoutActionApprove {
		resolved = models.ApprovalStatusApproved
	}
	decision := models.ApprovalDecision{Approver: "system:timeout", Approve: resolved == models.ApprovalStatusApproved, At: now}
	if err := s.RecordApprovalDecision(ctx, req.ID, decision, &resolved); err != nil {
		return models.ApprovalRequest{}, err
	}
	return s.GetApprovalRequest(ctx, req.ID)
}
