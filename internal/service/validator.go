package service

import (
	"context"
	"fmt"

	"github.com/mtlprog/taskreview/internal/domain"
)

// Validator handles permission and state validation for review operations.
type Validator struct {
	auth Authorizer
}

// NewValidator creates a new Validator.
func NewValidator(auth Authorizer) *Validator {
	return &Validator{auth: auth}
}

// RequireCapability fails with ErrNotAuthorized unless the user holds the
// capability for the challenge.
func (v *Validator) RequireCapability(ctx context.Context, userID int64, capability domain.Capability, challengeID int64) error {
	ok, err := v.auth.Authorize(ctx, userID, capability, challengeID)
	if err != nil {
		return fmt.Errorf("authorize user %d: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("%w: user %d lacks %s capability in challenge %d", domain.ErrNotAuthorized, userID, capability, challengeID)
	}
	return nil
}

// CanRequestReview validates the task status precondition of a review request.
func (v *Validator) CanRequestReview(taskID int64, status domain.TaskStatus) error {
	if !status.IsCompletion() {
		return fmt.Errorf("%w: task %d is %s, review needs a completed task", domain.ErrInvalidStatus, taskID, status)
	}
	return nil
}

// CanStartReview validates that a reviewer may claim the record.
func (v *Validator) CanStartReview(rec *domain.ReviewRecord) error {
	if !rec.ReviewStatus.IsClaimable() {
		return fmt.Errorf("%w: review of task %d is %s, expected REQUESTED or DISPUTED", domain.ErrInvalidTransition, rec.TaskID, rec.ReviewStatus)
	}
	return nil
}

// CanSetReviewStatus validates a reviewer verdict against the transition table.
func (v *Validator) CanSetReviewStatus(rec *domain.ReviewRecord, next domain.ReviewStatus) error {
	if !next.IsReviewerVerdict() {
		return fmt.Errorf("%w: %q is not a review verdict", domain.ErrInvalidTransition, next)
	}
	if !rec.ReviewStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: review of task %d cannot transition %s -> %s", domain.ErrInvalidTransition, rec.TaskID, rec.ReviewStatus, next)
	}
	return nil
}

// CanDisputeReview validates that the requester may dispute a rejection.
func (v *Validator) CanDisputeReview(rec *domain.ReviewRecord, userID int64) error {
	if rec.RequestedBy != userID {
		return fmt.Errorf("%w: user %d did not request review of task %d", domain.ErrNotAuthorized, userID, rec.TaskID)
	}
	if rec.ReviewStatus != domain.ReviewStatusRejected {
		return fmt.Errorf("%w: review of task %d is %s, only REJECTED can be disputed", domain.ErrInvalidTransition, rec.TaskID, rec.ReviewStatus)
	}
	return nil
}

// CanRequestMetaReview validates a meta-review request. The original
// reviewer or any meta-reviewer may ask.
func (v *Validator) CanRequestMetaReview(ctx context.Context, rec *domain.ReviewRecord, userID, challengeID int64) error {
	if err := v.requireVerdict(rec); err != nil {
		return err
	}
	if rec.ReviewedBy == nil || *rec.ReviewedBy != userID {
		if err := v.RequireCapability(ctx, userID, domain.CapabilityMetaReview, challengeID); err != nil {
			return err
		}
	}
	if !rec.MetaReviewStatus.CanTransitionTo(domain.MetaReviewStatusRequested) {
		return fmt.Errorf("%w: meta-review of task %d cannot transition %s -> %s", domain.ErrInvalidTransition, rec.TaskID, rec.MetaReviewStatus, domain.MetaReviewStatusRequested)
	}
	return nil
}

// CanStartMetaReview validates that a meta-reviewer may claim the record.
func (v *Validator) CanStartMetaReview(rec *domain.ReviewRecord) error {
	if err := v.requireVerdict(rec); err != nil {
		return err
	}
	if rec.MetaReviewStatus != domain.MetaReviewStatusRequested {
		return fmt.Errorf("%w: meta-review of task %d is %s, only REQUESTED can be started", domain.ErrInvalidTransition, rec.TaskID, rec.MetaReviewStatus)
	}
	return nil
}

// CanSetMetaReviewStatus validates a meta verdict against the sub-machine.
func (v *Validator) CanSetMetaReviewStatus(rec *domain.ReviewRecord, next domain.MetaReviewStatus) error {
	if !next.IsVerdict() {
		return fmt.Errorf("%w: %q is not a meta-review verdict", domain.ErrInvalidTransition, next)
	}
	if err := v.requireVerdict(rec); err != nil {
		return err
	}
	if !rec.MetaReviewStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: meta-review of task %d cannot transition %s -> %s", domain.ErrInvalidTransition, rec.TaskID, rec.MetaReviewStatus, next)
	}
	return nil
}

// CanClaimTask validates that a task is open for mapping.
func (v *Validator) CanClaimTask(taskID int64, status domain.TaskStatus) error {
	if !status.IsWorkable() {
		return fmt.Errorf("%w: task %d is %s and cannot be mapped", domain.ErrInvalidStatus, taskID, status)
	}
	return nil
}

// CanCompleteTask validates the status a mapper finishes a task with.
func (v *Validator) CanCompleteTask(taskID int64, status domain.TaskStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q for task %d", domain.ErrInvalidStatus, status, taskID)
	}
	if status != domain.TaskStatusCreated && !status.IsCompletion() && status != domain.TaskStatusSkipped {
		return fmt.Errorf("%w: task %d cannot be completed as %s", domain.ErrInvalidStatus, taskID, status)
	}
	return nil
}

func (v *Validator) requireVerdict(rec *domain.ReviewRecord) error {
	if !rec.ReviewStatus.IsVerdict() {
		return fmt.Errorf("%w: review of task %d is %s, meta-review needs APPROVED or REJECTED", domain.ErrInvalidTransition, rec.TaskID, rec.ReviewStatus)
	}
	return nil
}
