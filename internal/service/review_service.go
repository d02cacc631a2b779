package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/taskreview/internal/cache"
	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/events"
	"github.com/mtlprog/taskreview/internal/metrics"
	"github.com/mtlprog/taskreview/internal/repository"
)

// ReviewService is the review and meta-review state machine. It is the only
// writer of task_reviews and task_review_history. Every mutating operation
// runs inside the caller's unit of work.
type ReviewService struct {
	engine    *ClaimEngine
	reviews   *repository.ReviewRepository
	history   *repository.ReviewHistoryRepository
	tasks     *repository.TaskRepository
	statuses  TaskStatusStore
	validator *Validator
	emitter   events.Emitter
	cache     *cache.Store[*domain.ReviewRecord]
}

// NewReviewService creates a new ReviewService. emitter and c may be nil.
func NewReviewService(
	engine *ClaimEngine,
	reviews *repository.ReviewRepository,
	history *repository.ReviewHistoryRepository,
	tasks *repository.TaskRepository,
	statuses TaskStatusStore,
	auth Authorizer,
	emitter events.Emitter,
	c *cache.Store[*domain.ReviewRecord],
) *ReviewService {
	return &ReviewService{
		engine:    engine,
		reviews:   reviews,
		history:   history,
		tasks:     tasks,
		statuses:  statuses,
		validator: NewValidator(auth),
		emitter:   emitter,
		cache:     c,
	}
}

func reviewKey(taskID int64) string {
	return cache.Key("review", taskID)
}

// invalidate drops the cached record once the transaction commits.
func (s *ReviewService) invalidate(tx *database.Tx, taskID int64) {
	tx.AfterCommit(func() { s.cache.Invalidate(reviewKey(taskID)) })
}

// appendHistory writes one audit row and schedules its emission.
func (s *ReviewService) appendHistory(
	ctx context.Context,
	tx *database.Tx,
	kind domain.HistoryKind,
	taskID, actorID int64,
	from, to, comment string,
) (*domain.ReviewHistoryEntry, error) {
	entry := &domain.ReviewHistoryEntry{
		TaskID:     taskID,
		ActorID:    actorID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		Comment:    comment,
	}
	if err := s.history.Append(ctx, tx, entry); err != nil {
		return nil, err
	}

	tx.AfterCommit(func() {
		metrics.ReviewTransitions.WithLabelValues(string(kind), to).Inc()
		if s.emitter == nil {
			return
		}
		if err := s.emitter.Emit(context.WithoutCancel(ctx), entry); err != nil {
			slog.Error("failed to emit review history event",
				"task_id", taskID,
				"history_id", entry.ID,
				"error", err,
			)
		}
	})

	return entry, nil
}

// challengeOf returns the challenge a task belongs to, for capability scope.
func (s *ReviewService) challengeOf(ctx context.Context, taskID int64) (int64, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return task.ChallengeID, nil
}

// lockRecord locks the review record of a task. A task without a record
// reports status NONE and a nil record.
func (s *ReviewService) lockRecord(ctx context.Context, tx *database.Tx, taskID int64) (*domain.ReviewRecord, domain.ReviewStatus, error) {
	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if errors.Is(err, domain.ErrReviewNotFound) {
		return nil, domain.ReviewStatusNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return rec, rec.ReviewStatus, nil
}

// RequestReview starts a new review lifecycle for a completed task. Any
// previous verdict, claim and meta-review is cleared. The task row is locked
// before the record, so a concurrent revert to CREATED either waits for this
// request or makes it fail, and first requests on a task are serialized.
func (s *ReviewService) RequestReview(ctx context.Context, tx *database.Tx, taskID, requesterID int64) (*domain.ReviewRecord, error) {
	status, err := s.statuses.LockTaskStatus(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanRequestReview(taskID, status); err != nil {
		return nil, err
	}

	_, from, err := s.lockRecord(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !from.CanTransitionTo(domain.ReviewStatusRequested) {
		return nil, fmt.Errorf("%w: review of task %d cannot transition %s -> REQUESTED", domain.ErrInvalidTransition, taskID, from)
	}

	for _, rt := range []domain.ResourceType{domain.ResourceReview, domain.ResourceMetaReview} {
		if _, err := s.engine.ForceRelease(ctx, tx, rt, taskID); err != nil {
			return nil, fmt.Errorf("release %s claim: %w", rt, err)
		}
	}

	rec, err := s.reviews.UpsertRequested(ctx, tx, taskID, requesterID)
	if err != nil {
		return nil, err
	}

	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindReview, taskID, requesterID,
		string(from), string(domain.ReviewStatusRequested), ""); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("review requested",
		"task_id", taskID,
		"requested_by", requesterID,
		"from_status", from,
	)

	return rec, nil
}

// StartReview claims a pending review for a reviewer.
func (s *ReviewService) StartReview(ctx context.Context, tx *database.Tx, taskID, reviewerID int64) (*domain.ReviewRecord, error) {
	challengeID, err := s.challengeOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.RequireCapability(ctx, reviewerID, domain.CapabilityReview, challengeID); err != nil {
		return nil, err
	}

	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanStartReview(rec); err != nil {
		return nil, err
	}

	lease, err := s.engine.Acquire(ctx, tx, domain.ResourceReview, taskID, reviewerID)
	if err != nil {
		return nil, err
	}

	claimedAt := lease.RenewedAt
	rec.ClaimedBy = &reviewerID
	rec.ClaimedAt = &claimedAt
	if rec.ReviewStartedAt == nil {
		rec.ReviewStartedAt = &claimedAt
	}
	if err := s.reviews.Save(ctx, tx, rec); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("review started",
		"task_id", taskID,
		"reviewer_id", reviewerID,
		"review_status", rec.ReviewStatus,
	)

	return rec, nil
}

// CancelReview gives up a review claim without changing the review status.
func (s *ReviewService) CancelReview(ctx context.Context, tx *database.Tx, taskID, reviewerID int64) error {
	rec, _, err := s.lockRecord(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := s.engine.Release(ctx, tx, domain.ResourceReview, taskID, reviewerID); err != nil {
		return err
	}
	if rec.IsClaimedBy(reviewerID) {
		if err := s.reviews.ClearClaim(ctx, tx, taskID, reviewerID); err != nil {
			return err
		}
		s.invalidate(tx, taskID)
	}

	slog.Info("review cancelled", "task_id", taskID, "reviewer_id", reviewerID)

	return nil
}

// SetReviewStatus records a reviewer's verdict. The reviewer must hold the
// review claim, which is released as part of the transition.
func (s *ReviewService) SetReviewStatus(
	ctx context.Context,
	tx *database.Tx,
	taskID, reviewerID int64,
	status domain.ReviewStatus,
	comment string,
) (*domain.ReviewRecord, error) {
	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.RequireHeld(ctx, tx, domain.ResourceReview, taskID, reviewerID); err != nil {
		return nil, err
	}
	if err := s.validator.CanSetReviewStatus(rec, status); err != nil {
		return nil, err
	}

	from := rec.ReviewStatus
	now := time.Now().UTC()
	rec.ReviewStatus = status
	rec.ReviewedBy = &reviewerID
	rec.ReviewedAt = &now
	rec.ClaimedBy = nil
	rec.ClaimedAt = nil
	resetMeta(rec)

	if err := s.reviews.Save(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := s.engine.Release(ctx, tx, domain.ResourceReview, taskID, reviewerID); err != nil {
		return nil, err
	}
	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindReview, taskID, reviewerID,
		string(from), string(status), comment); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("review status set",
		"task_id", taskID,
		"reviewer_id", reviewerID,
		"from_status", from,
		"review_status", status,
	)

	return rec, nil
}

// DisputeReview lets the requester contest a rejection. The task goes back
// into the review queue.
func (s *ReviewService) DisputeReview(ctx context.Context, tx *database.Tx, taskID, requesterID int64, comment string) (*domain.ReviewRecord, error) {
	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanDisputeReview(rec, requesterID); err != nil {
		return nil, err
	}

	from := rec.ReviewStatus
	rec.ReviewStatus = domain.ReviewStatusDisputed
	resetMeta(rec)

	if _, err := s.engine.ForceRelease(ctx, tx, domain.ResourceMetaReview, taskID); err != nil {
		return nil, err
	}
	if err := s.reviews.Save(ctx, tx, rec); err != nil {
		return nil, err
	}
	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindReview, taskID, requesterID,
		string(from), string(domain.ReviewStatusDisputed), comment); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("review disputed", "task_id", taskID, "requested_by", requesterID)

	return rec, nil
}

// RequestMetaReview asks for a second-tier review of a verdict.
func (s *ReviewService) RequestMetaReview(ctx context.Context, tx *database.Tx, taskID, requesterID int64, comment string) (*domain.ReviewRecord, error) {
	challengeID, err := s.challengeOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanRequestMetaReview(ctx, rec, requesterID, challengeID); err != nil {
		return nil, err
	}

	from := rec.MetaReviewStatus
	rec.MetaReviewStatus = domain.MetaReviewStatusRequested

	if err := s.reviews.Save(ctx, tx, rec); err != nil {
		return nil, err
	}
	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindMetaReview, taskID, requesterID,
		string(from), string(domain.MetaReviewStatusRequested), comment); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("meta-review requested", "task_id", taskID, "requested_by", requesterID)

	return rec, nil
}

// StartMetaReview claims a verdict for meta-review.
func (s *ReviewService) StartMetaReview(ctx context.Context, tx *database.Tx, taskID, metaReviewerID int64) (*domain.Lease, error) {
	challengeID, err := s.challengeOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.RequireCapability(ctx, metaReviewerID, domain.CapabilityMetaReview, challengeID); err != nil {
		return nil, err
	}

	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanStartMetaReview(rec); err != nil {
		return nil, err
	}

	lease, err := s.engine.Acquire(ctx, tx, domain.ResourceMetaReview, taskID, metaReviewerID)
	if err != nil {
		return nil, err
	}

	slog.Info("meta-review started", "task_id", taskID, "meta_reviewer_id", metaReviewerID)

	return lease, nil
}

// CancelMetaReview gives up a meta-review claim.
func (s *ReviewService) CancelMetaReview(ctx context.Context, tx *database.Tx, taskID, metaReviewerID int64) error {
	return s.engine.Release(ctx, tx, domain.ResourceMetaReview, taskID, metaReviewerID)
}

// SetMetaReviewStatus records a meta-reviewer's verdict. The caller must hold
// the META_REVIEW claim and the meta-review capability.
func (s *ReviewService) SetMetaReviewStatus(
	ctx context.Context,
	tx *database.Tx,
	taskID, metaReviewerID int64,
	status domain.MetaReviewStatus,
	comment string,
) (*domain.ReviewRecord, error) {
	challengeID, err := s.challengeOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.RequireCapability(ctx, metaReviewerID, domain.CapabilityMetaReview, challengeID); err != nil {
		return nil, err
	}

	rec, err := s.reviews.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.RequireHeld(ctx, tx, domain.ResourceMetaReview, taskID, metaReviewerID); err != nil {
		return nil, err
	}
	if err := s.validator.CanSetMetaReviewStatus(rec, status); err != nil {
		return nil, err
	}

	from := rec.MetaReviewStatus
	now := time.Now().UTC()
	rec.MetaReviewStatus = status
	rec.MetaReviewedBy = &metaReviewerID
	rec.MetaReviewedAt = &now

	if err := s.reviews.Save(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := s.engine.Release(ctx, tx, domain.ResourceMetaReview, taskID, metaReviewerID); err != nil {
		return nil, err
	}
	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindMetaReview, taskID, metaReviewerID,
		string(from), string(status), comment); err != nil {
		return nil, err
	}
	s.invalidate(tx, taskID)

	slog.Info("meta-review status set",
		"task_id", taskID,
		"meta_reviewer_id", metaReviewerID,
		"from_status", from,
		"meta_review_status", status,
	)

	return rec, nil
}

// ResetReview ends the review lifecycle of a task that went back to CREATED.
// The record is deleted and a transition to NONE is appended to history.
// Resetting a task without a record is a no-op.
func (s *ReviewService) ResetReview(ctx context.Context, tx *database.Tx, taskID, actorID int64) error {
	rec, from, err := s.lockRecord(ctx, tx, taskID)
	if err != nil {
		return err
	}

	for _, rt := range []domain.ResourceType{domain.ResourceReview, domain.ResourceMetaReview} {
		if _, err := s.engine.ForceRelease(ctx, tx, rt, taskID); err != nil {
			return fmt.Errorf("release %s claim: %w", rt, err)
		}
	}

	if rec == nil {
		return nil
	}

	if err := s.reviews.Delete(ctx, tx, taskID); err != nil {
		return err
	}
	if _, err := s.appendHistory(ctx, tx, domain.HistoryKindReview, taskID, actorID,
		string(from), string(domain.ReviewStatusNone), ""); err != nil {
		return err
	}
	s.invalidate(tx, taskID)

	slog.Info("review reset", "task_id", taskID, "actor_id", actorID, "from_status", from)

	return nil
}

// ResetReviewByMetaReviewer is the direct reset offered outside the mapping
// flow. It requires the meta-review capability in the task's challenge.
func (s *ReviewService) ResetReviewByMetaReviewer(ctx context.Context, tx *database.Tx, taskID, actorID int64) error {
	challengeID, err := s.challengeOf(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.validator.RequireCapability(ctx, actorID, domain.CapabilityMetaReview, challengeID); err != nil {
		return err
	}
	return s.ResetReview(ctx, tx, taskID, actorID)
}

// GetReview returns the current review record of a task. Served from the
// read-through cache when enabled.
func (s *ReviewService) GetReview(ctx context.Context, taskID int64) (*domain.ReviewRecord, error) {
	rec, err := s.cache.GetOrLoad(ctx, reviewKey(taskID), func(ctx context.Context) (*domain.ReviewRecord, error) {
		return s.reviews.GetByTaskID(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	c := *rec
	return &c, nil
}

// History returns the audit log of a task in transition order.
func (s *ReviewService) History(ctx context.Context, taskID int64) ([]*domain.ReviewHistoryEntry, error) {
	return s.history.ListByTask(ctx, taskID)
}

// ExpireReviewClaim is the sweeper hook for REVIEW leases: the record stops
// naming the expired holder in the same transaction as the lease deletion.
// The record row is locked before the lease row, like every other review
// operation.
func (s *ReviewService) ExpireReviewClaim(ctx context.Context, tx *database.Tx, lease *domain.Lease) error {
	if err := s.reviews.ClearClaim(ctx, tx, lease.ResourceID, lease.HolderID); err != nil {
		return err
	}
	s.invalidate(tx, lease.ResourceID)
	return nil
}

// resetMeta clears the meta-review overlay. Every primary review transition
// starts the overlay over.
func resetMeta(rec *domain.ReviewRecord) {
	rec.MetaReviewStatus = domain.MetaReviewStatusNone
	rec.MetaReviewedBy = nil
	rec.MetaReviewedAt = nil
}
