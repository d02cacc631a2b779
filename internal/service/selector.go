package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/metrics"
	"github.com/mtlprog/taskreview/internal/repository"
	"github.com/mtlprog/taskreview/internal/tracing"
)

// SelectorOptions bounds the selector's work per call.
type SelectorOptions struct {
	MaxAttempts int // contention failures tolerated before giving up
	BatchSize   int // candidates fetched per keyset page
	NearbyLimit int // default result count for Nearby
}

// NextQuery describes which queue to draw from and in what order.
type NextQuery struct {
	Kind                  domain.ResourceType
	Filter                repository.CandidateFilter
	Sort                  string
	Desc                  bool
	ExcludeIDs            []int64
	CursorTaskID          *int64
	ExcludeOtherClaimants bool
}

// NearbyQuery asks for candidates close to a reference task.
type NearbyQuery struct {
	TaskID     int64
	Kind       domain.ResourceType
	ExcludeIDs []int64
	Limit      int
}

// Selector finds the next eligible task for a user and claims it.
type Selector struct {
	db         *database.DB
	tasks      *repository.TaskRepository
	taskSvc    *TaskService
	reviews    *ReviewService
	visibility Visibility
	opts       SelectorOptions
	tracer     trace.Tracer
}

// NewSelector creates a new Selector.
func NewSelector(
	db *database.DB,
	tasks *repository.TaskRepository,
	taskSvc *TaskService,
	reviews *ReviewService,
	visibility Visibility,
	opts SelectorOptions,
) *Selector {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.NearbyLimit <= 0 {
		opts.NearbyLimit = 5
	}
	return &Selector{
		db:         db,
		tasks:      tasks,
		taskSvc:    taskSvc,
		reviews:    reviews,
		visibility: visibility,
		opts:       opts,
		tracer:     tracing.Tracer(),
	}
}

// Next walks the candidates of q in keyset order and claims the first one it
// can. It returns nil when the queue is exhausted or when MaxAttempts claims
// were lost to other holders.
func (s *Selector) Next(ctx context.Context, userID int64, q NextQuery) (task *domain.Task, err error) {
	ctx, span := s.tracer.Start(ctx, "Selector.Next", trace.WithAttributes(
		attribute.String("taskreview.kind", string(q.Kind)),
		attribute.String("taskreview.sort", q.Sort),
		attribute.Int64("taskreview.user_id", userID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !q.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, q.Kind)
	}
	if _, err := repository.SortExpr(q.Sort); err != nil {
		return nil, err
	}
	if q.CursorTaskID != nil {
		exists, err := s.tasks.Exists(ctx, *q.CursorTaskID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: cursor task %d", domain.ErrTaskNotFound, *q.CursorTaskID)
		}
	}

	cq := repository.CandidateQuery{
		Kind:                  q.Kind,
		UserID:                userID,
		Filter:                q.Filter,
		Sort:                  q.Sort,
		Desc:                  q.Desc,
		ExcludeIDs:            q.ExcludeIDs,
		CursorTaskID:          q.CursorTaskID,
		ExcludeOtherClaimants: q.ExcludeOtherClaimants,
		Limit:                 s.opts.BatchSize,
	}

	lost := 0
	for {
		batch, err := s.tasks.ListCandidates(ctx, cq)
		if err != nil {
			return nil, err
		}

		for _, candidate := range batch {
			id := candidate.ID
			cq.CursorTaskID = &id

			visible, err := s.visibility.Visible(ctx, userID, candidate.ChallengeID)
			if err != nil {
				return nil, fmt.Errorf("check visibility of challenge %d: %w", candidate.ChallengeID, err)
			}
			if !visible {
				continue
			}

			err = s.db.InTx(ctx, func(tx *database.Tx) error {
				return s.claim(ctx, tx, q.Kind, candidate.ID, userID)
			})
			if err == nil {
				metrics.SelectorAttempts.WithLabelValues(string(q.Kind), "claimed").Inc()
				span.SetAttributes(attribute.Int64("taskreview.task_id", candidate.ID))
				slog.Info("next task selected",
					"task_id", candidate.ID,
					"user_id", userID,
					"kind", q.Kind,
					"lost_attempts", lost,
				)
				return candidate, nil
			}
			if !isLostRace(err) {
				return nil, err
			}

			lost++
			metrics.SelectorAttempts.WithLabelValues(string(q.Kind), "lost").Inc()
			slog.Debug("candidate lost to another holder",
				"task_id", candidate.ID,
				"user_id", userID,
				"attempt", lost,
				"error", err,
			)
			if lost >= s.opts.MaxAttempts {
				metrics.SelectorAttempts.WithLabelValues(string(q.Kind), "exhausted").Inc()
				return nil, nil
			}
		}

		if len(batch) < s.opts.BatchSize {
			return nil, nil
		}
	}
}

// claim takes the claim matching the queue kind.
func (s *Selector) claim(ctx context.Context, tx *database.Tx, kind domain.ResourceType, taskID, userID int64) error {
	switch kind {
	case domain.ResourceReview:
		_, err := s.reviews.StartReview(ctx, tx, taskID, userID)
		return err
	case domain.ResourceMetaReview:
		_, err := s.reviews.StartMetaReview(ctx, tx, taskID, userID)
		return err
	default:
		_, err := s.taskSvc.ClaimTask(ctx, tx, taskID, userID)
		return err
	}
}

// isLostRace reports errors caused by another caller changing the candidate
// between the listing and the claim.
func isLostRace(err error) bool {
	return errors.Is(err, domain.ErrAlreadyHeld) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrInvalidStatus) ||
		errors.Is(err, domain.ErrReviewNotFound)
}

// Nearby lists unclaimed candidates of the same challenge ordered by
// distance from the reference task. Nothing is claimed.
func (s *Selector) Nearby(ctx context.Context, userID int64, q NearbyQuery) ([]repository.NearbyTask, error) {
	ctx, span := s.tracer.Start(ctx, "Selector.Nearby", trace.WithAttributes(
		attribute.Int64("taskreview.task_id", q.TaskID),
		attribute.String("taskreview.kind", string(q.Kind)),
	))
	defer span.End()

	if !q.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, q.Kind)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.opts.NearbyLimit
	}

	origin, err := s.tasks.GetByID(ctx, q.TaskID)
	if err != nil {
		return nil, err
	}

	visible, err := s.visibility.Visible(ctx, userID, origin.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("check visibility of challenge %d: %w", origin.ChallengeID, err)
	}
	if !visible {
		return []repository.NearbyTask{}, nil
	}

	nearby, err := s.tasks.ListNearby(ctx, repository.NearbyQuery{
		Kind:       q.Kind,
		UserID:     userID,
		Origin:     origin,
		ExcludeIDs: q.ExcludeIDs,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	if nearby == nil {
		nearby = []repository.NearbyTask{}
	}
	return nearby, nil
}
