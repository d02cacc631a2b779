package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
)

// TaskService coordinates the mapping claim on a task and its completion.
type TaskService struct {
	engine    *ClaimEngine
	statuses  TaskStatusStore
	reviews   *ReviewService
	validator *Validator
}

// NewTaskService creates a new TaskService.
func NewTaskService(engine *ClaimEngine, statuses TaskStatusStore, reviews *ReviewService) *TaskService {
	return &TaskService{
		engine:    engine,
		statuses:  statuses,
		reviews:   reviews,
		validator: &Validator{},
	}
}

// ClaimTask takes the mapping claim on a workable task.
func (s *TaskService) ClaimTask(ctx context.Context, tx *database.Tx, taskID, mapperID int64) (*domain.Lease, error) {
	status, err := s.statuses.TaskStatus(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanClaimTask(taskID, status); err != nil {
		return nil, err
	}

	lease, err := s.engine.Acquire(ctx, tx, domain.ResourceTask, taskID, mapperID)
	if err != nil {
		return nil, err
	}

	slog.Info("task claimed", "task_id", taskID, "mapper_id", mapperID)

	return lease, nil
}

// ReleaseTask gives up the mapping claim.
func (s *TaskService) ReleaseTask(ctx context.Context, tx *database.Tx, taskID, mapperID int64) error {
	return s.engine.Release(ctx, tx, domain.ResourceTask, taskID, mapperID)
}

// RenewTask extends the mapping claim.
func (s *TaskService) RenewTask(ctx context.Context, tx *database.Tx, taskID, mapperID int64) (*domain.Lease, error) {
	return s.engine.Renew(ctx, tx, domain.ResourceTask, taskID, mapperID)
}

// CompleteTask finishes a mapping session: the task status is patched and the
// claim released. Going back to CREATED resets any review. With
// requestReview set, a review is requested in the same transaction.
func (s *TaskService) CompleteTask(
	ctx context.Context,
	tx *database.Tx,
	taskID, mapperID int64,
	status domain.TaskStatus,
	requestReview bool,
) (*domain.ReviewRecord, error) {
	if err := s.validator.CanCompleteTask(taskID, status); err != nil {
		return nil, err
	}
	if _, err := s.engine.RequireHeld(ctx, tx, domain.ResourceTask, taskID, mapperID); err != nil {
		return nil, err
	}

	if err := s.statuses.SetTaskStatus(ctx, tx, taskID, status, mapperID); err != nil {
		return nil, fmt.Errorf("set task status: %w", err)
	}
	if err := s.engine.Release(ctx, tx, domain.ResourceTask, taskID, mapperID); err != nil {
		return nil, err
	}

	if status == domain.TaskStatusCreated {
		if err := s.reviews.ResetReview(ctx, tx, taskID, mapperID); err != nil {
			return nil, fmt.Errorf("reset review: %w", err)
		}
	}

	var rec *domain.ReviewRecord
	if requestReview {
		var err error
		rec, err = s.reviews.RequestReview(ctx, tx, taskID, mapperID)
		if err != nil {
			return nil, err
		}
	}

	slog.Info("task completed",
		"task_id", taskID,
		"mapper_id", mapperID,
		"status", status,
		"review_requested", requestReview,
	)

	return rec, nil
}
