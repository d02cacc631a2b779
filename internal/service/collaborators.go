package service

import (
	"context"
	"fmt"

	"github.com/mtlprog/taskreview/internal/cache"
	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/repository"
)

// Authorizer answers capability checks for a user within a challenge.
// challengeID 0 asks about the capability outside any one challenge.
type Authorizer interface {
	Authorize(ctx context.Context, userID int64, capability domain.Capability, challengeID int64) (bool, error)
}

// TaskStatusStore reads and patches the lifecycle status of tasks.
// LockTaskStatus holds the status stable until tx ends.
type TaskStatusStore interface {
	TaskStatus(ctx context.Context, tx *database.Tx, taskID int64) (domain.TaskStatus, error)
	LockTaskStatus(ctx context.Context, tx *database.Tx, taskID int64) (domain.TaskStatus, error)
	SetTaskStatus(ctx context.Context, tx *database.Tx, taskID int64, status domain.TaskStatus, actorID int64) error
}

// Visibility reports whether a challenge's tasks may be handed to a user.
type Visibility interface {
	Visible(ctx context.Context, userID, challengeID int64) (bool, error)
}

// UserAuthorizer grants capabilities from the reviewer flags on users.
// Inactive users have no capabilities.
type UserAuthorizer struct {
	users *repository.UserRepository
}

// NewUserAuthorizer creates a new UserAuthorizer.
func NewUserAuthorizer(users *repository.UserRepository) *UserAuthorizer {
	return &UserAuthorizer{users: users}
}

// Authorize implements Authorizer.
func (a *UserAuthorizer) Authorize(ctx context.Context, userID int64, capability domain.Capability, _ int64) (bool, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.IsActive {
		return false, nil
	}

	switch capability {
	case domain.CapabilityReview:
		return user.IsReviewer || user.IsMetaReviewer, nil
	case domain.CapabilityMetaReview:
		return user.IsMetaReviewer, nil
	default:
		return false, nil
	}
}

// TaskStatusRepository is the TaskStatusStore backed by the tasks table.
type TaskStatusRepository struct {
	tasks *repository.TaskRepository
}

// NewTaskStatusRepository creates a new TaskStatusRepository.
func NewTaskStatusRepository(tasks *repository.TaskRepository) *TaskStatusRepository {
	return &TaskStatusRepository{tasks: tasks}
}

// TaskStatus implements TaskStatusStore.
func (r *TaskStatusRepository) TaskStatus(ctx context.Context, tx *database.Tx, taskID int64) (domain.TaskStatus, error) {
	return r.tasks.GetStatus(ctx, tx, taskID)
}

// LockTaskStatus implements TaskStatusStore.
func (r *TaskStatusRepository) LockTaskStatus(ctx context.Context, tx *database.Tx, taskID int64) (domain.TaskStatus, error) {
	return r.tasks.GetStatusForUpdate(ctx, tx, taskID)
}

// SetTaskStatus implements TaskStatusStore. Completion statuses record the
// actor as the mapper.
func (r *TaskStatusRepository) SetTaskStatus(ctx context.Context, tx *database.Tx, taskID int64, status domain.TaskStatus, actorID int64) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	var mappedBy *int64
	if status.IsCompletion() {
		mappedBy = &actorID
	}
	return r.tasks.UpdateStatus(ctx, tx, taskID, status, mappedBy)
}

// ChallengeVisibility hides tasks of disabled challenges or projects.
type ChallengeVisibility struct {
	challenges *repository.ChallengeRepository
	cache      *cache.Store[bool]
}

// NewChallengeVisibility creates a new ChallengeVisibility. c may be nil.
func NewChallengeVisibility(challenges *repository.ChallengeRepository, c *cache.Store[bool]) *ChallengeVisibility {
	return &ChallengeVisibility{challenges: challenges, cache: c}
}

// Visible implements Visibility.
func (v *ChallengeVisibility) Visible(ctx context.Context, _ int64, challengeID int64) (bool, error) {
	return v.cache.GetOrLoad(ctx, cache.Key("challenge", challengeID), func(ctx context.Context) (bool, error) {
		challenge, err := v.challenges.GetByID(ctx, challengeID)
		if err != nil {
			return false, err
		}
		return challenge.IsVisible(), nil
	})
}
