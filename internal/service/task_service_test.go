package service_test

import (
	"context"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
)

// Helper: claimTask takes the mapping claim.
func (s *ServiceTestSuite) claimTask(taskID, userID int64) error {
	return s.inTx(func(tx *database.Tx) error {
		_, err := s.tasks.ClaimTask(context.Background(), tx, taskID, userID)
		return err
	})
}

// Helper: completeTask finishes a mapping session.
func (s *ServiceTestSuite) completeTask(taskID, userID int64, status domain.TaskStatus, requestReview bool) (*domain.ReviewRecord, error) {
	var rec *domain.ReviewRecord
	err := s.inTx(func(tx *database.Tx) error {
		var err error
		rec, err = s.tasks.CompleteTask(context.Background(), tx, taskID, userID, status, requestReview)
		return err
	})
	return rec, err
}

// TestClaimTask_Success tests claiming a workable task.
func (s *ServiceTestSuite) TestClaimTask_Success() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	s.Require().NoError(s.claimTask(taskID, mapperID))

	lease, err := s.engine.Get(context.Background(), domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(mapperID, lease.HolderID)

	s.ErrorIs(s.claimTask(taskID, reviewerID), domain.ErrAlreadyHeld)
}

// TestClaimTask_NotWorkable tests that finished tasks cannot be claimed.
func (s *ServiceTestSuite) TestClaimTask_NotWorkable() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	s.ErrorIs(s.claimTask(taskID, mapperID), domain.ErrInvalidStatus)
	s.ErrorIs(s.claimTask(999, mapperID), domain.ErrTaskNotFound)
}

// TestReleaseAndRenewTask tests the mapping claim lifecycle helpers.
func (s *ServiceTestSuite) TestReleaseAndRenewTask() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)
	s.Require().NoError(s.claimTask(taskID, mapperID))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.tasks.RenewTask(ctx, tx, taskID, mapperID)
		return err
	})
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		return s.tasks.ReleaseTask(ctx, tx, taskID, reviewerID)
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	err = s.inTx(func(tx *database.Tx) error {
		return s.tasks.ReleaseTask(ctx, tx, taskID, mapperID)
	})
	s.Require().NoError(err)
}

// TestCompleteTask_RequiresClaim tests that only the holder may finish a task.
func (s *ServiceTestSuite) TestCompleteTask_RequiresClaim() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.completeTask(taskID, mapperID, domain.TaskStatusFixed, false)
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	task, err := s.taskRepo.GetByID(context.Background(), taskID)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusCreated, task.Status)
}

// TestCompleteTask_WithReviewRequest tests finishing a task and requesting a
// review in one unit of work.
func (s *ServiceTestSuite) TestCompleteTask_WithReviewRequest() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)
	s.Require().NoError(s.claimTask(taskID, mapperID))

	rec, err := s.completeTask(taskID, mapperID, domain.TaskStatusFixed, true)
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Equal(mapperID, rec.RequestedBy)

	task, err := s.taskRepo.GetByID(ctx, taskID)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusFixed, task.Status)
	s.Require().NotNil(task.MappedBy)
	s.Equal(mapperID, *task.MappedBy)

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Nil(lease, "completion releases the mapping claim")
}

// TestCompleteTask_InvalidStatus tests rejecting statuses a mapper cannot set.
func (s *ServiceTestSuite) TestCompleteTask_InvalidStatus() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)
	s.Require().NoError(s.claimTask(taskID, mapperID))

	_, err := s.completeTask(taskID, mapperID, domain.TaskStatusDeleted, false)
	s.ErrorIs(err, domain.ErrInvalidStatus)

	_, err = s.completeTask(taskID, mapperID, domain.TaskStatus("DONE"), false)
	s.ErrorIs(err, domain.ErrInvalidStatus)
}

// TestCompleteTask_BackToCreatedResetsReview tests the quality-gate reset
// after a task is reworked.
func (s *ServiceTestSuite) TestCompleteTask_BackToCreatedResetsReview() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusRejected))

	// Back to the mapper: the task is reopened, then claimed and reset.
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET status = 'CREATED' WHERE id = $1`, taskID)
	s.Require().NoError(err)
	s.Require().NoError(s.claimTask(taskID, mapperID))

	rec, err := s.completeTask(taskID, mapperID, domain.TaskStatusCreated, false)
	s.Require().NoError(err)
	s.Nil(rec)

	_, err = s.reviewRepo.GetByTaskID(ctx, taskID)
	s.ErrorIs(err, domain.ErrReviewNotFound)

	history, err := s.reviews.History(ctx, taskID)
	s.Require().NoError(err)
	last := history[len(history)-1]
	s.Equal("REJECTED", last.FromStatus)
	s.Equal("NONE", last.ToStatus)

	// The reworked task gets a fresh review lifecycle.
	s.Require().NoError(s.claimTask(taskID, mapperID))
	rec, err = s.completeTask(taskID, mapperID, domain.TaskStatusFixed, true)
	s.Require().NoError(err)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Nil(rec.ReviewedBy)
}
