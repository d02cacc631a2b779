package service_test

import (
	"context"
	"time"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
)

// blockedFor is how long a transaction must stay blocked on a row lock
// before the test lets the lock holder commit.
const blockedFor = 200 * time.Millisecond

// Helper: rejectedTask creates a FIXED task whose review was rejected.
func (s *ServiceTestSuite) rejectedTask(taskID int64) int64 {
	s.createTask(taskID, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusRejected))
	return taskID
}

// Helper: holdOpen runs work in a transaction and keeps the transaction open
// until release is closed. ready is closed once work has returned.
func (s *ServiceTestSuite) holdOpen(work func(ctx context.Context, tx *database.Tx) error) (ready, release chan struct{}, done chan error) {
	ready = make(chan struct{})
	release = make(chan struct{})
	done = make(chan error, 1)

	go func() {
		done <- s.inTx(func(tx *database.Tx) error {
			err := work(context.Background(), tx)
			close(ready)
			if err != nil {
				return err
			}
			<-release
			return nil
		})
	}()

	return ready, release, done
}

// Helper: requireBlocked fails if result delivers within blockedFor.
func (s *ServiceTestSuite) requireBlocked(result chan error, what string) {
	select {
	case err := <-result:
		s.FailNowf("transaction did not wait for the row lock", "%s returned %v", what, err)
	case <-time.After(blockedFor):
	}
}

// TestHistory_OrderFollowsTransitions checks that an entry written by a
// transaction that began earlier but reached the record later sorts after
// the transition that actually happened first.
func (s *ServiceTestSuite) TestHistory_OrderFollowsTransitions() {
	ctx := context.Background()
	taskID := s.rejectedTask(42)

	begun := make(chan struct{})
	proceed := make(chan struct{})
	requested := make(chan error, 1)
	go func() {
		requested <- s.inTx(func(tx *database.Tx) error {
			_, err := tx.Exec(ctx, `SELECT 1`)
			close(begun)
			if err != nil {
				return err
			}
			<-proceed
			_, err = s.reviews.RequestReview(ctx, tx, taskID, mapperID)
			return err
		})
	}()
	<-begun
	time.Sleep(20 * time.Millisecond)

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.DisputeReview(ctx, tx, taskID, mapperID, "it is fixed")
		return err
	})
	s.Require().NoError(err)

	close(proceed)
	s.Require().NoError(<-requested)

	history := s.requireReplayable(taskID)
	s.Require().Len(history, 4)
	s.Equal("REJECTED", history[2].FromStatus)
	s.Equal("DISPUTED", history[2].ToStatus)
	s.Equal("DISPUTED", history[3].FromStatus)
	s.Equal("REQUESTED", history[3].ToStatus)
}

// TestRequestReview_WaitsForRevertToCreated checks that a review request
// racing a revert to CREATED waits for it and then fails, leaving no record.
func (s *ServiceTestSuite) TestRequestReview_WaitsForRevertToCreated() {
	ctx := context.Background()
	taskID := s.rejectedTask(42)
	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	ready, release, reverted := s.holdOpen(func(ctx context.Context, tx *database.Tx) error {
		_, err := s.tasks.CompleteTask(ctx, tx, taskID, mapperID, domain.TaskStatusCreated, false)
		return err
	})
	<-ready

	requested := make(chan error, 1)
	go func() {
		requested <- s.inTx(func(tx *database.Tx) error {
			_, err := s.reviews.RequestReview(ctx, tx, taskID, mapperID)
			return err
		})
	}()
	s.requireBlocked(requested, "RequestReview")

	close(release)
	s.Require().NoError(<-reverted)
	s.ErrorIs(<-requested, domain.ErrInvalidStatus)

	_, err = s.reviewRepo.GetByTaskID(ctx, taskID)
	s.ErrorIs(err, domain.ErrReviewNotFound)

	status, err := s.taskRepo.GetStatus(ctx, nil, taskID)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusCreated, status)

	history := s.requireReplayable(taskID)
	s.Equal("NONE", history[len(history)-1].ToStatus)
}

// TestCompleteTask_RevertWaitsForRequestReview checks the opposite order: a
// revert to CREATED that arrives during a review request waits for it and
// then resets the fresh record.
func (s *ServiceTestSuite) TestCompleteTask_RevertWaitsForRequestReview() {
	ctx := context.Background()
	taskID := s.rejectedTask(42)
	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	ready, release, requested := s.holdOpen(func(ctx context.Context, tx *database.Tx) error {
		_, err := s.reviews.RequestReview(ctx, tx, taskID, mapperID)
		return err
	})
	<-ready

	reverted := make(chan error, 1)
	go func() {
		_, err := s.completeTask(taskID, mapperID, domain.TaskStatusCreated, false)
		reverted <- err
	}()
	s.requireBlocked(reverted, "CompleteTask")

	close(release)
	s.Require().NoError(<-requested)
	s.Require().NoError(<-reverted)

	_, err = s.reviewRepo.GetByTaskID(ctx, taskID)
	s.ErrorIs(err, domain.ErrReviewNotFound)

	history := s.requireReplayable(taskID)
	s.Require().Len(history, 4)
	s.Equal("REQUESTED", history[3].FromStatus)
	s.Equal("NONE", history[3].ToStatus)
}

// TestRequestReview_ConcurrentFirstRequests checks that racing first
// requests on one task leave a gap-free history.
func (s *ServiceTestSuite) TestRequestReview_ConcurrentFirstRequests() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	const requests = 4
	results := make(chan error, requests)
	for range requests {
		go func() {
			results <- s.inTx(func(tx *database.Tx) error {
				_, err := s.reviews.RequestReview(ctx, tx, taskID, mapperID)
				return err
			})
		}()
	}
	for range requests {
		s.Require().NoError(<-results)
	}

	history := s.requireReplayable(taskID)
	s.Require().Len(history, requests)
	s.Equal("NONE", history[0].FromStatus)
	for _, entry := range history[1:] {
		s.Equal("REQUESTED", entry.FromStatus)
	}
}
