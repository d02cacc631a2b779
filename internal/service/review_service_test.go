package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
)

// TestReviewFlow_Task42 walks a review from request to rejection while a
// second reviewer competes for the claim.
func (s *ServiceTestSuite) TestReviewFlow_Task42() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	rec := s.requestReview(taskID)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Equal(mapperID, rec.RequestedBy)
	s.Nil(rec.ClaimedBy)

	s.Require().NoError(s.startReview(taskID, reviewerID))

	err := s.startReview(taskID, reviewer2ID)
	s.Require().ErrorIs(err, domain.ErrAlreadyHeld)
	holder, ok := domain.HolderOf(err)
	s.True(ok)
	s.Equal(reviewerID, holder)

	err = s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.SetReviewStatus(ctx, tx, taskID, reviewerID, domain.ReviewStatusRejected, "needs fix")
		return err
	})
	s.Require().NoError(err)

	rec = s.getRecord(taskID)
	s.Equal(domain.ReviewStatusRejected, rec.ReviewStatus)
	s.Nil(rec.ClaimedBy)
	s.Nil(rec.ClaimedAt)
	s.Require().NotNil(rec.ReviewedBy)
	s.Equal(reviewerID, *rec.ReviewedBy)
	s.NotNil(rec.ReviewedAt)
	s.NotNil(rec.ReviewStartedAt)
	s.Equal(domain.MetaReviewStatusNone, rec.MetaReviewStatus)

	lease, err := s.engine.Get(ctx, domain.ResourceReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease, "verdict releases the review claim")

	history, err := s.reviews.History(ctx, taskID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal("NONE", history[0].FromStatus)
	s.Equal("REQUESTED", history[0].ToStatus)
	s.Equal("REQUESTED", history[1].FromStatus)
	s.Equal("REJECTED", history[1].ToStatus)
	s.Equal(reviewerID, history[1].ActorID)
	s.Equal("needs fix", history[1].Comment)
}

// TestStartReview_ConcurrentReviewers checks that one of several racing
// reviewers wins the claim.
func (s *ServiceTestSuite) TestStartReview_ConcurrentReviewers() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	reviewers := []int64{reviewerID, reviewer2ID, metaReviewerID}
	results := make(chan error, len(reviewers))
	for _, r := range reviewers {
		go func(id int64) { results <- s.startReview(taskID, id) }(r)
	}

	successCount := 0
	for range reviewers {
		err := <-results
		if err == nil {
			successCount++
			continue
		}
		s.ErrorIs(err, domain.ErrAlreadyHeld)
	}
	s.Equal(1, successCount, "exactly one reviewer should win")

	rec := s.getRecord(taskID)
	s.Require().NotNil(rec.ClaimedBy)
	lease, err := s.engine.Get(context.Background(), domain.ResourceReview, taskID)
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(lease.HolderID, *rec.ClaimedBy, "record names the lease holder")
}

// TestRequestReview_TaskNotCompleted tests the completion precondition.
func (s *ServiceTestSuite) TestRequestReview_TaskNotCompleted() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.RequestReview(context.Background(), tx, taskID, mapperID)
		return err
	})
	s.ErrorIs(err, domain.ErrInvalidStatus)
}

// TestRequestReview_UnknownTask tests requesting a review of a missing task.
func (s *ServiceTestSuite) TestRequestReview_UnknownTask() {
	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.RequestReview(context.Background(), tx, 999, mapperID)
		return err
	})
	s.ErrorIs(err, domain.ErrTaskNotFound)
}

// TestRequestReview_RestartsLifecycle checks that a re-request clears the
// previous verdict and any open claims.
func (s *ServiceTestSuite) TestRequestReview_RestartsLifecycle() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))
	s.Require().NoError(s.requestMetaReview(taskID, reviewerID))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.StartMetaReview(ctx, tx, taskID, metaReviewerID)
		return err
	})
	s.Require().NoError(err)

	rec := s.requestReview(taskID)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Nil(rec.ReviewedBy)
	s.Nil(rec.ReviewedAt)
	s.Equal(domain.MetaReviewStatusNone, rec.MetaReviewStatus)

	lease, err := s.engine.Get(ctx, domain.ResourceMetaReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease, "re-request drops the meta-review claim")
}

// TestStartReview_NotReviewer tests the reviewer capability gate.
func (s *ServiceTestSuite) TestStartReview_NotReviewer() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	s.ErrorIs(s.startReview(taskID, mapperID), domain.ErrNotAuthorized)
	s.ErrorIs(s.startReview(taskID, inactiveID), domain.ErrNotAuthorized)
}

// TestStartReview_NoRecord tests starting a review that was never requested.
func (s *ServiceTestSuite) TestStartReview_NoRecord() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	s.ErrorIs(s.startReview(taskID, reviewerID), domain.ErrReviewNotFound)
}

// TestStartReview_AfterVerdict_ShouldFail tests that decided reviews are not
// claimable.
func (s *ServiceTestSuite) TestStartReview_AfterVerdict_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	s.ErrorIs(s.startReview(taskID, reviewer2ID), domain.ErrInvalidTransition)
}

// TestStartReview_Idempotent tests that the holder may start again.
func (s *ServiceTestSuite) TestStartReview_Idempotent() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.startReview(taskID, reviewerID))

	rec := s.getRecord(taskID)
	s.Require().NotNil(rec.ClaimedBy)
	s.Equal(reviewerID, *rec.ClaimedBy)
}

// TestSetReviewStatus_FromRequested tests every legal verdict from REQUESTED.
func (s *ServiceTestSuite) TestSetReviewStatus_FromRequested() {
	targets := []domain.ReviewStatus{
		domain.ReviewStatusApproved,
		domain.ReviewStatusRejected,
		domain.ReviewStatusDisputed,
	}

	for i, target := range targets {
		s.Run(string(target), func() {
			taskID := s.createTask(int64(100+i), challengeID, domain.TaskStatusFixed)
			s.requestReview(taskID)
			s.Require().NoError(s.startReview(taskID, reviewerID))

			s.Require().NoError(s.setReviewStatus(taskID, reviewerID, target))
			s.Equal(target, s.getRecord(taskID).ReviewStatus)
		})
	}
}

// TestSetReviewStatus_ApprovedToDisputed_ShouldFail tests an illegal
// transition even with a held claim.
func (s *ServiceTestSuite) TestSetReviewStatus_ApprovedToDisputed_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	_, err := s.acquire(domain.ResourceReview, taskID, reviewerID)
	s.Require().NoError(err)

	err = s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusDisputed)
	s.ErrorIs(err, domain.ErrInvalidTransition)
	s.Equal(domain.ReviewStatusApproved, s.getRecord(taskID).ReviewStatus)
}

// TestSetReviewStatus_WithoutClaim_ShouldFail tests the claim requirement.
func (s *ServiceTestSuite) TestSetReviewStatus_WithoutClaim_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))

	err := s.setReviewStatus(taskID, reviewer2ID, domain.ReviewStatusApproved)
	s.ErrorIs(err, domain.ErrNotHeldByCaller)
	s.Equal(domain.ReviewStatusRequested, s.getRecord(taskID).ReviewStatus)
}

// TestSetReviewStatus_NotAVerdict_ShouldFail tests rejecting NONE as a target.
func (s *ServiceTestSuite) TestSetReviewStatus_NotAVerdict_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))

	err := s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusNone)
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestCancelReview_KeepsStatus tests giving up a claim.
func (s *ServiceTestSuite) TestCancelReview_KeepsStatus() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))

	err := s.inTx(func(tx *database.Tx) error {
		return s.reviews.CancelReview(ctx, tx, taskID, reviewer2ID)
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	err = s.inTx(func(tx *database.Tx) error {
		return s.reviews.CancelReview(ctx, tx, taskID, reviewerID)
	})
	s.Require().NoError(err)

	rec := s.getRecord(taskID)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Nil(rec.ClaimedBy)

	s.NoError(s.startReview(taskID, reviewer2ID), "cancelled review is claimable again")
}

// TestDisputeReview_Requeues tests the requester contesting a rejection.
func (s *ServiceTestSuite) TestDisputeReview_Requeues() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusRejected))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.DisputeReview(ctx, tx, taskID, reviewerID, "not mine")
		return err
	})
	s.ErrorIs(err, domain.ErrNotAuthorized)

	err = s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.DisputeReview(ctx, tx, taskID, mapperID, "it is fixed")
		return err
	})
	s.Require().NoError(err)
	s.Equal(domain.ReviewStatusDisputed, s.getRecord(taskID).ReviewStatus)

	s.Require().NoError(s.startReview(taskID, reviewer2ID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewer2ID, domain.ReviewStatusApproved))
	s.Equal(domain.ReviewStatusApproved, s.getRecord(taskID).ReviewStatus)
}

// TestDisputeReview_Approved_ShouldFail tests that only rejections can be disputed.
func (s *ServiceTestSuite) TestDisputeReview_Approved_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.DisputeReview(context.Background(), tx, taskID, mapperID, "")
		return err
	})
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestMetaReview_Flow tests the meta-review overlay end to end.
func (s *ServiceTestSuite) TestMetaReview_Flow() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	requestMeta := func(userID int64) error {
		return s.inTx(func(tx *database.Tx) error {
			_, err := s.reviews.RequestMetaReview(ctx, tx, taskID, userID, "")
			return err
		})
	}
	startMeta := func(userID int64) error {
		return s.inTx(func(tx *database.Tx) error {
			_, err := s.reviews.StartMetaReview(ctx, tx, taskID, userID)
			return err
		})
	}
	setMeta := func(userID int64, status domain.MetaReviewStatus) error {
		return s.inTx(func(tx *database.Tx) error {
			_, err := s.reviews.SetMetaReviewStatus(ctx, tx, taskID, userID, status, "")
			return err
		})
	}

	// Neither the original reviewer nor a meta-reviewer: refused.
	s.ErrorIs(requestMeta(reviewer2ID), domain.ErrNotAuthorized)

	s.Require().NoError(requestMeta(reviewerID))
	s.Equal(domain.MetaReviewStatusRequested, s.getRecord(taskID).MetaReviewStatus)

	s.ErrorIs(startMeta(reviewerID), domain.ErrNotAuthorized)
	s.Require().NoError(startMeta(metaReviewerID))

	// A meta claim never collides with the primary review claim namespace.
	lease, err := s.engine.Get(ctx, domain.ResourceReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease)

	s.Require().NoError(setMeta(metaReviewerID, domain.MetaReviewStatusRejected))
	rec := s.getRecord(taskID)
	s.Equal(domain.MetaReviewStatusRejected, rec.MetaReviewStatus)
	s.Equal(domain.ReviewStatusApproved, rec.ReviewStatus, "meta rejection keeps the verdict")
	s.Require().NotNil(rec.MetaReviewedBy)
	s.Equal(metaReviewerID, *rec.MetaReviewedBy)

	// Sent back for another pass.
	s.Require().NoError(requestMeta(reviewerID))
	s.Require().NoError(startMeta(metaReviewerID))
	s.Require().NoError(setMeta(metaReviewerID, domain.MetaReviewStatusApproved))
	s.Equal(domain.MetaReviewStatusApproved, s.getRecord(taskID).MetaReviewStatus)

	s.ErrorIs(requestMeta(reviewerID), domain.ErrInvalidTransition)
	s.ErrorIs(startMeta(metaReviewerID), domain.ErrInvalidTransition)
}

// TestSetMetaReviewStatus_WithoutClaim_ShouldFail tests the meta claim requirement.
func (s *ServiceTestSuite) TestSetMetaReviewStatus_WithoutClaim_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusRejected))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.SetMetaReviewStatus(context.Background(), tx, taskID, metaReviewerID, domain.MetaReviewStatusApproved, "")
		return err
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)
}

// TestStartMetaReview_PendingReview_ShouldFail tests that meta-review needs a verdict.
func (s *ServiceTestSuite) TestStartMetaReview_PendingReview_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.StartMetaReview(context.Background(), tx, taskID, metaReviewerID)
		return err
	})
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestStartMetaReview_NotRequested_ShouldFail tests that a verdict is only
// claimable for meta-review once a meta-review was requested.
func (s *ServiceTestSuite) TestStartMetaReview_NotRequested_ShouldFail() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.StartMetaReview(ctx, tx, taskID, metaReviewerID)
		return err
	})
	s.ErrorIs(err, domain.ErrInvalidTransition)

	lease, err := s.engine.Get(ctx, domain.ResourceMetaReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease)
	s.Equal(domain.MetaReviewStatusNone, s.getRecord(taskID).MetaReviewStatus)
}

// TestCancelMetaReview tests giving up a meta claim.
func (s *ServiceTestSuite) TestCancelMetaReview() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))
	s.Require().NoError(s.requestMetaReview(taskID, reviewerID))

	err := s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.StartMetaReview(ctx, tx, taskID, metaReviewerID)
		return err
	})
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		return s.reviews.CancelMetaReview(ctx, tx, taskID, metaReviewerID)
	})
	s.Require().NoError(err)

	lease, err := s.engine.Get(ctx, domain.ResourceMetaReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease)
}

// TestResetReview_DeletesRecord tests the quality-gate reset.
func (s *ServiceTestSuite) TestResetReview_DeletesRecord() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))

	err := s.inTx(func(tx *database.Tx) error {
		return s.reviews.ResetReview(ctx, tx, taskID, mapperID)
	})
	s.Require().NoError(err)

	_, err = s.reviewRepo.GetByTaskID(ctx, taskID)
	s.ErrorIs(err, domain.ErrReviewNotFound)

	lease, err := s.engine.Get(ctx, domain.ResourceReview, taskID)
	s.Require().NoError(err)
	s.Nil(lease)

	history, err := s.reviews.History(ctx, taskID)
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	last := history[len(history)-1]
	s.Equal("REQUESTED", last.FromStatus)
	s.Equal("NONE", last.ToStatus)

	// Resetting again is a no-op.
	err = s.inTx(func(tx *database.Tx) error {
		return s.reviews.ResetReview(ctx, tx, taskID, mapperID)
	})
	s.Require().NoError(err)
	again, err := s.reviews.History(ctx, taskID)
	s.Require().NoError(err)
	s.Len(again, len(history))
}

// TestResetReviewByMetaReviewer_RequiresCapability tests the direct reset
// gate.
func (s *ServiceTestSuite) TestResetReviewByMetaReviewer_RequiresCapability() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	for _, userID := range []int64{mapperID, reviewerID, inactiveID} {
		err := s.inTx(func(tx *database.Tx) error {
			return s.reviews.ResetReviewByMetaReviewer(ctx, tx, taskID, userID)
		})
		s.ErrorIs(err, domain.ErrNotAuthorized, "user %d", userID)
	}
	s.Equal(domain.ReviewStatusRequested, s.getRecord(taskID).ReviewStatus)

	err := s.inTx(func(tx *database.Tx) error {
		return s.reviews.ResetReviewByMetaReviewer(ctx, tx, taskID, metaReviewerID)
	})
	s.Require().NoError(err)

	_, err = s.reviewRepo.GetByTaskID(ctx, taskID)
	s.ErrorIs(err, domain.ErrReviewNotFound)
}

// TestHistory_ReplayIsLegal replays a long lifecycle and checks that every
// stored entry is a legal transition from the previous one.
func (s *ServiceTestSuite) TestHistory_ReplayIsLegal() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusRejected))
	s.Require().NoError(s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.DisputeReview(ctx, tx, taskID, mapperID, "")
		return err
	}))
	s.Require().NoError(s.startReview(taskID, reviewer2ID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewer2ID, domain.ReviewStatusApproved))
	s.Require().NoError(s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.RequestMetaReview(ctx, tx, taskID, reviewer2ID, "")
		return err
	}))
	s.Require().NoError(s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.StartMetaReview(ctx, tx, taskID, metaReviewerID)
		return err
	}))
	s.Require().NoError(s.inTx(func(tx *database.Tx) error {
		_, err := s.reviews.SetMetaReviewStatus(ctx, tx, taskID, metaReviewerID, domain.MetaReviewStatusRejected, "")
		return err
	}))
	s.Require().NoError(s.inTx(func(tx *database.Tx) error {
		return s.reviews.ResetReview(ctx, tx, taskID, mapperID)
	}))
	s.requestReview(taskID)

	history := s.requireReplayable(taskID)
	s.Require().Len(history, 8)
	s.Equal("REQUESTED", history[len(history)-1].ToStatus)
}

// TestHistory_AppendOnly tests that stored entries cannot be changed.
func (s *ServiceTestSuite) TestHistory_AppendOnly() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	_, err := s.pool.Exec(ctx, `UPDATE task_review_history SET to_status = 'APPROVED' WHERE task_id = $1`, taskID)
	s.Error(err)

	_, err = s.pool.Exec(ctx, `DELETE FROM task_review_history WHERE task_id = $1`, taskID)
	s.Error(err)
}

// TestGetReview_InvalidatedAfterCommit checks that cached reads follow
// committed transitions.
func (s *ServiceTestSuite) TestGetReview_InvalidatedAfterCommit() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)

	rec, err := s.reviews.GetReview(ctx, taskID)
	s.Require().NoError(err)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)

	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved))

	s.Eventually(func() bool {
		rec, err := s.reviews.GetReview(ctx, taskID)
		return err == nil && rec.ReviewStatus == domain.ReviewStatusApproved
	}, time.Second, 10*time.Millisecond)

	_, err = s.reviews.GetReview(ctx, 999)
	s.ErrorIs(err, domain.ErrReviewNotFound)
}

// TestEmitter_OnlyCommittedTransitions checks that rolled back transitions
// are never emitted.
func (s *ServiceTestSuite) TestEmitter_OnlyCommittedTransitions() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	errAbort := errors.New("abort")

	err := s.inTx(func(tx *database.Tx) error {
		if _, err := s.reviews.RequestReview(ctx, tx, taskID, mapperID); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)
	s.Empty(s.emitter.Entries())

	s.requestReview(taskID)
	entries := s.emitter.Entries()
	s.Require().Len(entries, 1)
	s.Equal(taskID, entries[0].TaskID)
	s.Equal("REQUESTED", entries[0].ToStatus)
	s.NotZero(entries[0].ID)
}
