package service_test

import (
	"context"
	"time"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/service"
)

// Helper: newSweeper builds a sweeper with the review hook wired.
func (s *ServiceTestSuite) newSweeper(ttls service.LeaseTTLs) *service.Sweeper {
	return service.NewSweeper(s.engine, ttls, time.Minute, 2, map[domain.ResourceType]service.ExpireHook{
		domain.ResourceReview: s.reviews.ExpireReviewClaim,
	})
}

func hourTTLs() service.LeaseTTLs {
	return service.LeaseTTLs{Task: time.Hour, Review: time.Hour, MetaReview: time.Hour}
}

// TestSweep_RemovesStaleLeases tests that an expired lease is freed and the
// resource becomes acquirable again.
func (s *ServiceTestSuite) TestSweep_RemovesStaleLeases() {
	ctx := context.Background()
	for _, id := range []int64{41, 42, 43} {
		s.createTask(id, challengeID, domain.TaskStatusCreated)
		_, err := s.acquire(domain.ResourceTask, id, mapperID)
		s.Require().NoError(err)
		s.ageLease(domain.ResourceTask, id, 2*time.Hour)
	}

	counts, err := s.newSweeper(hourTTLs()).Sweep(ctx)
	s.Require().NoError(err)
	s.Equal(3, counts[domain.ResourceTask])

	leases, err := s.engine.ListHeldBy(ctx, mapperID)
	s.Require().NoError(err)
	s.Empty(leases)

	_, err = s.acquire(domain.ResourceTask, 42, reviewerID)
	s.NoError(err)
}

// TestSweep_KeepsFreshLeases tests that live leases survive a sweep.
func (s *ServiceTestSuite) TestSweep_KeepsFreshLeases() {
	ctx := context.Background()
	s.createTask(41, challengeID, domain.TaskStatusCreated)
	s.createTask(42, challengeID, domain.TaskStatusCreated)
	_, err := s.acquire(domain.ResourceTask, 41, mapperID)
	s.Require().NoError(err)
	_, err = s.acquire(domain.ResourceTask, 42, mapperID)
	s.Require().NoError(err)
	s.ageLease(domain.ResourceTask, 42, 2*time.Hour)

	counts, err := s.newSweeper(hourTTLs()).Sweep(ctx)
	s.Require().NoError(err)
	s.Equal(1, counts[domain.ResourceTask])

	lease, err := s.engine.Get(ctx, domain.ResourceTask, 41)
	s.Require().NoError(err)
	s.NotNil(lease)
}

// TestSweep_PerTypeTTL tests that each lease type expires on its own TTL.
func (s *ServiceTestSuite) TestSweep_PerTypeTTL() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	_, err = s.acquire(domain.ResourceMetaReview, taskID, metaReviewerID)
	s.Require().NoError(err)
	s.ageLease(domain.ResourceTask, taskID, 30*time.Minute)
	s.ageLease(domain.ResourceMetaReview, taskID, 30*time.Minute)

	ttls := service.LeaseTTLs{Task: time.Hour, Review: time.Hour, MetaReview: 10 * time.Minute}
	counts, err := s.newSweeper(ttls).Sweep(ctx)
	s.Require().NoError(err)
	s.Equal(0, counts[domain.ResourceTask])
	s.Equal(1, counts[domain.ResourceMetaReview])

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.NotNil(lease)
}

// TestSweep_ClearsReviewClaim tests that an expired review claim disappears
// from the record too and the review can be picked up again.
func (s *ServiceTestSuite) TestSweep_ClearsReviewClaim() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.ageLease(domain.ResourceReview, taskID, 2*time.Hour)

	counts, err := s.newSweeper(hourTTLs()).Sweep(ctx)
	s.Require().NoError(err)
	s.Equal(1, counts[domain.ResourceReview])

	rec := s.getRecord(taskID)
	s.Equal(domain.ReviewStatusRequested, rec.ReviewStatus)
	s.Nil(rec.ClaimedBy)
	s.Nil(rec.ClaimedAt)

	// The stale holder's verdict is refused.
	err = s.setReviewStatus(taskID, reviewerID, domain.ReviewStatusApproved)
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	s.Require().NoError(s.startReview(taskID, reviewer2ID))
	s.Require().NoError(s.setReviewStatus(taskID, reviewer2ID, domain.ReviewStatusApproved))
}

// TestSweep_HookRolledBackWhenRenewed checks that a lease renewed while the
// sweeper waits on the record lock survives along with the record claim.
func (s *ServiceTestSuite) TestSweep_HookRolledBackWhenRenewed() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)
	s.requestReview(taskID)
	s.Require().NoError(s.startReview(taskID, reviewerID))
	s.ageLease(domain.ResourceReview, taskID, 2*time.Hour)

	// The reviewer renews inside a transaction holding the record lock; the
	// sweep blocks on the record and then finds the lease changed.
	renewed := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.inTx(func(tx *database.Tx) error {
			if _, err := s.reviewRepo.GetForUpdate(ctx, tx, taskID); err != nil {
				return err
			}
			if _, err := s.engine.Renew(ctx, tx, domain.ResourceReview, taskID, reviewerID); err != nil {
				return err
			}
			close(renewed)
			<-release
			return nil
		})
	}()
	<-renewed

	sweepDone := make(chan map[domain.ResourceType]int, 1)
	go func() {
		counts, _ := s.newSweeper(hourTTLs()).Sweep(ctx)
		sweepDone <- counts
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)
	s.Require().NoError(<-done)

	counts := <-sweepDone
	s.Equal(0, counts[domain.ResourceReview])

	rec := s.getRecord(taskID)
	s.Require().NotNil(rec.ClaimedBy)
	s.Equal(reviewerID, *rec.ClaimedBy)

	lease, err := s.engine.Get(ctx, domain.ResourceReview, taskID)
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(reviewerID, lease.HolderID)
}

// TestSweep_ConcurrentSweepers tests that duplicate sweepers only race
// harmlessly.
func (s *ServiceTestSuite) TestSweep_ConcurrentSweepers() {
	ctx := context.Background()
	for _, id := range []int64{41, 42, 43, 44, 45} {
		s.createTask(id, challengeID, domain.TaskStatusCreated)
		_, err := s.acquire(domain.ResourceTask, id, mapperID)
		s.Require().NoError(err)
		s.ageLease(domain.ResourceTask, id, 2*time.Hour)
	}

	results := make(chan int, 2)
	for range 2 {
		go func() {
			counts, err := s.newSweeper(hourTTLs()).Sweep(ctx)
			s.NoError(err)
			results <- counts[domain.ResourceTask]
		}()
	}

	total := <-results + <-results
	s.Equal(5, total, "every lease is swept exactly once")

	leases, err := s.engine.ListHeldBy(ctx, mapperID)
	s.Require().NoError(err)
	s.Empty(leases)
}

// TestSweeper_RunStopsOnCancel tests the ticker loop.
func (s *ServiceTestSuite) TestSweeper_RunStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	s.createTask(42, challengeID, domain.TaskStatusCreated)
	_, err := s.acquire(domain.ResourceTask, 42, mapperID)
	s.Require().NoError(err)
	s.ageLease(domain.ResourceTask, 42, 2*time.Hour)

	sweeper := service.NewSweeper(s.engine, hourTTLs(), 20*time.Millisecond, 10, nil)
	stopped := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(stopped)
	}()

	s.Eventually(func() bool {
		lease, err := s.engine.Get(context.Background(), domain.ResourceTask, 42)
		return err == nil && lease == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.Fail("sweeper did not stop")
	}
}
