package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
)

// TestAcquire_FreeResource tests acquiring a lease nobody holds.
func (s *ServiceTestSuite) TestAcquire_FreeResource() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	lease, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	s.Equal(domain.ResourceTask, lease.ResourceType)
	s.Equal(taskID, lease.ResourceID)
	s.Equal(mapperID, lease.HolderID)

	stored, err := s.engine.Get(context.Background(), domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.Equal(mapperID, stored.HolderID)
}

// TestAcquire_IdempotentRenew checks that re-acquiring an own lease renews it.
func (s *ServiceTestSuite) TestAcquire_IdempotentRenew() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	first, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	s.ageLease(domain.ResourceTask, taskID, time.Minute)

	second, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	s.Equal(mapperID, second.HolderID)
	s.False(second.RenewedAt.Before(first.RenewedAt), "renewal should move renewed_at forward")

	stale, err := s.leaseRepo.FindStale(context.Background(), domain.ResourceTask, 30*time.Second, 10)
	s.Require().NoError(err)
	s.Empty(stale, "renewed lease should not be stale")

	leases, err := s.engine.ListHeldBy(context.Background(), mapperID)
	s.Require().NoError(err)
	s.Len(leases, 1)
}

// TestAcquire_HeldByOther tests that a second holder is refused.
func (s *ServiceTestSuite) TestAcquire_HeldByOther() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	_, err = s.acquire(domain.ResourceTask, taskID, reviewerID)
	s.Require().Error(err)
	s.ErrorIs(err, domain.ErrAlreadyHeld)

	holder, ok := domain.HolderOf(err)
	s.True(ok)
	s.Equal(mapperID, holder)
}

// TestAcquire_ConcurrentMutualExclusion checks protection from race condition.
func (s *ServiceTestSuite) TestAcquire_ConcurrentMutualExclusion() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	holders := []int64{mapperID, reviewerID, reviewer2ID, metaReviewerID}

	var wg sync.WaitGroup
	results := make(chan error, len(holders))

	for _, holder := range holders {
		wg.Add(1)
		go func(h int64) {
			defer wg.Done()
			results <- s.db.InTx(ctx, func(tx *database.Tx) error {
				_, err := s.engine.Acquire(ctx, tx, domain.ResourceTask, taskID, h)
				return err
			})
		}(holder)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		s.ErrorIs(err, domain.ErrAlreadyHeld)
	}
	s.Equal(1, successCount, "exactly one acquire should succeed")

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leases WHERE resource_id = $1`, taskID).Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// TestAcquire_RollbackLeavesResourceFree checks that an aborted unit of work
// does not leave a lease behind.
func (s *ServiceTestSuite) TestAcquire_RollbackLeavesResourceFree() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)
	errAbort := errors.New("abort")

	err := s.inTx(func(tx *database.Tx) error {
		if _, err := s.engine.Acquire(ctx, tx, domain.ResourceTask, taskID, mapperID); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Nil(lease)
}

// TestAcquire_ResourceTypesAreIndependent tests that one task carries one
// lease per resource type.
func (s *ServiceTestSuite) TestAcquire_ResourceTypesAreIndependent() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusFixed)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	_, err = s.acquire(domain.ResourceReview, taskID, reviewerID)
	s.Require().NoError(err)
	_, err = s.acquire(domain.ResourceMetaReview, taskID, metaReviewerID)
	s.Require().NoError(err)
}

// TestAcquire_InvalidResourceType tests rejection of unknown lease kinds.
func (s *ServiceTestSuite) TestAcquire_InvalidResourceType() {
	_, err := s.acquire(domain.ResourceType("CHALLENGE"), 42, mapperID)
	s.ErrorIs(err, domain.ErrInvalidResourceType)
}

// TestRelease_ByOwner tests releasing an own lease.
func (s *ServiceTestSuite) TestRelease_ByOwner() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		return s.engine.Release(ctx, tx, domain.ResourceTask, taskID, mapperID)
	})
	s.Require().NoError(err)

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Nil(lease)

	// Free again for anyone.
	_, err = s.acquire(domain.ResourceTask, taskID, reviewerID)
	s.NoError(err)
}

// TestRelease_ByNonOwner_ShouldFail tests that only the holder may release.
func (s *ServiceTestSuite) TestRelease_ByNonOwner_ShouldFail() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		return s.engine.Release(ctx, tx, domain.ResourceTask, taskID, reviewerID)
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(mapperID, lease.HolderID)
}

// TestRelease_FreeResource_ShouldFail tests releasing a lease nobody holds.
func (s *ServiceTestSuite) TestRelease_FreeResource_ShouldFail() {
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	err := s.inTx(func(tx *database.Tx) error {
		return s.engine.Release(context.Background(), tx, domain.ResourceTask, taskID, mapperID)
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)
}

// TestRenew_ByNonOwner_ShouldFail tests that only the holder may renew.
func (s *ServiceTestSuite) TestRenew_ByNonOwner_ShouldFail() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		_, err := s.engine.Renew(ctx, tx, domain.ResourceTask, taskID, reviewerID)
		return err
	})
	s.ErrorIs(err, domain.ErrNotHeldByCaller)

	err = s.inTx(func(tx *database.Tx) error {
		_, err := s.engine.Renew(ctx, tx, domain.ResourceTask, taskID, mapperID)
		return err
	})
	s.NoError(err)
}

// TestDeleteIfUnchanged_RenewalWins checks that a lease renewed after the
// sweeper's scan survives the guarded delete.
func (s *ServiceTestSuite) TestDeleteIfUnchanged_RenewalWins() {
	ctx := context.Background()
	taskID := s.createTask(42, challengeID, domain.TaskStatusCreated)

	_, err := s.acquire(domain.ResourceTask, taskID, mapperID)
	s.Require().NoError(err)
	s.ageLease(domain.ResourceTask, taskID, 2*time.Hour)

	stale, err := s.leaseRepo.FindStale(ctx, domain.ResourceTask, time.Hour, 10)
	s.Require().NoError(err)
	s.Require().Len(stale, 1)

	// Holder renews between the scan and the delete.
	err = s.inTx(func(tx *database.Tx) error {
		_, err := s.engine.Renew(ctx, tx, domain.ResourceTask, taskID, mapperID)
		return err
	})
	s.Require().NoError(err)

	err = s.inTx(func(tx *database.Tx) error {
		deleted, err := s.leaseRepo.DeleteIfUnchanged(ctx, tx, stale[0])
		s.False(deleted, "renewed lease must not be deleted")
		return err
	})
	s.Require().NoError(err)

	lease, err := s.engine.Get(ctx, domain.ResourceTask, taskID)
	s.Require().NoError(err)
	s.NotNil(lease)
}
