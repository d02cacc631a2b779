package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/metrics"
	"github.com/mtlprog/taskreview/internal/repository"
)

// acquireRetries bounds how often Acquire retries when the contested row
// disappears between the insert and the lock.
const acquireRetries = 2

// errLeaseChanged rolls back an expiry whose lease was renewed or released
// after the scan.
var errLeaseChanged = errors.New("lease changed since scan")

// ExpireHook runs in the same transaction as the deletion of a swept lease,
// before the lease row is touched. Its writes roll back if the lease turns
// out to have been renewed or released meanwhile.
type ExpireHook func(ctx context.Context, tx *database.Tx, lease *domain.Lease) error

// ClaimEngine owns the leases table. All mutual exclusion comes from the
// primary key on (resource_type, resource_id) and row locks taken inside the
// caller's transaction.
type ClaimEngine struct {
	db     *database.DB
	leases *repository.LeaseRepository
}

// NewClaimEngine creates a new ClaimEngine.
func NewClaimEngine(db *database.DB, leases *repository.LeaseRepository) *ClaimEngine {
	return &ClaimEngine{db: db, leases: leases}
}

// Acquire gives holder the lease on a resource. Re-acquiring an own lease
// renews it. A lease held by someone else fails with *domain.AlreadyHeldError.
func (e *ClaimEngine) Acquire(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID, holderID int64) (*domain.Lease, error) {
	if !rt.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, rt)
	}

	for range acquireRetries {
		lease, err := e.leases.InsertIfAbsent(ctx, tx, rt, resourceID, holderID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, e.conflict(ctx, tx, rt, resourceID)
			}
			return nil, err
		}
		if lease != nil {
			e.acquired(tx, lease, false)
			return lease, nil
		}

		existing, err := e.leases.GetForUpdate(ctx, tx, rt, resourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Released between our insert and the lock.
			continue
		}

		if !existing.IsHeldBy(holderID) {
			metrics.LeaseConflicts.WithLabelValues(string(rt)).Inc()
			return nil, &domain.AlreadyHeldError{ResourceType: rt, ResourceID: resourceID, Holder: existing.HolderID}
		}

		lease, err = e.leases.Touch(ctx, tx, rt, resourceID, holderID)
		if err != nil {
			return nil, err
		}
		e.acquired(tx, lease, true)
		return lease, nil
	}

	return nil, e.conflict(ctx, tx, rt, resourceID)
}

func (e *ClaimEngine) acquired(tx *database.Tx, lease *domain.Lease, renewed bool) {
	tx.AfterCommit(func() {
		metrics.LeaseAcquired.WithLabelValues(string(lease.ResourceType), strconv.FormatBool(renewed)).Inc()
		slog.Info("lease acquired",
			"resource_type", lease.ResourceType,
			"resource_id", lease.ResourceID,
			"holder_id", lease.HolderID,
			"renewed", renewed,
		)
	})
}

// conflict reports contention when the winner could not be read back.
func (e *ClaimEngine) conflict(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID int64) error {
	metrics.LeaseConflicts.WithLabelValues(string(rt)).Inc()
	held := &domain.AlreadyHeldError{ResourceType: rt, ResourceID: resourceID}
	if lease, err := e.leases.Get(ctx, tx, rt, resourceID); err == nil && lease != nil {
		held.Holder = lease.HolderID
	}
	return held
}

// Release deletes holder's lease. It fails with ErrNotHeldByCaller if the
// lease is absent or belongs to someone else.
func (e *ClaimEngine) Release(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID, holderID int64) error {
	if !rt.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, rt)
	}

	deleted, err := e.leases.Delete(ctx, tx, rt, resourceID, holderID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s %d not held by user %d", domain.ErrNotHeldByCaller, rt, resourceID, holderID)
	}

	tx.AfterCommit(func() {
		metrics.LeaseReleased.WithLabelValues(string(rt)).Inc()
		slog.Info("lease released",
			"resource_type", rt,
			"resource_id", resourceID,
			"holder_id", holderID,
		)
	})

	return nil
}

// Renew extends holder's lease. Same ownership rule as Release.
func (e *ClaimEngine) Renew(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID, holderID int64) (*domain.Lease, error) {
	if !rt.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, rt)
	}

	lease, err := e.leases.Touch(ctx, tx, rt, resourceID, holderID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, fmt.Errorf("%w: %s %d not held by user %d", domain.ErrNotHeldByCaller, rt, resourceID, holderID)
	}

	return lease, nil
}

// RequireHeld locks holder's lease for the rest of the transaction, so the
// sweeper cannot remove it underneath a status change.
func (e *ClaimEngine) RequireHeld(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID, holderID int64) (*domain.Lease, error) {
	lease, err := e.leases.GetForUpdate(ctx, tx, rt, resourceID)
	if err != nil {
		return nil, err
	}
	if !lease.IsHeldBy(holderID) {
		return nil, fmt.Errorf("%w: %s %d not held by user %d", domain.ErrNotHeldByCaller, rt, resourceID, holderID)
	}
	return lease, nil
}

// Get returns the live lease on a resource, or nil if it is free.
func (e *ClaimEngine) Get(ctx context.Context, rt domain.ResourceType, resourceID int64) (*domain.Lease, error) {
	if !rt.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, rt)
	}
	return e.leases.Get(ctx, nil, rt, resourceID)
}

// ForceRelease removes a lease whoever holds it. Only the review state
// machine calls this, when a review lifecycle is reset or restarted.
func (e *ClaimEngine) ForceRelease(ctx context.Context, tx *database.Tx, rt domain.ResourceType, resourceID int64) (*domain.Lease, error) {
	lease, err := e.leases.DeleteAny(ctx, tx, rt, resourceID)
	if err != nil {
		return nil, err
	}
	if lease != nil {
		tx.AfterCommit(func() {
			slog.Info("lease force released",
				"resource_type", rt,
				"resource_id", resourceID,
				"holder_id", lease.HolderID,
			)
		})
	}
	return lease, nil
}

// ListHeldBy returns the live leases of a user.
func (e *ClaimEngine) ListHeldBy(ctx context.Context, holderID int64) ([]*domain.Lease, error) {
	return e.leases.ListByHolder(ctx, holderID)
}

// SweepExpired removes leases of one type not renewed within ttl, in
// batches of batchSize. Each lease is deleted in its own transaction and only
// if it is unchanged since the scan, so a concurrent renewal wins. A failing
// key is logged and skipped.
func (e *ClaimEngine) SweepExpired(ctx context.Context, rt domain.ResourceType, ttl time.Duration, batchSize int, hook ExpireHook) (int, error) {
	if !rt.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, rt)
	}

	total := 0
	for {
		stale, err := e.leases.FindStale(ctx, rt, ttl, batchSize)
		if err != nil {
			return total, fmt.Errorf("find stale %s leases: %w", rt, err)
		}

		swept := 0
		for _, lease := range stale {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}

			ok, err := e.expire(ctx, lease, hook)
			if err != nil {
				slog.Error("failed to expire lease",
					"resource_type", lease.ResourceType,
					"resource_id", lease.ResourceID,
					"holder_id", lease.HolderID,
					"error", err,
				)
				continue
			}
			if ok {
				swept++
			}
		}
		total += swept

		if len(stale) < batchSize || swept == 0 {
			return total, nil
		}
	}
}

func (e *ClaimEngine) expire(ctx context.Context, lease *domain.Lease, hook ExpireHook) (bool, error) {
	err := e.db.InTx(ctx, func(tx *database.Tx) error {
		if hook != nil {
			if err := hook(ctx, tx, lease); err != nil {
				return fmt.Errorf("expire hook: %w", err)
			}
		}
		deleted, err := e.leases.DeleteIfUnchanged(ctx, tx, lease)
		if err != nil {
			return err
		}
		if !deleted {
			return errLeaseChanged
		}
		return nil
	})
	if errors.Is(err, errLeaseChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.LeaseSwept.WithLabelValues(string(lease.ResourceType)).Inc()
	slog.Info("lease expired",
		"resource_type", lease.ResourceType,
		"resource_id", lease.ResourceID,
		"holder_id", lease.HolderID,
		"renewed_at", lease.RenewedAt,
	)
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
