package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskreview/internal/domain"
)

var leaseColumns = []string{"resource_type", "resource_id", "holder_id", "created_at", "renewed_at"}

// LeaseRepository handles database operations for leases.
type LeaseRepository struct {
	pool *pgxpool.Pool
}

// NewLeaseRepository creates a new LeaseRepository.
func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository {
	return &LeaseRepository{pool: pool}
}

// scanLease scans a single row into a Lease. A missing row yields (nil, nil).
func scanLease(row pgx.Row) (*domain.Lease, error) {
	var lease domain.Lease
	err := row.Scan(
		&lease.ResourceType,
		&lease.ResourceID,
		&lease.HolderID,
		&lease.CreatedAt,
		&lease.RenewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan lease: %w", err)
	}
	return &lease, nil
}

func scanLeases(rows pgx.Rows) ([]*domain.Lease, error) {
	defer rows.Close()

	var leases []*domain.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return leases, nil
}

func leaseKey(rt domain.ResourceType, resourceID int64) sq.Eq {
	return sq.Eq{"resource_type": rt, "resource_id": resourceID}
}

// Get returns the live lease for a key, or nil if the resource is free.
func (r *LeaseRepository) Get(ctx context.Context, q Querier, rt domain.ResourceType, resourceID int64) (*domain.Lease, error) {
	if q == nil {
		q = r.pool
	}
	query, args, err := psql.
		Select(leaseColumns...).
		From("leases").
		Where(leaseKey(rt, resourceID)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for lease: %w", err)
	}

	return scanLease(q.QueryRow(ctx, query, args...))
}

// GetForUpdate locks the lease row for the rest of the transaction.
// Returns nil if no row exists.
func (r *LeaseRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, rt domain.ResourceType, resourceID int64) (*domain.Lease, error) {
	query, args, err := psql.
		Select(leaseColumns...).
		From("leases").
		Where(leaseKey(rt, resourceID)).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetForUpdate query for lease %s/%d: %w", rt, resourceID, err)
	}

	return scanLease(tx.QueryRow(ctx, query, args...))
}

// InsertIfAbsent creates a lease for holder unless a row for the key exists.
// It waits on a concurrent uncommitted insert of the same key. Returns nil
// when another row won.
func (r *LeaseRepository) InsertIfAbsent(ctx context.Context, tx pgx.Tx, rt domain.ResourceType, resourceID, holderID int64) (*domain.Lease, error) {
	query, args, err := psql.
		Insert("leases").
		Columns("resource_type", "resource_id", "holder_id").
		Values(rt, resourceID, holderID).
		Suffix("ON CONFLICT (resource_type, resource_id) DO NOTHING RETURNING " + strings.Join(leaseColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build InsertIfAbsent query for lease: %w", err)
	}

	return scanLease(tx.QueryRow(ctx, query, args...))
}

// Touch updates the renewal timestamp of a lease held by holder.
// Returns nil if the row is absent or held by someone else.
func (r *LeaseRepository) Touch(ctx context.Context, tx pgx.Tx, rt domain.ResourceType, resourceID, holderID int64) (*domain.Lease, error) {
	query, args, err := psql.
		Update("leases").
		Set("renewed_at", sq.Expr("clock_timestamp()")).
		Where(leaseKey(rt, resourceID)).
		Where(sq.Eq{"holder_id": holderID}).
		Suffix("RETURNING " + strings.Join(leaseColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Touch query for lease %s/%d: %w", rt, resourceID, err)
	}

	return scanLease(tx.QueryRow(ctx, query, args...))
}

// Delete removes a lease held by holder. Returns false if nothing matched.
func (r *LeaseRepository) Delete(ctx context.Context, tx pgx.Tx, rt domain.ResourceType, resourceID, holderID int64) (bool, error) {
	query, args, err := psql.
		Delete("leases").
		Where(leaseKey(rt, resourceID)).
		Where(sq.Eq{"holder_id": holderID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build Delete query for lease %s/%d: %w", rt, resourceID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAny removes a lease regardless of holder and returns what was removed.
func (r *LeaseRepository) DeleteAny(ctx context.Context, tx pgx.Tx, rt domain.ResourceType, resourceID int64) (*domain.Lease, error) {
	query, args, err := psql.
		Delete("leases").
		Where(leaseKey(rt, resourceID)).
		Suffix("RETURNING " + strings.Join(leaseColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build DeleteAny query for lease %s/%d: %w", rt, resourceID, err)
	}

	return scanLease(tx.QueryRow(ctx, query, args...))
}

// DeleteIfUnchanged removes a lease only if holder and renewal timestamp
// still match what the caller observed. A renewal in between wins.
func (r *LeaseRepository) DeleteIfUnchanged(ctx context.Context, tx pgx.Tx, lease *domain.Lease) (bool, error) {
	query, args, err := psql.
		Delete("leases").
		Where(leaseKey(lease.ResourceType, lease.ResourceID)).
		Where(sq.Eq{
			"holder_id":  lease.HolderID,
			"renewed_at": lease.RenewedAt,
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build DeleteIfUnchanged query for lease %s/%d: %w", lease.ResourceType, lease.ResourceID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete stale lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindStale lists leases of one type not renewed within ttl, oldest first.
func (r *LeaseRepository) FindStale(ctx context.Context, rt domain.ResourceType, ttl time.Duration, limit int) ([]*domain.Lease, error) {
	query, args, err := psql.
		Select(leaseColumns...).
		From("leases").
		Where(sq.Eq{"resource_type": rt}).
		Where(sq.Expr("renewed_at < NOW() - make_interval(secs => ?::double precision)", ttl.Seconds())).
		OrderBy("renewed_at ASC", "resource_id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindStale query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale leases: %w", err)
	}

	return scanLeases(rows)
}

// ListByHolder returns every live lease held by a user.
func (r *LeaseRepository) ListByHolder(ctx context.Context, holderID int64) ([]*domain.Lease, error) {
	query, args, err := psql.
		Select(leaseColumns...).
		From("leases").
		Where(sq.Eq{"holder_id": holderID}).
		OrderBy("resource_type ASC", "resource_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByHolder query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leases: %w", err)
	}

	return scanLeases(rows)
}
