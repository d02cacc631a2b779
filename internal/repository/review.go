package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskreview/internal/domain"
)

var reviewColumns = []string{
	"task_id", "review_status", "requested_by", "requested_at", "reviewed_by",
	"reviewed_at", "review_started_at", "claimed_by", "claimed_at",
	"meta_review_status", "meta_reviewed_by", "meta_reviewed_at",
	"created_at", "updated_at",
}

// ReviewRepository handles database operations for review records.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

func scanReview(row pgx.Row) (*domain.ReviewRecord, error) {
	var rec domain.ReviewRecord
	err := row.Scan(
		&rec.TaskID,
		&rec.ReviewStatus,
		&rec.RequestedBy,
		&rec.RequestedAt,
		&rec.ReviewedBy,
		&rec.ReviewedAt,
		&rec.ReviewStartedAt,
		&rec.ClaimedBy,
		&rec.ClaimedAt,
		&rec.MetaReviewStatus,
		&rec.MetaReviewedBy,
		&rec.MetaReviewedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReviewNotFound
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &rec, nil
}

// GetByTaskID retrieves the review record of a task.
func (r *ReviewRepository) GetByTaskID(ctx context.Context, taskID int64) (*domain.ReviewRecord, error) {
	query, args, err := psql.
		Select(reviewColumns...).
		From("task_reviews").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByTaskID query for review: %w", err)
	}

	return scanReview(r.pool.QueryRow(ctx, query, args...))
}

// GetForUpdate retrieves the review record with FOR UPDATE lock (within transaction).
func (r *ReviewRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, taskID int64) (*domain.ReviewRecord, error) {
	query, args, err := psql.
		Select(reviewColumns...).
		From("task_reviews").
		Where(sq.Eq{"task_id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetForUpdate query for review %d: %w", taskID, err)
	}

	return scanReview(tx.QueryRow(ctx, query, args...))
}

// UpsertRequested starts a fresh review lifecycle for a task: the record is
// created or reset to REQUESTED with reviewer, claim and meta-review cleared.
func (r *ReviewRepository) UpsertRequested(ctx context.Context, tx pgx.Tx, taskID, requestedBy int64) (*domain.ReviewRecord, error) {
	query, args, err := psql.
		Insert("task_reviews").
		Columns("task_id", "review_status", "requested_by").
		Values(taskID, domain.ReviewStatusRequested, requestedBy).
		Suffix(`ON CONFLICT (task_id) DO UPDATE SET
			review_status = EXCLUDED.review_status,
			requested_by = EXCLUDED.requested_by,
			requested_at = NOW(),
			reviewed_by = NULL,
			reviewed_at = NULL,
			review_started_at = NULL,
			claimed_by = NULL,
			claimed_at = NULL,
			meta_review_status = 'NONE',
			meta_reviewed_by = NULL,
			meta_reviewed_at = NULL,
			updated_at = NOW()
			RETURNING ` + joinReviewColumns()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UpsertRequested query for review %d: %w", taskID, err)
	}

	return scanReview(tx.QueryRow(ctx, query, args...))
}

// Save writes every mutable field of the record.
func (r *ReviewRepository) Save(ctx context.Context, tx pgx.Tx, rec *domain.ReviewRecord) error {
	query, args, err := psql.
		Update("task_reviews").
		Set("review_status", rec.ReviewStatus).
		Set("reviewed_by", rec.ReviewedBy).
		Set("reviewed_at", rec.ReviewedAt).
		Set("review_started_at", rec.ReviewStartedAt).
		Set("claimed_by", rec.ClaimedBy).
		Set("claimed_at", rec.ClaimedAt).
		Set("meta_review_status", rec.MetaReviewStatus).
		Set("meta_reviewed_by", rec.MetaReviewedBy).
		Set("meta_reviewed_at", rec.MetaReviewedAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"task_id": rec.TaskID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Save query for review %d: %w", rec.TaskID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrReviewNotFound
		}
		return fmt.Errorf("update review: %w", err)
	}
	return nil
}

// ClearClaim drops the claim fields if they still name holderID.
func (r *ReviewRepository) ClearClaim(ctx context.Context, tx pgx.Tx, taskID, holderID int64) error {
	query, args, err := psql.
		Update("task_reviews").
		Set("claimed_by", nil).
		Set("claimed_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"task_id": taskID, "claimed_by": holderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build ClearClaim query for review %d: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("clear review claim: %w", err)
	}
	return nil
}

// Delete removes the review record of a task.
func (r *ReviewRepository) Delete(ctx context.Context, tx pgx.Tx, taskID int64) error {
	query, args, err := psql.
		Delete("task_reviews").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for review %d: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}

func joinReviewColumns() string {
	query, _, _ := psql.Select(reviewColumns...).ToSql()
	return query[len("SELECT "):]
}
