package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskreview/internal/domain"
)

// ReviewHistoryRepository appends to and reads the review audit log.
// The table rejects UPDATE and DELETE, so there are no mutators here.
type ReviewHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewReviewHistoryRepository creates a new ReviewHistoryRepository.
func NewReviewHistoryRepository(pool *pgxpool.Pool) *ReviewHistoryRepository {
	return &ReviewHistoryRepository{pool: pool}
}

// Append inserts an entry and fills in its ID and CreatedAt.
func (r *ReviewHistoryRepository) Append(ctx context.Context, tx pgx.Tx, entry *domain.ReviewHistoryEntry) error {
	query, args, err := psql.
		Insert("task_review_history").
		Columns("task_id", "actor_id", "kind", "from_status", "to_status", "comment").
		Values(entry.TaskID, entry.ActorID, entry.Kind, entry.FromStatus, entry.ToStatus, entry.Comment).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append review history: %w", err)
	}

	return nil
}

// ListByTask returns every entry for a task in transition order. Ids are
// drawn while the review record is locked, so id order is transition order.
func (r *ReviewHistoryRepository) ListByTask(ctx context.Context, taskID int64) ([]*domain.ReviewHistoryEntry, error) {
	query, args, err := psql.
		Select("id", "task_id", "actor_id", "kind", "from_status", "to_status", "comment", "created_at").
		From("task_review_history").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query review history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ReviewHistoryEntry
	for rows.Next() {
		var entry domain.ReviewHistoryEntry
		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.ActorID,
			&entry.Kind,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.Comment,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan review history: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}
