package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/taskreview/internal/domain"
)

// StatsFilters holds filters for statistics queries.
type StatsFilters struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	ReviewerID  *int64 // Optional: filter by specific reviewer
}

// ReviewerStatsResult holds verdict counts for a single reviewer.
type ReviewerStatsResult struct {
	ReviewerID   int64
	ReviewerName string
	Approved     int
	Rejected     int
	Disputed     int
}

// ReviewTotalsResult holds the current distribution of review states.
type ReviewTotalsResult struct {
	ByReviewStatus     map[string]int
	ByMetaReviewStatus map[string]int
	ClaimedCount       int
}

// GetReviewerStats counts verdicts per reviewer from the history log.
func (r *ReviewHistoryRepository) GetReviewerStats(ctx context.Context, filters StatsFilters) ([]ReviewerStatsResult, error) {
	query := `
		SELECT
			u.id,
			u.name,
			COUNT(CASE WHEN h.to_status = 'APPROVED' THEN 1 END) as approved,
			COUNT(CASE WHEN h.to_status = 'REJECTED' THEN 1 END) as rejected,
			COUNT(CASE WHEN h.to_status = 'DISPUTED' THEN 1 END) as disputed
		FROM task_review_history h
		JOIN users u ON u.id = h.actor_id
		WHERE h.kind = 'REVIEW'
		  AND h.to_status IN ('APPROVED', 'REJECTED', 'DISPUTED')
		  AND h.created_at >= $1 AND h.created_at <= $2
	`

	args := []interface{}{filters.PeriodStart, filters.PeriodEnd}

	if filters.ReviewerID != nil {
		query += " AND u.id = $3"
		args = append(args, *filters.ReviewerID)
	}

	query += " GROUP BY u.id, u.name ORDER BY u.name"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviewer stats: %w", err)
	}
	defer rows.Close()

	var results []ReviewerStatsResult
	for rows.Next() {
		var result ReviewerStatsResult
		err := rows.Scan(
			&result.ReviewerID,
			&result.ReviewerName,
			&result.Approved,
			&result.Rejected,
			&result.Disputed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reviewer stats: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviewer stats rows: %w", err)
	}

	return results, nil
}

// GetTotals counts review records by status right now.
func (r *ReviewRepository) GetTotals(ctx context.Context) (*ReviewTotalsResult, error) {
	result := &ReviewTotalsResult{
		ByReviewStatus:     make(map[string]int),
		ByMetaReviewStatus: make(map[string]int),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT review_status, meta_review_status, COUNT(*), COUNT(claimed_by)
		FROM task_reviews
		GROUP BY review_status, meta_review_status
	`)
	if err != nil {
		return nil, fmt.Errorf("query review totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.ReviewStatus
		var meta domain.MetaReviewStatus
		var count, claimed int
		if err := rows.Scan(&status, &meta, &count, &claimed); err != nil {
			return nil, fmt.Errorf("scan review totals: %w", err)
		}
		result.ByReviewStatus[string(status)] += count
		if meta != domain.MetaReviewStatusNone {
			result.ByMetaReviewStatus[string(meta)] += count
		}
		result.ClaimedCount += claimed
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review totals rows: %w", err)
	}

	return result, nil
}
