package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/taskreview/internal/domain"
)

// haversineKm is the great-circle distance in kilometres from (?, ?, ?) =
// (origin latitude, origin latitude, origin longitude) to the task row.
const haversineKm = `6371 * 2 * ASIN(LEAST(1, SQRT(
	POWER(SIN(RADIANS(t.latitude - ?) / 2), 2) +
	COS(RADIANS(?)) * COS(RADIANS(t.latitude)) *
	POWER(SIN(RADIANS(t.longitude - ?) / 2), 2)
))) AS distance_km`

// NearbyQuery lists unclaimed candidates of the origin task's challenge.
type NearbyQuery struct {
	Kind       domain.ResourceType
	UserID     int64
	Origin     *domain.Task
	ExcludeIDs []int64
	Limit      int
}

// NearbyTask is a candidate with its distance from the origin.
type NearbyTask struct {
	Task       *domain.Task
	DistanceKm float64
}

// ListNearby returns candidates of the same queue and challenge ordered by
// distance from the origin. Tasks claimed by someone else are skipped.
func (r *TaskRepository) ListNearby(ctx context.Context, q NearbyQuery) ([]NearbyTask, error) {
	kindPred, err := kindPredicate(q.Kind, nil)
	if err != nil {
		return nil, err
	}

	lat, lng := q.Origin.Location.Latitude, q.Origin.Location.Longitude
	qb := candidateSelect(q.Kind, taskColumns...).
		Column(sq.Expr(haversineKm, lat, lat, lng)).
		Where(kindPred).
		Where(sq.Eq{"t.challenge_id": q.Origin.ChallengeID}).
		Where(sq.NotEq{"t.id": q.Origin.ID}).
		Where(noOtherClaimant(q.Kind, q.UserID))

	if len(q.ExcludeIDs) > 0 {
		qb = qb.Where(sq.NotEq{"t.id": q.ExcludeIDs})
	}

	query, args, err := qb.
		OrderBy("distance_km ASC", "t.id ASC").
		Limit(uint64(q.Limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListNearby query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nearby tasks: %w", err)
	}
	defer rows.Close()

	var result []NearbyTask
	for rows.Next() {
		var task domain.Task
		var distance float64
		if err := rows.Scan(append(taskDest(&task), &distance)...); err != nil {
			return nil, fmt.Errorf("scan nearby task: %w", err)
		}
		result = append(result, NearbyTask{Task: &task, DistanceKm: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}
