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

// ChallengeRepository reads challenges together with their project flag.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

// GetByID retrieves a challenge by ID.
func (r *ChallengeRepository) GetByID(ctx context.Context, challengeID int64) (*domain.Challenge, error) {
	query, args, err := psql.
		Select("c.id", "c.project_id", "c.name", "c.enabled", "p.enabled").
		From("challenges c").
		Join("projects p ON p.id = c.project_id").
		Where(sq.Eq{"c.id": challengeID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for challenge %d: %w", challengeID, err)
	}

	var challenge domain.Challenge
	err = r.pool.QueryRow(ctx, query, args...).Scan(
		&challenge.ID,
		&challenge.ProjectID,
		&challenge.Name,
		&challenge.Enabled,
		&challenge.ProjectEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("query challenge: %w", err)
	}

	return &challenge, nil
}
