package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/taskreview/internal/domain"
)

// Sort keys accepted by candidate queries.
const (
	SortByID          = "id"
	SortByRequestedAt = "requested_at"
	SortByReviewedAt  = "reviewed_at"
	SortByPriority    = "priority"
	SortByChallenge   = "challenge"
)

// sortExprs is the sort whitelist. User input never reaches ORDER BY directly.
var sortExprs = map[string]string{
	SortByID:          "t.id",
	SortByRequestedAt: "COALESCE(tr.requested_at, t.created_at)",
	SortByReviewedAt:  "COALESCE(tr.reviewed_at, 'epoch'::timestamptz)",
	SortByPriority:    "CASE t.priority WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END",
	SortByChallenge:   "t.challenge_id",
}

// SortExpr resolves a sort key to its SQL expression.
// An empty key means sort by id.
func SortExpr(key string) (string, error) {
	if key == "" {
		key = SortByID
	}
	expr, ok := sortExprs[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("%w: unknown sort key %q", domain.ErrInvalidSort, key)
	}
	return expr, nil
}

// CandidateFilter holds the optional predicates of a candidate search.
type CandidateFilter struct {
	ProjectIDs         []int64
	ChallengeIDs       []int64
	RequestedFrom      *time.Time
	RequestedTo        *time.Time
	Priorities         []domain.TaskPriority
	Tags               []string
	RequesterName      string // substring, case-insensitive
	ReviewerName       string // substring, case-insensitive
	ReviewStatuses     []domain.ReviewStatus
	ExcludeOwnRequests bool
}

// CandidateQuery is one keyset page of eligible tasks.
type CandidateQuery struct {
	Kind                  domain.ResourceType
	UserID                int64
	Filter                CandidateFilter
	Sort                  string
	Desc                  bool
	ExcludeIDs            []int64
	CursorTaskID          *int64
	ExcludeOtherClaimants bool
	Limit                 int
}

// candidateSelect starts a select over tasks joined with challenges and
// review records. Review queues require a record, the mapping queue does not.
func candidateSelect(kind domain.ResourceType, columns ...string) sq.SelectBuilder {
	qb := psql.Select(columns...).From(taskFrom)
	if kind == domain.ResourceTask {
		return qb.LeftJoin("task_reviews tr ON tr.task_id = t.id")
	}
	return qb.Join("task_reviews tr ON tr.task_id = t.id")
}

// kindPredicate restricts candidates to the queue of the given kind.
func kindPredicate(kind domain.ResourceType, statuses []domain.ReviewStatus) (sq.Sqlizer, error) {
	switch kind {
	case domain.ResourceReview:
		if len(statuses) == 0 {
			statuses = []domain.ReviewStatus{domain.ReviewStatusRequested, domain.ReviewStatusDisputed}
		}
		return sq.Eq{"tr.review_status": statuses}, nil
	case domain.ResourceMetaReview:
		if len(statuses) == 0 {
			statuses = []domain.ReviewStatus{domain.ReviewStatusApproved, domain.ReviewStatusRejected}
		}
		return sq.And{
			sq.Eq{"tr.review_status": statuses},
			sq.Eq{"tr.meta_review_status": domain.MetaReviewStatusRequested},
		}, nil
	case domain.ResourceTask:
		return sq.Eq{"t.status": domain.WorkableTaskStatuses}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceType, kind)
	}
}

// noOtherClaimant drops tasks with a live lease of the given kind held by
// anyone but userID.
func noOtherClaimant(kind domain.ResourceType, userID int64) sq.Sqlizer {
	return sq.Expr(
		"NOT EXISTS (SELECT 1 FROM leases l WHERE l.resource_type = ? AND l.resource_id = t.id AND l.holder_id <> ?)",
		kind, userID,
	)
}

func applyCandidateFilter(qb sq.SelectBuilder, f CandidateFilter, userID int64) sq.SelectBuilder {
	if len(f.ProjectIDs) > 0 {
		qb = qb.Where(sq.Eq{"c.project_id": f.ProjectIDs})
	}
	if len(f.ChallengeIDs) > 0 {
		qb = qb.Where(sq.Eq{"t.challenge_id": f.ChallengeIDs})
	}
	if f.RequestedFrom != nil {
		qb = qb.Where(sq.GtOrEq{"COALESCE(tr.requested_at, t.created_at)": *f.RequestedFrom})
	}
	if f.RequestedTo != nil {
		qb = qb.Where(sq.LtOrEq{"COALESCE(tr.requested_at, t.created_at)": *f.RequestedTo})
	}
	if len(f.Priorities) > 0 {
		qb = qb.Where(sq.Eq{"t.priority": f.Priorities})
	}
	if len(f.Tags) > 0 {
		qb = qb.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM task_tags tt JOIN tags g ON g.id = tt.tag_id WHERE tt.task_id = t.id AND g.name = ANY(?))",
			f.Tags,
		))
	}
	if f.RequesterName != "" {
		qb = qb.Where("tr.requested_by IN (SELECT id FROM users WHERE name ILIKE ?)", "%"+f.RequesterName+"%")
	}
	if f.ReviewerName != "" {
		qb = qb.Where("tr.reviewed_by IN (SELECT id FROM users WHERE name ILIKE ?)", "%"+f.ReviewerName+"%")
	}
	if f.ExcludeOwnRequests {
		qb = qb.Where("(tr.requested_by IS NULL OR tr.requested_by <> ?)", userID)
	}
	return qb
}

// ListCandidates returns the next page of eligible tasks in keyset order:
// the sort expression first, then ascending task id.
func (r *TaskRepository) ListCandidates(ctx context.Context, q CandidateQuery) ([]*domain.Task, error) {
	sortExpr, err := SortExpr(q.Sort)
	if err != nil {
		return nil, err
	}
	kindPred, err := kindPredicate(q.Kind, q.Filter.ReviewStatuses)
	if err != nil {
		return nil, err
	}

	qb := candidateSelect(q.Kind, taskColumns...).Where(kindPred)
	qb = applyCandidateFilter(qb, q.Filter, q.UserID)

	if len(q.ExcludeIDs) > 0 {
		qb = qb.Where(sq.NotEq{"t.id": q.ExcludeIDs})
	}
	if q.ExcludeOtherClaimants {
		qb = qb.Where(noOtherClaimant(q.Kind, q.UserID))
	}

	dir, op := "ASC", ">"
	if q.Desc {
		dir, op = "DESC", "<"
	}

	if q.CursorTaskID != nil {
		cursor := *q.CursorTaskID
		sub := "(SELECT " + sortExpr + " FROM " + taskFrom +
			" LEFT JOIN task_reviews tr ON tr.task_id = t.id WHERE t.id = ?)"
		qb = qb.Where(
			fmt.Sprintf("(%s %s %s OR (%s = %s AND t.id > ?))", sortExpr, op, sub, sortExpr, sub),
			cursor, cursor, cursor,
		)
	}

	qb = qb.OrderBy(sortExpr+" "+dir, "t.id ASC")
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListCandidates query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	return scanTasks(rows)
}
