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

// taskColumns is the shared list of columns for task queries.
// Queries select from "tasks t JOIN challenges c".
var taskColumns = []string{
	"t.id", "t.challenge_id", "c.project_id", "t.name", "t.status", "t.priority",
	"t.latitude", "t.longitude", "t.mapped_by", "t.mapped_at",
	"t.created_at", "t.updated_at",
}

const taskFrom = "tasks t JOIN challenges c ON c.id = t.challenge_id"

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// taskDest returns scan destinations matching taskColumns.
func taskDest(task *domain.Task) []any {
	return []any{
		&task.ID,
		&task.ChallengeID,
		&task.ProjectID,
		&task.Name,
		&task.Status,
		&task.Priority,
		&task.Location.Latitude,
		&task.Location.Longitude,
		&task.MappedBy,
		&task.MappedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	}
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(taskDest(&task)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of Task structs.
func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID int64) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From(taskFrom).
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetForUpdate retrieves a task by ID and locks its row (within transaction).
func (r *TaskRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, taskID int64) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From(taskFrom).
		Where(sq.Eq{"t.id": taskID}).
		Suffix("FOR UPDATE OF t").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetForUpdate query for task %d: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// GetStatus returns only the lifecycle status of a task.
func (r *TaskRepository) GetStatus(ctx context.Context, q Querier, taskID int64) (domain.TaskStatus, error) {
	if q == nil {
		q = r.pool
	}
	return r.getStatus(ctx, q, taskID, "")
}

// GetStatusForUpdate returns the lifecycle status of a task and locks its row
// until the transaction ends, so the status cannot change underneath.
func (r *TaskRepository) GetStatusForUpdate(ctx context.Context, tx pgx.Tx, taskID int64) (domain.TaskStatus, error) {
	return r.getStatus(ctx, tx, taskID, "FOR UPDATE")
}

func (r *TaskRepository) getStatus(ctx context.Context, q Querier, taskID int64, lock string) (domain.TaskStatus, error) {
	qb := psql.
		Select("status").
		From("tasks").
		Where(sq.Eq{"id": taskID})
	if lock != "" {
		qb = qb.Suffix(lock)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return "", fmt.Errorf("build GetStatus query for task %d: %w", taskID, err)
	}

	var status domain.TaskStatus
	if err := q.QueryRow(ctx, query, args...).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrTaskNotFound
		}
		return "", fmt.Errorf("get task status: %w", err)
	}
	return status, nil
}

// UpdateStatus patches the lifecycle status. A non-nil mappedBy also stamps
// mapped_by/mapped_at.
func (r *TaskRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, taskID int64, status domain.TaskStatus, mappedBy *int64) error {
	qb := psql.
		Update("tasks").
		Set("status", status).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": taskID})
	if mappedBy != nil {
		qb = qb.Set("mapped_by", *mappedBy).Set("mapped_at", sq.Expr("NOW()"))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateStatus query for task %d: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}

	return nil
}

// Exists reports whether a task with the given id exists.
func (r *TaskRepository) Exists(ctx context.Context, taskID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)", taskID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return exists, nil
}
