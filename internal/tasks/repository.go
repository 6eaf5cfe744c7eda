package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/taskdesk/internal/platform/db"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
)

// Repository persists tasks.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Task, int, error)
	Get(ctx context.Context, userID, id int64) (Task, error)
	Create(ctx context.Context, task Task) (Task, error)
	Update(ctx context.Context, task Task) (Task, error)
	Delete(ctx context.Context, userID, id int64) error
	ArchiveCompleted(ctx context.Context, before, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const taskColumns = `id, user_id, title, status, due_date, archived_at, created_at, updated_at`

// List uses a dynamic query because every filter is optional. The count and
// the page read the same snapshot.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Task, int, error) {
	where, args := whereClause(filters)

	var (
		out   []Task
		total int
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("tasks: count: %w", err)
		}

		query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
		if filters.Limit > 0 {
			args = append(args, filters.Limit)
			query += ` LIMIT $` + strconv.Itoa(len(args))
			args = append(args, max(filters.Offset, 0))
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("tasks: list: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return err
			}
			out = append(out, task)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func whereClause(f ListFilters) (string, []any) {
	clauses := []string{"user_id = $1"}
	args := []any{f.UserID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Search != "" {
		add("title ILIKE ?", "%"+f.Search+"%")
	}
	if f.Title != "" {
		add("title ILIKE ?", "%"+f.Title+"%")
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.DueDate != nil {
		add("due_date = ?", *f.DueDate)
	}
	if f.ArchivedFrom != nil {
		add("archived_at >= ?", *f.ArchivedFrom)
	}
	if f.ArchivedTo != nil {
		add("archived_at < ?", *endOfDay(f.ArchivedTo))
	}
	if f.CreatedFrom != nil {
		add("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < ?", *endOfDay(f.CreatedTo))
	}
	return strings.Join(clauses, " AND "), args
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "title", "status", "due_date", "archived_at", "created_at":
		return sortBy + " " + dir + " NULLS LAST, id ASC"
	default:
		return "id ASC"
	}
}

// Get fetches a task owned by userID.
func (r *PGRepository) Get(ctx context.Context, userID, id int64) (Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, httpx.ErrNotFound
		}
		return Task{}, err
	}
	return task, nil
}

// Create inserts task and returns the stored row.
func (r *PGRepository) Create(ctx context.Context, task Task) (Task, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO tasks (user_id, title, status, due_date, archived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+taskColumns,
		task.UserID, task.Title, string(task.Status), dateArg(task.DueDate), timeArg(task.ArchivedAt), task.CreatedAt, task.UpdatedAt)
	created, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("tasks: create: %w", err)
	}
	return created, nil
}

// Update overwrites the editable fields of task.
func (r *PGRepository) Update(ctx context.Context, task Task) (Task, error) {
	row := r.pool.QueryRow(ctx, `UPDATE tasks SET title = $1, status = $2, due_date = $3, archived_at = $4, updated_at = $5
		WHERE id = $6 AND user_id = $7 RETURNING `+taskColumns,
		task.Title, string(task.Status), dateArg(task.DueDate), timeArg(task.ArchivedAt), task.UpdatedAt, task.ID, task.UserID)
	updated, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, httpx.ErrNotFound
		}
		return Task{}, fmt.Errorf("tasks: update: %w", err)
	}
	return updated, nil
}

// Delete removes a task owned by userID.
func (r *PGRepository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("tasks: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// ArchiveCompleted archives completed tasks last touched before before.
func (r *PGRepository) ArchiveCompleted(ctx context.Context, before, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET status = $1, archived_at = $2, updated_at = $2
		WHERE status = $3 AND updated_at < $4`, string(StatusArchived), now, string(StatusCompleted), before)
	if err != nil {
		return 0, fmt.Errorf("tasks: archive completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t          Task
		status     string
		dueDate    pgtype.Date
		archivedAt pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &status, &dueDate, &archivedAt, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if archivedAt.Valid {
		a := archivedAt.Time
		t.ArchivedAt = &a
	}
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return t, nil
}

func dateArg(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func timeArg(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
