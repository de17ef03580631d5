package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

type TaskStore struct {
	db DBTX
}

func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

const taskCols = `id, family_id, assignee_id, title, description, points, is_default, frequency, due_at, status, consequence_id, completed_at, created_by, created_at, updated_at`

func scanTask(sc scanner) (*model.Task, error) {
	var t model.Task
	var isDefault int
	var status string
	var consequenceID, createdBy sql.NullInt64
	var completedAt sql.NullTime

	err := sc.Scan(
		&t.ID, &t.FamilyID, &t.AssigneeID, &t.Title, &t.Description, &t.Points,
		&isDefault, &t.Frequency, &t.DueAt, &status, &consequenceID, &completedAt,
		&createdBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.IsDefault = isDefault != 0
	t.Status = model.TaskStatus(status)
	t.ConsequenceID = int64Ptr(consequenceID)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedBy = int64Ptr(createdBy)
	return &t, nil
}

// NewTask holds the fields supplied when a task is created.
type NewTask struct {
	AssigneeID  int64
	Title       string
	Description string
	Points      int
	IsDefault   bool
	Frequency   string
	DueAt       time.Time
	CreatedBy   *int64
}

func (s *TaskStore) Create(ctx context.Context, familyID int64, n NewTask) (*model.Task, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (family_id, assignee_id, title, description, points, is_default, frequency, due_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		familyID, n.AssigneeID, n.Title, n.Description, n.Points, boolInt(n.IsDefault), n.Frequency, n.DueAt.UTC(), nullInt64(n.CreatedBy),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, familyID, id)
}

func (s *TaskStore) GetByID(ctx context.Context, familyID, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get task", "task %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows List. Zero values match everything.
type TaskFilter struct {
	AssigneeID int64
	Status     model.TaskStatus
}

func (s *TaskStore) List(ctx context.Context, familyID int64, f TaskFilter) ([]model.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE family_id = ?`
	args := []any{familyID}
	if f.AssigneeID != 0 {
		q += ` AND assignee_id = ?`
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY due_at ASC, id ASC`
	return s.query(ctx, "list tasks", q, args...)
}

// ListDefaultPastDue returns obligatory tasks that are neither completed nor
// cancelled and whose due time is before now.
func (s *TaskStore) ListDefaultPastDue(ctx context.Context, familyID int64, now time.Time) ([]model.Task, error) {
	tasks, err := s.query(ctx, "list past due tasks",
		`SELECT `+taskCols+` FROM tasks
		 WHERE family_id = ? AND is_default = 1 AND status IN ('pending', 'overdue')
		 ORDER BY id ASC`,
		familyID,
	)
	if err != nil {
		return nil, err
	}

	var due []model.Task
	for _, t := range tasks {
		if t.DueAt.Before(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *TaskStore) query(ctx context.Context, op, q string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MarkCompleted moves a pending or overdue task to completed. It reports
// false when the task was not in a completable state.
func (s *TaskStore) MarkCompleted(ctx context.Context, familyID, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', completed_at = ?, updated_at = ?
		 WHERE id = ? AND family_id = ? AND status IN ('pending', 'overdue')`,
		at.UTC(), at.UTC(), id, familyID,
	)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkCancelled moves a pending or overdue task to cancelled.
func (s *TaskStore) MarkCancelled(ctx context.Context, familyID, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'cancelled', updated_at = ?
		 WHERE id = ? AND family_id = ? AND status IN ('pending', 'overdue')`,
		at.UTC(), id, familyID,
	)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkOverdue flags a non-terminal task as overdue and links the consequence
// it triggered.
func (s *TaskStore) MarkOverdue(ctx context.Context, familyID, id, consequenceID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'overdue', consequence_id = ?, updated_at = ?
		 WHERE id = ? AND family_id = ? AND status IN ('pending', 'overdue')`,
		consequenceID, at.UTC(), id, familyID,
	)
	if err != nil {
		return fmt.Errorf("mark task overdue: %w", err)
	}
	return nil
}

// Reschedule changes the due time of a non-terminal task. An overdue task
// moved into the future becomes pending again.
func (s *TaskStore) Reschedule(ctx context.Context, familyID, id int64, dueAt, now time.Time) (bool, error) {
	status := model.TaskOverdue
	if dueAt.After(now) {
		status = model.TaskPending
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET due_at = ?, status = CASE WHEN status = 'overdue' THEN ? ELSE status END, updated_at = ?
		 WHERE id = ? AND family_id = ? AND status IN ('pending', 'overdue')`,
		dueAt.UTC(), string(status), now.UTC(), id, familyID,
	)
	if err != nil {
		return false, fmt.Errorf("reschedule task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
