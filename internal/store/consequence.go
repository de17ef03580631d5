package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

type ConsequenceStore struct {
	db DBTX
}

func NewConsequenceStore(db DBTX) *ConsequenceStore {
	return &ConsequenceStore{db: db}
}

func (s *ConsequenceStore) WithTx(tx *sql.Tx) *ConsequenceStore {
	return &ConsequenceStore{db: tx}
}

const consequenceCols = `id, family_id, user_id, severity, restriction, reason, active, starts_at, ends_at, task_id, resolved_by, resolved_at, resolution, created_at`

func scanConsequence(sc scanner) (*model.Consequence, error) {
	var c model.Consequence
	var severity, restriction, resolution string
	var active int
	var taskID, resolvedBy sql.NullInt64
	var resolvedAt sql.NullTime

	err := sc.Scan(
		&c.ID, &c.FamilyID, &c.UserID, &severity, &restriction, &c.Reason, &active,
		&c.StartsAt, &c.EndsAt, &taskID, &resolvedBy, &resolvedAt, &resolution, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Severity = model.Severity(severity)
	c.Restriction = model.Restriction(restriction)
	c.Resolution = model.Resolution(resolution)
	c.Active = active != 0
	c.TaskID = int64Ptr(taskID)
	c.ResolvedBy = int64Ptr(resolvedBy)
	c.ResolvedAt = timePtr(resolvedAt)
	return &c, nil
}

// NewConsequence holds the fields of a consequence about to be imposed.
type NewConsequence struct {
	UserID      int64
	Severity    model.Severity
	Restriction model.Restriction
	Reason      string
	StartsAt    time.Time
	EndsAt      time.Time
	TaskID      *int64
}

// Create inserts an active consequence. A second active consequence for the
// same task violates a unique index and is reported as a conflict.
func (s *ConsequenceStore) Create(ctx context.Context, familyID int64, n NewConsequence) (*model.Consequence, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO consequences (family_id, user_id, severity, restriction, reason, starts_at, ends_at, task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		familyID, n.UserID, string(n.Severity), string(n.Restriction), n.Reason,
		n.StartsAt.UTC(), n.EndsAt.UTC(), nullInt64(n.TaskID), n.StartsAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("create consequence", "task already has an active consequence")
		}
		return nil, fmt.Errorf("insert consequence: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, familyID, id)
}

func (s *ConsequenceStore) GetByID(ctx context.Context, familyID, id int64) (*model.Consequence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+consequenceCols+` FROM consequences WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	c, err := scanConsequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get consequence", "consequence %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get consequence: %w", err)
	}
	return c, nil
}

// ActiveForTask returns the active consequence a task triggered, or nil.
func (s *ConsequenceStore) ActiveForTask(ctx context.Context, familyID, taskID int64) (*model.Consequence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+consequenceCols+` FROM consequences
		 WHERE family_id = ? AND task_id = ? AND active = 1`,
		familyID, taskID,
	)
	c, err := scanConsequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task consequence: %w", err)
	}
	return c, nil
}

// Deactivate marks an active consequence inactive. It reports false when the
// consequence was already inactive, so concurrent resolvers touch it once.
func (s *ConsequenceStore) Deactivate(ctx context.Context, familyID, id int64, resolvedBy *int64, resolution model.Resolution, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE consequences SET active = 0, resolved_by = ?, resolved_at = ?, resolution = ?
		 WHERE id = ? AND family_id = ? AND active = 1`,
		nullInt64(resolvedBy), at.UTC(), string(resolution), id, familyID,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate consequence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// HasActive reports whether the user has any active consequence carrying the
// given restriction. Expiry is applied by the sweep, not here.
func (s *ConsequenceStore) HasActive(ctx context.Context, familyID, userID int64, r model.Restriction) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consequences
		 WHERE family_id = ? AND user_id = ? AND restriction = ? AND active = 1`,
		familyID, userID, string(r),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check restriction: %w", err)
	}
	return n > 0, nil
}

// ListActive returns the family's active consequences, optionally narrowed to
// one user when userID is non-zero.
func (s *ConsequenceStore) ListActive(ctx context.Context, familyID, userID int64) ([]model.Consequence, error) {
	q := `SELECT ` + consequenceCols + ` FROM consequences WHERE family_id = ? AND active = 1`
	args := []any{familyID}
	if userID != 0 {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY ends_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list consequences: %w", err)
	}
	defer rows.Close()

	var out []model.Consequence
	for rows.Next() {
		c, err := scanConsequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consequence: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListExpired returns active consequences whose end time is at or before now.
func (s *ConsequenceStore) ListExpired(ctx context.Context, familyID int64, now time.Time) ([]model.Consequence, error) {
	active, err := s.ListActive(ctx, familyID, 0)
	if err != nil {
		return nil, err
	}
	var expired []model.Consequence
	for _, c := range active {
		if !c.EndsAt.After(now) {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
