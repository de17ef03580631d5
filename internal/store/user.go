package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

// ErrInactiveUser is returned when a balance change targets a deactivated user.
var ErrInactiveUser = errors.New("user is inactive")

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) WithTx(tx *sql.Tx) *UserStore {
	return &UserStore{db: tx}
}

const userCols = `id, family_id, name, email, role, points_balance, pin IS NOT NULL, active, created_at, updated_at`

func scanUser(sc scanner) (*model.User, error) {
	var u model.User
	var role string
	var active int
	err := sc.Scan(&u.ID, &u.FamilyID, &u.Name, &u.Email, &role, &u.PointsBalance, &u.HasPIN, &active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role, err = model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, familyID int64, name, email string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("create user", "invalid role %q", role)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (family_id, name, email, role) VALUES (?, ?, ?, ?)`,
		familyID, name, email, string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, familyID, id)
}

func (s *UserStore) GetByID(ctx context.Context, familyID, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get user", "user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// List returns all members of the family, parents first.
func (s *UserStore) List(ctx context.Context, familyID int64) ([]model.User, error) {
	return s.query(ctx, "list users",
		`SELECT `+userCols+` FROM users WHERE family_id = ?
		 ORDER BY CASE role WHEN 'parent' THEN 0 WHEN 'teen' THEN 1 ELSE 2 END, name ASC`,
		familyID,
	)
}

// ListParents returns the active parents of the family.
func (s *UserStore) ListParents(ctx context.Context, familyID int64) ([]model.User, error) {
	return s.query(ctx, "list parents",
		`SELECT `+userCols+` FROM users WHERE family_id = ? AND role = 'parent' AND active = 1 ORDER BY name ASC`,
		familyID,
	)
}

func (s *UserStore) query(ctx context.Context, op, q string, args ...any) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Deactivate soft-deletes a user. Ledger rows keep referencing the user.
func (s *UserStore) Deactivate(ctx context.Context, familyID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("deactivate user", "user %d not found", id)
	}
	return nil
}

func (s *UserStore) SetPIN(ctx context.Context, familyID, id int64, hashedPIN string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET pin = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND family_id = ?`,
		hashedPIN, id, familyID,
	)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("set pin", "user %d not found", id)
	}
	return nil
}

// GetPINHash returns "" when the user has no PIN.
func (s *UserStore) GetPINHash(ctx context.Context, familyID, id int64) (string, error) {
	var pin sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT pin FROM users WHERE id = ? AND family_id = ?`,
		id, familyID,
	).Scan(&pin)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("get pin", "user %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query pin: %w", err)
	}
	return pin.String, nil
}

// Balance returns the cached balance.
func (s *UserStore) Balance(ctx context.Context, familyID, id int64) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT points_balance FROM users WHERE id = ? AND family_id = ?`,
		id, familyID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("get balance", "user %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AddToBalance applies delta to the cached balance in a single guarded
// statement and returns the new balance. Unless allowNegative is set, a delta
// that would take the balance below zero changes nothing and returns
// ErrInsufficientPoints.
func (s *UserStore) AddToBalance(ctx context.Context, familyID, id int64, delta int, allowNegative bool) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET points_balance = points_balance + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND family_id = ? AND active = 1 AND (? = 1 OR points_balance + ? >= 0)
		 RETURNING points_balance`,
		delta, id, familyID, boolInt(allowNegative), delta,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	var active int
	err = s.db.QueryRowContext(ctx,
		`SELECT active FROM users WHERE id = ? AND family_id = ?`,
		id, familyID,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("update balance", "user %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("check user: %w", err)
	}
	if active == 0 {
		return 0, ErrInactiveUser
	}
	return 0, ErrInsufficientPoints
}

// Leaderboard returns active members ordered by balance, highest first.
func (s *UserStore) Leaderboard(ctx context.Context, familyID int64) ([]model.PointBalance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, points_balance FROM users
		 WHERE family_id = ? AND active = 1
		 ORDER BY points_balance DESC, name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var balances []model.PointBalance
	for rows.Next() {
		var b model.PointBalance
		if err := rows.Scan(&b.UserID, &b.UserName, &b.Balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
