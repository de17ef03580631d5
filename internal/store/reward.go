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

type RewardStore struct {
	db DBTX
}

func NewRewardStore(db DBTX) *RewardStore {
	return &RewardStore{db: db}
}

func (s *RewardStore) WithTx(tx *sql.Tx) *RewardStore {
	return &RewardStore{db: tx}
}

const rewardCols = `id, family_id, title, description, point_cost, active, created_at, updated_at`

func scanReward(sc scanner) (*model.Reward, error) {
	var r model.Reward
	var active int
	err := sc.Scan(&r.ID, &r.FamilyID, &r.Title, &r.Description, &r.PointCost, &active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

func (s *RewardStore) Create(ctx context.Context, familyID int64, title, description string, pointCost int) (*model.Reward, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (family_id, title, description, point_cost) VALUES (?, ?, ?, ?)`,
		familyID, title, description, pointCost,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, familyID, id)
}

func (s *RewardStore) GetByID(ctx context.Context, familyID, id int64) (*model.Reward, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rewardCols+` FROM rewards WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get reward", "reward %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

func (s *RewardStore) List(ctx context.Context, familyID int64, activeOnly bool) ([]model.Reward, error) {
	q := `SELECT ` + rewardCols + ` FROM rewards WHERE family_id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	q += ` ORDER BY point_cost ASC, title ASC`

	rows, err := s.db.QueryContext(ctx, q, familyID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) Update(ctx context.Context, familyID, id int64, title, description string, pointCost int) (*model.Reward, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET title = ?, description = ?, point_cost = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND family_id = ?`,
		title, description, pointCost, id, familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("update reward", "reward %d not found", id)
	}
	return s.GetByID(ctx, familyID, id)
}

func (s *RewardStore) SetActive(ctx context.Context, familyID, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND family_id = ?`,
		boolInt(active), id, familyID,
	)
	if err != nil {
		return fmt.Errorf("set reward active: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("set reward active", "reward %d not found", id)
	}
	return nil
}

// Delete removes a reward that has never been redeemed. Rewards with history
// can only be deactivated.
func (s *RewardStore) Delete(ctx context.Context, familyID, id int64) error {
	if _, err := s.GetByID(ctx, familyID, id); err != nil {
		return err
	}

	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM redemptions WHERE reward_id = ?) +
		        (SELECT COUNT(*) FROM point_transactions WHERE reward_id = ?)`,
		id, id,
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("count reward history: %w", err)
	}
	if used > 0 {
		return apperr.Conflict("delete reward", "reward %d has redemption history; deactivate it instead", id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM rewards WHERE id = ? AND family_id = ?`, id, familyID); err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}

const redemptionCols = `id, family_id, request_id, reward_id, user_id, points_spent, status, approved_by, decided_at, created_at`

func scanRedemption(sc scanner) (*model.Redemption, error) {
	var r model.Redemption
	var status string
	var approvedBy sql.NullInt64
	var decidedAt sql.NullTime
	err := sc.Scan(&r.ID, &r.FamilyID, &r.RequestID, &r.RewardID, &r.UserID, &r.PointsSpent,
		&status, &approvedBy, &decidedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RedemptionStatus(status)
	r.ApprovedBy = int64Ptr(approvedBy)
	r.DecidedAt = timePtr(decidedAt)
	return &r, nil
}

// CreateRedemption records a redemption request. Approved requests carry
// their approver and decision time.
func (s *RewardStore) CreateRedemption(ctx context.Context, familyID int64, r model.Redemption) (*model.Redemption, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var decidedAt any
	if r.DecidedAt != nil {
		decidedAt = r.DecidedAt.UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO redemptions (family_id, request_id, reward_id, user_id, points_spent, status, approved_by, decided_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		familyID, r.RequestID, r.RewardID, r.UserID, r.PointsSpent, string(r.Status),
		nullInt64(r.ApprovedBy), decidedAt, r.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("create redemption", "request %s already recorded", r.RequestID)
		}
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetRedemption(ctx, familyID, id)
}

func (s *RewardStore) GetRedemption(ctx context.Context, familyID, id int64) (*model.Redemption, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+redemptionCols+` FROM redemptions WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get redemption", "redemption %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

// ListRedemptions returns the family's redemptions, newest first. An empty
// status matches every status.
func (s *RewardStore) ListRedemptions(ctx context.Context, familyID int64, status model.RedemptionStatus) ([]model.Redemption, error) {
	q := `SELECT ` + redemptionCols + ` FROM redemptions WHERE family_id = ?`
	args := []any{familyID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DecidePending moves a pending redemption to approved or declined. It
// reports false when the redemption was no longer pending.
func (s *RewardStore) DecidePending(ctx context.Context, familyID, id int64, status model.RedemptionStatus, decidedBy int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE redemptions SET status = ?, approved_by = ?, decided_at = ?
		 WHERE id = ? AND family_id = ? AND status = 'pending_approval'`,
		string(status), decidedBy, at.UTC(), id, familyID,
	)
	if err != nil {
		return false, fmt.Errorf("decide redemption: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ClosePending declines every open request by the user for the reward once a
// parent has approved a redemption of it in person. It returns how many
// requests were closed.
func (s *RewardStore) ClosePending(ctx context.Context, familyID, rewardID, userID, approverID int64, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE redemptions SET status = 'declined', approved_by = ?, decided_at = ?
		 WHERE family_id = ? AND reward_id = ? AND user_id = ? AND status = 'pending_approval'`,
		approverID, at.UTC(), familyID, rewardID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("close pending redemptions: %w", err)
	}
	return result.RowsAffected()
}
