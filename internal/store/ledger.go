package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
)

// LedgerStore appends and reads point transactions. Ledger rows carry no
// family column; reads are scoped by joining the owning user's family.
type LedgerStore struct {
	db DBTX
}

func NewLedgerStore(db DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) WithTx(tx *sql.Tx) *LedgerStore {
	return &LedgerStore{db: tx}
}

const ledgerCols = `pt.id, pt.user_id, pt.amount, pt.kind, pt.task_id, pt.reward_id, pt.counterparty_id, pt.transfer_id, pt.note, pt.created_at`

func scanPointTransaction(sc scanner) (*model.PointTransaction, error) {
	var t model.PointTransaction
	var kind string
	var taskID, rewardID, counterpartyID sql.NullInt64
	var transferID sql.NullString
	err := sc.Scan(&t.ID, &t.UserID, &t.Amount, &kind, &taskID, &rewardID, &counterpartyID, &transferID, &t.Note, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = model.TxKind(kind)
	t.TaskID = int64Ptr(taskID)
	t.RewardID = int64Ptr(rewardID)
	t.CounterpartyID = int64Ptr(counterpartyID)
	t.TransferID = transferID.String
	return &t, nil
}

// Append writes one ledger row. The caller has already verified that the
// user belongs to the family being posted against.
func (s *LedgerStore) Append(ctx context.Context, t model.PointTransaction) (*model.PointTransaction, error) {
	var transferID sql.NullString
	if t.TransferID != "" {
		transferID = sql.NullString{String: t.TransferID, Valid: true}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.CreatedAt = t.CreatedAt.UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO point_transactions (user_id, amount, kind, task_id, reward_id, counterparty_id, transfer_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Amount, string(t.Kind), nullInt64(t.TaskID), nullInt64(t.RewardID), nullInt64(t.CounterpartyID), transferID, t.Note, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert point transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	return &t, nil
}

// ListByUser returns the user's ledger, newest first. limit <= 0 means all.
func (s *LedgerStore) ListByUser(ctx context.Context, familyID, userID int64, limit int) ([]model.PointTransaction, error) {
	q := `SELECT ` + ledgerCols + ` FROM point_transactions pt
		 JOIN users u ON u.id = pt.user_id
		 WHERE pt.user_id = ? AND u.family_id = ?
		 ORDER BY pt.id DESC`
	args := []any{userID, familyID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list point transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.PointTransaction
	for rows.Next() {
		t, err := scanPointTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ListByTransfer returns both legs of a transfer.
func (s *LedgerStore) ListByTransfer(ctx context.Context, familyID int64, transferID string) ([]model.PointTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM point_transactions pt
		 JOIN users u ON u.id = pt.user_id
		 WHERE pt.transfer_id = ? AND u.family_id = ?
		 ORDER BY pt.id ASC`,
		transferID, familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfer: %w", err)
	}
	defer rows.Close()

	var txs []model.PointTransaction
	for rows.Next() {
		t, err := scanPointTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// BalanceCheck pairs a user's cached balance with the ledger sum.
type BalanceCheck struct {
	UserID    int64
	Cached    int
	LedgerSum int
}

// BalanceChecks returns the cached balance and ledger sum for every user in
// the family, including users with no ledger rows.
func (s *LedgerStore) BalanceChecks(ctx context.Context, familyID int64) ([]BalanceCheck, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.points_balance, COALESCE(SUM(pt.amount), 0)
		 FROM users u
		 LEFT JOIN point_transactions pt ON pt.user_id = u.id
		 WHERE u.family_id = ?
		 GROUP BY u.id, u.points_balance
		 ORDER BY u.id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("balance checks: %w", err)
	}
	defer rows.Close()

	var checks []BalanceCheck
	for rows.Next() {
		var c BalanceCheck
		if err := rows.Scan(&c.UserID, &c.Cached, &c.LedgerSum); err != nil {
			return nil, fmt.Errorf("scan balance check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}
