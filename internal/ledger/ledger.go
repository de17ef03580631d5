// Package ledger is the only writer of point balances. Every change appends
// an immutable point_transactions row and moves the cached balance by the
// same amount inside one transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"

	"github.com/google/uuid"
)

type Ledger struct {
	db     *sql.DB
	users  *store.UserStore
	rows   *store.LedgerStore
	logger *slog.Logger
	now    func() time.Time

	allowAdjustmentOverdraft bool
}

type Option func(*Ledger)

// WithAdjustmentOverdraft lets a negative parent adjustment take a balance
// below zero.
func WithAdjustmentOverdraft(allow bool) Option {
	return func(l *Ledger) { l.allowAdjustmentOverdraft = allow }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(db *sql.DB, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		users:  store.NewUserStore(db),
		rows:   store.NewLedgerStore(db),
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Posting describes one balance change.
type Posting struct {
	UserID   int64
	Amount   int
	Kind     model.TxKind
	TaskID   *int64
	RewardID *int64
	Note     string
}

// Receipt is the outcome of a posting.
type Receipt struct {
	Entry   *model.PointTransaction `json:"entry"`
	Balance int                     `json:"balance"`
}

func (l *Ledger) validate(p Posting) error {
	if p.Amount == 0 {
		return apperr.Validation("post points", "amount must be non-zero")
	}
	switch p.Kind {
	case model.TxTaskCompletion:
		if p.Amount < 0 {
			return apperr.Validation("post points", "task completion must credit points")
		}
	case model.TxRewardRedemption:
		if p.Amount > 0 {
			return apperr.Validation("post points", "reward redemption must debit points")
		}
	case model.TxParentAdjustment:
	case model.TxTransferIn, model.TxTransferOut:
		return apperr.Validation("post points", "transfers must go through Transfer")
	default:
		return apperr.Validation("post points", "unknown transaction kind %q", p.Kind)
	}
	return nil
}

// Post appends one entry and updates the cached balance atomically.
func (l *Ledger) Post(ctx context.Context, familyID int64, p Posting) (*Receipt, error) {
	var r *Receipt
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		r, err = l.PostTx(ctx, tx, familyID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("points posted", "family_id", familyID, "user_id", p.UserID, "amount", p.Amount, "kind", p.Kind, "balance", r.Balance)
	return r, nil
}

// PostTx is Post inside a transaction owned by the caller, so a balance
// check and the posting it guards commit together.
func (l *Ledger) PostTx(ctx context.Context, tx *sql.Tx, familyID int64, p Posting) (*Receipt, error) {
	if err := l.validate(p); err != nil {
		return nil, err
	}
	allowNegative := p.Kind == model.TxParentAdjustment && l.allowAdjustmentOverdraft

	balance, err := l.users.WithTx(tx).AddToBalance(ctx, familyID, p.UserID, p.Amount, allowNegative)
	if err != nil {
		return nil, balanceError("post points", p.UserID, err)
	}

	entry, err := l.rows.WithTx(tx).Append(ctx, model.PointTransaction{
		UserID:    p.UserID,
		Amount:    p.Amount,
		Kind:      p.Kind,
		TaskID:    p.TaskID,
		RewardID:  p.RewardID,
		Note:      p.Note,
		CreatedAt: l.now(),
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{Entry: entry, Balance: balance}, nil
}

// Adjust is a parent's manual correction of a member's balance.
func (l *Ledger) Adjust(ctx context.Context, actor tenant.Actor, userID int64, amount int, note string) (*Receipt, error) {
	if err := tenant.Require(actor, tenant.CapAdjustPoints); err != nil {
		return nil, err
	}
	return l.Post(ctx, actor.FamilyID, Posting{
		UserID: userID,
		Amount: amount,
		Kind:   model.TxParentAdjustment,
		Note:   note,
	})
}

// Transfer is a single atomic unit producing one debit and one credit
// entry for two users in the same family, linked by a shared transfer ID.
type Transfer struct {
	ID      string                  `json:"transfer_id"`
	Debit   *model.PointTransaction `json:"debit"`
	Credit  *model.PointTransaction `json:"credit"`
	Balance int                     `json:"balance"`
}

// Transfer moves points from the actor to another member of the same family.
// Nothing is written unless both legs succeed.
func (l *Ledger) Transfer(ctx context.Context, actor tenant.Actor, toUserID int64, amount int) (*Transfer, error) {
	if err := tenant.Require(actor, tenant.CapTransferPoints); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, apperr.Validation("transfer points", "amount must be positive")
	}
	if toUserID == actor.UserID {
		return nil, apperr.Validation("transfer points", "cannot transfer to yourself")
	}

	t := &Transfer{ID: uuid.NewString()}
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		users := l.users.WithTx(tx)
		rows := l.rows.WithTx(tx)

		to, err := users.GetByID(ctx, actor.FamilyID, toUserID)
		if err != nil {
			return err
		}
		if !to.Active {
			return apperr.Validation("transfer points", "user %d is inactive", toUserID)
		}

		balance, err := users.AddToBalance(ctx, actor.FamilyID, actor.UserID, -amount, false)
		if err != nil {
			return balanceError("transfer points", actor.UserID, err)
		}
		if _, err := users.AddToBalance(ctx, actor.FamilyID, toUserID, amount, false); err != nil {
			return balanceError("transfer points", toUserID, err)
		}

		at := l.now()
		t.Debit, err = rows.Append(ctx, model.PointTransaction{
			UserID: actor.UserID, Amount: -amount, Kind: model.TxTransferOut,
			CounterpartyID: &toUserID, TransferID: t.ID, CreatedAt: at,
		})
		if err != nil {
			return err
		}
		from := actor.UserID
		t.Credit, err = rows.Append(ctx, model.PointTransaction{
			UserID: toUserID, Amount: amount, Kind: model.TxTransferIn,
			CounterpartyID: &from, TransferID: t.ID, CreatedAt: at,
		})
		if err != nil {
			return err
		}
		t.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("points transferred", "family_id", actor.FamilyID, "from", actor.UserID, "to", toUserID, "amount", amount, "transfer_id", t.ID)
	return t, nil
}

// BalanceOf returns the cached balance, which always equals the ledger sum.
func (l *Ledger) BalanceOf(ctx context.Context, familyID, userID int64) (int, error) {
	return l.users.Balance(ctx, familyID, userID)
}

// History returns a user's entries, newest first. Members see their own
// history; parents see anyone's in the family.
func (l *Ledger) History(ctx context.Context, actor tenant.Actor, userID int64, limit int) ([]model.PointTransaction, error) {
	if err := tenant.RequireSelfOr(actor, userID, tenant.CapViewFamilyLedger); err != nil {
		return nil, err
	}
	if _, err := l.users.GetByID(ctx, actor.FamilyID, userID); err != nil {
		return nil, err
	}
	return l.rows.ListByUser(ctx, actor.FamilyID, userID, limit)
}

// Reconcile returns every user in the family whose cached balance differs
// from the sum of their ledger entries. A healthy family returns none.
func (l *Ledger) Reconcile(ctx context.Context, familyID int64) ([]store.BalanceCheck, error) {
	checks, err := l.rows.BalanceChecks(ctx, familyID)
	if err != nil {
		return nil, err
	}
	var drift []store.BalanceCheck
	for _, c := range checks {
		if c.Cached != c.LedgerSum {
			drift = append(drift, c)
		}
	}
	if len(drift) > 0 {
		l.logger.Error("balance drift detected", "family_id", familyID, "users", len(drift))
	}
	return drift, nil
}

func (l *Ledger) Leaderboard(ctx context.Context, familyID int64) ([]model.PointBalance, error) {
	return l.users.Leaderboard(ctx, familyID)
}

func balanceError(op string, userID int64, err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientPoints):
		return apperr.Validation(op, "insufficient points")
	case errors.Is(err, store.ErrInactiveUser):
		return apperr.Validation(op, "user %d is inactive", userID)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
