package reward

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type Status string

const (
	StatusRedeemed        Status = "REDEEMED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
)

// Result is the outcome of a redemption that did not fail. A pending result
// carries no ledger entry.
type Result struct {
	Status     Status                  `json:"status"`
	Redemption *model.Redemption       `json:"redemption"`
	Entry      *model.PointTransaction `json:"entry,omitempty"`
	Balance    int                     `json:"balance"`
}

// Redeem spends the actor's points on a reward. The checks run in order and
// in one transaction with the debit: insufficient balance is a validation
// error, a rewards restriction is a conflict, and a reward at or above the
// approval threshold without an approver is held as PENDING_APPROVAL.
func (e *Engine) Redeem(ctx context.Context, actor tenant.Actor, rewardID int64, approverID *int64) (*Result, error) {
	if err := tenant.Require(actor, tenant.CapRedeemReward); err != nil {
		return nil, err
	}

	var res *Result
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		res, err = e.redeemTx(ctx, tx, actor.FamilyID, actor.UserID, rewardID, approverID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.announce(ctx, actor.FamilyID, res)
	return res, nil
}

// redeemTx runs the redemption checks and the debit. When pending is set the
// parked request is settled in place at the cost recorded when it was made.
func (e *Engine) redeemTx(ctx context.Context, tx *sql.Tx, familyID, userID, rewardID int64, approverID *int64, pending *model.Redemption) (*Result, error) {
	const op = "redeem reward"
	users := e.users.WithTx(tx)
	rewards := e.rewards.WithTx(tx)

	rw, err := rewards.GetByID(ctx, familyID, rewardID)
	if err != nil {
		return nil, err
	}
	if !rw.Active {
		return nil, apperr.Validation(op, "reward %d is not available", rewardID)
	}
	user, err := users.GetByID(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, apperr.Validation(op, "user %d is inactive", userID)
	}

	cost := rw.PointCost
	if pending != nil {
		cost = pending.PointsSpent
	}
	if user.PointsBalance < cost {
		return nil, apperr.Validation(op, "balance %d is below the cost of %d", user.PointsBalance, cost)
	}

	blocked, err := e.consequences.IsRestrictedTx(ctx, tx, familyID, userID, model.RestrictRewards)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, apperr.Conflict(op, "rewards are blocked for user %d", userID)
	}

	now := e.now()
	if approverID == nil && e.requiresApproval(cost) {
		red, err := rewards.CreateRedemption(ctx, familyID, model.Redemption{
			RequestID:   uuid.NewString(),
			RewardID:    rw.ID,
			UserID:      userID,
			PointsSpent: cost,
			Status:      model.RedemptionPending,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Status: StatusPendingApproval, Redemption: red, Balance: user.PointsBalance}, nil
	}

	if approverID != nil {
		if err := checkApprover(ctx, users, familyID, *approverID); err != nil {
			return nil, err
		}
	}

	receipt, err := e.ledger.PostTx(ctx, tx, familyID, ledger.Posting{
		UserID:   userID,
		Amount:   -cost,
		Kind:     model.TxRewardRedemption,
		RewardID: &rw.ID,
		Note:     rw.Title,
	})
	if err != nil {
		return nil, err
	}

	var red *model.Redemption
	if pending != nil {
		ok, err := rewards.DecidePending(ctx, familyID, pending.ID, model.RedemptionApproved, *approverID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Validation(op, "redemption %d is no longer pending", pending.ID)
		}
		red, err = rewards.GetRedemption(ctx, familyID, pending.ID)
		if err != nil {
			return nil, err
		}
	} else {
		red, err = rewards.CreateRedemption(ctx, familyID, model.Redemption{
			RequestID:   uuid.NewString(),
			RewardID:    rw.ID,
			UserID:      userID,
			PointsSpent: cost,
			Status:      model.RedemptionApproved,
			ApprovedBy:  approverID,
			DecidedAt:   &now,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		if approverID != nil {
			if _, err := rewards.ClosePending(ctx, familyID, rw.ID, userID, *approverID, now); err != nil {
				return nil, err
			}
		}
	}
	return &Result{Status: StatusRedeemed, Redemption: red, Entry: receipt.Entry, Balance: receipt.Balance}, nil
}

// checkApprover requires an active parent of the same family.
func checkApprover(ctx context.Context, users *store.UserStore, familyID, approverID int64) error {
	approver, err := users.GetByID(ctx, familyID, approverID)
	if err != nil {
		return err
	}
	if approver.Role != model.RoleParent || !approver.Active {
		return apperr.Forbidden("approve redemption", "user %d cannot approve redemptions", approverID)
	}
	return nil
}

// Approve lets a parent settle a pending request. Every redemption check runs
// again against the current balance and restrictions, and the request itself
// becomes the approved redemption.
func (e *Engine) Approve(ctx context.Context, actor tenant.Actor, redemptionID int64) (*Result, error) {
	if err := tenant.Require(actor, tenant.CapApproveRedemption); err != nil {
		return nil, err
	}

	var res *Result
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		pending, err := e.rewards.WithTx(tx).GetRedemption(ctx, actor.FamilyID, redemptionID)
		if err != nil {
			return err
		}
		if pending.Status != model.RedemptionPending {
			return apperr.Validation("approve redemption", "redemption %d is already %s", redemptionID, pending.Status)
		}
		res, err = e.redeemTx(ctx, tx, actor.FamilyID, pending.UserID, pending.RewardID, &actor.UserID, pending)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.announce(ctx, actor.FamilyID, res)
	return res, nil
}

// Decline closes a pending request without spending anything.
func (e *Engine) Decline(ctx context.Context, actor tenant.Actor, redemptionID int64) (*model.Redemption, error) {
	if err := tenant.Require(actor, tenant.CapApproveRedemption); err != nil {
		return nil, err
	}

	var red *model.Redemption
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		rewards := e.rewards.WithTx(tx)
		if _, err := rewards.GetRedemption(ctx, actor.FamilyID, redemptionID); err != nil {
			return err
		}
		ok, err := rewards.DecidePending(ctx, actor.FamilyID, redemptionID, model.RedemptionDeclined, actor.UserID, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("decline redemption", "redemption %d is no longer pending", redemptionID)
		}
		red, err = rewards.GetRedemption(ctx, actor.FamilyID, redemptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("redemption declined", "family_id", actor.FamilyID, "redemption_id", redemptionID, "by", actor.UserID)
	return red, nil
}

// ListPending returns the family's approval queue.
func (e *Engine) ListPending(ctx context.Context, actor tenant.Actor) ([]model.Redemption, error) {
	if err := tenant.Require(actor, tenant.CapApproveRedemption); err != nil {
		return nil, err
	}
	return e.rewards.ListRedemptions(ctx, actor.FamilyID, model.RedemptionPending)
}

func (e *Engine) announce(ctx context.Context, familyID int64, res *Result) {
	red := res.Redemption
	switch res.Status {
	case StatusPendingApproval:
		e.logger.Info("redemption awaiting approval", "family_id", familyID, "redemption_id", red.ID, "user_id", red.UserID, "cost", red.PointsSpent)
		e.notifier.Notify(ctx, familyID, notify.Notice{
			Kind:   notify.RedemptionPending,
			Title:  "Reward needs approval",
			Body:   fmt.Sprintf("A %d point reward is waiting for a parent", red.PointsSpent),
			UserID: red.UserID,
			RefID:  red.ID,
		})
	case StatusRedeemed:
		e.logger.Info("reward redeemed", "family_id", familyID, "redemption_id", red.ID, "user_id", red.UserID, "cost", red.PointsSpent, "balance", res.Balance)
		if red.ApprovedBy != nil {
			e.notifier.Notify(ctx, familyID, notify.Notice{
				Kind:   notify.RedemptionApproved,
				Title:  "Reward approved",
				Body:   fmt.Sprintf("%d points spent", red.PointsSpent),
				UserID: red.UserID,
				RefID:  red.ID,
			})
		}
	}
}
