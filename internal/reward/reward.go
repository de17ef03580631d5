// Package reward keeps a family's reward catalogue and turns points into
// rewards, holding expensive redemptions for a parent's approval.
package reward

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/consequence"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

// DefaultApprovalThreshold is the cost at which a redemption needs a parent.
const DefaultApprovalThreshold = 200

type Engine struct {
	db           *sql.DB
	users        *store.UserStore
	rewards      *store.RewardStore
	ledger       *ledger.Ledger
	consequences *consequence.Engine
	notifier     notify.Notifier
	logger       *slog.Logger
	now          func() time.Time
	threshold    int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithApprovalThreshold sets the cost at or above which a redemption needs an
// approver. Zero or less turns approval off.
func WithApprovalThreshold(points int) Option {
	return func(e *Engine) { e.threshold = points }
}

func New(db *sql.DB, lg *ledger.Ledger, ce *consequence.Engine, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Engine{
		db:           db,
		users:        store.NewUserStore(db),
		rewards:      store.NewRewardStore(db),
		ledger:       lg,
		consequences: ce,
		notifier:     notifier,
		logger:       logger.With("component", "reward"),
		now:          time.Now,
		threshold:    DefaultApprovalThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured approval threshold.
func (e *Engine) Threshold() int {
	return e.threshold
}

func (e *Engine) requiresApproval(cost int) bool {
	return e.threshold > 0 && cost >= e.threshold
}

func (e *Engine) decorate(r *model.Reward) *model.Reward {
	r.RequiresApproval = e.requiresApproval(r.PointCost)
	return r
}

// RewardInput is a parent's create or update request.
type RewardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PointCost   int    `json:"point_cost"`
}

func (in RewardInput) validate(op string) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation(op, "title is required")
	}
	if in.PointCost <= 0 {
		return apperr.Validation(op, "point cost must be positive")
	}
	return nil
}

func (e *Engine) CreateReward(ctx context.Context, actor tenant.Actor, in RewardInput) (*model.Reward, error) {
	if err := tenant.Require(actor, tenant.CapManageRewards); err != nil {
		return nil, err
	}
	if err := in.validate("create reward"); err != nil {
		return nil, err
	}
	r, err := e.rewards.Create(ctx, actor.FamilyID, strings.TrimSpace(in.Title), in.Description, in.PointCost)
	if err != nil {
		return nil, err
	}
	e.logger.Info("reward created", "family_id", actor.FamilyID, "reward_id", r.ID, "cost", r.PointCost)
	return e.decorate(r), nil
}

// UpdateReward edits a reward. Past redemptions keep the cost they were
// charged.
func (e *Engine) UpdateReward(ctx context.Context, actor tenant.Actor, id int64, in RewardInput) (*model.Reward, error) {
	if err := tenant.Require(actor, tenant.CapManageRewards); err != nil {
		return nil, err
	}
	if err := in.validate("update reward"); err != nil {
		return nil, err
	}
	r, err := e.rewards.Update(ctx, actor.FamilyID, id, strings.TrimSpace(in.Title), in.Description, in.PointCost)
	if err != nil {
		return nil, err
	}
	return e.decorate(r), nil
}

// SetRewardActive hides a reward from redemption or brings it back.
func (e *Engine) SetRewardActive(ctx context.Context, actor tenant.Actor, id int64, active bool) (*model.Reward, error) {
	if err := tenant.Require(actor, tenant.CapManageRewards); err != nil {
		return nil, err
	}
	if err := e.rewards.SetActive(ctx, actor.FamilyID, id, active); err != nil {
		return nil, err
	}
	r, err := e.rewards.GetByID(ctx, actor.FamilyID, id)
	if err != nil {
		return nil, err
	}
	return e.decorate(r), nil
}

// DeleteReward removes a reward nobody has redeemed yet.
func (e *Engine) DeleteReward(ctx context.Context, actor tenant.Actor, id int64) error {
	if err := tenant.Require(actor, tenant.CapManageRewards); err != nil {
		return err
	}
	return store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return e.rewards.WithTx(tx).Delete(ctx, actor.FamilyID, id)
	})
}

// ListRewards returns the catalogue. Only parents see inactive rewards.
func (e *Engine) ListRewards(ctx context.Context, actor tenant.Actor) ([]model.Reward, error) {
	activeOnly := !tenant.Can(actor.Role, tenant.CapManageRewards)
	rewards, err := e.rewards.List(ctx, actor.FamilyID, activeOnly)
	if err != nil {
		return nil, err
	}
	for i := range rewards {
		e.decorate(&rewards[i])
	}
	return rewards, nil
}

func (e *Engine) GetReward(ctx context.Context, actor tenant.Actor, id int64) (*model.Reward, error) {
	r, err := e.rewards.GetByID(ctx, actor.FamilyID, id)
	if err != nil {
		return nil, err
	}
	return e.decorate(r), nil
}
