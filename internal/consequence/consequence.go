// Package consequence imposes, enforces and lifts the temporary restrictions
// a family member earns by leaving obligatory tasks undone.
package consequence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type Engine struct {
	db           *sql.DB
	families     *store.FamilyStore
	users        *store.UserStore
	consequences *store.ConsequenceStore
	notifier     notify.Notifier
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used for start, end and expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(db *sql.DB, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Engine{
		db:           db,
		families:     store.NewFamilyStore(db),
		users:        store.NewUserStore(db),
		consequences: store.NewConsequenceStore(db),
		notifier:     notifier,
		logger:       logger.With("component", "consequence"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger imposes the policy for severity on a user, linked to the task that
// caused it when taskID is set.
func (e *Engine) Trigger(ctx context.Context, familyID, userID int64, severity model.Severity, taskID *int64) (*model.Consequence, error) {
	var c *model.Consequence
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		c, err = e.TriggerTx(ctx, tx, familyID, userID, severity, taskID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	e.AnnounceTriggered(ctx, c)
	return c, nil
}

// TriggerTx is Trigger inside the caller's transaction. The caller announces
// the consequence after commit.
func (e *Engine) TriggerTx(ctx context.Context, tx *sql.Tx, familyID, userID int64, severity model.Severity, taskID *int64, reason string) (*model.Consequence, error) {
	p, err := PolicyFor(severity)
	if err != nil {
		return nil, err
	}
	if _, err := e.users.WithTx(tx).GetByID(ctx, familyID, userID); err != nil {
		return nil, err
	}

	cs := e.consequences.WithTx(tx)
	if taskID != nil {
		existing, err := cs.ActiveForTask(ctx, familyID, *taskID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apperr.Conflict("trigger consequence", "task %d already has active consequence %d", *taskID, existing.ID)
		}
	}

	start := e.now()
	return cs.Create(ctx, familyID, store.NewConsequence{
		UserID:      userID,
		Severity:    severity,
		Restriction: p.Restriction,
		Reason:      reason,
		StartsAt:    start,
		EndsAt:      start.Add(p.Duration),
		TaskID:      taskID,
	})
}

// ImposeRequest is a parent's manual restriction.
type ImposeRequest struct {
	UserID      int64
	Severity    model.Severity
	Restriction model.Restriction
	Duration    time.Duration
	Reason      string
}

// Impose lets a parent apply any restriction for an explicit duration.
func (e *Engine) Impose(ctx context.Context, actor tenant.Actor, req ImposeRequest) (*model.Consequence, error) {
	if err := tenant.Require(actor, tenant.CapImposeConsequence); err != nil {
		return nil, err
	}
	if _, err := model.ParseSeverity(string(req.Severity)); err != nil {
		return nil, apperr.Validation("impose consequence", "%v", err)
	}
	if _, err := model.ParseRestriction(string(req.Restriction)); err != nil {
		return nil, apperr.Validation("impose consequence", "%v", err)
	}
	if req.Duration <= 0 {
		return nil, apperr.Validation("impose consequence", "duration must be positive")
	}

	var c *model.Consequence
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if _, err := e.users.WithTx(tx).GetByID(ctx, actor.FamilyID, req.UserID); err != nil {
			return err
		}
		start := e.now()
		var err error
		c, err = e.consequences.WithTx(tx).Create(ctx, actor.FamilyID, store.NewConsequence{
			UserID:      req.UserID,
			Severity:    req.Severity,
			Restriction: req.Restriction,
			Reason:      req.Reason,
			StartsAt:    start,
			EndsAt:      start.Add(req.Duration),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.AnnounceTriggered(ctx, c)
	return c, nil
}

// Resolve is a parent lifting a consequence by hand.
func (e *Engine) Resolve(ctx context.Context, actor tenant.Actor, id int64) (*model.Consequence, error) {
	if err := tenant.Require(actor, tenant.CapResolveConsequence); err != nil {
		return nil, err
	}
	var c *model.Consequence
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		c, err = e.ResolveTx(ctx, tx, actor.FamilyID, id, &actor.UserID, model.ResolvedManually)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.AnnounceResolved(ctx, c)
	return c, nil
}

// ResolveTx deactivates a consequence inside the caller's transaction. It
// fails with a validation error when the consequence is already inactive.
func (e *Engine) ResolveTx(ctx context.Context, tx *sql.Tx, familyID, id int64, resolvedBy *int64, resolution model.Resolution) (*model.Consequence, error) {
	cs := e.consequences.WithTx(tx)
	c, err := cs.GetByID(ctx, familyID, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, apperr.Validation("resolve consequence", "consequence %d is already inactive", id)
	}

	ok, err := cs.Deactivate(ctx, familyID, id, resolvedBy, resolution, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation("resolve consequence", "consequence %d is already inactive", id)
	}
	return cs.GetByID(ctx, familyID, id)
}

// SweepExpired resolves every active consequence whose end time has passed,
// one transaction per family. Rows already resolved are skipped, so repeated
// or overlapping sweeps resolve each consequence once.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	ids, err := e.families.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, familyID := range ids {
		var resolved []*model.Consequence
		err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
			resolved = nil
			now := e.now()
			cs := e.consequences.WithTx(tx)
			expired, err := cs.ListExpired(ctx, familyID, now)
			if err != nil {
				return err
			}
			for _, c := range expired {
				ok, err := cs.Deactivate(ctx, familyID, c.ID, nil, model.ResolvedExpired, now)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				c.Active = false
				c.Resolution = model.ResolvedExpired
				c.ResolvedAt = &now
				resolved = append(resolved, &c)
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("sweep expired consequences for family %d: %w", familyID, err)
		}
		for _, c := range resolved {
			e.AnnounceResolved(ctx, c)
		}
		total += len(resolved)
	}

	if total > 0 {
		e.logger.Info("expired consequences resolved", "count", total)
	}
	return total, nil
}

// IsRestricted reports whether the user has an active consequence of kind.
func (e *Engine) IsRestricted(ctx context.Context, familyID, userID int64, kind model.Restriction) (bool, error) {
	return e.isRestricted(ctx, e.users, e.consequences, familyID, userID, kind)
}

// IsRestrictedTx is IsRestricted inside the caller's transaction, so the
// answer cannot change before the caller commits.
func (e *Engine) IsRestrictedTx(ctx context.Context, tx *sql.Tx, familyID, userID int64, kind model.Restriction) (bool, error) {
	return e.isRestricted(ctx, e.users.WithTx(tx), e.consequences.WithTx(tx), familyID, userID, kind)
}

func (e *Engine) isRestricted(ctx context.Context, users *store.UserStore, cs *store.ConsequenceStore, familyID, userID int64, kind model.Restriction) (bool, error) {
	if _, err := model.ParseRestriction(string(kind)); err != nil {
		return false, apperr.Validation("check restriction", "%v", err)
	}
	if _, err := users.GetByID(ctx, familyID, userID); err != nil {
		return false, err
	}
	return cs.HasActive(ctx, familyID, userID, kind)
}

// ListActive returns active consequences. Members see their own; parents may
// ask for any member, or for the whole family with userID 0.
func (e *Engine) ListActive(ctx context.Context, actor tenant.Actor, userID int64) ([]model.Consequence, error) {
	if userID == 0 {
		if err := tenant.Require(actor, tenant.CapViewFamilyLedger); err != nil {
			return nil, err
		}
		return e.consequences.ListActive(ctx, actor.FamilyID, 0)
	}
	if err := tenant.RequireSelfOr(actor, userID, tenant.CapViewFamilyLedger); err != nil {
		return nil, err
	}
	if _, err := e.users.GetByID(ctx, actor.FamilyID, userID); err != nil {
		return nil, err
	}
	return e.consequences.ListActive(ctx, actor.FamilyID, userID)
}

// AnnounceTriggered tells the family's parents about a new consequence.
func (e *Engine) AnnounceTriggered(ctx context.Context, c *model.Consequence) {
	e.logger.Info("consequence triggered", "family_id", c.FamilyID, "consequence_id", c.ID, "user_id", c.UserID, "restriction", c.Restriction, "ends_at", c.EndsAt)
	e.notifier.Notify(ctx, c.FamilyID, notify.Notice{
		Kind:   notify.ConsequenceTriggered,
		Title:  "New consequence",
		Body:   fmt.Sprintf("%s (%s severity) until %s", describe(c.Restriction), c.Severity, c.EndsAt.Format(time.RFC1123)),
		UserID: c.UserID,
		RefID:  c.ID,
	})
}

// AnnounceResolved tells the family's parents a consequence was lifted.
func (e *Engine) AnnounceResolved(ctx context.Context, c *model.Consequence) {
	e.logger.Info("consequence resolved", "family_id", c.FamilyID, "consequence_id", c.ID, "user_id", c.UserID, "resolution", c.Resolution)
	e.notifier.Notify(ctx, c.FamilyID, notify.Notice{
		Kind:   notify.ConsequenceResolved,
		Title:  "Consequence lifted",
		Body:   fmt.Sprintf("%s lifted (%s)", describe(c.Restriction), c.Resolution),
		UserID: c.UserID,
		RefID:  c.ID,
	})
}

func describe(r model.Restriction) string {
	switch r {
	case model.RestrictRewards:
		return "Rewards blocked"
	case model.RestrictExtraTasks:
		return "Extra tasks blocked"
	}
	return string(r)
}
