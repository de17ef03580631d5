// Package task runs the task state machine: pending tasks are completed for
// points or, when obligatory and left past due, turn overdue and trigger a
// consequence.
package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

type Lifecycle struct {
	db           *sql.DB
	families     *store.FamilyStore
	users        *store.UserStore
	tasks        *store.TaskStore
	ledger       *ledger.Ledger
	consequences *consequence.Engine
	notifier     notify.Notifier
	logger       *slog.Logger
	now          func() time.Time
	severity     model.Severity
}

type Option func(*Lifecycle)

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithOverdueSeverity sets the severity of consequences the overdue sweep
// triggers.
func WithOverdueSeverity(s model.Severity) Option {
	return func(l *Lifecycle) { l.severity = s }
}

func New(db *sql.DB, lg *ledger.Ledger, ce *consequence.Engine, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Lifecycle {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	l := &Lifecycle{
		db:           db,
		families:     store.NewFamilyStore(db),
		users:        store.NewUserStore(db),
		tasks:        store.NewTaskStore(db),
		ledger:       lg,
		consequences: ce,
		notifier:     notifier,
		logger:       logger.With("component", "task"),
		now:          time.Now,
		severity:     model.SeverityMedium,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewTask is a parent's request to create a task.
type NewTask struct {
	AssigneeID  int64     `json:"assignee_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	IsDefault   bool      `json:"is_default"`
	Frequency   string    `json:"frequency"`
	DueAt       time.Time `json:"due_at"`
}

func (n NewTask) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return apperr.Validation("create task", "title is required")
	}
	if n.Points < 0 {
		return apperr.Validation("create task", "points must not be negative")
	}
	if n.DueAt.IsZero() {
		return apperr.Validation("create task", "due date is required")
	}
	if _, err := ParseFrequency(n.Frequency); err != nil {
		return apperr.Validation("create task", "invalid frequency: %v", err)
	}
	return nil
}

// Create adds a task. Optional tasks cannot be given to a member whose extra
// tasks are blocked.
func (l *Lifecycle) Create(ctx context.Context, actor tenant.Actor, n NewTask) (*model.Task, error) {
	if err := tenant.Require(actor, tenant.CapCreateTask); err != nil {
		return nil, err
	}
	if err := n.validate(); err != nil {
		return nil, err
	}

	var t *model.Task
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		assignee, err := l.users.WithTx(tx).GetByID(ctx, actor.FamilyID, n.AssigneeID)
		if err != nil {
			return err
		}
		if !assignee.Active {
			return apperr.Validation("create task", "user %d is inactive", n.AssigneeID)
		}
		if !n.IsDefault {
			blocked, err := l.consequences.IsRestrictedTx(ctx, tx, actor.FamilyID, n.AssigneeID, model.RestrictExtraTasks)
			if err != nil {
				return err
			}
			if blocked {
				return apperr.Conflict("create task", "extra tasks are blocked for user %d", n.AssigneeID)
			}
		}

		t, err = l.tasks.WithTx(tx).Create(ctx, actor.FamilyID, store.NewTask{
			AssigneeID:  n.AssigneeID,
			Title:       strings.TrimSpace(n.Title),
			Description: n.Description,
			Points:      n.Points,
			IsDefault:   n.IsDefault,
			Frequency:   n.Frequency,
			DueAt:       n.DueAt,
			CreatedBy:   &actor.UserID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("task created", "family_id", actor.FamilyID, "task_id", t.ID, "assignee_id", t.AssigneeID, "is_default", t.IsDefault)
	return t, nil
}

// Completion is the result of completing a task.
type Completion struct {
	Task     *model.Task             `json:"task"`
	Entry    *model.PointTransaction `json:"entry,omitempty"`
	Balance  int                     `json:"balance"`
	Resolved *model.Consequence      `json:"resolved_consequence,omitempty"`
	Next     *model.Task             `json:"next,omitempty"`
}

// Complete marks the actor's own task done, credits its points, lifts the
// consequence it triggered and schedules the next occurrence, all in one
// transaction. Completing a task twice is a validation error, and optional
// tasks cannot be completed while extra tasks are blocked.
func (l *Lifecycle) Complete(ctx context.Context, actor tenant.Actor, taskID int64) (*Completion, error) {
	if err := tenant.Require(actor, tenant.CapCompleteTask); err != nil {
		return nil, err
	}

	var c Completion
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		tasks := l.tasks.WithTx(tx)
		t, err := tasks.GetByID(ctx, actor.FamilyID, taskID)
		if err != nil {
			return err
		}
		if t.AssigneeID != actor.UserID {
			return apperr.Forbidden("complete task", "task %d is not assigned to you", taskID)
		}
		if t.Status.Terminal() {
			return apperr.Validation("complete task", "task %d is already %s", taskID, t.Status)
		}
		if !t.IsDefault {
			blocked, err := l.consequences.IsRestrictedTx(ctx, tx, actor.FamilyID, actor.UserID, model.RestrictExtraTasks)
			if err != nil {
				return err
			}
			if blocked {
				return apperr.Conflict("complete task", "extra tasks are blocked for user %d", actor.UserID)
			}
		}

		now := l.now()
		ok, err := tasks.MarkCompleted(ctx, actor.FamilyID, taskID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("complete task", "task %d is already completed", taskID)
		}

		if t.Points > 0 {
			r, err := l.ledger.PostTx(ctx, tx, actor.FamilyID, ledger.Posting{
				UserID: actor.UserID,
				Amount: t.Points,
				Kind:   model.TxTaskCompletion,
				TaskID: &t.ID,
			})
			if err != nil {
				return err
			}
			c.Entry, c.Balance = r.Entry, r.Balance
		} else {
			if c.Balance, err = l.users.WithTx(tx).Balance(ctx, actor.FamilyID, actor.UserID); err != nil {
				return err
			}
		}

		if c.Resolved, err = l.resolveLinked(ctx, tx, actor.FamilyID, t.ID, nil, model.ResolvedTaskCompleted); err != nil {
			return err
		}

		if due, ok := NextDue(t.Frequency, t.DueAt, now); ok {
			c.Next, err = tasks.Create(ctx, actor.FamilyID, store.NewTask{
				AssigneeID:  t.AssigneeID,
				Title:       t.Title,
				Description: t.Description,
				Points:      t.Points,
				IsDefault:   t.IsDefault,
				Frequency:   t.Frequency,
				DueAt:       due,
				CreatedBy:   t.CreatedBy,
			})
			if err != nil {
				return err
			}
		}

		c.Task, err = tasks.GetByID(ctx, actor.FamilyID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("task completed", "family_id", actor.FamilyID, "task_id", taskID, "user_id", actor.UserID, "points", c.Task.Points)
	if c.Resolved != nil {
		l.consequences.AnnounceResolved(ctx, c.Resolved)
	}
	l.notifier.Notify(ctx, actor.FamilyID, notify.Notice{
		Kind:   notify.TaskCompleted,
		Title:  "Task completed",
		Body:   fmt.Sprintf("%q earned %d points", c.Task.Title, c.Task.Points),
		UserID: actor.UserID,
		RefID:  taskID,
	})
	return &c, nil
}

// resolveLinked lifts the active consequence a task triggered, if any.
func (l *Lifecycle) resolveLinked(ctx context.Context, tx *sql.Tx, familyID, taskID int64, by *int64, why model.Resolution) (*model.Consequence, error) {
	linked, err := store.NewConsequenceStore(tx).ActiveForTask(ctx, familyID, taskID)
	if err != nil || linked == nil {
		return nil, err
	}
	return l.consequences.ResolveTx(ctx, tx, familyID, linked.ID, by, why)
}

// Cancel ends a task without payout. Its active consequence is lifted.
func (l *Lifecycle) Cancel(ctx context.Context, actor tenant.Actor, taskID int64) (*model.Task, error) {
	if err := tenant.Require(actor, tenant.CapCancelTask); err != nil {
		return nil, err
	}

	var (
		t        *model.Task
		resolved *model.Consequence
	)
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		tasks := l.tasks.WithTx(tx)
		cur, err := tasks.GetByID(ctx, actor.FamilyID, taskID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return apperr.Validation("cancel task", "task %d is already %s", taskID, cur.Status)
		}
		ok, err := tasks.MarkCancelled(ctx, actor.FamilyID, taskID, l.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("cancel task", "task %d can no longer be cancelled", taskID)
		}
		if resolved, err = l.resolveLinked(ctx, tx, actor.FamilyID, taskID, &actor.UserID, model.ResolvedTaskCancelled); err != nil {
			return err
		}
		t, err = tasks.GetByID(ctx, actor.FamilyID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("task cancelled", "family_id", actor.FamilyID, "task_id", taskID, "by", actor.UserID)
	if resolved != nil {
		l.consequences.AnnounceResolved(ctx, resolved)
	}
	return t, nil
}

// Reschedule moves the due date of a task that is still open.
func (l *Lifecycle) Reschedule(ctx context.Context, actor tenant.Actor, taskID int64, dueAt time.Time) (*model.Task, error) {
	if err := tenant.Require(actor, tenant.CapEditTask); err != nil {
		return nil, err
	}
	if dueAt.IsZero() {
		return nil, apperr.Validation("reschedule task", "due date is required")
	}

	var t *model.Task
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		tasks := l.tasks.WithTx(tx)
		cur, err := tasks.GetByID(ctx, actor.FamilyID, taskID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return apperr.Validation("reschedule task", "task %d is already %s", taskID, cur.Status)
		}
		if _, err := tasks.Reschedule(ctx, actor.FamilyID, taskID, dueAt, l.now()); err != nil {
			return err
		}
		t, err = tasks.GetByID(ctx, actor.FamilyID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SweepOverdue escalates every obligatory task that is past due and not
// completed: it triggers a consequence for the assignee and marks the task
// overdue. A task that already has an active consequence is left alone, so
// running the sweep again, or twice at once, creates nothing new.
func (l *Lifecycle) SweepOverdue(ctx context.Context) (int, error) {
	ids, err := l.families.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, familyID := range ids {
		var created []*model.Consequence
		err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
			created = nil
			now := l.now()
			tasks := l.tasks.WithTx(tx)
			due, err := tasks.ListDefaultPastDue(ctx, familyID, now)
			if err != nil {
				return err
			}

			cs := store.NewConsequenceStore(tx)
			for _, t := range due {
				existing, err := cs.ActiveForTask(ctx, familyID, t.ID)
				if err != nil {
					return err
				}
				if existing != nil {
					if t.Status != model.TaskOverdue {
						if err := tasks.MarkOverdue(ctx, familyID, t.ID, existing.ID, now); err != nil {
							return err
						}
					}
					continue
				}

				c, err := l.consequences.TriggerTx(ctx, tx, familyID, t.AssigneeID, l.severity, &t.ID, "overdue: "+t.Title)
				if errors.Is(err, apperr.ErrConflict) {
					continue
				}
				if err != nil {
					return err
				}
				if err := tasks.MarkOverdue(ctx, familyID, t.ID, c.ID, now); err != nil {
					return err
				}
				created = append(created, c)
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("sweep overdue tasks for family %d: %w", familyID, err)
		}
		for _, c := range created {
			l.consequences.AnnounceTriggered(ctx, c)
		}
		total += len(created)
	}

	if total > 0 {
		l.logger.Info("overdue tasks escalated", "count", total)
	}
	return total, nil
}

// Get returns one task in the actor's family.
func (l *Lifecycle) Get(ctx context.Context, actor tenant.Actor, taskID int64) (*model.Task, error) {
	return l.tasks.GetByID(ctx, actor.FamilyID, taskID)
}

// List returns the family's tasks. Members without the family ledger view
// only see their own.
func (l *Lifecycle) List(ctx context.Context, actor tenant.Actor, f store.TaskFilter) ([]model.Task, error) {
	if !tenant.Can(actor.Role, tenant.CapViewFamilyLedger) {
		f.AssigneeID = actor.UserID
	}
	return l.tasks.List(ctx, actor.FamilyID, f)
}
