package consequence

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recorder) Notify(_ context.Context, _ int64, n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	db     *sql.DB
	engine *Engine
	rec    *recorder
	clock  *clock
	parent tenant.Actor
	child  tenant.Actor
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	fam, err := store.NewFamilyStore(db).Create(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	us := store.NewUserStore(db)
	parent, err := us.Create(ctx, fam.ID, "Alex", "", model.RoleParent)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := us.Create(ctx, fam.ID, "Jo", "", model.RoleChild)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	rec := &recorder{}
	clk := &clock{t: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{
		db:     db,
		engine: New(db, rec, logger, WithClock(clk.now)),
		rec:    rec,
		clock:  clk,
		parent: tenant.Actor{FamilyID: fam.ID, UserID: parent.ID, Role: model.RoleParent},
		child:  tenant.Actor{FamilyID: fam.ID, UserID: child.ID, Role: model.RoleChild},
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		severity model.Severity
		want     time.Duration
	}{
		{model.SeverityLow, 24 * time.Hour},
		{model.SeverityMedium, 72 * time.Hour},
		{model.SeverityHigh, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		p, err := PolicyFor(tt.severity)
		if err != nil {
			t.Fatalf("PolicyFor(%s): %v", tt.severity, err)
		}
		if p.Duration != tt.want {
			t.Errorf("PolicyFor(%s).Duration = %v, want %v", tt.severity, p.Duration, tt.want)
		}
		if p.Restriction != model.RestrictRewards {
			t.Errorf("PolicyFor(%s).Restriction = %q, want rewards_blocked", tt.severity, p.Restriction)
		}
	}
	if _, err := PolicyFor("extreme"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown severity err = %v, want validation", err)
	}
}

func TestTriggerAndResolve(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	familyID := f.child.FamilyID

	c, err := f.engine.Trigger(ctx, familyID, f.child.UserID, model.SeverityMedium, nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !c.Active {
		t.Error("expected active consequence")
	}
	if want := f.clock.t.Add(72 * time.Hour); !c.EndsAt.Equal(want) {
		t.Errorf("ends_at = %v, want %v", c.EndsAt, want)
	}

	restricted, err := f.engine.IsRestricted(ctx, familyID, f.child.UserID, model.RestrictRewards)
	if err != nil {
		t.Fatalf("is restricted: %v", err)
	}
	if !restricted {
		t.Error("expected rewards to be restricted")
	}

	if _, err := f.engine.Resolve(ctx, f.child, c.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("child resolve err = %v, want forbidden", err)
	}

	resolved, err := f.engine.Resolve(ctx, f.parent, c.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Active {
		t.Error("expected inactive after resolve")
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != f.parent.UserID {
		t.Errorf("resolved_by = %v, want %d", resolved.ResolvedBy, f.parent.UserID)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
	if resolved.Resolution != model.ResolvedManually {
		t.Errorf("resolution = %q, want manual", resolved.Resolution)
	}

	if _, err := f.engine.Resolve(ctx, f.parent, c.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("second resolve err = %v, want validation", err)
	}

	restricted, err = f.engine.IsRestricted(ctx, familyID, f.child.UserID, model.RestrictRewards)
	if err != nil {
		t.Fatalf("is restricted: %v", err)
	}
	if restricted {
		t.Error("expected no restriction after resolve")
	}

	kinds := f.rec.kinds()
	if len(kinds) != 2 || kinds[0] != notify.ConsequenceTriggered || kinds[1] != notify.ConsequenceResolved {
		t.Errorf("notices = %v, want [triggered resolved]", kinds)
	}
}

func TestTriggerDuplicateForTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	familyID := f.child.FamilyID

	task, err := store.NewTaskStore(f.db).Create(ctx, familyID, store.NewTask{
		AssigneeID: f.child.UserID, Title: "Dishes", Points: 10, IsDefault: true, DueAt: f.clock.t.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := f.engine.Trigger(ctx, familyID, f.child.UserID, model.SeverityLow, &task.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := f.engine.Trigger(ctx, familyID, f.child.UserID, model.SeverityLow, &task.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate trigger err = %v, want conflict", err)
	}

	active, err := f.engine.ListActive(ctx, f.parent, 0)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active = %d, want 1", len(active))
	}
}

func TestSweepExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	familyID := f.child.FamilyID

	short, err := f.engine.Trigger(ctx, familyID, f.child.UserID, model.SeverityLow, nil)
	if err != nil {
		t.Fatalf("trigger low: %v", err)
	}
	long, err := f.engine.Trigger(ctx, familyID, f.child.UserID, model.SeverityHigh, nil)
	if err != nil {
		t.Fatalf("trigger high: %v", err)
	}

	n, err := f.engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("resolved before expiry = %d, want 0", n)
	}

	f.clock.advance(25 * time.Hour)
	n, err = f.engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("resolved = %d, want 1", n)
	}

	n, err = f.engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep resolved = %d, want 0", n)
	}

	cs := store.NewConsequenceStore(f.db)
	got, err := cs.GetByID(ctx, familyID, short.ID)
	if err != nil {
		t.Fatalf("get short: %v", err)
	}
	if got.Active || got.Resolution != model.ResolvedExpired {
		t.Errorf("short = active %v resolution %q, want expired", got.Active, got.Resolution)
	}
	got, err = cs.GetByID(ctx, familyID, long.ID)
	if err != nil {
		t.Fatalf("get long: %v", err)
	}
	if !got.Active {
		t.Error("high severity consequence should still be active")
	}
}

func TestImposeExtraTasksBlocked(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req := ImposeRequest{
		UserID:      f.child.UserID,
		Severity:    model.SeverityMedium,
		Restriction: model.RestrictExtraTasks,
		Duration:    48 * time.Hour,
		Reason:      "talked back",
	}
	if _, err := f.engine.Impose(ctx, f.child, req); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("child impose err = %v, want forbidden", err)
	}

	c, err := f.engine.Impose(ctx, f.parent, req)
	if err != nil {
		t.Fatalf("impose: %v", err)
	}
	if c.Reason != "talked back" {
		t.Errorf("reason = %q, want %q", c.Reason, "talked back")
	}

	blocked, err := f.engine.IsRestricted(ctx, f.child.FamilyID, f.child.UserID, model.RestrictExtraTasks)
	if err != nil {
		t.Fatalf("is restricted: %v", err)
	}
	if !blocked {
		t.Error("expected extra tasks blocked")
	}
	rewards, err := f.engine.IsRestricted(ctx, f.child.FamilyID, f.child.UserID, model.RestrictRewards)
	if err != nil {
		t.Fatalf("is restricted: %v", err)
	}
	if rewards {
		t.Error("rewards should not be blocked")
	}

	bad := req
	bad.Duration = 0
	if _, err := f.engine.Impose(ctx, f.parent, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero duration err = %v, want validation", err)
	}
	bad = req
	bad.Restriction = "screen_time"
	if _, err := f.engine.Impose(ctx, f.parent, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown restriction err = %v, want validation", err)
	}
}

func TestConsequencesAreFamilyScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	other, err := store.NewFamilyStore(f.db).Create(ctx, "Jones")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	outsider := tenant.Actor{FamilyID: other.ID, UserID: f.parent.UserID, Role: model.RoleParent}

	c, err := f.engine.Trigger(ctx, f.child.FamilyID, f.child.UserID, model.SeverityLow, nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if _, err := f.engine.Resolve(ctx, outsider, c.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-family resolve err = %v, want not found", err)
	}
	if _, err := f.engine.IsRestricted(ctx, other.ID, f.child.UserID, model.RestrictRewards); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-family check err = %v, want not found", err)
	}
	if _, err := f.engine.Trigger(ctx, other.ID, f.child.UserID, model.SeverityLow, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-family trigger err = %v, want not found", err)
	}

	got, err := store.NewConsequenceStore(f.db).GetByID(ctx, f.child.FamilyID, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Active {
		t.Error("consequence should be untouched by the other family")
	}
}
