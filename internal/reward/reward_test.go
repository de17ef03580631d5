package reward

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/consequence"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/ledger"
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

type fixture struct {
	db      *sql.DB
	rewards *Engine
	ledger  *ledger.Ledger
	cons    *consequence.Engine
	rec     *recorder
	parent  tenant.Actor
	child   tenant.Actor
	other   tenant.Actor
}

func setup(t *testing.T, path string) fixture {
	t.Helper()
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	families := store.NewFamilyStore(db)
	users := store.NewUserStore(db)
	f := fixture{db: db, rec: &recorder{}}

	mk := func(familyID int64, name string, role model.Role) tenant.Actor {
		u, err := users.Create(ctx, familyID, name, "", role)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return tenant.Actor{FamilyID: familyID, UserID: u.ID, Role: role}
	}
	fam, err := families.Create(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	f.parent = mk(fam.ID, "Alex", model.RoleParent)
	f.child = mk(fam.ID, "Jo", model.RoleChild)
	otherFam, err := families.Create(ctx, "Jones")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	f.other = mk(otherFam.ID, "Pat", model.RoleParent)

	now := func() time.Time { return time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger = ledger.New(db, logger, ledger.WithClock(now))
	f.cons = consequence.New(db, notify.Nop{}, logger, consequence.WithClock(now))
	f.rewards = New(db, f.ledger, f.cons, f.rec, logger, WithClock(now))
	return f
}

func (f fixture) fund(t *testing.T, who tenant.Actor, points int) {
	t.Helper()
	if _, err := f.ledger.Adjust(context.Background(), f.parent, who.UserID, points, "allowance"); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f fixture) reward(t *testing.T, title string, cost int) *model.Reward {
	t.Helper()
	r, err := f.rewards.CreateReward(context.Background(), f.parent, RewardInput{Title: title, PointCost: cost})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return r
}

func (f fixture) entries(t *testing.T, who tenant.Actor) []model.PointTransaction {
	t.Helper()
	hist, err := f.ledger.History(context.Background(), f.parent, who.UserID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return hist
}

func TestRedeem(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 120)
	movie := f.reward(t, "Movie night", 100)

	res, err := f.rewards.Redeem(ctx, f.child, movie.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Status != StatusRedeemed {
		t.Errorf("status = %q, want REDEEMED", res.Status)
	}
	if res.Balance != 20 {
		t.Errorf("balance = %d, want 20", res.Balance)
	}
	if res.Entry == nil || res.Entry.Amount != -100 || res.Entry.Kind != model.TxRewardRedemption {
		t.Errorf("entry = %+v, want reward_redemption of -100", res.Entry)
	}
	if res.Redemption.Status != model.RedemptionApproved || res.Redemption.PointsSpent != 100 {
		t.Errorf("redemption = %+v", res.Redemption)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 30)
	movie := f.reward(t, "Movie night", 100)

	if _, err := f.rewards.Redeem(ctx, f.child, movie.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	bal, err := f.ledger.BalanceOf(ctx, f.child.FamilyID, f.child.UserID)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if bal != 30 {
		t.Errorf("balance = %d, want 30", bal)
	}
	if n := len(f.entries(t, f.child)); n != 1 {
		t.Errorf("entries = %d, want only the funding entry", n)
	}
}

func TestRedeemBlockedUntilResolved(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 150)
	movie := f.reward(t, "Movie night", 100)

	c, err := f.cons.Trigger(ctx, f.child.FamilyID, f.child.UserID, model.SeverityMedium, nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if _, err := f.rewards.Redeem(ctx, f.child, movie.ID, nil); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("blocked redeem err = %v, want conflict", err)
	}

	if _, err := f.cons.Resolve(ctx, f.parent, c.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := f.rewards.Redeem(ctx, f.child, movie.ID, nil)
	if err != nil {
		t.Fatalf("redeem after resolve: %v", err)
	}
	if res.Balance != 50 {
		t.Errorf("balance = %d, want 50", res.Balance)
	}
}

func TestRedeemCheckOrder(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 30)
	bike := f.reward(t, "Bike", 500)

	if _, err := f.cons.Trigger(ctx, f.child.FamilyID, f.child.UserID, model.SeverityLow, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Balance is checked before the restriction and the approval threshold.
	if _, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}

	f.fund(t, f.child, 500)
	if _, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict before approval", err)
	}
	pending, err := f.rewards.ListPending(ctx, f.parent)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestRedeemPendingApproval(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 300)
	bike := f.reward(t, "Bike", 250)
	if !bike.RequiresApproval {
		t.Error("expected reward at 250 to require approval")
	}

	res, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem without approver: %v", err)
	}
	if res.Status != StatusPendingApproval {
		t.Fatalf("status = %q, want PENDING_APPROVAL", res.Status)
	}
	parkedID := res.Redemption.ID
	if res.Entry != nil {
		t.Error("pending redemption must not write a ledger entry")
	}
	if n := len(f.entries(t, f.child)); n != 1 {
		t.Errorf("entries = %d, want only the funding entry", n)
	}

	pending, err := f.rewards.ListPending(ctx, f.parent)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].UserID != f.child.UserID {
		t.Fatalf("pending = %+v, want one request by the child", pending)
	}

	res, err = f.rewards.Redeem(ctx, f.child, bike.ID, &f.parent.UserID)
	if err != nil {
		t.Fatalf("redeem with approver: %v", err)
	}
	if res.Status != StatusRedeemed || res.Balance != 50 {
		t.Errorf("result = %+v, want redeemed with balance 50", res)
	}
	if res.Redemption.ApprovedBy == nil || *res.Redemption.ApprovedBy != f.parent.UserID {
		t.Errorf("approved_by = %v, want %d", res.Redemption.ApprovedBy, f.parent.UserID)
	}

	pending, err = f.rewards.ListPending(ctx, f.parent)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after approval = %d, want 0", len(pending))
	}
	f.expectSettled(t, 1)
	parked, err := f.rewards.rewards.GetRedemption(ctx, f.parent.FamilyID, parkedID)
	if err != nil {
		t.Fatalf("get parked request: %v", err)
	}
	if parked.Status != model.RedemptionDeclined {
		t.Errorf("parked request status = %q, want declined", parked.Status)
	}

	got := f.rec.kinds()
	want := []notify.Kind{notify.RedemptionPending, notify.RedemptionApproved}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("notices = %v, want %v", got, want)
	}
}

func TestApproveAndDecline(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 300)
	bike := f.reward(t, "Bike", 250)

	first, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if _, err := f.rewards.Approve(ctx, f.child, first.Redemption.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("child approve err = %v, want forbidden", err)
	}
	if _, err := f.rewards.Approve(ctx, f.other, first.Redemption.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-family approve err = %v, want not found", err)
	}

	declined, err := f.rewards.Decline(ctx, f.parent, first.Redemption.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.Status != model.RedemptionDeclined {
		t.Errorf("status = %q, want declined", declined.Status)
	}
	if _, err := f.rewards.Approve(ctx, f.parent, first.Redemption.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("approve declined err = %v, want validation", err)
	}

	second, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	res, err := f.rewards.Approve(ctx, f.parent, second.Redemption.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Status != StatusRedeemed || res.Balance != 50 {
		t.Errorf("result = %+v, want redeemed with balance 50", res)
	}
	if res.Redemption.ID != second.Redemption.ID {
		t.Errorf("approved redemption = %d, want the request %d itself", res.Redemption.ID, second.Redemption.ID)
	}
	if res.Redemption.Status != model.RedemptionApproved || res.Redemption.ApprovedBy == nil || *res.Redemption.ApprovedBy != f.parent.UserID {
		t.Errorf("redemption = %+v, want approved by the parent", res.Redemption)
	}
	f.expectSettled(t, 1)
}

// expectSettled checks that every approved redemption has exactly one ledger
// debit behind it.
func (f fixture) expectSettled(t *testing.T, want int) {
	t.Helper()
	approved, err := f.rewards.rewards.ListRedemptions(context.Background(), f.parent.FamilyID, model.RedemptionApproved)
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	debits := 0
	for _, e := range f.entries(t, f.child) {
		if e.Kind == model.TxRewardRedemption {
			debits++
		}
	}
	if len(approved) != want || debits != want {
		t.Errorf("approved redemptions = %d, redemption debits = %d; want %d each", len(approved), debits, want)
	}
}

func TestApproveSettlesOnlyThatRequest(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 600)
	bike := f.reward(t, "Bike", 250)

	first, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	second, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	res, err := f.rewards.Approve(ctx, f.parent, first.Redemption.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Balance != 350 {
		t.Errorf("balance = %d, want 350", res.Balance)
	}
	f.expectSettled(t, 1)

	pending, err := f.rewards.ListPending(ctx, f.parent)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.Redemption.ID {
		t.Fatalf("pending = %+v, want only the second request", pending)
	}

	if _, err := f.rewards.Approve(ctx, f.parent, first.Redemption.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("second approve err = %v, want validation", err)
	}
	if _, err := f.rewards.Approve(ctx, f.parent, second.Redemption.ID); err != nil {
		t.Fatalf("approve second: %v", err)
	}
	f.expectSettled(t, 2)
	if got, _ := f.ledger.BalanceOf(ctx, f.child.FamilyID, f.child.UserID); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
}

func TestApproveKeepsRequestedCost(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 400)
	bike := f.reward(t, "Bike", 250)

	req, err := f.rewards.Redeem(ctx, f.child, bike.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := f.rewards.UpdateReward(ctx, f.parent, bike.ID, RewardInput{Title: "Bike", PointCost: 300}); err != nil {
		t.Fatalf("update reward: %v", err)
	}
	res, err := f.rewards.Approve(ctx, f.parent, req.Redemption.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Balance != 150 || res.Entry.Amount != -250 {
		t.Errorf("balance = %d, entry = %d; want 150 and -250", res.Balance, res.Entry.Amount)
	}
}

func TestRedeemApproverChecks(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 300)
	bike := f.reward(t, "Bike", 250)

	tests := []struct {
		name     string
		approver int64
		want     error
	}{
		{"child cannot approve", f.child.UserID, apperr.ErrForbidden},
		{"parent from another family", f.other.UserID, apperr.ErrNotFound},
		{"unknown user", 9999, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.rewards.Redeem(ctx, f.child, bike.ID, &tt.approver); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	bal, err := f.ledger.BalanceOf(ctx, f.child.FamilyID, f.child.UserID)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if bal != 300 {
		t.Errorf("balance = %d, want 300", bal)
	}
}

func TestRedeemInactiveOrForeignReward(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 300)
	movie := f.reward(t, "Movie night", 100)

	if _, err := f.rewards.SetRewardActive(ctx, f.parent, movie.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.rewards.Redeem(ctx, f.child, movie.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("inactive reward err = %v, want validation", err)
	}

	foreign, err := f.rewards.CreateReward(ctx, f.other, RewardInput{Title: "Pizza", PointCost: 10})
	if err != nil {
		t.Fatalf("create foreign reward: %v", err)
	}
	if _, err := f.rewards.Redeem(ctx, f.child, foreign.ID, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign reward err = %v, want not found", err)
	}
}

func TestCatalogue(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()

	if _, err := f.rewards.CreateReward(ctx, f.child, RewardInput{Title: "Candy", PointCost: 5}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("child create err = %v, want forbidden", err)
	}
	if _, err := f.rewards.CreateReward(ctx, f.parent, RewardInput{Title: "Candy", PointCost: 0}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero cost err = %v, want validation", err)
	}

	candy := f.reward(t, "Candy", 5)
	movie := f.reward(t, "Movie night", 100)
	if _, err := f.rewards.SetRewardActive(ctx, f.parent, candy.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	childView, err := f.rewards.ListRewards(ctx, f.child)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(childView) != 1 || childView[0].ID != movie.ID {
		t.Errorf("child catalogue = %+v, want only the movie", childView)
	}
	parentView, err := f.rewards.ListRewards(ctx, f.parent)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(parentView) != 2 {
		t.Errorf("parent catalogue = %d, want 2", len(parentView))
	}

	updated, err := f.rewards.UpdateReward(ctx, f.parent, movie.ID, RewardInput{Title: "Movie night", PointCost: 220})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.RequiresApproval {
		t.Error("expected updated reward to require approval")
	}

	if err := f.rewards.DeleteReward(ctx, f.parent, candy.ID); err != nil {
		t.Errorf("delete unused reward: %v", err)
	}
}

func TestEditKeepsHistory(t *testing.T) {
	f := setup(t, ":memory:")
	ctx := context.Background()
	f.fund(t, f.child, 100)
	candy := f.reward(t, "Candy", 40)

	res, err := f.rewards.Redeem(ctx, f.child, candy.ID, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := f.rewards.UpdateReward(ctx, f.parent, candy.ID, RewardInput{Title: "Candy", PointCost: 80}); err != nil {
		t.Fatalf("update: %v", err)
	}
	red, err := f.rewards.rewards.GetRedemption(ctx, f.parent.FamilyID, res.Redemption.ID)
	if err != nil {
		t.Fatalf("get redemption: %v", err)
	}
	if red.PointsSpent != 40 {
		t.Errorf("points spent = %d, want 40", red.PointsSpent)
	}
	if err := f.rewards.DeleteReward(ctx, f.parent, candy.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("delete redeemed reward err = %v, want conflict", err)
	}
}

func TestThresholdOption(t *testing.T) {
	f := setup(t, ":memory:")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(f.db, f.ledger, f.cons, nil, logger, WithApprovalThreshold(0))
	if e.requiresApproval(10_000) {
		t.Error("threshold 0 should disable approval")
	}
	e = New(f.db, f.ledger, f.cons, nil, logger, WithApprovalThreshold(50))
	if !e.requiresApproval(50) || e.requiresApproval(49) {
		t.Error("approval should start at the threshold")
	}
}

func TestConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	f := setup(t, filepath.Join(t.TempDir(), "redeem.db"))
	ctx := context.Background()
	f.fund(t, f.child, 100)
	candy := f.reward(t, "Candy", 30)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		redeemed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rewards.Redeem(ctx, f.child, candy.ID, nil)
			if err == nil {
				mu.Lock()
				redeemed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if redeemed != 3 {
		t.Errorf("redeemed = %d, want 3", redeemed)
	}
	bal, err := f.ledger.BalanceOf(ctx, f.child.FamilyID, f.child.UserID)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if bal != 10 {
		t.Errorf("balance = %d, want 10", bal)
	}
}
