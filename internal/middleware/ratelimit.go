package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/tenant"
)

// Action names an operation with its own request budget.
type Action string

const (
	ActionRedeem    Action = "redeem"
	ActionTransfer  Action = "transfer"
	ActionVerifyPIN Action = "verify-pin"
)

// Scope decides who shares a budget.
type Scope int

const (
	// PerActor gives every member of a family their own budget.
	PerActor Scope = iota
	// PerFamily makes all members of a family draw on one budget.
	PerFamily
)

// Policy caps an action at Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
	Scope  Scope
}

// DefaultPolicies apply when NewRateLimiter is given none. PIN checks are
// budgeted per family so switching member accounts does not buy more guesses.
var DefaultPolicies = map[Action]Policy{
	ActionRedeem:    {Limit: 20, Window: time.Minute, Scope: PerActor},
	ActionTransfer:  {Limit: 20, Window: time.Minute, Scope: PerActor},
	ActionVerifyPIN: {Limit: 20, Window: time.Minute, Scope: PerFamily},
}

type budgetKey struct {
	action   Action
	familyID int64
	userID   int64 // 0 for family-wide budgets
}

type budget struct {
	used    int
	resetAt time.Time
}

// RateLimiter keeps fixed-window request budgets in memory, keyed by action
// and actor.
type RateLimiter struct {
	mu       sync.Mutex
	policies map[Action]Policy
	budgets  map[budgetKey]*budget
	now      func() time.Time
}

func NewRateLimiter(policies map[Action]Policy) *RateLimiter {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &RateLimiter{
		policies: policies,
		budgets:  make(map[budgetKey]*budget),
		now:      time.Now,
	}
}

// Allow spends one request of the actor's budget for action. When the budget
// is exhausted it reports false and how long until the window resets.
// Actions without a policy are never limited.
func (rl *RateLimiter) Allow(a tenant.Actor, action Action) (bool, time.Duration) {
	p, ok := rl.policies[action]
	if !ok {
		return true, 0
	}
	key := budgetKey{action: action, familyID: a.FamilyID, userID: a.UserID}
	if p.Scope == PerFamily {
		key.userID = 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.budgets[key]
	if !ok || !now.Before(b.resetAt) {
		rl.budgets[key] = &budget{used: 1, resetAt: now.Add(p.Window)}
		return true, 0
	}
	if b.used >= p.Limit {
		return false, b.resetAt.Sub(now)
	}
	b.used++
	return true, 0
}

// Cleanup drops budgets whose window has closed.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.budgets {
		if !now.Before(b.resetAt) {
			delete(rl.budgets, key)
		}
	}
}

// Limit returns middleware charging each request to the caller's budget for
// action. It must run after RequireIdentity.
func (rl *RateLimiter) Limit(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := auth.ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if allowed, retry := rl.Allow(a, action); !allowed {
				secs := int(retry.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "too many "+string(action)+" requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
