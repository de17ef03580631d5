package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/config"
	"github.com/dukerupert/chorebank/internal/consequence"
	"github.com/dukerupert/chorebank/internal/email"
	"github.com/dukerupert/chorebank/internal/handler"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/middleware"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/push"
	"github.com/dukerupert/chorebank/internal/reward"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/sweep"
	"github.com/dukerupert/chorebank/internal/task"
	ws "github.com/dukerupert/chorebank/internal/websocket"
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	dispatcher   *notify.Dispatcher
	userStore    *store.UserStore
	familyH      *handler.FamilyHandler
	taskH        *handler.TaskHandler
	rewardH      *handler.RewardHandler
	ledgerH      *handler.LedgerHandler
	consequenceH *handler.ConsequenceHandler
	pushH        *handler.PushHandler
	rateLimiter  *middleware.RateLimiter
	sweeper      *sweep.Scheduler
	logger       *slog.Logger
}

// New builds the engines and handlers. The email sender is created here, so
// ctx bounds loading the AWS configuration when SES is selected.
func New(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	pushStore := store.NewPushStore(db)

	sinks := []notify.Sink{notify.NewHubSink(hub)}

	var pushSvc *push.Service
	if cfg.PushEnabled() {
		pushSvc = push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
		sinks = append(sinks, notify.NewPushSink(pushStore, pushSvc))
	}

	sender, err := newSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sender != nil {
		sinks = append(sinks, notify.NewEmailSink(userStore, sender))
	}

	dispatcher := notify.NewDispatcher(logger, sinks...)

	lg := ledger.New(db, logger.With("component", "ledger"),
		ledger.WithAdjustmentOverdraft(cfg.AllowAdjustmentOverdraft))
	ce := consequence.New(db, dispatcher, logger.With("component", "consequence"))
	tasks := task.New(db, lg, ce, dispatcher, logger.With("component", "task"),
		task.WithOverdueSeverity(cfg.OverdueSeverity))
	rewards := reward.New(db, lg, ce, dispatcher, logger.With("component", "reward"),
		reward.WithApprovalThreshold(cfg.ApprovalThreshold))

	s := &Server{
		db:           db,
		hub:          hub,
		dispatcher:   dispatcher,
		userStore:    userStore,
		familyH:      handler.NewFamilyHandler(store.NewFamilyStore(db), userStore, logger.With("component", "family_handler")),
		taskH:        handler.NewTaskHandler(tasks, logger.With("component", "task_handler")),
		rewardH:      handler.NewRewardHandler(rewards, userStore, logger.With("component", "reward_handler")),
		ledgerH:      handler.NewLedgerHandler(lg, logger.With("component", "ledger_handler")),
		consequenceH: handler.NewConsequenceHandler(ce, logger.With("component", "consequence_handler")),
		rateLimiter:  middleware.NewRateLimiter(nil),
		sweeper:      sweep.NewScheduler(tasks, ce, cfg.SweepInterval, logger),
		logger:       logger,
	}
	if pushSvc != nil {
		s.pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}
	return s, nil
}

func newSender(ctx context.Context, cfg *config.Config) (email.Sender, error) {
	switch cfg.EmailProvider {
	case config.EmailPostmark:
		return email.NewClient(cfg.PostmarkToken, cfg.EmailFrom), nil
	case config.EmailSES:
		sender, err := email.NewSESSender(ctx, cfg.SESRegion, cfg.EmailFrom)
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		return sender, nil
	default:
		return nil, nil
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Sweeper returns the overdue and expiry scheduler.
func (s *Server) Sweeper() *sweep.Scheduler {
	return s.sweeper
}

// Drain waits for queued notices to finish delivering.
func (s *Server) Drain() {
	s.dispatcher.Wait()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthHandler)

	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)

	identity := middleware.RequireIdentity(s.userStore)
	outerMux.Handle("/api/", identity(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimited(action middleware.Action, h http.HandlerFunc) http.Handler {
	return s.rateLimiter.Limit(action)(h)
}

func parentOnly(h http.HandlerFunc) http.Handler {
	return middleware.RequireParent(h)
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Family
	mux.HandleFunc("GET /api/family", s.familyH.Get)
	mux.HandleFunc("PUT /api/family", s.familyH.Rename)
	mux.HandleFunc("POST /api/family/members", s.familyH.CreateMember)
	mux.HandleFunc("DELETE /api/family/members/{id}", s.familyH.DeactivateMember)
	mux.HandleFunc("PUT /api/family/members/{id}/pin", s.familyH.SetPIN)
	mux.Handle("POST /api/family/members/{id}/pin/verify", s.rateLimited(middleware.ActionVerifyPIN, s.familyH.VerifyPIN))

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.taskH.Complete)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.taskH.Cancel)
	mux.HandleFunc("PUT /api/tasks/{id}/due", s.taskH.Reschedule)

	// Points
	mux.HandleFunc("GET /api/users/{id}/balance", s.ledgerH.Balance)
	mux.HandleFunc("GET /api/users/{id}/transactions", s.ledgerH.History)
	mux.HandleFunc("POST /api/users/{id}/adjustments", s.ledgerH.Adjust)
	mux.Handle("POST /api/transfers", s.rateLimited(middleware.ActionTransfer, s.ledgerH.Transfer))
	mux.HandleFunc("GET /api/leaderboard", s.ledgerH.Leaderboard)
	mux.Handle("GET /api/ledger/reconcile", parentOnly(s.ledgerH.Reconcile))

	// Consequences
	mux.HandleFunc("GET /api/consequences", s.consequenceH.List)
	mux.HandleFunc("POST /api/consequences", s.consequenceH.Impose)
	mux.HandleFunc("POST /api/consequences/{id}/resolve", s.consequenceH.Resolve)

	// Rewards
	mux.HandleFunc("POST /api/rewards", s.rewardH.Create)
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("PUT /api/rewards/{id}", s.rewardH.Update)
	mux.HandleFunc("PUT /api/rewards/{id}/active", s.rewardH.SetActive)
	mux.HandleFunc("DELETE /api/rewards/{id}", s.rewardH.Delete)
	mux.Handle("POST /api/rewards/{id}/redeem", s.rateLimited(middleware.ActionRedeem, s.rewardH.Redeem))
	mux.HandleFunc("GET /api/redemptions/pending", s.rewardH.Pending)
	mux.HandleFunc("POST /api/redemptions/{id}/approve", s.rewardH.Approve)
	mux.HandleFunc("POST /api/redemptions/{id}/decline", s.rewardH.Decline)

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// Live updates
	mux.HandleFunc("GET /api/ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
