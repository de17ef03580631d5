package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/chorebank/internal/ledger"
)

type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewLedgerHandler(lg *ledger.Ledger, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: lg, logger: logger}
}

// Balance handles GET /api/users/{id}/balance
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bal, err := h.ledger.BalanceOf(r.Context(), a.FamilyID, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "balance": bal})
}

// History handles GET /api/users/{id}/transactions?limit=
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.ledger.History(r.Context(), a, id, limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(entries))
}

// Adjust handles POST /api/users/{id}/adjustments
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount int    `json:"amount"`
		Note   string `json:"note"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := h.ledger.Adjust(r.Context(), a, id, req.Amount, req.Note)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// Transfer handles POST /api/transfers
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		ToUserID int64 `json:"to_user_id"`
		Amount   int   `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.ledger.Transfer(r.Context(), a, req.ToUserID, req.Amount)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Leaderboard handles GET /api/leaderboard
func (h *LedgerHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	board, err := h.ledger.Leaderboard(r.Context(), a.FamilyID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(board))
}

// Reconcile handles GET /api/ledger/reconcile. Parents only.
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	drift, err := h.ledger.Reconcile(r.Context(), a.FamilyID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": len(drift) == 0, "drift": emptyIfNil(drift)})
}
