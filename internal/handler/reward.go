package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/reward"
	"github.com/dukerupert/chorebank/internal/store"
)

type RewardHandler struct {
	rewards *reward.Engine
	users   *store.UserStore
	logger  *slog.Logger
}

func NewRewardHandler(rewards *reward.Engine, users *store.UserStore, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewards: rewards, users: users, logger: logger}
}

// Create handles POST /api/rewards
func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req reward.RewardInput
	if !decodeJSON(w, r, &req) {
		return
	}
	rw, err := h.rewards.CreateReward(r.Context(), a, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rw)
}

// List handles GET /api/rewards
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	rewards, err := h.rewards.ListRewards(r.Context(), a)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rewards))
}

// Update handles PUT /api/rewards/{id}
func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reward.RewardInput
	if !decodeJSON(w, r, &req) {
		return
	}
	rw, err := h.rewards.UpdateReward(r.Context(), a, id, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

// SetActive handles PUT /api/rewards/{id}/active
func (h *RewardHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rw, err := h.rewards.SetRewardActive(r.Context(), a, id, req.Active)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

// Delete handles DELETE /api/rewards/{id}
func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.rewards.DeleteReward(r.Context(), a, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type redeemRequest struct {
	ApproverID  *int64 `json:"approver_id"`
	ApproverPIN string `json:"approver_pin"`
}

// Redeem handles POST /api/rewards/{id}/redeem. A parent approving in person
// supplies their id and PIN. A redemption held for approval answers 202.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req redeemRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.ApproverID != nil {
		if err := h.checkPIN(r.Context(), a.FamilyID, *req.ApproverID, req.ApproverPIN); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}

	res, err := h.rewards.Redeem(r.Context(), a, id, req.ApproverID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	status := http.StatusOK
	if res.Status == reward.StatusPendingApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// Pending handles GET /api/redemptions/pending
func (h *RewardHandler) Pending(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pending, err := h.rewards.ListPending(r.Context(), a)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(pending))
}

// Approve handles POST /api/redemptions/{id}/approve. The approving parent
// confirms with their PIN.
func (h *RewardHandler) Approve(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.checkPIN(r.Context(), a.FamilyID, a.UserID, req.PIN); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	res, err := h.rewards.Approve(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Decline handles POST /api/redemptions/{id}/decline
func (h *RewardHandler) Decline(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	red, err := h.rewards.Decline(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (h *RewardHandler) checkPIN(ctx context.Context, familyID, userID int64, pin string) error {
	hash, err := h.users.GetPINHash(ctx, familyID, userID)
	if err != nil {
		return err
	}
	err = auth.VerifyPIN(hash, pin)
	switch {
	case errors.Is(err, auth.ErrNoPIN):
		return apperr.Forbidden("verify approver", "approver has no PIN set")
	case err != nil:
		return apperr.Forbidden("verify approver", "incorrect PIN")
	}
	return nil
}
