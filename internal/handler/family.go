package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type FamilyHandler struct {
	families *store.FamilyStore
	users    *store.UserStore
	logger   *slog.Logger
}

func NewFamilyHandler(fs *store.FamilyStore, us *store.UserStore, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: fs, users: us, logger: logger}
}

// Get handles GET /api/family
func (h *FamilyHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	fam, err := h.families.GetByID(r.Context(), a.FamilyID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	members, err := h.users.List(r.Context(), a.FamilyID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"family": fam, "members": emptyIfNil(members)})
}

// Rename handles PUT /api/family
func (h *FamilyHandler) Rename(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := tenant.Require(a, tenant.CapManageMembers); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	fam, err := h.families.Rename(r.Context(), a.FamilyID, req.Name)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

// CreateMember handles POST /api/family/members
func (h *FamilyHandler) CreateMember(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := tenant.Require(a, tenant.CapManageMembers); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.users.Create(r.Context(), a.FamilyID, req.Name, strings.TrimSpace(req.Email), role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// DeactivateMember handles DELETE /api/family/members/{id}. History stays.
func (h *FamilyHandler) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := tenant.Require(a, tenant.CapManageMembers); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if id == a.UserID {
		writeMessage(w, http.StatusBadRequest, "cannot deactivate yourself")
		return
	}
	if err := h.users.Deactivate(r.Context(), a.FamilyID, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPIN handles PUT /api/family/members/{id}/pin. Members set their own PIN;
// parents may set anyone's.
func (h *FamilyHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := tenant.RequireSelfOr(a, id, tenant.CapManageMembers); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	hash, err := auth.HashPIN(req.PIN)
	if errors.Is(err, auth.ErrInvalidPIN) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.users.SetPIN(r.Context(), a.FamilyID, id, hash); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

// VerifyPIN handles POST /api/family/members/{id}/pin/verify
func (h *FamilyHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
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
	hash, err := h.users.GetPINHash(r.Context(), a.FamilyID, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	switch err := auth.VerifyPIN(hash, req.PIN); {
	case errors.Is(err, auth.ErrNoPIN):
		writeError(w, h.logger, r, apperr.Validation("verify pin", "no PIN set for this member"))
	case err != nil:
		writeMessage(w, http.StatusUnauthorized, "incorrect PIN")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
	}
}
