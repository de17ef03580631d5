package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/chorebank/internal/consequence"
	"github.com/dukerupert/chorebank/internal/model"
)

type ConsequenceHandler struct {
	consequences *consequence.Engine
	logger       *slog.Logger
}

func NewConsequenceHandler(ce *consequence.Engine, logger *slog.Logger) *ConsequenceHandler {
	return &ConsequenceHandler{consequences: ce, logger: logger}
}

// List handles GET /api/consequences?user_id=
func (h *ConsequenceHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var userID int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	}
	active, err := h.consequences.ListActive(r.Context(), a, userID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(active))
}

// Impose handles POST /api/consequences
func (h *ConsequenceHandler) Impose(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID        int64             `json:"user_id"`
		Severity      model.Severity    `json:"severity"`
		Restriction   model.Restriction `json:"restriction"`
		DurationHours int               `json:"duration_hours"`
		Reason        string            `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.consequences.Impose(r.Context(), a, consequence.ImposeRequest{
		UserID:      req.UserID,
		Severity:    req.Severity,
		Restriction: req.Restriction,
		Duration:    time.Duration(req.DurationHours) * time.Hour,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Resolve handles POST /api/consequences/{id}/resolve
func (h *ConsequenceHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.consequences.Resolve(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
