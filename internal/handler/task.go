package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/task"
)

type TaskHandler struct {
	tasks  *task.Lifecycle
	logger *slog.Logger
}

func NewTaskHandler(tasks *task.Lifecycle, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

// Create handles POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req task.NewTask
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.tasks.Create(r.Context(), a, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// List handles GET /api/tasks?assignee_id=&status=
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var f store.TaskFilter
	if v := r.URL.Query().Get("assignee_id"); v != "" {
		id, err := parsePositive(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid assignee_id")
			return
		}
		f.AssigneeID = id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		switch s := model.TaskStatus(v); s {
		case model.TaskPending, model.TaskOverdue, model.TaskCompleted, model.TaskCancelled:
			f.Status = s
		default:
			writeMessage(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	tasks, err := h.tasks.List(r.Context(), a, f)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tasks))
}

// upcomingWindow bounds the due dates previewed for a recurring task.
const upcomingWindow = 28 * 24 * time.Hour

// Get handles GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.tasks.Get(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	resp := map[string]any{"task": t, "schedule": task.Describe(t.Frequency)}
	if t.Status == model.TaskPending || t.Status == model.TaskOverdue {
		resp["upcoming"] = task.Upcoming(t.Frequency, t.DueAt, t.DueAt.Add(upcomingWindow))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Complete handles POST /api/tasks/{id}/complete
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.tasks.Complete(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Cancel handles POST /api/tasks/{id}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.tasks.Cancel(r.Context(), a, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Reschedule handles PUT /api/tasks/{id}/due
func (h *TaskHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		DueAt time.Time `json:"due_at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.tasks.Reschedule(r.Context(), a, id, req.DueAt)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
