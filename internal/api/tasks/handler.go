package tasks

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/api/events"
	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/gathering"
)

// TaskHandler serves the task board of an event.
type TaskHandler struct {
	Service *gathering.Service
	Log     zerolog.Logger
}

type createTaskRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// ListTasks handles GET /api/v1/events/{slug}/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	data, err := h.Service.TasksData(r.Context(), *user, mux.Vars(r)["slug"])
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, data)
}

// CreateTask handles POST /api/v1/events/{slug}/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	var req createTaskRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	task, err := h.Service.CreateTask(r.Context(), *user, mux.Vars(r)["slug"], req.Title)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusCreated, task)
}

// UpdateTask handles PATCH /api/v1/events/{slug}/tasks/{id}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := events.PathID(r, "id")
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	var upd gathering.TaskUpdates
	if err := web.Decode(r, &upd); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	task, err := h.Service.UpdateTask(r.Context(), *user, mux.Vars(r)["slug"], id, upd)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/v1/events/{slug}/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := events.PathID(r, "id")
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	if _, err := h.Service.DeleteTask(r.Context(), *user, mux.Vars(r)["slug"], id); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
