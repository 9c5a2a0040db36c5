package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/gathering"
)

// EventHandler serves events and their time slots.
type EventHandler struct {
	Service *gathering.Service
	Log     zerolog.Logger
}

type createEventRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

type updateEventRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
}

type timeSlotRequest struct {
	Datetime time.Time `json:"datetime" validate:"required"`
}

// CreateEvent handles POST /api/v1/events.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	var req createEventRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	event, err := h.Service.CreateEvent(r.Context(), *user, req.Title, req.Description)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusCreated, event)
}

// GetEvent handles GET /api/v1/events/{slug}.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	event, err := h.Service.Event(r.Context(), *user, mux.Vars(r)["slug"])
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, event)
}

// UpdateEvent handles PATCH /api/v1/events/{slug}.
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	var req updateEventRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	event, err := h.Service.UpdateEvent(r.Context(), *user, mux.Vars(r)["slug"], req.Title, req.Description)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, event)
}

// LockEvent handles POST /api/v1/events/{slug}/lock.
func (h *EventHandler) LockEvent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	event, err := h.Service.LockEvent(r.Context(), *user, mux.Vars(r)["slug"])
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, event)
}

// AddTimeSlot handles POST /api/v1/events/{slug}/timeslots.
func (h *EventHandler) AddTimeSlot(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	var req timeSlotRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	slot, err := h.Service.AddTimeSlot(r.Context(), *user, mux.Vars(r)["slug"], req.Datetime)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusCreated, slot)
}

// RemoveTimeSlot handles DELETE /api/v1/events/{slug}/timeslots/{id}.
func (h *EventHandler) RemoveTimeSlot(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := PathID(r, "id")
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	if err := h.Service.RemoveTimeSlot(r.Context(), *user, mux.Vars(r)["slug"], id); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PathID parses a positive integer path variable.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, &gathering.ValidationError{Field: name, Message: "Invalid " + name}
	}
	return id, nil
}
