package events

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterEventRoutes mounts the event and time slot endpoints on the
// authenticated /api/v1 subrouter.
func RegisterEventRoutes(r *mux.Router, handler *EventHandler) {
	r.HandleFunc("/events", handler.CreateEvent).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}", handler.GetEvent).Methods(http.MethodGet)
	r.HandleFunc("/events/{slug}", handler.UpdateEvent).Methods(http.MethodPatch)
	r.HandleFunc("/events/{slug}/lock", handler.LockEvent).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}/timeslots", handler.AddTimeSlot).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}/timeslots/{id:[0-9]+}", handler.RemoveTimeSlot).Methods(http.MethodDelete)
}
