package tasks

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterTaskRoutes(r *mux.Router, handler *TaskHandler) {
	r.HandleFunc("/events/{slug}/tasks", handler.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/events/{slug}/tasks", handler.CreateTask).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}/tasks/{id:[0-9]+}", handler.UpdateTask).Methods(http.MethodPatch)
	r.HandleFunc("/events/{slug}/tasks/{id:[0-9]+}", handler.DeleteTask).Methods(http.MethodDelete)
}
