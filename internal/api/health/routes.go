package health

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterHealthRoutes(r *mux.Router, handler *HealthHandler) {
	r.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)
}
