package realtime

import (
	"github.com/gorilla/mux"

	"github.com/Vasu1712/gatherhub/internal/policy"
)

// RegisterRoutes mounts the event sockets. The trailing slash is optional.
func RegisterRoutes(r *mux.Router, h *Handler) {
	for _, route := range []struct {
		path    string
		channel policy.Channel
	}{
		{"/ws/events/{slug}", policy.ChannelGeneral},
		{"/ws/events/{slug}/voting", policy.ChannelVoting},
		{"/ws/events/{slug}/tasks", policy.ChannelTasks},
	} {
		serve := h.Serve(route.channel)
		r.HandleFunc(route.path, serve).Methods("GET")
		r.HandleFunc(route.path+"/", serve).Methods("GET")
	}
}
