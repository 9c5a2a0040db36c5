package voting

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterVoteRoutes(r *mux.Router, handler *VoteHandler) {
	r.HandleFunc("/events/{slug}/timeslots/{id:[0-9]+}/vote", handler.AddVote).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}/timeslots/{id:[0-9]+}/vote", handler.RemoveVote).Methods(http.MethodDelete)
	r.HandleFunc("/events/{slug}/bulk-vote", handler.BulkVote).Methods(http.MethodPost)
	r.HandleFunc("/events/{slug}/voting", handler.Summary).Methods(http.MethodGet)
}
