package voting

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/api/events"
	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/gathering"
)

type VoteHandler struct {
	Service *gathering.Service
	Log     zerolog.Logger
}

type bulkVoteRequest struct {
	TimeSlotIDs []int64 `json:"timeslot_ids" validate:"required,min=1,dive,gt=0"`
}

// AddVote handles POST /api/v1/events/{slug}/timeslots/{id}/vote.
func (h *VoteHandler) AddVote(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := events.PathID(r, "id")
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	res, err := h.Service.AddVote(r.Context(), *user, mux.Vars(r)["slug"], id)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusCreated, res)
}

// RemoveVote handles DELETE /api/v1/events/{slug}/timeslots/{id}/vote.
func (h *VoteHandler) RemoveVote(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := events.PathID(r, "id")
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	res, err := h.Service.RemoveVote(r.Context(), *user, mux.Vars(r)["slug"], id)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, res)
}

// BulkVote handles POST /api/v1/events/{slug}/bulk-vote.
func (h *VoteHandler) BulkVote(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	var req bulkVoteRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.Log, err)
		return
	}
	res, err := h.Service.BulkVote(r.Context(), *user, mux.Vars(r)["slug"], req.TimeSlotIDs)
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusCreated, res)
}

// Summary handles GET /api/v1/events/{slug}/voting.
func (h *VoteHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	summary, err := h.Service.VotingSummary(r.Context(), *user, mux.Vars(r)["slug"])
	if err != nil {
		web.Error(w, h.Log, err)
		return
	}
	web.JSON(w, http.StatusOK, summary)
}
