package gathering

import (
	"time"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/notify"
)

// TimeSlotView is a time slot with its tally as seen by one principal.
type TimeSlotView struct {
	ID        int64     `json:"id"`
	Datetime  time.Time `json:"datetime"`
	VoteCount int       `json:"vote_count"`
	UserVoted bool      `json:"user_voted"`
}

// EventDetail is the event snapshot sent on join to the general room and
// returned by the event endpoints.
type EventDetail struct {
	models.Event
	Creator   models.UserRef `json:"creator"`
	TimeSlots []TimeSlotView `json:"timeslots"`
	IsCreator bool           `json:"is_creator"`
}

// VotingData is the voting room snapshot.
type VotingData struct {
	EventSlug   string             `json:"event_slug"`
	EventStatus models.EventStatus `json:"event_status"`
	TimeSlots   []TimeSlotView     `json:"timeslots"`
}

// TaskView is a task with its assignee resolved.
type TaskView struct {
	models.Task
	Assignee *models.UserRef `json:"assigned_to"`
}

// TasksData is the tasks room snapshot.
type TasksData struct {
	EventSlug   string             `json:"event_slug"`
	EventStatus models.EventStatus `json:"event_status"`
	Tasks       []TaskView         `json:"tasks"`
}

// VoteResult is the outcome of a single vote mutation.
type VoteResult struct {
	TimeSlotID   int64          `json:"timeslot_id"`
	User         models.UserRef `json:"user"`
	NewVoteCount int            `json:"new_vote_count"`
}

// BulkVoteResult reports what a bulk vote did.
type BulkVoteResult struct {
	CreatedVotes    int     `json:"created_votes"`
	SkippedExisting int     `json:"skipped_existing"`
	TotalRequested  int     `json:"total_requested"`
	TimeSlotIDs     []int64 `json:"timeslot_ids"`
}

// SlotSummary is one row of the voting summary.
type SlotSummary struct {
	TimeSlotID int64            `json:"timeslot_id"`
	Datetime   time.Time        `json:"datetime"`
	VoteCount  int              `json:"vote_count"`
	UserVoted  bool             `json:"user_voted"`
	CanVote    bool             `json:"can_vote"`
	Voters     []models.UserRef `json:"voters,omitempty"`
}

// PopularSlot is the time slot with the most votes.
type PopularSlot struct {
	ID        int64     `json:"id"`
	Datetime  time.Time `json:"datetime"`
	VoteCount int       `json:"vote_count"`
}

// Participation aggregates votes across the event.
type Participation struct {
	TotalTimeSlots      int     `json:"total_timeslots"`
	TotalVotes          int     `json:"total_votes"`
	UniqueVoters        int     `json:"unique_voters"`
	AvgVotesPerTimeSlot float64 `json:"avg_votes_per_timeslot"`
}

// VotingSummary is the per-event tally. Voters are listed only for the
// event creator.
type VotingSummary struct {
	Event         notify.EventRef `json:"event"`
	Creator       models.UserRef  `json:"created_by"`
	TimeSlots     []SlotSummary   `json:"timeslots"`
	TotalVotes    int             `json:"total_votes"`
	MostPopular   *PopularSlot    `json:"most_popular_timeslot"`
	Participation Participation   `json:"participation_stats"`
}

func taskRef(v TaskView) *notify.TaskRef {
	return &notify.TaskRef{ID: v.ID, Title: v.Title, Status: v.Status, AssignedTo: v.Assignee}
}
