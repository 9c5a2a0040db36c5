// Package policy decides who may join which room and who may change what.
//
// Every function is a pure predicate over snapshots; callers load the
// entities and the clock reading, policy only looks at them.
package policy

import (
	"time"

	"github.com/Vasu1712/gatherhub/internal/models"
)

// Channel is the room variant a session asks to join.
type Channel string

const (
	ChannelGeneral Channel = "general"
	ChannelVoting  Channel = "voting"
	ChannelTasks   Channel = "tasks"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision carrying a user-facing reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err returns nil for an allowed decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// DeniedError is returned by mutations rejected by policy.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

// CanJoin decides whether principal may open the given channel of event.
// The general room accepts any authenticated principal, without a membership
// check.
func CanJoin(principal *models.User, event models.Event, channel Channel) Decision {
	if principal == nil {
		return Deny("Authentication required.")
	}
	switch channel {
	case ChannelGeneral, ChannelTasks:
		return Allow
	case ChannelVoting:
		if event.Status != models.EventDraft {
			return Deny("Voting is closed for this event.")
		}
		return Allow
	default:
		return Deny("Unknown channel.")
	}
}

// VoteRequest is the snapshot a vote decision is made on.
type VoteRequest struct {
	Principal models.User
	Event     models.Event
	TimeSlot  models.TimeSlot
	HasVoted  bool
	Now       time.Time
}

func canTouchVote(r VoteRequest) Decision {
	if !r.TimeSlot.Datetime.After(r.Now) {
		return Deny("Cannot vote for past timeslots.")
	}
	if r.Event.IsLocked() {
		return Deny("Cannot vote on locked events.")
	}
	if r.Event.CreatedBy == r.Principal.ID {
		return Deny("Event creators cannot vote on their own events.")
	}
	return Allow
}

// CanAddVote decides whether the principal may vote for the time slot.
func CanAddVote(r VoteRequest) Decision {
	if d := canTouchVote(r); !d.Allowed {
		return d
	}
	if r.HasVoted {
		return Deny("You have already voted for this timeslot.")
	}
	return Allow
}

// CanRemoveVote decides whether the principal may withdraw their vote.
func CanRemoveVote(r VoteRequest) Decision {
	if !r.TimeSlot.Datetime.After(r.Now) {
		return Deny("Cannot modify votes for past timeslots.")
	}
	if r.Event.IsLocked() {
		return Deny("Cannot modify votes for locked events.")
	}
	if r.Event.CreatedBy == r.Principal.ID {
		return Deny("Event creators cannot vote on their own events.")
	}
	if !r.HasVoted {
		return Deny("You have not voted for this timeslot.")
	}
	return Allow
}

// CanEditEvent covers title/description edits and time slot add/remove.
func CanEditEvent(principal models.User, event models.Event) Decision {
	if event.CreatedBy != principal.ID {
		return Deny("Only the event creator can modify this event.")
	}
	if event.IsLocked() {
		return Deny("Cannot modify locked events.")
	}
	return Allow
}

// CanLockEvent decides whether the creator may finalize the event.
func CanLockEvent(principal models.User, event models.Event, timeslots int) Decision {
	if event.CreatedBy != principal.ID {
		return Deny("Only the event creator can lock this event.")
	}
	if event.IsLocked() {
		return Deny("Event is already locked.")
	}
	if timeslots == 0 {
		return Deny("Cannot lock event without timeslots.")
	}
	return Allow
}

// CanCreateTask allows only the creator to add tasks. Tasks stay manageable
// after the event is locked.
func CanCreateTask(principal models.User, event models.Event) Decision {
	if event.CreatedBy != principal.ID {
		return Deny("Only the event creator can create tasks.")
	}
	return Allow
}

// TaskUpdate lists which task fields a request touches.
type TaskUpdate struct {
	Title      bool
	Status     bool
	AssignedTo bool
}

// CanUpdateTask lets the creator change any field. The current assignee may
// change title and status but never reassign; on a locked event only status.
func CanUpdateTask(principal models.User, event models.Event, task models.Task, fields TaskUpdate) Decision {
	if event.CreatedBy == principal.ID {
		return Allow
	}
	if !task.IsAssignedTo(principal.ID) {
		return Deny("Only the event creator or the task assignee can update this task.")
	}
	if fields.AssignedTo {
		return Deny("Only the event creator can assign tasks.")
	}
	if event.IsLocked() && fields.Title {
		return Deny("Only status can be updated on locked events.")
	}
	return Allow
}

// CanDeleteTask allows only the creator to delete tasks.
func CanDeleteTask(principal models.User, event models.Event) Decision {
	if event.CreatedBy != principal.ID {
		return Deny("Only the event creator can delete tasks.")
	}
	return Allow
}

// CanViewVoters reports whether voter identities are shown in the voting
// summary.
func CanViewVoters(principal models.User, event models.Event) bool {
	return event.CreatedBy == principal.ID
}
