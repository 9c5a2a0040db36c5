package notify

import (
	"time"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

// Kind is the entity type a mutation touched.
type Kind string

const (
	KindEvent    Kind = "event"
	KindTimeSlot Kind = "timeslot"
	KindVote     Kind = "vote"
	KindTask     Kind = "task"
)

// Action is what happened to the entity.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionLocked  Action = "locked"
)

// FieldChange is the old and new value of one field.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Changes maps field names to their change.
type Changes map[string]FieldChange

// EventRef is the event summary carried in broadcasts.
type EventRef struct {
	Slug   string             `json:"slug"`
	Title  string             `json:"title"`
	Status models.EventStatus `json:"status,omitempty"`
}

// NewEventRef summarizes e.
func NewEventRef(e models.Event) *EventRef {
	return &EventRef{Slug: e.Slug, Title: e.Title, Status: e.Status}
}

// TimeSlotRef is the time slot summary carried in broadcasts.
type TimeSlotRef struct {
	ID       int64     `json:"id"`
	Datetime time.Time `json:"datetime"`
}

// TaskRef is the task summary carried in broadcasts.
type TaskRef struct {
	ID         int64             `json:"id"`
	Title      string            `json:"title"`
	Status     models.TaskStatus `json:"status"`
	AssignedTo *models.UserRef   `json:"assigned_to"`
}

// Payload is the post-mutation snapshot sent as envelope data. Only the
// fields relevant to the mutation kind are set.
type Payload struct {
	Event        *EventRef       `json:"event,omitempty"`
	TimeSlot     *TimeSlotRef    `json:"timeslot,omitempty"`
	Task         *TaskRef        `json:"task,omitempty"`
	TimeSlotID   int64           `json:"timeslot_id,omitempty"`
	User         *models.UserRef `json:"user,omitempty"`
	NewVoteCount *int            `json:"new_vote_count,omitempty"`
	Actor        *models.UserRef `json:"actor,omitempty"`
	Changes      Changes         `json:"changes,omitempty"`
}

// Change is one committed mutation waiting to be broadcast.
type Change struct {
	Kind    Kind
	Slug    string
	Action  Action
	Payload Payload
	At      time.Time
}

// Broadcast is one envelope addressed to one room.
type Broadcast struct {
	Room     string
	Envelope ws.Envelope
}

var voteActions = map[Action]string{
	ActionCreated: "added",
	ActionDeleted: "removed",
}

var eventActions = map[Action]string{
	ActionUpdated: "modified",
	ActionLocked:  "locked",
}

// Route decides which rooms hear about a change and with which envelope.
// It returns nil for mutations that are not broadcast (event creation).
func Route(c Change) []Broadcast {
	general := ws.RoomName(c.Slug, policy.ChannelGeneral)
	voting := ws.RoomName(c.Slug, policy.ChannelVoting)
	tasks := ws.RoomName(c.Slug, policy.ChannelTasks)

	to := func(typ, action string, rooms ...string) []Broadcast {
		env := ws.NewEnvelope(typ, action, c.Payload, c.At)
		out := make([]Broadcast, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, Broadcast{Room: room, Envelope: env})
		}
		return out
	}

	switch c.Kind {
	case KindEvent:
		switch c.Action {
		case ActionLocked:
			return to(ws.TypeEventLocked, eventActions[c.Action], general, voting, tasks)
		case ActionUpdated:
			return to(ws.TypeEventUpdate, eventActions[c.Action], general, voting, tasks)
		}
	case KindTimeSlot:
		switch c.Action {
		case ActionCreated:
			return to(ws.TypeTimeSlotAdded, string(c.Action), general, voting)
		case ActionDeleted:
			return to(ws.TypeTimeSlotRemoved, string(c.Action), general, voting)
		}
	case KindVote:
		if action, ok := voteActions[c.Action]; ok {
			return to(ws.TypeVoteUpdate, action, voting, general)
		}
	case KindTask:
		switch c.Action {
		case ActionCreated, ActionUpdated, ActionDeleted:
			return to(ws.TypeTaskUpdate, string(c.Action), tasks, general)
		}
	}
	return nil
}
