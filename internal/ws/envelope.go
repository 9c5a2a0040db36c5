package ws

import (
	"encoding/json"
	"time"
)

// Outbound envelope types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeError                 = "error"
	TypePong                  = "pong"
	TypeEventData             = "event_data"
	TypeVotingData            = "voting_data"
	TypeTasksData             = "tasks_data"
	TypeEventUpdate           = "event_update"
	TypeEventLocked           = "event_locked"
	TypeTimeSlotAdded         = "timeslot_added"
	TypeTimeSlotRemoved       = "timeslot_removed"
	TypeVoteUpdate            = "vote_update"
	TypeVoteAdded             = "vote_added"
	TypeVoteRemoved           = "vote_removed"
	TypeTaskUpdate            = "task_update"
	TypeTaskCreated           = "task_created"
	TypeTaskUpdated           = "task_updated"
	TypeTaskDeleted           = "task_deleted"
)

// Envelope is the immutable wire wrapper of every outbound message.
type Envelope struct {
	Type      string    `json:"type"`
	Action    string    `json:"action,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope builds an envelope stamped with at.
func NewEnvelope(typ, action string, data any, at time.Time) Envelope {
	return Envelope{Type: typ, Action: action, Data: data, Timestamp: at.UTC()}
}

// Encode marshals the envelope once so it can be fanned out verbatim.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
