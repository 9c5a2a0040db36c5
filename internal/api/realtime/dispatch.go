package realtime

import (
	"encoding/json"
	"time"

	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/gathering"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

// MessageType is the type of an inbound socket message.
type MessageType string

const (
	MsgPing       MessageType = "ping"
	MsgVoteAdd    MessageType = "vote_add"
	MsgVoteRemove MessageType = "vote_remove"
	MsgTaskCreate MessageType = "task_create"
	MsgTaskUpdate MessageType = "task_update"
	MsgTaskDelete MessageType = "task_delete"
)

type voteMessage struct {
	TimeSlotID int64 `json:"timeslot_id" validate:"required,gt=0"`
}

type taskCreateMessage struct {
	Title string `json:"title" validate:"required,max=200"`
}

type taskUpdateMessage struct {
	TaskID  int64                 `json:"task_id" validate:"required,gt=0"`
	Updates gathering.TaskUpdates `json:"updates"`
}

type taskDeleteMessage struct {
	TaskID int64 `json:"task_id" validate:"required,gt=0"`
}

type handlerFunc func(s *session, raw []byte)

// channelHandlers is the closed set of messages each channel accepts.
var channelHandlers = map[policy.Channel]map[MessageType]handlerFunc{
	policy.ChannelGeneral: {
		MsgPing: handlePing,
	},
	policy.ChannelVoting: {
		MsgPing:       handlePing,
		MsgVoteAdd:    handleVoteAdd,
		MsgVoteRemove: handleVoteRemove,
	},
	policy.ChannelTasks: {
		MsgPing:       handlePing,
		MsgTaskCreate: handleTaskCreate,
		MsgTaskUpdate: handleTaskUpdate,
		MsgTaskDelete: handleTaskDelete,
	},
}

// dispatch routes one inbound frame. Failures turn into error envelopes; the
// session stays open.
func (s *session) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("socket message handler panicked")
			s.replyError("Internal error", "")
		}
	}()

	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		s.replyError("Invalid JSON format", "")
		return
	}
	handle, ok := channelHandlers[s.channel][head.Type]
	if !ok {
		s.replyError("Unknown message type", string(head.Type))
		return
	}
	handle(s, raw)
}

// decode unmarshals and validates a message body, replying with an error
// envelope on failure.
func decode(s *session, raw []byte, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.replyError("Invalid JSON format", "")
		return false
	}
	if err := web.Validate(v); err != nil {
		s.replyError(gathering.Reason(err), "")
		return false
	}
	return true
}

// fail reports a service error to the requester.
func (s *session) fail(fallback string, err error) {
	reason := gathering.Reason(err)
	if reason == "" {
		s.log.Error().Err(err).Msg(fallback)
		reason = fallback
	}
	s.replyError(reason, "")
}

func handlePing(s *session, _ []byte) {
	s.reply(ws.TypePong, map[string]time.Time{"timestamp": s.h.now().UTC()})
}

func handleVoteAdd(s *session, raw []byte) {
	var msg voteMessage
	if !decode(s, raw, &msg) {
		return
	}
	res, err := s.h.service.AddVote(s.ctx, *s.principal, s.slug, msg.TimeSlotID)
	if err != nil {
		s.fail("Failed to add vote", err)
		return
	}
	s.reply(ws.TypeVoteAdded, res)
}

func handleVoteRemove(s *session, raw []byte) {
	var msg voteMessage
	if !decode(s, raw, &msg) {
		return
	}
	res, err := s.h.service.RemoveVote(s.ctx, *s.principal, s.slug, msg.TimeSlotID)
	if err != nil {
		s.fail("Failed to remove vote", err)
		return
	}
	s.reply(ws.TypeVoteRemoved, res)
}

func handleTaskCreate(s *session, raw []byte) {
	var msg taskCreateMessage
	if !decode(s, raw, &msg) {
		return
	}
	task, err := s.h.service.CreateTask(s.ctx, *s.principal, s.slug, msg.Title)
	if err != nil {
		s.fail("Failed to create task", err)
		return
	}
	s.reply(ws.TypeTaskCreated, task)
}

func handleTaskUpdate(s *session, raw []byte) {
	var msg taskUpdateMessage
	if !decode(s, raw, &msg) {
		return
	}
	task, err := s.h.service.UpdateTask(s.ctx, *s.principal, s.slug, msg.TaskID, msg.Updates)
	if err != nil {
		s.fail("Failed to update task", err)
		return
	}
	s.reply(ws.TypeTaskUpdated, task)
}

func handleTaskDelete(s *session, raw []byte) {
	var msg taskDeleteMessage
	if !decode(s, raw, &msg) {
		return
	}
	task, err := s.h.service.DeleteTask(s.ctx, *s.principal, s.slug, msg.TaskID)
	if err != nil {
		s.fail("Failed to delete task", err)
		return
	}
	s.reply(ws.TypeTaskDeleted, map[string]any{"task_id": task.ID, "title": task.Title})
}
