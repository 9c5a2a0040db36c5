package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/gatherhub/internal/models"
)

var (
	creator  = models.User{ID: 1, Name: "Alice"}
	member   = models.User{ID: 2, Name: "Bob"}
	outsider = models.User{ID: 3, Name: "Carol"}
	now      = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
)

func draftEvent() models.Event {
	return models.Event{Slug: "retro-2024", Status: models.EventDraft, CreatedBy: creator.ID}
}

func lockedEvent() models.Event {
	e := draftEvent()
	e.Status = models.EventLocked
	return e
}

func TestCanJoin(t *testing.T) {
	tests := []struct {
		name      string
		principal *models.User
		event     models.Event
		channel   Channel
		allowed   bool
	}{
		{"general open to anyone", &outsider, draftEvent(), ChannelGeneral, true},
		{"general on locked event", &outsider, lockedEvent(), ChannelGeneral, true},
		{"voting on draft", &member, draftEvent(), ChannelVoting, true},
		{"voting on locked", &member, lockedEvent(), ChannelVoting, false},
		{"tasks on locked", &member, lockedEvent(), ChannelTasks, true},
		{"anonymous", nil, draftEvent(), ChannelGeneral, false},
		{"unknown channel", &member, draftEvent(), Channel("chat"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanJoin(tt.principal, tt.event, tt.channel)
			require.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				require.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestCanAddVote(t *testing.T) {
	future := models.TimeSlot{ID: 1, Datetime: now.Add(24 * time.Hour)}
	past := models.TimeSlot{ID: 2, Datetime: now.Add(-time.Hour)}
	exact := models.TimeSlot{ID: 3, Datetime: now}

	tests := []struct {
		name   string
		req    VoteRequest
		reason string
	}{
		{"allowed", VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: future, Now: now}, ""},
		{"past slot", VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: past, Now: now}, "Cannot vote for past timeslots."},
		{"slot at now", VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: exact, Now: now}, "Cannot vote for past timeslots."},
		{"locked event", VoteRequest{Principal: member, Event: lockedEvent(), TimeSlot: future, Now: now}, "Cannot vote on locked events."},
		{"creator", VoteRequest{Principal: creator, Event: draftEvent(), TimeSlot: future, Now: now}, "Event creators cannot vote on their own events."},
		{"duplicate", VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: future, HasVoted: true, Now: now}, "You have already voted for this timeslot."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanAddVote(tt.req)
			require.Equal(t, tt.reason == "", d.Allowed)
			require.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestCanRemoveVote(t *testing.T) {
	req := require.New(t)
	future := models.TimeSlot{ID: 1, Datetime: now.Add(time.Hour)}

	d := CanRemoveVote(VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: future, HasVoted: true, Now: now})
	req.True(d.Allowed)

	d = CanRemoveVote(VoteRequest{Principal: member, Event: draftEvent(), TimeSlot: future, Now: now})
	req.False(d.Allowed)
	req.Equal("You have not voted for this timeslot.", d.Reason)

	d = CanRemoveVote(VoteRequest{Principal: member, Event: lockedEvent(), TimeSlot: future, HasVoted: true, Now: now})
	req.False(d.Allowed)
}

func TestTaskPermissions(t *testing.T) {
	assignee := member.ID
	task := models.Task{ID: 7, Title: "Book venue", Status: models.TaskTodo, AssignedTo: &assignee}

	tests := []struct {
		name      string
		principal models.User
		event     models.Event
		fields    TaskUpdate
		allowed   bool
	}{
		{"creator any field", creator, draftEvent(), TaskUpdate{Title: true, AssignedTo: true}, true},
		{"creator on locked", creator, lockedEvent(), TaskUpdate{Title: true}, true},
		{"assignee status on draft", member, draftEvent(), TaskUpdate{Status: true}, true},
		{"assignee title on draft", member, draftEvent(), TaskUpdate{Title: true}, true},
		{"assignee reassign", member, draftEvent(), TaskUpdate{AssignedTo: true}, false},
		{"assignee status on locked", member, lockedEvent(), TaskUpdate{Status: true}, true},
		{"assignee title on locked", member, lockedEvent(), TaskUpdate{Title: true, Status: true}, false},
		{"outsider", outsider, draftEvent(), TaskUpdate{Status: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, CanUpdateTask(tt.principal, tt.event, task, tt.fields).Allowed)
		})
	}

	req := require.New(t)
	req.True(CanCreateTask(creator, lockedEvent()).Allowed)
	req.False(CanCreateTask(member, draftEvent()).Allowed)
	req.True(CanDeleteTask(creator, draftEvent()).Allowed)
	req.False(CanDeleteTask(member, draftEvent()).Allowed)
}

func TestCanLockEvent(t *testing.T) {
	req := require.New(t)
	req.True(CanLockEvent(creator, draftEvent(), 2).Allowed)
	req.Equal("Cannot lock event without timeslots.", CanLockEvent(creator, draftEvent(), 0).Reason)
	req.Equal("Event is already locked.", CanLockEvent(creator, lockedEvent(), 2).Reason)
	req.False(CanLockEvent(member, draftEvent(), 2).Allowed)
}

func TestDecisionErr(t *testing.T) {
	req := require.New(t)
	req.NoError(Allow.Err())

	err := Deny("nope").Err()
	var denied *DeniedError
	req.ErrorAs(err, &denied)
	req.Equal("nope", denied.Reason)
}
