// Package gathering is the mutation path for events, time slots, votes and
// tasks. HTTP handlers and socket sessions both go through Service, so every
// write is checked by the same policy and announced by exactly one Notify.
package gathering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/notify"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

const maxTitleLength = 200

// Store is the persistence the service needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)

	CreateEvent(ctx context.Context, title, description string, createdBy int64) (*models.Event, error)
	GetEvent(ctx context.Context, slug string) (*models.Event, error)
	UpdateEvent(ctx context.Context, slug string, title, description *string) (*models.Event, error)
	LockEvent(ctx context.Context, slug string) (*models.Event, error)

	ListTimeSlots(ctx context.Context, slug string) ([]models.TimeSlot, error)
	GetTimeSlot(ctx context.Context, slug string, id int64) (*models.TimeSlot, error)
	AddTimeSlot(ctx context.Context, slug string, at time.Time) (*models.TimeSlot, error)
	RemoveTimeSlot(ctx context.Context, slug string, id int64) (*models.TimeSlot, error)

	AddVote(ctx context.Context, userID, timeslotID int64) (*models.Vote, int, error)
	RemoveVote(ctx context.Context, userID, timeslotID int64) (*models.Vote, int, error)
	CountVotes(ctx context.Context, timeslotID int64) (int, error)
	HasVoted(ctx context.Context, userID, timeslotID int64) (bool, error)
	ListVotes(ctx context.Context, timeslotID int64) ([]models.Vote, error)

	ListTasks(ctx context.Context, slug string) ([]models.Task, error)
	GetTask(ctx context.Context, slug string, id int64) (*models.Task, error)
	CreateTask(ctx context.Context, slug, title string) (*models.Task, error)
	SaveTask(ctx context.Context, task models.Task) (*models.Task, error)
	DeleteTask(ctx context.Context, slug string, id int64) (*models.Task, error)
}

// Notifier receives one call per committed mutation.
type Notifier interface {
	Notify(kind notify.Kind, slug string, action notify.Action, snapshot notify.Payload, changes notify.Changes)
}

type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
	locks    *eventLocks
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for time slot checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, notifier Notifier, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		log:      log,
		locks:    &eventLocks{held: make(map[string]*eventLock)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// eventLocks serializes check-then-write sequences per event so a policy
// decision cannot be invalidated between the check and the commit.
type eventLocks struct {
	mu   sync.Mutex
	held map[string]*eventLock
}

type eventLock struct {
	sync.Mutex
	refs int
}

func (l *eventLocks) lock(slug string) func() {
	l.mu.Lock()
	el, ok := l.held[slug]
	if !ok {
		el = &eventLock{}
		l.held[slug] = el
	}
	el.refs++
	l.mu.Unlock()

	el.Lock()
	return func() {
		el.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.held, slug)
		}
		l.mu.Unlock()
	}
}

func cleanTitle(field, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid(field, "This field may not be blank.")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", invalid(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength))
	}
	return title, nil
}

func (s *Service) userRef(ctx context.Context, id int64) models.UserRef {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return models.UserRef{ID: id}
	}
	return u.Ref()
}

// GetEvent loads the bare event, for join checks.
func (s *Service) GetEvent(ctx context.Context, slug string) (*models.Event, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	return event, nil
}

// Event returns the event with its time slots as seen by principal.
func (s *Service) Event(ctx context.Context, principal models.User, slug string) (*EventDetail, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	return s.detail(ctx, principal, *event)
}

func (s *Service) detail(ctx context.Context, principal models.User, event models.Event) (*EventDetail, error) {
	slots, err := s.slotViews(ctx, principal, event.Slug)
	if err != nil {
		return nil, err
	}
	return &EventDetail{
		Event:     event,
		Creator:   s.userRef(ctx, event.CreatedBy),
		TimeSlots: slots,
		IsCreator: event.CreatedBy == principal.ID,
	}, nil
}

func (s *Service) slotViews(ctx context.Context, principal models.User, slug string) ([]TimeSlotView, error) {
	slots, err := s.store.ListTimeSlots(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}
	views := make([]TimeSlotView, 0, len(slots))
	for _, ts := range slots {
		count, err := s.store.CountVotes(ctx, ts.ID)
		if err != nil {
			return nil, fmt.Errorf("count votes: %w", err)
		}
		voted, err := s.store.HasVoted(ctx, principal.ID, ts.ID)
		if err != nil {
			return nil, fmt.Errorf("has voted: %w", err)
		}
		views = append(views, TimeSlotView{ID: ts.ID, Datetime: ts.Datetime, VoteCount: count, UserVoted: voted})
	}
	return views, nil
}

// CreateEvent stores a new draft event owned by principal.
func (s *Service) CreateEvent(ctx context.Context, principal models.User, title, description string) (*EventDetail, error) {
	title, err := cleanTitle("title", title)
	if err != nil {
		return nil, err
	}
	event, err := s.store.CreateEvent(ctx, title, strings.TrimSpace(description), principal.ID)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.log.Info().Str("event", event.Slug).Int64("user_id", principal.ID).Msg("event created")
	return s.detail(ctx, principal, *event)
}

// UpdateEvent edits title and/or description. Nil fields are untouched.
func (s *Service) UpdateEvent(ctx context.Context, principal models.User, slug string, title, description *string) (*EventDetail, error) {
	if title == nil && description == nil {
		return nil, invalid("", "No fields to update.")
	}
	if title != nil {
		cleaned, err := cleanTitle("title", *title)
		if err != nil {
			return nil, err
		}
		title = &cleaned
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	if err := policy.CanEditEvent(principal, *event).Err(); err != nil {
		return nil, err
	}

	changes := notify.Changes{}
	if title != nil && *title != event.Title {
		changes["title"] = notify.FieldChange{From: event.Title, To: *title}
	}
	if description != nil && *description != event.Description {
		changes["description"] = notify.FieldChange{From: event.Description, To: *description}
	}
	if len(changes) == 0 {
		return s.detail(ctx, principal, *event)
	}

	updated, err := s.store.UpdateEvent(ctx, slug, title, description)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	actor := principal.Ref()
	s.notifier.Notify(notify.KindEvent, slug, notify.ActionUpdated,
		notify.Payload{Event: notify.NewEventRef(*updated), Actor: &actor}, changes)
	return s.detail(ctx, principal, *updated)
}

// LockEvent finalizes the event. Voting closes and the voting room stops
// accepting joins.
func (s *Service) LockEvent(ctx context.Context, principal models.User, slug string) (*EventDetail, error) {
	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	slots, err := s.store.ListTimeSlots(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}
	if err := policy.CanLockEvent(principal, *event, len(slots)).Err(); err != nil {
		return nil, err
	}

	locked, err := s.store.LockEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("lock event: %w", err)
	}
	actor := principal.Ref()
	s.notifier.Notify(notify.KindEvent, slug, notify.ActionLocked,
		notify.Payload{Event: notify.NewEventRef(*locked), Actor: &actor},
		notify.Changes{"status": {From: event.Status, To: locked.Status}})
	s.log.Info().Str("event", slug).Msg("event locked")
	return s.detail(ctx, principal, *locked)
}

// AddTimeSlot proposes a new candidate time. It must be in the future and
// unique within the event.
func (s *Service) AddTimeSlot(ctx context.Context, principal models.User, slug string, at time.Time) (*TimeSlotView, error) {
	if at.IsZero() {
		return nil, invalid("datetime", "This field is required.")
	}
	if !at.After(s.now()) {
		return nil, invalid("datetime", "Datetime must be in the future.")
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	if err := policy.CanEditEvent(principal, *event).Err(); err != nil {
		return nil, err
	}

	ts, err := s.store.AddTimeSlot(ctx, slug, at.UTC())
	if errors.Is(err, storage.ErrConflict) {
		return nil, invalid("datetime", "A timeslot with this datetime already exists.")
	}
	if err != nil {
		return nil, fmt.Errorf("add timeslot: %w", err)
	}
	actor := principal.Ref()
	s.notifier.Notify(notify.KindTimeSlot, slug, notify.ActionCreated, notify.Payload{
		Event:    notify.NewEventRef(*event),
		TimeSlot: &notify.TimeSlotRef{ID: ts.ID, Datetime: ts.Datetime},
		Actor:    &actor,
	}, nil)
	return &TimeSlotView{ID: ts.ID, Datetime: ts.Datetime}, nil
}

// RemoveTimeSlot deletes a candidate time together with its votes.
func (s *Service) RemoveTimeSlot(ctx context.Context, principal models.User, slug string, id int64) error {
	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return fmt.Errorf("get event %q: %w", slug, err)
	}
	if err := policy.CanEditEvent(principal, *event).Err(); err != nil {
		return err
	}

	ts, err := s.store.RemoveTimeSlot(ctx, slug, id)
	if err != nil {
		return fmt.Errorf("remove timeslot %d: %w", id, err)
	}
	actor := principal.Ref()
	s.notifier.Notify(notify.KindTimeSlot, slug, notify.ActionDeleted, notify.Payload{
		Event:    notify.NewEventRef(*event),
		TimeSlot: &notify.TimeSlotRef{ID: ts.ID, Datetime: ts.Datetime},
		Actor:    &actor,
	}, nil)
	return nil
}

func (s *Service) voteRequest(ctx context.Context, principal models.User, slug string, timeslotID int64) (policy.VoteRequest, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return policy.VoteRequest{}, fmt.Errorf("get event %q: %w", slug, err)
	}
	ts, err := s.store.GetTimeSlot(ctx, slug, timeslotID)
	if err != nil {
		return policy.VoteRequest{}, fmt.Errorf("get timeslot %d: %w", timeslotID, err)
	}
	voted, err := s.store.HasVoted(ctx, principal.ID, ts.ID)
	if err != nil {
		return policy.VoteRequest{}, fmt.Errorf("has voted: %w", err)
	}
	return policy.VoteRequest{
		Principal: principal,
		Event:     *event,
		TimeSlot:  *ts,
		HasVoted:  voted,
		Now:       s.now(),
	}, nil
}

func (s *Service) notifyVote(slug string, action notify.Action, res *VoteResult) {
	count := res.NewVoteCount
	user := res.User
	s.notifier.Notify(notify.KindVote, slug, action, notify.Payload{
		TimeSlotID:   res.TimeSlotID,
		User:         &user,
		NewVoteCount: &count,
	}, nil)
}

// AddVote marks principal as available at the time slot.
func (s *Service) AddVote(ctx context.Context, principal models.User, slug string, timeslotID int64) (*VoteResult, error) {
	unlock := s.locks.lock(slug)
	defer unlock()

	req, err := s.voteRequest(ctx, principal, slug, timeslotID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanAddVote(req).Err(); err != nil {
		return nil, err
	}
	res, err := s.addVote(ctx, principal, timeslotID)
	if err != nil {
		return nil, err
	}
	s.notifyVote(slug, notify.ActionCreated, res)
	return res, nil
}

func (s *Service) addVote(ctx context.Context, principal models.User, timeslotID int64) (*VoteResult, error) {
	_, count, err := s.store.AddVote(ctx, principal.ID, timeslotID)
	if errors.Is(err, storage.ErrConflict) {
		return nil, policy.Deny("You have already voted for this timeslot.").Err()
	}
	if err != nil {
		return nil, fmt.Errorf("add vote: %w", err)
	}
	return &VoteResult{TimeSlotID: timeslotID, User: principal.Ref(), NewVoteCount: count}, nil
}

// RemoveVote withdraws principal's vote from the time slot.
func (s *Service) RemoveVote(ctx context.Context, principal models.User, slug string, timeslotID int64) (*VoteResult, error) {
	unlock := s.locks.lock(slug)
	defer unlock()

	req, err := s.voteRequest(ctx, principal, slug, timeslotID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanRemoveVote(req).Err(); err != nil {
		return nil, err
	}
	_, count, err := s.store.RemoveVote(ctx, principal.ID, timeslotID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, policy.Deny("You have not voted for this timeslot.").Err()
	}
	if err != nil {
		return nil, fmt.Errorf("remove vote: %w", err)
	}
	res := &VoteResult{TimeSlotID: timeslotID, User: principal.Ref(), NewVoteCount: count}
	s.notifyVote(slug, notify.ActionDeleted, res)
	return res, nil
}

// BulkVote votes for several time slots of one event. Every slot is checked
// before any vote is written; slots already voted for are skipped. Each new
// vote is announced on its own.
func (s *Service) BulkVote(ctx context.Context, principal models.User, slug string, timeslotIDs []int64) (*BulkVoteResult, error) {
	if len(timeslotIDs) == 0 {
		return nil, invalid("timeslot_ids", "This list may not be empty.")
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}

	now := s.now()
	var pending []int64
	skipped := 0
	seen := make(map[int64]struct{}, len(timeslotIDs))
	for _, id := range timeslotIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ts, err := s.store.GetTimeSlot(ctx, slug, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid("timeslot_ids", "Some timeslot IDs are invalid or don't belong to this event.")
		}
		if err != nil {
			return nil, fmt.Errorf("get timeslot %d: %w", id, err)
		}
		req := policy.VoteRequest{Principal: principal, Event: *event, TimeSlot: *ts, Now: now}
		if err := policy.CanAddVote(req).Err(); err != nil {
			return nil, err
		}
		voted, err := s.store.HasVoted(ctx, principal.ID, id)
		if err != nil {
			return nil, fmt.Errorf("has voted: %w", err)
		}
		if voted {
			skipped++
			continue
		}
		pending = append(pending, id)
	}

	result := &BulkVoteResult{SkippedExisting: skipped, TotalRequested: len(timeslotIDs), TimeSlotIDs: []int64{}}
	for _, id := range pending {
		res, err := s.addVote(ctx, principal, id)
		if err != nil {
			return result, err
		}
		result.CreatedVotes++
		result.TimeSlotIDs = append(result.TimeSlotIDs, id)
		s.notifyVote(slug, notify.ActionCreated, res)
	}
	return result, nil
}

// VotingData is the voting room snapshot for principal.
func (s *Service) VotingData(ctx context.Context, principal models.User, slug string) (*VotingData, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	slots, err := s.slotViews(ctx, principal, slug)
	if err != nil {
		return nil, err
	}
	return &VotingData{EventSlug: event.Slug, EventStatus: event.Status, TimeSlots: slots}, nil
}

// VotingSummary tallies the event's votes. Voter identities are listed only
// for the event creator.
func (s *Service) VotingSummary(ctx context.Context, principal models.User, slug string) (*VotingSummary, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	slots, err := s.store.ListTimeSlots(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}

	showVoters := policy.CanViewVoters(principal, *event)
	now := s.now()
	summary := &VotingSummary{
		Event:     *notify.NewEventRef(*event),
		Creator:   s.userRef(ctx, event.CreatedBy),
		TimeSlots: make([]SlotSummary, 0, len(slots)),
	}
	voters := make(map[int64]struct{})
	for _, ts := range slots {
		votes, err := s.store.ListVotes(ctx, ts.ID)
		if err != nil {
			return nil, fmt.Errorf("list votes: %w", err)
		}
		row := SlotSummary{TimeSlotID: ts.ID, Datetime: ts.Datetime, VoteCount: len(votes)}
		for _, v := range votes {
			voters[v.UserID] = struct{}{}
			if v.UserID == principal.ID {
				row.UserVoted = true
			}
			if showVoters {
				row.Voters = append(row.Voters, s.userRef(ctx, v.UserID))
			}
		}
		row.CanVote = policy.CanAddVote(policy.VoteRequest{
			Principal: principal, Event: *event, TimeSlot: ts, HasVoted: row.UserVoted, Now: now,
		}).Allowed

		summary.TotalVotes += row.VoteCount
		if row.VoteCount > 0 && (summary.MostPopular == nil || row.VoteCount > summary.MostPopular.VoteCount) {
			summary.MostPopular = &PopularSlot{ID: ts.ID, Datetime: ts.Datetime, VoteCount: row.VoteCount}
		}
		summary.TimeSlots = append(summary.TimeSlots, row)
	}

	summary.Participation = Participation{
		TotalTimeSlots: len(slots),
		TotalVotes:     summary.TotalVotes,
		UniqueVoters:   len(voters),
	}
	if len(slots) > 0 {
		avg := float64(summary.TotalVotes) / float64(len(slots))
		summary.Participation.AvgVotesPerTimeSlot = math.Round(avg*100) / 100
	}
	return summary, nil
}
