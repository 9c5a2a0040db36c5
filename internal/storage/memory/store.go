package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

type voteKey struct {
	userID     int64
	timeslotID int64
}

// Store keeps events, time slots, votes, tasks and users in memory.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	nextID    int64
	users     map[int64]models.User
	events    map[string]*models.Event
	timeslots map[int64]*models.TimeSlot
	votes     map[voteKey]*models.Vote
	tasks     map[int64]*models.Task
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[int64]models.User),
		events:    make(map[string]*models.Event),
		timeslots: make(map[int64]*models.TimeSlot),
		votes:     make(map[voteKey]*models.Vote),
		tasks:     make(map[int64]*models.Task),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

// CreateEvent stores a draft event with a slug derived from its title.
func (s *Store) CreateEvent(_ context.Context, title, description string, createdBy int64) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug, _ := storage.UniqueSlug(storage.Slugify(title), func(candidate string) (bool, error) {
		_, ok := s.events[candidate]
		return ok, nil
	})
	now := s.now()
	event := &models.Event{
		ID:          s.id(),
		Slug:        slug,
		Title:       title,
		Description: description,
		Status:      models.EventDraft,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.events[slug] = event
	out := *event
	return &out, nil
}

func (s *Store) GetEvent(_ context.Context, slug string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *event
	return &out, nil
}

// UpdateEvent changes the title and/or description. Nil fields are left alone.
func (s *Store) UpdateEvent(_ context.Context, slug string, title, description *string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if title != nil {
		event.Title = *title
	}
	if description != nil {
		event.Description = *description
	}
	event.UpdatedAt = s.now()
	out := *event
	return &out, nil
}

// LockEvent moves the event to the locked status.
func (s *Store) LockEvent(_ context.Context, slug string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	event.Status = models.EventLocked
	event.UpdatedAt = s.now()
	out := *event
	return &out, nil
}

// ListTimeSlots returns the event's slots ordered by datetime.
func (s *Store) ListTimeSlots(_ context.Context, slug string) ([]models.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[slug]; !ok {
		return nil, storage.ErrNotFound
	}
	var out []models.TimeSlot
	for _, ts := range s.timeslots {
		if ts.EventSlug == slug {
			out = append(out, *ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out, nil
}

func (s *Store) GetTimeSlot(_ context.Context, slug string, id int64) (*models.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.timeslots[id]
	if !ok || ts.EventSlug != slug {
		return nil, storage.ErrNotFound
	}
	out := *ts
	return &out, nil
}

// AddTimeSlot adds a candidate time. A second slot at the same instant for
// the same event is a conflict.
func (s *Store) AddTimeSlot(_ context.Context, slug string, at time.Time) (*models.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[slug]; !ok {
		return nil, storage.ErrNotFound
	}
	for _, ts := range s.timeslots {
		if ts.EventSlug == slug && ts.Datetime.Equal(at) {
			return nil, storage.ErrConflict
		}
	}
	ts := &models.TimeSlot{ID: s.id(), EventSlug: slug, Datetime: at.UTC(), CreatedAt: s.now()}
	s.timeslots[ts.ID] = ts
	out := *ts
	return &out, nil
}

// RemoveTimeSlot deletes the slot and every vote cast on it.
func (s *Store) RemoveTimeSlot(_ context.Context, slug string, id int64) (*models.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.timeslots[id]
	if !ok || ts.EventSlug != slug {
		return nil, storage.ErrNotFound
	}
	delete(s.timeslots, id)
	for key := range s.votes {
		if key.timeslotID == id {
			delete(s.votes, key)
		}
	}
	return ts, nil
}

func (s *Store) countLocked(timeslotID int64) int {
	n := 0
	for key := range s.votes {
		if key.timeslotID == timeslotID {
			n++
		}
	}
	return n
}

// AddVote records the vote and returns the slot's new vote count.
func (s *Store) AddVote(_ context.Context, userID, timeslotID int64) (*models.Vote, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timeslots[timeslotID]; !ok {
		return nil, 0, storage.ErrNotFound
	}
	key := voteKey{userID: userID, timeslotID: timeslotID}
	if _, ok := s.votes[key]; ok {
		return nil, 0, storage.ErrConflict
	}
	vote := &models.Vote{ID: s.id(), UserID: userID, TimeSlotID: timeslotID, CreatedAt: s.now()}
	s.votes[key] = vote
	out := *vote
	return &out, s.countLocked(timeslotID), nil
}

// RemoveVote deletes the vote and returns the slot's new vote count.
func (s *Store) RemoveVote(_ context.Context, userID, timeslotID int64) (*models.Vote, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey{userID: userID, timeslotID: timeslotID}
	vote, ok := s.votes[key]
	if !ok {
		return nil, 0, storage.ErrNotFound
	}
	delete(s.votes, key)
	return vote, s.countLocked(timeslotID), nil
}

func (s *Store) CountVotes(_ context.Context, timeslotID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(timeslotID), nil
}

func (s *Store) HasVoted(_ context.Context, userID, timeslotID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.votes[voteKey{userID: userID, timeslotID: timeslotID}]
	return ok, nil
}

// ListVotes returns the votes on a slot, newest first.
func (s *Store) ListVotes(_ context.Context, timeslotID int64) ([]models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Vote
	for key, vote := range s.votes {
		if key.timeslotID == timeslotID {
			out = append(out, *vote)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ListTasks returns the event's tasks ordered by status then newest first.
func (s *Store) ListTasks(_ context.Context, slug string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[slug]; !ok {
		return nil, storage.ErrNotFound
	}
	var out []models.Task
	for _, task := range s.tasks {
		if task.EventSlug == slug {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) GetTask(_ context.Context, slug string, id int64) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok || task.EventSlug != slug {
		return nil, storage.ErrNotFound
	}
	out := *task
	return &out, nil
}

// CreateTask adds a todo task to the event.
func (s *Store) CreateTask(_ context.Context, slug, title string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[slug]; !ok {
		return nil, storage.ErrNotFound
	}
	now := s.now()
	task := &models.Task{
		ID:        s.id(),
		EventSlug: slug,
		Title:     strings.TrimSpace(title),
		Status:    models.TaskTodo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	out := *task
	return &out, nil
}

// SaveTask writes title, status and assignee of an existing task.
func (s *Store) SaveTask(_ context.Context, task models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[task.ID]
	if !ok || current.EventSlug != task.EventSlug {
		return nil, storage.ErrNotFound
	}
	current.Title = task.Title
	current.Status = task.Status
	current.AssignedTo = task.AssignedTo
	current.UpdatedAt = s.now()
	out := *current
	return &out, nil
}

func (s *Store) DeleteTask(_ context.Context, slug string, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.EventSlug != slug {
		return nil, storage.ErrNotFound
	}
	delete(s.tasks, id)
	return task, nil
}
