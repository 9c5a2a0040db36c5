// Package postgres is the PostgreSQL implementation of the event store.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store keeps events, time slots, votes, tasks and users in PostgreSQL.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to the database at dataSourceName and checks the
// connection.
func Open(ctx context.Context, dataSourceName string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Msg("connected to PostgreSQL")
	return &Store{db: db, log: log}, nil
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps driver errors onto the storage sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, is_active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, is_active = EXCLUDED.is_active`,
		u.ID, u.Name, u.Email, u.IsActive)
	return translate(err)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, is_active FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.IsActive)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

const eventColumns = `id, slug, title, description, status, created_by, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	e := &models.Event{}
	if err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Description, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// CreateEvent stores a draft event with a slug derived from its title. A
// slug taken by a concurrent insert is retried with the next suffix.
func (s *Store) CreateEvent(ctx context.Context, title, description string, createdBy int64) (*models.Event, error) {
	taken := func(slug string) (bool, error) {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE slug = $1)`, slug).Scan(&exists)
		return exists, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		slug, err := storage.UniqueSlug(storage.Slugify(title), taken)
		if err != nil {
			return nil, fmt.Errorf("pick slug: %w", err)
		}
		event, err := scanEvent(s.db.QueryRowContext(ctx, `
			INSERT INTO events (slug, title, description, created_by) VALUES ($1, $2, $3, $4)
			RETURNING `+eventColumns, slug, title, description, createdBy))
		if errors.Is(err, storage.ErrConflict) {
			s.log.Debug().Str("slug", slug).Msg("slug taken concurrently, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return event, nil
	}
	return nil, fmt.Errorf("create event %q: %w", title, storage.ErrConflict)
}

func (s *Store) GetEvent(ctx context.Context, slug string) (*models.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE slug = $1`, slug))
}

// UpdateEvent writes the non-nil fields.
func (s *Store) UpdateEvent(ctx context.Context, slug string, title, description *string) (*models.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, `
		UPDATE events SET title = COALESCE($2, title), description = COALESCE($3, description), updated_at = NOW()
		WHERE slug = $1
		RETURNING `+eventColumns, slug, title, description))
}

func (s *Store) LockEvent(ctx context.Context, slug string) (*models.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, `
		UPDATE events SET status = $2, updated_at = NOW()
		WHERE slug = $1
		RETURNING `+eventColumns, slug, models.EventLocked))
}

func (s *Store) eventID(ctx context.Context, slug string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM events WHERE slug = $1`, slug).Scan(&id); err != nil {
		return 0, translate(err)
	}
	return id, nil
}

// ListTimeSlots returns the event's slots ordered by datetime.
func (s *Store) ListTimeSlots(ctx context.Context, slug string) ([]models.TimeSlot, error) {
	eventID, err := s.eventID(ctx, slug)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, datetime, created_at FROM timeslots WHERE event_id = $1 ORDER BY datetime`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}
	defer rows.Close()

	var slots []models.TimeSlot
	for rows.Next() {
		ts := models.TimeSlot{EventSlug: slug}
		if err := rows.Scan(&ts.ID, &ts.Datetime, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeslot: %w", err)
		}
		slots = append(slots, ts)
	}
	return slots, rows.Err()
}

func (s *Store) GetTimeSlot(ctx context.Context, slug string, id int64) (*models.TimeSlot, error) {
	ts := &models.TimeSlot{EventSlug: slug}
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.datetime, t.created_at
		FROM timeslots t JOIN events e ON e.id = t.event_id
		WHERE e.slug = $1 AND t.id = $2`, slug, id).Scan(&ts.ID, &ts.Datetime, &ts.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return ts, nil
}

// AddTimeSlot adds a candidate time. A second slot at the same instant for
// the same event is a conflict.
func (s *Store) AddTimeSlot(ctx context.Context, slug string, at time.Time) (*models.TimeSlot, error) {
	eventID, err := s.eventID(ctx, slug)
	if err != nil {
		return nil, err
	}
	ts := &models.TimeSlot{EventSlug: slug}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO timeslots (event_id, datetime) VALUES ($1, $2)
		RETURNING id, datetime, created_at`, eventID, at.UTC()).Scan(&ts.ID, &ts.Datetime, &ts.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return ts, nil
}

// RemoveTimeSlot deletes the slot. Its votes go with it.
func (s *Store) RemoveTimeSlot(ctx context.Context, slug string, id int64) (*models.TimeSlot, error) {
	ts := &models.TimeSlot{EventSlug: slug}
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM timeslots t USING events e
		WHERE e.id = t.event_id AND e.slug = $1 AND t.id = $2
		RETURNING t.id, t.datetime, t.created_at`, slug, id).Scan(&ts.ID, &ts.Datetime, &ts.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return ts, nil
}

// AddVote records the vote and returns the slot's new vote count. The
// insert and the count share a transaction.
func (s *Store) AddVote(ctx context.Context, userID, timeslotID int64) (*models.Vote, int, error) {
	return s.voteTx(ctx, userID, timeslotID, `
		INSERT INTO votes (user_id, timeslot_id) VALUES ($1, $2)
		RETURNING id, user_id, timeslot_id, created_at`)
}

// RemoveVote deletes the vote and returns the slot's new vote count.
func (s *Store) RemoveVote(ctx context.Context, userID, timeslotID int64) (*models.Vote, int, error) {
	return s.voteTx(ctx, userID, timeslotID, `
		DELETE FROM votes WHERE user_id = $1 AND timeslot_id = $2
		RETURNING id, user_id, timeslot_id, created_at`)
}

func (s *Store) voteTx(ctx context.Context, userID, timeslotID int64, query string) (*models.Vote, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v := &models.Vote{}
	if err := tx.QueryRowContext(ctx, query, userID, timeslotID).Scan(&v.ID, &v.UserID, &v.TimeSlotID, &v.CreatedAt); err != nil {
		return nil, 0, translate(err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE timeslot_id = $1`, timeslotID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count votes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	return v, count, nil
}

func (s *Store) CountVotes(ctx context.Context, timeslotID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE timeslot_id = $1`, timeslotID).Scan(&count)
	return count, err
}

func (s *Store) HasVoted(ctx context.Context, userID, timeslotID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM votes WHERE user_id = $1 AND timeslot_id = $2)`, userID, timeslotID).Scan(&exists)
	return exists, err
}

// ListVotes returns the votes on a slot, newest first.
func (s *Store) ListVotes(ctx context.Context, timeslotID int64) ([]models.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, timeslot_id, created_at FROM votes WHERE timeslot_id = $1 ORDER BY id DESC`, timeslotID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.UserID, &v.TimeSlotID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

const taskColumns = `t.id, t.title, t.status, t.assigned_to, t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }, slug string) (*models.Task, error) {
	t := &models.Task{EventSlug: slug}
	var assignee sql.NullInt64
	if err := row.Scan(&t.ID, &t.Title, &t.Status, &assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	if assignee.Valid {
		t.AssignedTo = &assignee.Int64
	}
	return t, nil
}

// ListTasks returns the event's tasks ordered by status then newest first.
func (s *Store) ListTasks(ctx context.Context, slug string) ([]models.Task, error) {
	eventID, err := s.eventID(ctx, slug)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t WHERE t.event_id = $1 ORDER BY t.status, t.id DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows, slug)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, slug string, id int64) (*models.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t JOIN events e ON e.id = t.event_id
		WHERE e.slug = $1 AND t.id = $2`, slug, id), slug)
}

// CreateTask adds a todo task to the event.
func (s *Store) CreateTask(ctx context.Context, slug, title string) (*models.Task, error) {
	eventID, err := s.eventID(ctx, slug)
	if err != nil {
		return nil, err
	}
	return scanTask(s.db.QueryRowContext(ctx, `
		INSERT INTO tasks AS t (event_id, title, status) VALUES ($1, $2, $3)
		RETURNING `+taskColumns, eventID, strings.TrimSpace(title), models.TaskTodo), slug)
}

// SaveTask writes title, status and assignee of an existing task.
func (s *Store) SaveTask(ctx context.Context, task models.Task) (*models.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks AS t SET title = $3, status = $4, assigned_to = $5, updated_at = NOW()
		FROM events e
		WHERE e.id = t.event_id AND e.slug = $1 AND t.id = $2
		RETURNING `+taskColumns, task.EventSlug, task.ID, task.Title, task.Status, task.AssignedTo), task.EventSlug)
}

func (s *Store) DeleteTask(ctx context.Context, slug string, id int64) (*models.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		DELETE FROM tasks AS t USING events e
		WHERE e.id = t.event_id AND e.slug = $1 AND t.id = $2
		RETURNING `+taskColumns, slug, id), slug)
}
