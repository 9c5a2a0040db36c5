package models

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft  EventStatus = "draft"
	EventLocked EventStatus = "locked"
)

// Event is a shared event whose time is decided by vote.
type Event struct {
	ID          int64       `json:"id"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      EventStatus `json:"status"`
	CreatedBy   int64       `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsLocked reports whether the final time slot has been chosen.
func (e Event) IsLocked() bool {
	return e.Status == EventLocked
}

// TimeSlot is a candidate time proposed for an event.
type TimeSlot struct {
	ID        int64     `json:"id"`
	EventSlug string    `json:"-"`
	Datetime  time.Time `json:"datetime"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote records that a user is available at a time slot.
type Vote struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	TimeSlotID int64     `json:"timeslot_id"`
	CreatedAt  time.Time `json:"created_at"`
}
