package models

// User is the authenticated principal as seen by the realtime layer.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"-"`
}

// UserRef is the public shape of a user inside broadcast payloads. Email is
// never part of it.
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Ref returns the broadcast-safe reference for u.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}
