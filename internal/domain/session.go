package domain

import "time"

// Session is the transient server-side login state referenced by the
// session cookie. It is never persisted through the relational store.
type Session struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is the caller view handed to page handlers.
type Identity struct {
	UserID uint
	Email  string
	Name   string
}

func (s *Session) Identity() *Identity {
	if s == nil {
		return nil
	}
	return &Identity{UserID: s.UserID, Email: s.UserEmail, Name: s.UserName}
}
