package store

import (
	"context"
	"errors"
)

var (
	// ErrEmailTaken is returned by CreateUser when the email is already
	// registered.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUnavailable wraps any session-store failure caused by the
	// key-value backend being unreachable. Callers that only care about
	// the degraded contract can ignore it; callers that need to tell
	// "empty" from "backend down" check it with errors.Is.
	ErrUnavailable = errors.New("session store unavailable")
)

// UserStore is the relational credential table.
type UserStore interface {
	// FindByEmail returns (nil, nil) when no such user exists.
	FindByEmail(email string) (*User, error)
	// CreateUser fails with ErrEmailTaken when the email is present.
	CreateUser(email, fullName, hashedPassword string) (*User, error)
}

// SessionStore holds chat metadata, message history and the per-user
// profile in the key-value backend. Every operation degrades to a safe
// value when the backend is down: empty slice, empty string, or a no-op
// write, with the error wrapping ErrUnavailable.
type SessionStore interface {
	CreateChat(ctx context.Context, userID, title string) (*ChatMetadata, error)
	ListChats(ctx context.Context, userID string) ([]ChatMetadata, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	// UpdateChatTitle is a silent no-op when the chat does not exist for
	// that user.
	UpdateChatTitle(ctx context.Context, userID, chatID, title string) error
	// GetHistory returns an empty slice for an unknown chat; unknown and
	// empty are indistinguishable by design.
	GetHistory(ctx context.Context, chatID string) ([]Message, error)
	// AppendMessage is not idempotent; retried calls append duplicates.
	AppendMessage(ctx context.Context, chatID, role, content string) error
	GetProfile(ctx context.Context, userID string) (string, error)
	// SetProfile overwrites; callers build the merged text themselves.
	SetProfile(ctx context.Context, userID, profile string) error
}
