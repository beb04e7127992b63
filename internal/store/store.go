package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// User is a person who signed in with Google.
type User struct {
	ID        string
	GoogleID  string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Store is the persistence used by the HTTP server.
type Store interface {
	// GetOrCreateUser returns the user for googleID, creating it on first
	// sign-in. Email and name of an existing user are left unchanged.
	GetOrCreateUser(ctx context.Context, googleID, email, name string) (User, error)

	// UserByID returns ErrNotFound for unknown ids.
	UserByID(ctx context.Context, id string) (User, error)

	// OfficialOwnedBy reports whether officialID lives in a database owned by userID.
	OfficialOwnedBy(ctx context.Context, userID, officialID string) (bool, error)

	// MarkSent records that userID sent mail to officialID at the given time.
	// Repeated calls keep one row and move its timestamp.
	MarkSent(ctx context.Context, userID, officialID string, at time.Time) error

	// SentHistory returns the official ids userID has been marked as sent,
	// oldest first.
	SentHistory(ctx context.Context, userID string) ([]string, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close()
}
