package tokenmeta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// HashLength is the number of hex characters kept from the token hash.
const HashLength = 8

// ErrNotFound is returned when no record exists for the user.
var ErrNotFound = errors.New("token meta not found")

// Meta is the fingerprint of a user's current provider token.
type Meta struct {
	UserID    string    `json:"uid"`
	TokenHash string    `json:"tokenHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Email     string    `json:"email"`
}

// HashToken returns the short fingerprint of an access token. An empty token
// has an empty fingerprint.
func HashToken(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// New builds the record for a freshly acquired token.
func New(userID, email, accessToken string, expiresAt, now time.Time) Meta {
	return Meta{
		UserID:    userID,
		TokenHash: HashToken(accessToken),
		ExpiresAt: expiresAt.UTC(),
		UpdatedAt: now.UTC(),
		Email:     email,
	}
}

// RenewedWithin reports whether the token was renewed less than window ago.
func (m Meta) RenewedWithin(now time.Time, window time.Duration) bool {
	if m.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(m.UpdatedAt) < window
}

// Validate reports whether m can be stored.
func (m Meta) Validate() error {
	if m.UserID == "" {
		return errors.New("token meta: uid is required")
	}
	if len(m.TokenHash) > HashLength {
		return errors.New("token meta: token hash is too long")
	}
	return nil
}

// Store persists Meta records keyed by user id.
type Store interface {
	Get(ctx context.Context, userID string) (Meta, error)
	Put(ctx context.Context, m Meta) error
	Delete(ctx context.Context, userID string) error
}
