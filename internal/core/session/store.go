package session

import (
	"context"
	"errors"
)

// Sentinel errors for session operations.
var (
	ErrNoSession  = errors.New("no active session")
	ErrIncomplete = errors.New("session must carry both tokens and a user profile")
)

// Store owns the process-wide session. All mutation goes through it.
type Store interface {
	// Get returns a snapshot of the current session. The anonymous session
	// is returned when nobody is logged in.
	Get(ctx context.Context) (Session, error)
	// Replace swaps the whole session. Returns ErrIncomplete for a
	// half-populated session.
	Replace(ctx context.Context, s Session) error
	// UpdateTokens replaces the tokens and keeps the profile.
	// Returns ErrNoSession if there is no authenticated session.
	UpdateTokens(ctx context.Context, p TokenPair) error
	// UpdateProfile replaces the profile and keeps the tokens.
	// Returns ErrNoSession if there is no authenticated session.
	UpdateProfile(ctx context.Context, p Profile) error
	// Clear resets to the anonymous session.
	Clear(ctx context.Context) error
}
