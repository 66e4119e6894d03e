package sessionstore

import (
	"errors"

	"igcrawl/pkg/session"
)

// Store persists session bundles keyed by username. The session context
// never touches persistence itself; callers pick a store and hand bundles
// across.
type Store interface {
	Store(bundle *session.Bundle) error
	Retrieve(username string) (*session.Bundle, error)
	Delete(username string) error
}

var (
	// ErrNotFound means no bundle is stored for the username.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidBundle means the bundle is nil or carries no username.
	ErrInvalidBundle = errors.New("invalid session bundle")
)
