// Package jsonfile provides JSON file-based stores for the session and the
// notification history.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hay-kot/loadctl/internal/core/session"
)

// SessionFile is the root JSON structure stored on disk.
type SessionFile struct {
	Session session.Session `json:"session"`
}

// SessionStore implements session.Store using a JSON file for persistence.
// The file holds credentials and is written with mode 0600.
type SessionStore struct {
	path string
	mu   sync.RWMutex
}

// NewSessionStore creates a new JSON file session store at the given path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Get returns a snapshot of the stored session.
func (s *SessionStore) Get(ctx context.Context) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess session.Session
	err := withSharedLock(s.path, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}
		sess = file.Session
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}

	return sess.Clone(), nil
}

// Replace swaps the whole session. Half-populated sessions are rejected.
func (s *SessionStore) Replace(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return withExclusiveLock(s.path, func() error {
		return s.save(SessionFile{Session: sess.Clone()})
	})
}

// UpdateTokens replaces the tokens of the current session, keeping the profile.
func (s *SessionStore) UpdateTokens(ctx context.Context, p session.TokenPair) error {
	if !p.Valid() {
		return session.ErrIncomplete
	}

	return s.update(func(cur session.Session) (session.Session, error) {
		return cur.WithTokens(p), nil
	})
}

// UpdateProfile replaces the profile of the current session, keeping the tokens.
func (s *SessionStore) UpdateProfile(ctx context.Context, p session.Profile) error {
	return s.update(func(cur session.Session) (session.Session, error) {
		cur.User = &p
		return cur, nil
	})
}

// Clear resets the store to the anonymous session.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withExclusiveLock(s.path, func() error {
		return s.save(SessionFile{})
	})
}

// update applies fn to the authenticated session under the write locks.
func (s *SessionStore) update(fn func(session.Session) (session.Session, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withExclusiveLock(s.path, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}
		if !file.Session.Authenticated() {
			return session.ErrNoSession
		}

		next, err := fn(file.Session)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		return s.save(SessionFile{Session: next})
	})
}

// load reads the session file from disk.
// A missing, empty or half-populated file yields the anonymous session.
func (s *SessionStore) load() (SessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionFile{}, nil
		}
		return SessionFile{}, fmt.Errorf("read session file: %w", err)
	}

	if len(data) == 0 {
		return SessionFile{}, nil
	}

	var file SessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return SessionFile{}, nil
	}

	if file.Session.Validate() != nil {
		return SessionFile{}, nil
	}

	return file, nil
}

// save writes the session file to disk atomically.
// Uses write-to-temp-then-rename to prevent corruption from interrupted writes.
func (s *SessionStore) save(file SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return writeAtomic(s.path, data, 0o600)
}
