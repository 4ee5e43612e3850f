package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hay-kot/loadctl/internal/core/notify"
)

// NotificationFile is the root JSON structure for the notification history.
type NotificationFile struct {
	Notifications []notify.Notification `json:"notifications"` // newest first
	UpdatedAt     time.Time             `json:"updated_at"`
}

// NotificationStore implements notify.Store using a single JSON file.
type NotificationStore struct {
	path string
	max  int
	mu   sync.RWMutex
}

// NewNotificationStore creates a notification history at path.
func NewNotificationStore(path string) *NotificationStore {
	return &NotificationStore{
		path: path,
		max:  notify.DefaultMax,
	}
}

// WithMax sets the maximum number of notifications to retain.
func (s *NotificationStore) WithMax(max int) *NotificationStore {
	if max > 0 {
		s.max = max
	}
	return s
}

// Append records n at the front of the history and enforces the retention limit.
func (s *NotificationStore) Append(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withExclusiveLock(s.path, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}

		if n.ReceivedAt.IsZero() {
			n.ReceivedAt = time.Now()
		}

		file.Notifications = append([]notify.Notification{n}, file.Notifications...)
		if len(file.Notifications) > s.max {
			file.Notifications = file.Notifications[:s.max]
		}
		file.UpdatedAt = time.Now()

		return s.save(file)
	})
}

// List returns up to limit notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, limit int) ([]notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notify.Notification
	err := withSharedLock(s.path, func() error {
		file, err := s.load()
		if err != nil {
			return err
		}
		out = file.Notifications
		return nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear removes all notifications.
func (s *NotificationStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withExclusiveLock(s.path, func() error {
		return s.save(NotificationFile{UpdatedAt: time.Now()})
	})
}

// load reads the history from disk. Returns an empty file if it doesn't exist.
func (s *NotificationStore) load() (NotificationFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NotificationFile{}, nil
		}
		return NotificationFile{}, fmt.Errorf("read notifications file: %w", err)
	}

	if len(data) == 0 {
		return NotificationFile{}, nil
	}

	var file NotificationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return NotificationFile{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return file, nil
}

// save writes the history to disk atomically.
func (s *NotificationStore) save(file NotificationFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create notifications directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	return writeAtomic(s.path, data, 0o644)
}
