// Package notify holds the notification feed pushed by the backend event
// stream.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultMax is the number of notifications retained when no cap is configured.
const DefaultMax = 50

// Notification is a single server-pushed event.
type Notification struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// New creates a notification stamped with a fresh ID and receive time.
func New(typ, message string) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Type:       typ,
		Message:    message,
		ReceivedAt: time.Now(),
	}
}

// Store persists notification history across runs.
type Store interface {
	// Append records a notification, evicting the oldest beyond the cap.
	Append(ctx context.Context, n Notification) error
	// List returns up to limit notifications, newest first.
	// Limit of 0 returns all of them.
	List(ctx context.Context, limit int) ([]Notification, error)
	// Clear removes all notifications.
	Clear(ctx context.Context) error
}

// Toaster surfaces a notification to the user as a transient message.
type Toaster interface {
	Toast(n Notification)
}
