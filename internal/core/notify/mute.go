package notify

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// MuteFilter decides which notifications are kept silent. Muted
// notifications are still recorded, they just don't toast.
type MuteFilter struct {
	All      bool
	Patterns []string // glob patterns matched against Notification.Type
}

// Muted returns true if n should not be surfaced as a toast.
func (m MuteFilter) Muted(n Notification) bool {
	if m.All {
		return true
	}
	for _, p := range m.Patterns {
		if ok, err := doublestar.Match(p, n.Type); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePattern checks a single mute pattern for glob syntax errors.
func ValidatePattern(p string) error {
	if !doublestar.ValidatePattern(p) {
		return fmt.Errorf("invalid glob pattern %q", p)
	}
	return nil
}
