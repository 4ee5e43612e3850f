package tracking

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Emit while the transport is down.
var ErrNotConnected = errors.New("socket not connected")

// Socket is one authenticated bidirectional connection.
type Socket interface {
	// Events delivers inbound events. The channel is closed once the socket
	// has fully shut down.
	Events() <-chan Event
	// Emit sends a client event.
	Emit(event string, data any) error
	// Close disconnects and blocks until the socket's goroutines exit.
	Close() error
}

// Dialer opens sockets. Dial must not block on the network: connection
// progress is reported through Connected and ConnectError events.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (Socket, error)
}
