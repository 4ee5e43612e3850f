package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/loadctl/pkg/backoff"
)

const (
	pingPeriod   = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 5 * time.Second
	eventsBuffer = 16
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL       string
	Reconnect bool
	Backoff   backoff.Policy
}

// WSDialer opens gorilla websocket connections authenticated with the access
// token, both as a bearer header and as a token query parameter.
type WSDialer struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewWSDialer creates a dialer for cfg.URL.
func NewWSDialer(cfg WSConfig, log zerolog.Logger) *WSDialer {
	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		log: log,
	}
}

// Dial starts a socket in the background. The socket outlives ctx's
// cancellation and stops only on Close.
func (d *WSDialer) Dial(ctx context.Context, accessToken string) (Socket, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("socket url must use ws or wss, got %q", u.Scheme)
	}

	q := u.Query()
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &wsSocket{
		url:       u.String(),
		header:    http.Header{"Authorization": []string{"Bearer " + accessToken}},
		dialer:    d.dialer,
		reconnect: d.cfg.Reconnect,
		policy:    d.cfg.Backoff,
		log:       d.log,
		events:    make(chan Event, eventsBuffer),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go s.run(ctx)
	return s, nil
}

type wsSocket struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	reconnect bool
	policy    backoff.Policy
	log       zerolog.Logger

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex // guards conn
	writeMu sync.Mutex // gorilla allows one concurrent writer
	conn    *websocket.Conn

	closeOnce sync.Once
}

func (s *wsSocket) Events() <-chan Event {
	return s.events
}

func (s *wsSocket) Emit(event string, data any) error {
	frame, err := NewFrame(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})

	<-s.done
	return nil
}

func (s *wsSocket) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	attempt := 0
	for {
		conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if resp != nil {
				err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			s.emit(ctx, ConnectError{Err: err})
		} else {
			attempt = 0
			if !s.attach(ctx, conn) {
				_ = conn.Close()
				return
			}

			s.emit(ctx, Connected{})
			err = s.read(ctx, conn)
			s.detach()

			if ctx.Err() != nil {
				return
			}
			s.emit(ctx, ConnectError{Err: err})
		}

		if !s.reconnect {
			return
		}

		delay := s.policy.Delay(attempt)
		attempt++
		s.log.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("socket reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *wsSocket) read(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.ping(conn, stop)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the connection")
			}
			return err
		}

		ev, err := Decode(msg)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping socket message")
			continue
		}
		if !s.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (s *wsSocket) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Msg("socket ping failed")
				return
			}
		}
	}
}

// emit delivers ev unless the socket is shutting down.
func (s *wsSocket) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *wsSocket) attach(ctx context.Context, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *wsSocket) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
