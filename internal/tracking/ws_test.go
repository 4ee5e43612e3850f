package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/loadctl/internal/store/jsonfile"
	"github.com/hay-kot/loadctl/pkg/backoff"
)

// socketServer is a fake tracking backend. Every frame received from a client
// is forwarded on frames; send pushes a raw message to the current client.
type socketServer struct {
	srv     *httptest.Server
	frames  chan Frame
	send    chan string
	conns   atomic.Int32
	drop    atomic.Bool
	headers chan http.Header
	queries chan string
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()

	s := &socketServer{
		frames:  make(chan Frame, 16),
		send:    make(chan string, 16),
		headers: make(chan http.Header, 4),
		queries: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		s.conns.Add(1)
		s.headers <- r.Header.Clone()
		s.queries <- r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var f Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				s.frames <- f
			}
		}()

		for {
			select {
			case msg := <-s.send:
				if s.drop.Load() {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *socketServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *socketServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestWSDialer_Authenticates(t *testing.T) {
	s := newSocketServer(t)
	d := NewWSDialer(WSConfig{URL: s.url(), Backoff: backoff.Default()}, zerolog.New(io.Discard))

	sock, err := d.Dial(context.Background(), "tok-1")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()

	select {
	case ev := <-sock.Events():
		assert.Equal(t, Connected{}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("not connected")
	}

	assert.Equal(t, "Bearer tok-1", (<-s.headers).Get("Authorization"))
	assert.Equal(t, "tok-1", <-s.queries)
}

func TestWSDialer_RejectsHTTPURL(t *testing.T) {
	d := NewWSDialer(WSConfig{URL: "http://localhost:1"}, zerolog.New(io.Discard))
	_, err := d.Dial(context.Background(), "tok")
	assert.Error(t, err)
}

func TestWSDialer_EmitAndReceive(t *testing.T) {
	s := newSocketServer(t)
	d := NewWSDialer(WSConfig{URL: s.url(), Backoff: backoff.Default()}, zerolog.New(io.Discard))

	sock, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()
	require.Equal(t, Connected{}, <-sock.Events())

	require.NoError(t, sock.Emit(EventJoin, roomPayload{CompanyID: "c1"}))
	f := s.nextFrame(t)
	assert.Equal(t, EventJoin, f.Event)
	assert.JSONEq(t, `{"companyId":"c1"}`, string(f.Data))

	s.send <- `{"event":"unknown","data":{}}`
	s.send <- `{"event":"driver:update","data":{"driverId":"d1","lat":"bad","lng":1}}`
	s.send <- `{"event":"driver:update","data":{"driverId":"d1","lat":1.5,"lng":2.5}}`

	select {
	case ev := <-sock.Events():
		u, ok := ev.(DriverUpdate)
		require.True(t, ok, "invalid frames are dropped before delivery, got %T", ev)
		assert.Equal(t, "d1", u.DriverID)
		assert.Equal(t, 1.5, u.Position.Lat)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestWSDialer_CloseEndsEvents(t *testing.T) {
	s := newSocketServer(t)
	d := NewWSDialer(WSConfig{URL: s.url(), Reconnect: true, Backoff: backoff.Default()}, zerolog.New(io.Discard))

	sock, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, Connected{}, <-sock.Events())

	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())

	_, open := <-sock.Events()
	assert.False(t, open)
	assert.ErrorIs(t, sock.Emit(EventLeave, nil), ErrNotConnected)
}

func TestWSDialer_Reconnects(t *testing.T) {
	s := newSocketServer(t)
	d := NewWSDialer(WSConfig{
		URL:       s.url(),
		Reconnect: true,
		Backoff:   backoff.Policy{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}, zerolog.New(io.Discard))

	sock, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()
	require.Equal(t, Connected{}, <-sock.Events())

	// Server drops the connection.
	s.drop.Store(true)
	s.send <- "bye"

	var sawError bool
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sock.Events():
			switch ev.(type) {
			case ConnectError:
				sawError = true
				s.drop.Store(false)
			case Connected:
				assert.True(t, sawError)
				assert.Equal(t, int32(2), s.conns.Load())
				return
			}
		case <-timeout:
			t.Fatal("socket did not reconnect")
		}
	}
}

func TestWSDialer_NoReconnectWhenDisabled(t *testing.T) {
	s := newSocketServer(t)
	d := NewWSDialer(WSConfig{URL: s.url(), Reconnect: false, Backoff: backoff.Default()}, zerolog.New(io.Discard))

	sock, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, Connected{}, <-sock.Events())

	s.drop.Store(true)
	s.send <- "bye"

	ev := <-sock.Events()
	assert.IsType(t, ConnectError{}, ev)

	_, open := <-sock.Events()
	assert.False(t, open, "events close once the transport gives up")
	require.NoError(t, sock.Close())
}

func TestTracker_OverWebsocket(t *testing.T) {
	s := newSocketServer(t)

	store := jsonfile.NewSessionStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, store.Replace(context.Background(), dispatcher()))

	positions := NewPositionStore()
	updates, cancel := positions.Subscribe(4)
	defer cancel()

	d := NewWSDialer(WSConfig{URL: s.url(), Reconnect: true, Backoff: backoff.Default()}, zerolog.New(io.Discard))
	tracker := NewTracker(d, store, positions, zerolog.New(io.Discard))

	require.NoError(t, tracker.Select(context.Background(), KindDriver, "d1"))

	join := s.nextFrame(t)
	assert.Equal(t, EventJoin, join.Event)

	payload, err := json.Marshal(map[string]any{"driverId": "d1", "lat": 40.7, "lng": -74.0})
	require.NoError(t, err)
	s.send <- `{"event":"driver:update","data":` + string(payload) + `}`

	select {
	case u := <-updates:
		assert.Equal(t, "d1", u.ID)
		assert.Equal(t, 40.7, u.Position.Lat)
	case <-time.After(2 * time.Second):
		t.Fatal("no position update")
	}

	tracker.Close()
	leave := s.nextFrame(t)
	assert.Equal(t, EventLeave, leave.Event)
	assert.JSONEq(t, `{"companyId":"c1"}`, string(leave.Data))
}
