// Package stream consumes the backend's server-sent notification feed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/core/session"
	"github.com/hay-kot/loadctl/pkg/backoff"
)

const readChunkSize = 4 << 10

// State is the lifecycle position of the stream client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Opener opens an authenticated long-lived response.
type Opener interface {
	Stream(ctx context.Context, endpoint string, opts api.Options) (io.ReadCloser, error)
}

// Config configures a Client.
type Config struct {
	URL     string
	Backoff backoff.Policy
	Mute    notify.MuteFilter
}

// payload is the JSON body of a notification record.
type payload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client keeps one event stream open, reconnecting with capped exponential
// backoff until closed.
type Client struct {
	opener   Opener
	sessions session.Store
	feed     *notify.Feed
	history  notify.Store
	toaster  notify.Toaster
	url      string
	policy   backoff.Policy
	log      zerolog.Logger

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error

	decoder Decoder
	attempt int

	mu      sync.Mutex
	state   State
	closed  bool
	cancel  context.CancelFunc
	body    io.ReadCloser
	mute    notify.MuteFilter
	onState func(State)
}

// New creates a stream client that pushes events onto feed.
func New(cfg Config, opener Opener, sessions session.Store, feed *notify.Feed, log zerolog.Logger) *Client {
	return &Client{
		opener:   opener,
		sessions: sessions,
		feed:     feed,
		url:      cfg.URL,
		policy:   cfg.Backoff,
		mute:     cfg.Mute,
		log:      log,
		wait:     sleep,
	}
}

// WithHistory persists every received notification to store.
func (c *Client) WithHistory(store notify.Store) *Client {
	c.history = store
	return c
}

// WithToaster surfaces unmuted notifications through t.
func (c *Client) WithToaster(t notify.Toaster) *Client {
	c.toaster = t
	return c
}

// OnStateChange registers fn to be called on every state transition. fn must
// not block.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mute returns the active mute filter.
func (c *Client) Mute() notify.MuteFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mute
}

// SetMute replaces the mute filter.
func (c *Client) SetMute(f notify.MuteFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mute = f
}

// Run streams until Close is called or ctx is done. It returns nil when there
// is no access token to connect with, and api.ErrSessionExpired when the
// session is lost while connecting. Transport failures are retried forever.
func (c *Client) Run(ctx context.Context) error {
	sess, err := c.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.AccessToken == "" {
		c.log.Debug().Msg("no access token, stream stays idle")
		c.setState(StateIdle)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.setState(StateClosed)
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	for {
		if c.isClosed() || ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		c.setState(StateConnecting)
		body, err := c.opener.Stream(ctx, c.url, api.Options{
			Headers: map[string]string{
				"Accept":        "text/event-stream",
				"Cache-Control": "no-cache",
			},
		})

		switch {
		case errors.Is(err, api.ErrSessionExpired):
			c.log.Warn().Err(err).Msg("event stream lost its session")
			c.Close()
			c.setState(StateClosed)
			return err
		case err != nil:
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Int("attempt", c.attempt).Msg("event stream connect failed")
			}
		default:
			if !c.attach(body) {
				_ = body.Close()
				c.setState(StateClosed)
				return nil
			}
			c.setState(StateStreaming)
			c.consume(ctx, body)
			c.detach()
		}

		if c.isClosed() || ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		c.setState(StateReconnecting)
		delay := c.policy.Delay(c.attempt)
		c.attempt++
		c.log.Debug().Dur("delay", delay).Int("attempt", c.attempt).Msg("event stream reconnecting")

		if err := c.wait(ctx, delay); err != nil {
			c.setState(StateClosed)
			return nil
		}
	}
}

// Close stops the stream and suppresses further reconnects. It is safe to
// call more than once and from any goroutine.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
}

// consume reads body until it ends, decoding and dispatching every record.
func (c *Client) consume(ctx context.Context, body io.Reader) {
	c.decoder.Reset()
	chunk := make([]byte, readChunkSize)

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			c.attempt = 0
			if werr := c.decoder.Write(chunk[:n]); werr != nil {
				c.log.Warn().Err(werr).Msg("dropping oversized event record")
			}
			for {
				rec, ok := c.decoder.Next()
				if !ok {
					break
				}
				c.dispatch(ctx, rec)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !c.isClosed() {
				c.log.Warn().Err(err).Msg("event stream read failed")
			}
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, rec Record) {
	var p payload
	if err := json.Unmarshal([]byte(rec.Data), &p); err != nil {
		c.log.Warn().Err(err).Str("data", rec.Data).Msg("skipping malformed event")
		return
	}
	if p.Type == "" {
		p.Type = rec.Event
	}

	n := notify.New(p.Type, p.Message)
	c.feed.Push(n)

	if c.history != nil {
		if err := c.history.Append(ctx, n); err != nil {
			c.log.Warn().Err(err).Msg("persist notification")
		}
	}

	if c.toaster != nil && !c.Mute().Muted(n) {
		c.toaster.Toast(n)
	}
}

func (c *Client) attach(body io.ReadCloser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.body = body
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	fn := c.onState
	c.mu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
