// Package api is the authenticated REST client for the logistics backend.
//
// Every call runs through a small state machine:
//
//	Sending -> Success
//	Sending -> NeedsRefresh -> Refreshing -> Retrying -> Success
//	                                   \-> Fail        \-> Fail
//
// A call performs at most one refresh and one retry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hay-kot/loadctl/internal/core/session"
)

// maxErrorBody bounds how much of a failed streaming response is read.
const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	BaseURL     string
	RefreshPath string
	Timeout     time.Duration // per non-streaming request, 0 disables
}

// Options describe a single request.
type Options struct {
	Method  string // defaults to GET
	Body    any    // JSON-encoded when non-nil
	Headers map[string]string
	Query   map[string]string
}

// Credentials are the tokens a call authenticates with. Both are optional.
type Credentials struct {
	AccessToken  string
	RefreshToken string

	// stored marks credentials read from the client's session store.
	// Refreshes of stored credentials are committed back to the store.
	stored bool
}

// CredentialsFrom returns the credentials carried by a session.
func CredentialsFrom(s session.Session) Credentials {
	return Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// Client issues authenticated requests and transparently refreshes expired
// access tokens.
type Client struct {
	http      *resty.Client
	sessions  session.Store
	refresher Refresher
	timeout   time.Duration
	log       zerolog.Logger
	group     singleflight.Group
}

// New creates a Client. Refreshed tokens are committed to sessions.
func New(cfg Config, sessions session.Store, log zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{log: log})

	return &Client{
		http:      httpClient,
		sessions:  sessions,
		refresher: NewRefreshCoordinator(httpClient, cfg.RefreshPath, log.With().Str("component", "refresh").Logger()),
		timeout:   cfg.Timeout,
		log:       log,
	}
}

// WithRefresher replaces the refresh coordinator.
func (c *Client) WithRefresher(r Refresher) *Client {
	c.refresher = r
	return c
}

// Sessions returns the session store the client commits to.
func (c *Client) Sessions() session.Store {
	return c.sessions
}

// Do performs a request with the credentials of the stored session.
func (c *Client) Do(ctx context.Context, endpoint string, opts Options, out any) error {
	creds, err := c.loadCredentials(ctx)
	if err != nil {
		return err
	}
	return c.Call(ctx, endpoint, opts, creds, out)
}

func (c *Client) loadCredentials(ctx context.Context) (Credentials, error) {
	sess, err := c.sessions.Get(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("load session: %w", err)
	}
	return storedCredentials(sess), nil
}

func storedCredentials(s session.Session) Credentials {
	creds := CredentialsFrom(s)
	creds.stored = true
	return creds
}

// Call performs a request with explicit credentials and decodes a 2xx JSON
// body into out. out may be nil.
//
// A 401 on a call without an access token is a plain *RequestError. Explicit
// creds are refreshed on their own: the new pair is used for the retry and
// never written to the session store.
func (c *Client) Call(ctx context.Context, endpoint string, opts Options, creds Credentials, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	rep, err := c.run(ctx, endpoint, creds, func(ctx context.Context, access string) (reply, error) {
		resp, err := c.request(ctx, opts, access).Execute(method(opts), normalizeEndpoint(endpoint))
		if err != nil {
			return reply{}, err
		}
		return reply{status: resp.StatusCode(), body: resp.Body()}, nil
	})
	if err != nil {
		return err
	}

	if out == nil || len(rep.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(rep.body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Stream opens a long-lived response with the stored session's credentials.
// No timeout is applied. The caller closes the returned body.
func (c *Client) Stream(ctx context.Context, endpoint string, opts Options) (io.ReadCloser, error) {
	creds, err := c.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	rep, err := c.run(ctx, endpoint, creds, func(ctx context.Context, access string) (reply, error) {
		resp, err := c.request(ctx, opts, access).
			SetDoNotParseResponse(true).
			Execute(method(opts), normalizeEndpoint(endpoint))
		if err != nil {
			return reply{}, err
		}

		raw := resp.RawBody()
		if resp.IsSuccess() {
			if raw == nil {
				return reply{}, errors.New("response has no body")
			}
			return reply{status: resp.StatusCode(), stream: raw}, nil
		}

		var body []byte
		if raw != nil {
			body, _ = io.ReadAll(io.LimitReader(raw, maxErrorBody))
			_ = raw.Close()
		}
		return reply{status: resp.StatusCode(), body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	return rep.stream, nil
}

type state int

const (
	stateSending state = iota
	stateNeedsRefresh
	stateRefreshing
	stateRetrying
	stateSuccess
	stateFail
)

func (s state) String() string {
	switch s {
	case stateSending:
		return "sending"
	case stateNeedsRefresh:
		return "needs_refresh"
	case stateRefreshing:
		return "refreshing"
	case stateRetrying:
		return "retrying"
	case stateSuccess:
		return "success"
	case stateFail:
		return "fail"
	default:
		return "unknown"
	}
}

// reply is the transport-neutral result of one attempt. stream is set only
// for successful streaming requests.
type reply struct {
	status int
	body   []byte
	stream io.ReadCloser
}

type sendFunc func(ctx context.Context, accessToken string) (reply, error)

func (c *Client) run(ctx context.Context, endpoint string, creds Credentials, send sendFunc) (reply, error) {
	var (
		st     = stateSending
		access = creds.AccessToken
		rep    reply
		err    error
	)

	for st != stateSuccess && st != stateFail {
		c.log.Trace().Str("endpoint", endpoint).Stringer("state", st).Msg("request state")

		switch st {
		case stateSending, stateRetrying:
			rep, err = send(ctx, access)
			switch {
			case err != nil:
				err = fmt.Errorf("%s: %w", endpoint, err)
				st = stateFail
			case rep.status >= 200 && rep.status < 300:
				st = stateSuccess
			case rep.status == http.StatusUnauthorized && st == stateSending && creds.AccessToken != "":
				st = stateNeedsRefresh
			case rep.status == http.StatusUnauthorized:
				err = fmt.Errorf("%w: %w", ErrSessionExpired, newRequestError(rep))
				st = stateFail
			default:
				err = newRequestError(rep)
				st = stateFail
			}

		case stateNeedsRefresh:
			if creds.RefreshToken == "" {
				err = ErrSessionExpired
				st = stateFail
				break
			}
			st = stateRefreshing

		case stateRefreshing:
			pair, ok := c.refresh(ctx, creds)
			if !ok {
				err = ErrSessionExpired
				st = stateFail
				break
			}
			access = pair.AccessToken
			st = stateRetrying
		}
	}

	if st == stateFail {
		return reply{}, err
	}
	return rep, nil
}

type refreshResult struct {
	pair session.TokenPair
	ok   bool
}

// refresh exchanges the refresh token of creds. Concurrent calls holding the
// same refresh token share a single exchange. Only stored credentials adopt
// a pair rotated in the store and commit the new pair.
func (c *Client) refresh(ctx context.Context, creds Credentials) (session.TokenPair, bool) {
	key := "explicit:" + creds.RefreshToken
	if creds.stored {
		key = "stored:" + creds.RefreshToken
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		// Outlives cancellation of whichever caller started it.
		ctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		if creds.stored {
			// Another call may have rotated the pair while this one was in flight.
			if rotated, ok := c.rotatedTokens(ctx, creds.RefreshToken); ok {
				return refreshResult{pair: rotated, ok: true}, nil
			}
		}

		pair, ok := c.refresher.Refresh(ctx, creds.RefreshToken)
		if !ok {
			return refreshResult{}, nil
		}

		if creds.stored {
			if err := c.sessions.UpdateTokens(ctx, pair); err != nil {
				c.log.Warn().Err(err).Msg("commit refreshed tokens")
			}
		}
		return refreshResult{pair: pair, ok: true}, nil
	})

	res := v.(refreshResult)
	return res.pair, res.ok
}

func (c *Client) rotatedTokens(ctx context.Context, refreshToken string) (session.TokenPair, bool) {
	sess, err := c.sessions.Get(ctx)
	if err != nil || !sess.Authenticated() {
		return session.TokenPair{}, false
	}
	if sess.RefreshToken == refreshToken {
		return session.TokenPair{}, false
	}
	return sess.Tokens(), true
}

func (c *Client) request(ctx context.Context, opts Options, access string) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", newRequestID())

	if access != "" {
		req.SetAuthToken(access)
	}
	if opts.Body != nil {
		req.SetBody(opts.Body)
	}
	if len(opts.Query) > 0 {
		req.SetQueryParams(opts.Query)
	}
	for k, v := range opts.Headers {
		req.SetHeader(k, v)
	}
	return req
}

func newRequestError(rep reply) *RequestError {
	return &RequestError{Status: rep.status, Body: string(rep.body)}
}

func method(opts Options) string {
	if opts.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(opts.Method)
}

func newRequestID() string {
	return uuid.NewString()
}

// normalizeEndpoint makes the leading slash optional. Absolute URLs are kept.
func normalizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "/" + strings.TrimLeft(endpoint, "/")
}

// restyLogger routes resty's internal logging through zerolog.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.log.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.log.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.log.Debug().Msgf(format, v...) }
