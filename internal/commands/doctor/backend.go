package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// Endpoint is a backend address probed for reachability.
type Endpoint struct {
	Label string
	URL   string
}

// BackendCheck verifies that the configured backend endpoints answer. Any
// HTTP response counts as reachable; authentication is not attempted.
type BackendCheck struct {
	http      *resty.Client
	ws      *websocket.Dialer
	endpoints   []Endpoint
	sockets []Endpoint
}

// NewBackendCheck creates a check probing httpEndpoints with a plain request
// and socketEndpoints with a websocket handshake.
func NewBackendCheck(httpEndpoints, socketEndpoints []Endpoint) *BackendCheck {
	return &BackendCheck{
		http:      resty.New().SetTimeout(5 * time.Second),
		ws:        &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 5 * time.Second},
		endpoints: httpEndpoints,
		sockets:   socketEndpoints,
	}
}

func (c *BackendCheck) Name() string {
	return "Backend"
}

func (c *BackendCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	for _, ep := range c.endpoints {
		resp, err := c.http.R().SetContext(ctx).Get(ep.URL)
		if err != nil {
			result.Items = append(result.Items, unreachable(ep, err))
			continue
		}
		result.Items = append(result.Items, CheckItem{
			Label:  ep.Label,
			Status: StatusPass,
			Detail: fmt.Sprintf("%s (%d)", ep.URL, resp.StatusCode()),
		})
	}

	for _, ep := range c.sockets {
		conn, resp, err := c.ws.DialContext(ctx, ep.URL, nil)
		if conn != nil {
			_ = conn.Close()
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		switch {
		case err == nil:
			result.Items = append(result.Items, CheckItem{Label: ep.Label, Status: StatusPass, Detail: ep.URL})
		case errors.Is(err, websocket.ErrBadHandshake) && resp != nil:
			result.Items = append(result.Items, CheckItem{
				Label:  ep.Label,
				Status: StatusPass,
				Detail: fmt.Sprintf("%s (handshake %d without credentials)", ep.URL, resp.StatusCode),
			})
		default:
			result.Items = append(result.Items, unreachable(ep, err))
		}
	}

	return result
}

func unreachable(ep Endpoint, err error) CheckItem {
	return CheckItem{
		Label:  ep.Label,
		Status: StatusFail,
		Detail: fmt.Sprintf("%s: %v", ep.URL, err),
		Hint:   "check the URL in your config or pass --api-url",
	}
}
