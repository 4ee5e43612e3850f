package api

import (
	"context"
	"encoding/json"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/hay-kot/loadctl/internal/core/session"
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (session.TokenPair, bool)
}

// RefreshCoordinator calls the backend refresh endpoint. It never returns an
// error: every failure is logged and reported as ok=false.
type RefreshCoordinator struct {
	http *resty.Client
	path string
	log  zerolog.Logger
}

// NewRefreshCoordinator creates a coordinator posting to path on the given client.
func NewRefreshCoordinator(http *resty.Client, path string, log zerolog.Logger) *RefreshCoordinator {
	return &RefreshCoordinator{
		http: http,
		path: normalizeEndpoint(path),
		log:  log,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh posts the refresh token without a bearer header. The returned pair
// is not committed; that is the caller's job.
func (r *RefreshCoordinator) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, bool) {
	if refreshToken == "" {
		return session.TokenPair{}, false
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", newRequestID()).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post(r.path)
	if err != nil {
		r.log.Warn().Err(err).Msg("refresh request failed")
		return session.TokenPair{}, false
	}

	if !resp.IsSuccess() {
		r.log.Warn().Int("status", resp.StatusCode()).Msg("refresh rejected")
		return session.TokenPair{}, false
	}

	var pair session.TokenPair
	if err := json.Unmarshal(resp.Body(), &pair); err != nil {
		r.log.Warn().Err(err).Msg("decode refresh response")
		return session.TokenPair{}, false
	}

	if !pair.Valid() {
		r.log.Warn().Msg("refresh response is missing tokens")
		return session.TokenPair{}, false
	}

	r.log.Debug().Msg("access token refreshed")
	return pair, true
}
