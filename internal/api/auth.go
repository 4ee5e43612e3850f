package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hay-kot/loadctl/internal/core/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	User         *session.Profile `json:"user"`
}

// Login exchanges credentials for a session and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (session.Session, error) {
	var resp loginResponse
	err := c.Call(ctx, "/auth/login", Options{
		Method: http.MethodPost,
		Body:   loginRequest{Email: email, Password: password},
	}, Credentials{}, &resp)
	if err != nil {
		return session.Session{}, fmt.Errorf("login: %w", err)
	}

	if resp.User == nil {
		return session.Session{}, errors.New("login: response has no user profile")
	}

	sess := session.New(
		session.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken},
		*resp.User,
	)
	if err := c.sessions.Replace(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}

	c.log.Info().Str("user", resp.User.Email).Msg("logged in")
	return sess, nil
}

// Logout revokes the session on the backend and clears it locally. The local
// session is cleared even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	sess, err := c.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Anonymous() {
		return session.ErrNoSession
	}

	callErr := c.Call(ctx, "/auth/logout", Options{
		Method: http.MethodPost,
		Body:   refreshRequest{RefreshToken: sess.RefreshToken},
	}, storedCredentials(sess), nil)
	if callErr != nil {
		c.log.Warn().Err(callErr).Msg("backend logout failed")
	}

	if err := c.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Me fetches the current user's profile and stores it on the session.
func (c *Client) Me(ctx context.Context) (session.Profile, error) {
	var profile session.Profile
	if err := c.Do(ctx, "/auth/me", Options{}, &profile); err != nil {
		return session.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}

	if err := c.sessions.UpdateProfile(ctx, profile); err != nil {
		return session.Profile{}, fmt.Errorf("store profile: %w", err)
	}
	return profile, nil
}

// RefreshSession forces a token refresh for the stored session.
func (c *Client) RefreshSession(ctx context.Context) error {
	sess, err := c.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Anonymous() {
		return session.ErrNoSession
	}

	if _, ok := c.refresh(ctx, storedCredentials(sess)); !ok {
		return ErrSessionExpired
	}
	return nil
}
