// Package session defines the authenticated session held by the client and
// the store interface every consumer reads it through.
package session

import "strings"

// Profile is the authenticated user as returned by the backend.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
}

// TokenPair is the result of a login or refresh exchange.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Valid reports whether both tokens are present.
func (p TokenPair) Valid() bool {
	return strings.TrimSpace(p.AccessToken) != "" && strings.TrimSpace(p.RefreshToken) != ""
}

// Session is either fully authenticated (tokens and profile) or fully
// anonymous. The zero value is the anonymous session.
type Session struct {
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	User         *Profile `json:"user,omitempty"`
}

// New builds an authenticated session from a token pair and profile.
func New(tokens TokenPair, user Profile) Session {
	return Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         &user,
	}
}

// Authenticated returns true if the session carries an access token.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// Anonymous returns true if no field of the session is populated.
func (s Session) Anonymous() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.User == nil
}

// Validate enforces the all-or-nothing invariant. The anonymous session is valid.
func (s Session) Validate() error {
	if s.Anonymous() {
		return nil
	}
	if s.AccessToken == "" || s.RefreshToken == "" || s.User == nil {
		return ErrIncomplete
	}
	return nil
}

// Tokens returns the session's token pair.
func (s Session) Tokens() TokenPair {
	return TokenPair{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// WithTokens returns a copy with the tokens replaced and the profile kept.
func (s Session) WithTokens(p TokenPair) Session {
	s.AccessToken = p.AccessToken
	s.RefreshToken = p.RefreshToken
	return s
}

// Clone returns a deep copy so callers never share the profile pointer.
func (s Session) Clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// CompanyID returns the owning company of the user, falling back to the
// companyId claim of the access token.
func (s Session) CompanyID() string {
	if s.User != nil && s.User.CompanyID != "" {
		return s.User.CompanyID
	}
	c, err := ParseClaims(s.AccessToken)
	if err != nil {
		return ""
	}
	return c.CompanyID
}
