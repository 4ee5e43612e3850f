package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims the client cares about.
// Tokens are read unverified; the backend remains the authority.
type Claims struct {
	Subject   string
	CompanyID string
	Role      string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry is before now. Tokens without
// an exp claim never expire from the client's point of view.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ParseClaims decodes the claims of a JWT access token without verifying
// its signature.
func ParseClaims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrNoSession
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("parse token: unexpected claims type")
	}

	var c Claims
	c.Subject, _ = mc.GetSubject()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.CompanyID, _ = mc["companyId"].(string)
	c.Role, _ = mc["role"].(string)

	return c, nil
}
