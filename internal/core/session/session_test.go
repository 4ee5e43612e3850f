package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Validate(t *testing.T) {
	user := &Profile{ID: "u1", Email: "ops@example.com"}

	tests := []struct {
		name    string
		session Session
		wantErr error
	}{
		{
			name:    "anonymous session is valid",
			session: Session{},
		},
		{
			name:    "authenticated session is valid",
			session: Session{AccessToken: "a", RefreshToken: "r", User: user},
		},
		{
			name:    "tokens without profile",
			session: Session{AccessToken: "a", RefreshToken: "r"},
			wantErr: ErrIncomplete,
		},
		{
			name:    "profile without tokens",
			session: Session{User: user},
			wantErr: ErrIncomplete,
		},
		{
			name:    "missing refresh token",
			session: Session{AccessToken: "a", User: user},
			wantErr: ErrIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSession_WithTokensKeepsProfile(t *testing.T) {
	s := New(TokenPair{AccessToken: "old-a", RefreshToken: "old-r"}, Profile{ID: "u1", CompanyID: "c1"})

	next := s.WithTokens(TokenPair{AccessToken: "new-a", RefreshToken: "new-r"})

	assert.Equal(t, "new-a", next.AccessToken)
	assert.Equal(t, "new-r", next.RefreshToken)
	require.NotNil(t, next.User)
	assert.Equal(t, "u1", next.User.ID)
	assert.Equal(t, "old-a", s.AccessToken, "original must be untouched")
}

func TestSession_CloneDoesNotShareProfile(t *testing.T) {
	s := New(TokenPair{AccessToken: "a", RefreshToken: "r"}, Profile{ID: "u1"})
	c := s.Clone()
	c.User.Name = "changed"

	assert.Empty(t, s.User.Name)
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseClaims(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signed(t, jwt.MapClaims{
		"sub":       "user-1",
		"companyId": "company-9",
		"role":      "dispatcher",
		"exp":       exp.Unix(),
	})

	c, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.Subject)
	assert.Equal(t, "company-9", c.CompanyID)
	assert.Equal(t, "dispatcher", c.Role)
	assert.True(t, c.ExpiresAt.Equal(exp))
	assert.False(t, c.Expired(exp.Add(-time.Minute)))
	assert.True(t, c.Expired(exp.Add(time.Minute)))
}

func TestParseClaims_Invalid(t *testing.T) {
	_, err := ParseClaims("")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = ParseClaims("not-a-jwt")
	assert.Error(t, err)
}

func TestSession_CompanyIDFallsBackToClaims(t *testing.T) {
	tok := signed(t, jwt.MapClaims{"companyId": "from-token"})

	s := New(TokenPair{AccessToken: tok, RefreshToken: "r"}, Profile{ID: "u1"})
	assert.Equal(t, "from-token", s.CompanyID())

	s.User.CompanyID = "from-profile"
	assert.Equal(t, "from-profile", s.CompanyID())
}
