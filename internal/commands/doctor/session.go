package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/loadctl/internal/core/session"
)

const loginHint = "run `loadctl login`"

// SessionCheck inspects the persisted session without contacting the backend.
type SessionCheck struct {
	sessions session.Store
	now      func() time.Time
}

// NewSessionCheck creates a new session check.
func NewSessionCheck(sessions session.Store) *SessionCheck {
	return &SessionCheck{sessions: sessions, now: time.Now}
}

func (c *SessionCheck) Name() string {
	return "Session"
}

func (c *SessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	sess, err := c.sessions.Get(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Session readable",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	if sess.Anonymous() {
		result.Items = append(result.Items, CheckItem{
			Label:  "Signed in",
			Status: StatusWarn,
			Detail: "no stored session",
			Hint:   loginHint,
		})
		return result
	}

	signedIn := CheckItem{Label: "Signed in", Status: StatusPass}
	if sess.User != nil {
		signedIn.Detail = sess.User.Email
	}
	result.Items = append(result.Items, signedIn)

	result.Items = append(result.Items, c.accessToken(sess.AccessToken))

	if sess.RefreshToken == "" {
		result.Items = append(result.Items, CheckItem{
			Label:  "Refresh token",
			Status: StatusFail,
			Detail: "missing, the session cannot be renewed",
			Hint:   loginHint,
		})
	} else {
		result.Items = append(result.Items, CheckItem{Label: "Refresh token", Status: StatusPass})
	}

	if sess.CompanyID() == "" {
		result.Items = append(result.Items, CheckItem{
			Label:  "Company",
			Status: StatusWarn,
			Detail: "no company on the session, driver tracking is unavailable",
		})
	}

	return result
}

func (c *SessionCheck) accessToken(token string) CheckItem {
	item := CheckItem{Label: "Access token"}

	claims, err := session.ParseClaims(token)
	switch {
	case err != nil:
		item.Status = StatusWarn
		item.Detail = "not a readable JWT"
	case claims.ExpiresAt.IsZero():
		item.Status = StatusPass
		item.Detail = "no expiry"
	case claims.Expired(c.now()):
		item.Status = StatusWarn
		item.Detail = fmt.Sprintf("expired %s ago, renewed on next request", c.now().Sub(claims.ExpiresAt).Round(time.Second))
	default:
		item.Status = StatusPass
		item.Detail = fmt.Sprintf("expires in %s", claims.ExpiresAt.Sub(c.now()).Round(time.Second))
	}

	return item
}
