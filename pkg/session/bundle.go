package session

import (
	"time"

	igerrors "igcrawl/pkg/errors"
)

// Bundle is the exportable part of a session: cookie jar, CSRF token and
// authenticated identity. Persistence of the bundle is a collaborator's
// concern (see pkg/sessionstore).
type Bundle struct {
	Cookies   map[string]string `json:"cookies"`
	CSRFToken string            `json:"csrf_token"`
	Username  string            `json:"username"`
	UserID    string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// SaveSession exports the current session state as a bundle.
func (c *Context) SaveSession() *Bundle {
	return &Bundle{
		Cookies:   copyCookies(c.cookies),
		CSRFToken: c.csrfToken,
		Username:  c.username,
		UserID:    c.userID,
		CreatedAt: time.Now(),
	}
}

// LoadSession replaces the session state with a previously saved bundle.
func (c *Context) LoadSession(b *Bundle) error {
	if b == nil || b.Username == "" || len(b.Cookies) == 0 {
		return igerrors.New(igerrors.KindInvalidArgument, "session bundle is empty")
	}
	c.cookies = copyCookies(b.Cookies)
	c.csrfToken = b.CSRFToken
	if c.csrfToken == "" {
		c.csrfToken = b.Cookies["csrftoken"]
	}
	c.username = b.Username
	c.userID = b.UserID
	c.everLoggedIn = true
	c.pendingTwoFactor = nil
	c.log.InfoWithFields("session loaded", map[string]interface{}{
		"username": b.Username,
	})
	return nil
}
