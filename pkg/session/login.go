package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	igerrors "igcrawl/pkg/errors"
)

const (
	loginPath          = "api/v1/web/login/ajax/"
	twoFactorLoginPath = "accounts/login/ajax/two_factor/"

	// identityQueryHash resolves the logged-in viewer; used by TestLogin.
	identityQueryHash = "d6f4427fbe92d846298cf93df0b937d3"
)

// Login authenticates the context. A two-factor challenge is returned as a
// *errors.TwoFactorError carrying the server identifier; complete it with
// TwoFactorLogin.
func (c *Context) Login(username, password string) error {
	c.anonymize()
	c.pendingTwoFactor = nil

	// Handshake request to seed cookies, in particular csrftoken.
	if _, _, err := c.raw(http.MethodGet, "", nil); err != nil {
		return igerrors.Wrap(igerrors.KindConnection, err, "login handshake failed")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))

	body, _, err := c.raw(http.MethodPost, loginPath, form)
	if err != nil {
		return igerrors.Wrap(igerrors.KindConnection, err, "login request failed")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return igerrors.Wrap(igerrors.KindLoginError, err, "login response is not valid JSON")
	}

	if info, ok := payload["two_factor_info"].(map[string]interface{}); ok {
		identifier, _ := info["two_factor_identifier"].(string)
		c.pendingTwoFactor = &pendingTwoFactor{
			cookies:    copyCookies(c.cookies),
			csrfToken:  c.csrfToken,
			username:   username,
			identifier: identifier,
		}
		return &igerrors.TwoFactorError{Username: username, Identifier: identifier}
	}
	if _, ok := payload["checkpoint_url"]; ok {
		return igerrors.New(igerrors.KindLoginError,
			"checkpoint required, resolve it in a browser before logging in here")
	}
	if _, ok := payload["challenge"]; ok {
		return igerrors.New(igerrors.KindLoginError,
			"challenge required, resolve it in a browser before logging in here")
	}

	status, _ := payload["status"].(string)
	authenticated, hasAuth := payload["authenticated"].(bool)
	if status != "ok" || !hasAuth {
		// Typically a blocked IP rather than wrong credentials.
		return igerrors.Newf(igerrors.KindLoginError,
			"login returned status %q without authentication result", status)
	}
	if !authenticated {
		if _, ok := payload["user"]; ok {
			return igerrors.Newf(igerrors.KindBadCredentials, "wrong password for %s", username)
		}
		return igerrors.Newf(igerrors.KindLoginError, "user %s does not exist", username)
	}

	c.commitLogin(username)
	return nil
}

// TwoFactorLogin completes a pending two-factor challenge with the code
// from the authenticator device.
func (c *Context) TwoFactorLogin(code string) error {
	pending := c.pendingTwoFactor
	if pending == nil {
		return igerrors.New(igerrors.KindInvalidArgument, "no two-factor login pending")
	}

	// Restore the pre-challenge session the server issued the challenge to.
	c.cookies = copyCookies(pending.cookies)
	c.csrfToken = pending.csrfToken

	form := url.Values{}
	form.Set("username", pending.username)
	form.Set("verificationCode", strings.ReplaceAll(code, " ", ""))
	form.Set("identifier", pending.identifier)

	body, _, err := c.raw(http.MethodPost, twoFactorLoginPath, form)
	if err != nil {
		return igerrors.Wrap(igerrors.KindConnection, err, "two-factor login request failed")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return igerrors.Wrap(igerrors.KindLoginError, err, "two-factor response is not valid JSON")
	}

	if status, _ := payload["status"].(string); status != "ok" {
		if authenticated, ok := payload["authenticated"].(bool); ok && !authenticated {
			return igerrors.New(igerrors.KindBadCredentials, "wrong two-factor verification code")
		}
		return igerrors.Newf(igerrors.KindLoginError, "two-factor login returned status %q", status)
	}

	c.commitLogin(pending.username)
	return nil
}

// TestLogin issues a lightweight identity query and returns the username
// the session is logged in as, or empty. Connection failures are logged
// rather than propagated; this call is used opportunistically.
func (c *Context) TestLogin() string {
	doc, err := c.GraphqlQuery(identityQueryHash, map[string]interface{}{}, "")
	if err != nil {
		if igerrors.IsKind(err, igerrors.KindConnection) || igerrors.IsKind(err, igerrors.KindTooManyRequests) {
			c.LogError(fmt.Sprintf("could not verify login state: %s", err))
			c.log.WithError(err).Warn("login check failed, assuming not logged in")
			return ""
		}
		return ""
	}
	data, _ := doc["data"].(map[string]interface{})
	user, _ := data["user"].(map[string]interface{})
	username, _ := user["username"].(string)
	return username
}

// commitLogin moves the context into the authenticated state.
func (c *Context) commitLogin(username string) {
	c.username = username
	c.userID = c.cookies["ds_user_id"]
	c.everLoggedIn = true
	c.pendingTwoFactor = nil
	c.log.InfoWithFields("logged in", map[string]interface{}{
		"username": username,
	})
}

// raw issues a single request outside the classified retry loop. The login
// state machine inspects bodies of non-200 responses itself, so no status
// classification happens here beyond transport errors. Cookies from any
// response are merged into the jar.
func (c *Context) raw(method, path string, form url.Values) ([]byte, int, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, path)

	var req *http.Request
	var err error
	if form != nil {
		req, err = http.NewRequest(method, u, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequest(method, u, nil)
	}
	if err != nil {
		return nil, 0, err
	}
	c.applyWebHeaders(req, c.baseURL+"/")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	c.mergeCookies(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func copyCookies(cookies map[string]string) map[string]string {
	copied := make(map[string]string, len(cookies))
	for name, value := range cookies {
		copied[name] = value
	}
	return copied
}
