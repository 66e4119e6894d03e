package session

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igcrawl/pkg/config"
	igerrors "igcrawl/pkg/errors"
	"igcrawl/pkg/logger"
	"igcrawl/pkg/ratelimit"
)

const defaultBaseURL = "https://www.instagram.com"

// Context owns the mutable session state of one crawl: cookie jar, CSRF
// token, authenticated identity, rate controller and error log. All calls
// against one Context are sequential; run independent contexts for
// parallel crawls.
type Context struct {
	client  *http.Client
	log     logger.Logger
	rate    *ratelimit.Controller
	baseURL string

	userAgent        string
	appUserAgent     string
	maxAttempts      int
	sleepEnabled     bool
	fatalStatusCodes []int

	cookies    map[string]string
	csrfToken  string
	username   string
	userID     string
	appHeaders map[string]string

	pendingTwoFactor *pendingTwoFactor
	everLoggedIn     bool
	errorLog         []string

	sleepFn func(time.Duration)
	rng     *rand.Rand
}

// pendingTwoFactor snapshots the session state between a login that
// returned a two-factor challenge and its completion. Only the login state
// machine may touch it.
type pendingTwoFactor struct {
	cookies    map[string]string
	csrfToken  string
	username   string
	identifier string
}

// QueryOptions controls how a single query is issued and classified.
type QueryOptions struct {
	// Referer to send with web requests.
	Referer string
	// UseApp selects the mobile-app endpoint family and header set.
	UseApp bool
	// Channel is the rate-limiting bucket; empty selects "iphone" for app
	// queries and "other" for remaining web queries.
	Channel string
}

// New creates an anonymous session context.
func New(cfg *config.Config, log logger.Logger) *Context {
	if log == nil {
		log = logger.GetLogger()
	}
	c := &Context{
		client: &http.Client{
			Timeout: cfg.Connection.RequestTimeout,
			// Redirects are classified, not followed; a 302 to the login
			// page means something very different from its target.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:              log,
		rate:             ratelimit.NewController(),
		baseURL:          defaultBaseURL,
		userAgent:        cfg.Connection.UserAgent,
		appUserAgent:     cfg.Connection.AppUserAgent,
		maxAttempts:      cfg.Connection.MaxConnectionAttempts,
		sleepEnabled:     cfg.Connection.Sleep,
		fatalStatusCodes: cfg.Connection.FatalStatusCodes,
		appHeaders:       make(map[string]string),
		sleepFn:          time.Sleep,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.anonymize()
	return c
}

// SetBaseURL overrides the remote host, mainly for tests against a mock
// server.
func (c *Context) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// IsLoggedIn reports whether the context carries an authenticated session.
func (c *Context) IsLoggedIn() bool {
	return c.username != ""
}

// Username returns the authenticated username, empty when anonymous.
func (c *Context) Username() string {
	return c.username
}

// UserID returns the authenticated user id, empty when anonymous.
func (c *Context) UserID() string {
	return c.userID
}

// LogError records a warning to be surfaced when the context is closed.
func (c *Context) LogError(msg string) {
	c.errorLog = append(c.errorLog, msg)
}

// Close flushes the accumulated error log.
func (c *Context) Close() {
	if len(c.errorLog) > 0 {
		c.log.WarnWithFields("errors occurred during crawl", map[string]interface{}{
			"count": len(c.errorLog),
		})
		for _, msg := range c.errorLog {
			c.log.Warn(msg)
		}
		c.errorLog = nil
	}
	c.client.CloseIdleConnections()
}

// anonymize resets the jar to a fresh anonymous cookie set.
func (c *Context) anonymize() {
	c.cookies = map[string]string{
		"sessionid":  "",
		"mid":        "",
		"ig_pr":      "1",
		"ig_vw":      "1920",
		"csrftoken":  "",
		"s_network":  "",
		"ds_user_id": "",
	}
	c.csrfToken = ""
	c.username = ""
	c.userID = ""
}

// GraphqlQuery issues a GraphQL query identified by its query-hash. The
// hash doubles as the rate-limiting channel.
func (c *Context) GraphqlQuery(queryHash string, variables map[string]interface{}, referer string) (map[string]interface{}, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return nil, igerrors.Wrap(igerrors.KindInvalidArgument, err, "unencodable query variables")
	}
	params := url.Values{}
	params.Set("query_hash", queryHash)
	params.Set("variables", string(vars))
	return c.Query("graphql/query", params, QueryOptions{Referer: referer, Channel: queryHash})
}

// DocIDQuery issues a GraphQL query identified by a doc-id.
func (c *Context) DocIDQuery(docID string, variables map[string]interface{}, referer string) (map[string]interface{}, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return nil, igerrors.Wrap(igerrors.KindInvalidArgument, err, "unencodable query variables")
	}
	params := url.Values{}
	params.Set("doc_id", docID)
	params.Set("variables", string(vars))
	return c.Query("graphql/query", params, QueryOptions{Referer: referer, Channel: docID})
}

// Query issues a rate-limited, retried GET against the given path and
// returns the decoded JSON document. Retriable failures are retried up to
// the configured attempt limit with logging at each retry; all other
// classifications propagate immediately.
func (c *Context) Query(path string, params url.Values, opts QueryOptions) (map[string]interface{}, error) {
	channel := opts.Channel
	if channel == "" {
		if opts.UseApp {
			channel = ratelimit.ChannelApp
		} else {
			channel = ratelimit.ChannelOther
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.sleepEnabled {
			c.sleepFn(c.jitter())
		}
		if wait := c.rate.TimeUntilAllowed(channel, time.Now(), false); wait > 0 {
			c.log.DebugWithFields("rate limit reached, waiting", map[string]interface{}{
				"channel": channel,
				"wait":    wait,
			})
			c.sleepFn(wait)
		}
		c.rate.RecordRequest(channel, time.Now())

		resp, err := c.do(path, params, opts)
		if err == nil {
			return resp, nil
		}
		kind := igerrors.KindOf(err)
		if !igerrors.IsRetryable(kind) {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		c.LogError(err.Error())
		c.log.WarnWithFields("retrying query", map[string]interface{}{
			"path":         path,
			"attempt":      attempt,
			"max_attempts": c.maxAttempts,
			"error":        err.Error(),
		})
		if kind == igerrors.KindTooManyRequests {
			// Penalize the whole endpoint family, not just this channel.
			if wait := c.rate.TimeUntilAllowed(channel, time.Now(), true); wait > 0 {
				c.log.DebugWithFields("cooling down after 429", map[string]interface{}{
					"channel": channel,
					"wait":    wait,
				})
				c.sleepFn(wait)
			}
		}
	}
	return nil, lastErr
}

// jitter returns a randomized pre-request delay to avoid request bursts.
func (c *Context) jitter() time.Duration {
	d := c.rng.ExpFloat64() / 0.6
	if d > 15 {
		d = 15
	}
	return time.Duration(d * float64(time.Second))
}

// do issues one HTTP attempt and classifies the outcome.
func (c *Context) do(path string, params url.Values, opts QueryOptions) (map[string]interface{}, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(path, "/"))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, igerrors.Wrap(igerrors.KindInvalidArgument, err, "failed to build request")
	}
	if opts.UseApp {
		c.applyAppHeaders(req)
	} else {
		c.applyWebHeaders(req, opts.Referer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, igerrors.Wrap(igerrors.KindConnection, err, fmt.Sprintf("request to %s failed", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, igerrors.Wrap(igerrors.KindConnection, err, "failed to read response body")
	}

	if classified := c.classify(resp, body, path); classified != nil {
		return nil, classified
	}

	c.mergeCookies(resp)
	if opts.UseApp {
		c.absorbAppHeaders(resp)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, igerrors.Wrap(igerrors.KindConnection, err, "response is not valid JSON")
	}
	if status, ok := doc["status"].(string); ok && status != "ok" {
		return nil, igerrors.Newf(igerrors.KindConnection, "%s returned status %q", path, status)
	}
	return doc, nil
}

// classify maps an HTTP outcome onto the error taxonomy; nil means a
// usable 200 response.
func (c *Context) classify(resp *http.Response, body []byte, path string) error {
	code := resp.StatusCode

	for _, fatal := range c.fatalStatusCodes {
		if code == fatal {
			return &igerrors.Error{
				Kind:    igerrors.KindAbort,
				Code:    code,
				Message: fmt.Sprintf("fatal status code on %s: %s", path, truncate(body, 200)),
			}
		}
	}

	switch code {
	case http.StatusOK:
		return nil
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location := resp.Header.Get("Location")
		if strings.Contains(location, "/accounts/login") {
			if c.everLoggedIn {
				return igerrors.WithCode(igerrors.KindAbort, code,
					"redirected to login page, session has been invalidated")
			}
			return igerrors.WithCode(igerrors.KindLoginRequired, code,
				fmt.Sprintf("%s requires a logged-in session", path))
		}
		return igerrors.WithCode(igerrors.KindConnection, code,
			fmt.Sprintf("unexpected redirect to %s", location))
	case http.StatusBadRequest:
		if marker := challengeMarker(body); marker != "" {
			return igerrors.WithCode(igerrors.KindAbort, code,
				fmt.Sprintf("%s reported by server on %s", marker, path))
		}
		return igerrors.WithCode(igerrors.KindBadRequest, code,
			fmt.Sprintf("bad request on %s", path))
	case http.StatusForbidden:
		return igerrors.WithCode(igerrors.KindForbidden, code,
			fmt.Sprintf("access to %s is forbidden", path))
	case http.StatusNotFound:
		return igerrors.WithCode(igerrors.KindNotFound, code,
			fmt.Sprintf("%s not found", path))
	case http.StatusTooManyRequests:
		return igerrors.WithCode(igerrors.KindTooManyRequests, code,
			fmt.Sprintf("too many requests on %s", path))
	default:
		return igerrors.WithCode(igerrors.KindConnection, code,
			fmt.Sprintf("%s returned status %d", path, code))
	}
}

// challengeMarker reports which non-retriable server marker a 400 body
// carries, if any.
func challengeMarker(body []byte) string {
	for _, marker := range []string{"feedback_required", "checkpoint_required", "challenge_required"} {
		if strings.Contains(string(body), marker) {
			return marker
		}
	}
	return ""
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
