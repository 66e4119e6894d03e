package session

import (
	"net/http"
	"strings"
)

// applyWebHeaders sets the desktop browser header set on a request.
func (c *Context) applyWebHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.baseURL)
	if referer != "" {
		req.Header.Set("Referer", referer)
	} else {
		req.Header.Set("Referer", c.baseURL+"/")
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	c.applyCookies(req)
}

// applyAppHeaders sets the mobile-app header set. Beyond the native user
// agent, the set is partially re-derived from the server's previous
// response headers (see absorbAppHeaders).
func (c *Context) applyAppHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.appUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Ig-App-Id", "124024574287414")
	for key, value := range c.appHeaders {
		req.Header.Set(key, value)
	}
	c.applyCookies(req)
}

func (c *Context) applyCookies(req *http.Request) {
	var pairs []string
	for name, value := range c.cookies {
		if value == "" {
			continue
		}
		pairs = append(pairs, name+"="+value)
	}
	if len(pairs) > 0 {
		req.Header.Set("Cookie", strings.Join(pairs, "; "))
	}
}

// mergeCookies folds a response's Set-Cookie headers into the jar and keeps
// the CSRF token equal to the jar's csrftoken cookie.
func (c *Context) mergeCookies(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie.Value
	}
	if token, ok := c.cookies["csrftoken"]; ok && token != "" {
		c.csrfToken = token
	}
}

// absorbAppHeaders re-derives mobile-app request headers from "ig-set-*"
// response headers, as the native client does.
func (c *Context) absorbAppHeaders(resp *http.Response) {
	for key, values := range resp.Header {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, "ig-set-") || len(values) == 0 {
			continue
		}
		c.appHeaders[strings.TrimPrefix(lower, "ig-set-")] = values[0]
	}
}
