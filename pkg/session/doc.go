// Package session owns the authenticated crawl session: cookie jar, CSRF
// token, login state machine, and the rate-limited, retried query loop
// that every iterator pull goes through.
//
// A Context is single-threaded by design; cookie and rate-history
// mutations must be strictly ordered. Run one Context per concurrent
// crawl instead of sharing one.
package session
