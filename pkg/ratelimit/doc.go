// Package ratelimit decides when the next request of a given query-type
// channel may be issued.
//
// The remote service enforces several independent quotas at once:
//
//   - a per-channel quota for each GraphQL query-hash or doc-id,
//     with a lower bound for the catch-all "other" web channel,
//   - an accumulated budget shared across all GraphQL-style channels,
//   - a separate, longer window for the mobile-app ("iphone") family,
//   - a per-family penalty installed after a 429, honored by subsequent
//     unrelated requests.
//
// A single sliding window cannot express this, so the controller tracks
// request timestamps per channel, evaluates every applicable constraint
// and returns the strictest wait. Timestamps older than one hour are
// pruned; one hour exceeds every window, so pruning never removes a
// timestamp that still matters.
//
// The controller is owned by one session context and is driven from a
// single logical thread; it needs no locking.
package ratelimit
