package ratelimit

import (
	"sort"
	"time"
)

// Channel keys for the endpoint families that are not identified by a
// GraphQL query-hash or doc-id.
const (
	// ChannelApp is the mobile-app endpoint family.
	ChannelApp = "iphone"
	// ChannelOther covers all remaining web endpoints.
	ChannelOther = "other"
)

const (
	perChannelWindow = 660 * time.Second
	perChannelMargin = 6 * time.Second
	perChannelLimit  = 200
	otherLimit       = 75

	graphqlWindow = 600 * time.Second
	graphqlLimit  = 275

	appWindow = 30 * time.Minute
	appMargin = 18 * time.Second
	appLimit  = 199

	pruneAge = time.Hour
)

// Controller decides how long a caller must wait before issuing the next
// request of a given channel. The remote service enforces independent quotas
// per query shape plus a shared umbrella quota across all GraphQL-style
// queries, so every constraint is evaluated and the strictest wins.
//
// A Controller is owned by exactly one session context and is not safe for
// concurrent use.
type Controller struct {
	history map[string][]time.Time

	// Earliest next allowed request per endpoint family, persisted across
	// channels after a 429 so unrelated requests honor the penalty too.
	earliestNextWeb time.Time
	earliestNextApp time.Time
}

// NewController creates an empty rate controller.
func NewController() *Controller {
	return &Controller{
		history: make(map[string][]time.Time),
	}
}

// RecordRequest appends a request timestamp to the channel's history.
// Channels are created lazily on first use.
func (c *Controller) RecordRequest(channel string, now time.Time) {
	c.history[channel] = append(c.history[channel], now)
}

// TimeUntilAllowed returns how long to wait before the next request of the
// given channel is permitted, never negative. With countUntracked set (the
// 429 handling path) the computed per-family penalty is additionally
// persisted so that subsequent unrelated requests honor it.
func (c *Controller) TimeUntilAllowed(channel string, now time.Time, countUntracked bool) time.Duration {
	c.prune(channel, now)

	deadline := c.perChannelDeadline(channel)
	if d := c.graphqlDeadline(channel); d.After(deadline) {
		deadline = d
	}
	if d := c.appDeadline(channel, now); d.After(deadline) {
		deadline = d
	}
	if countUntracked {
		c.recordPenalty(channel, now)
	}
	if c.earliestNextWeb.After(deadline) {
		deadline = c.earliestNextWeb
	}
	if c.earliestNextApp.After(deadline) {
		deadline = c.earliestNextApp
	}

	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// prune drops timestamps old enough to be irrelevant to every window.
func (c *Controller) prune(channel string, now time.Time) {
	ts := c.history[channel]
	cutoff := now.Add(-pruneAge)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.history[channel] = append(ts[:0:0], ts[i:]...)
	}
}

func channelLimit(channel string) int {
	if channel == ChannelOther {
		return otherLimit
	}
	return perChannelLimit
}

// perChannelDeadline enforces the per-channel quota: once the channel has
// accumulated its limit within the window, wait for the oldest of those
// requests to age out, plus a safety margin.
func (c *Controller) perChannelDeadline(channel string) time.Time {
	limit := channelLimit(channel)
	ts := c.history[channel]
	if len(ts) < limit {
		return time.Time{}
	}
	return ts[len(ts)-limit].Add(perChannelWindow + perChannelMargin)
}

// graphqlDeadline enforces the shared budget across all GraphQL and doc-id
// channels. The app and catch-all channels are exempt.
func (c *Controller) graphqlDeadline(channel string) time.Time {
	if channel == ChannelApp || channel == ChannelOther {
		return time.Time{}
	}
	var all []time.Time
	for ch, ts := range c.history {
		if ch == ChannelApp || ch == ChannelOther {
			continue
		}
		all = append(all, ts...)
	}
	if len(all) < graphqlLimit {
		return time.Time{}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	return all[len(all)-graphqlLimit].Add(graphqlWindow)
}

// appDeadline enforces the mobile-app window.
func (c *Controller) appDeadline(channel string, now time.Time) time.Time {
	if channel != ChannelApp {
		return time.Time{}
	}
	inWindow := c.sinceWindow(channel, now, appWindow)
	if len(inWindow) < appLimit {
		return time.Time{}
	}
	return inWindow[0].Add(appWindow + appMargin)
}

// recordPenalty recomputes the earliest-next-allowed scalar for the
// channel's endpoint family from the requests still inside its window.
func (c *Controller) recordPenalty(channel string, now time.Time) {
	if channel == ChannelApp {
		inWindow := c.sinceWindow(channel, now, appWindow)
		if len(inWindow) > 0 {
			c.earliestNextApp = inWindow[0].Add(appWindow + appMargin)
		}
		return
	}
	inWindow := c.sinceWindow(channel, now, perChannelWindow)
	if len(inWindow) > 0 {
		c.earliestNextWeb = inWindow[0].Add(perChannelWindow + perChannelMargin)
	}
}

// sinceWindow returns the channel's timestamps inside the trailing window,
// oldest first.
func (c *Controller) sinceWindow(channel string, now time.Time, window time.Duration) []time.Time {
	ts := c.history[channel]
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
