package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestPerChannelLimit(t *testing.T) {
	c := NewController()
	base := time.Now()

	for i := 0; i < perChannelLimit-1; i++ {
		c.RecordRequest("somehash", base)
	}
	if wait := c.TimeUntilAllowed("somehash", base, false); wait != 0 {
		t.Errorf("Expected no wait below the limit, got %v", wait)
	}

	c.RecordRequest("somehash", base)
	wait := c.TimeUntilAllowed("somehash", base, false)
	if wait <= 0 {
		t.Fatal("Expected a positive wait at the limit")
	}
	expected := perChannelWindow + perChannelMargin
	if wait != expected {
		t.Errorf("Expected wait of %v, got %v", expected, wait)
	}
}

func TestOtherChannelLimit(t *testing.T) {
	c := NewController()
	base := time.Now()

	for i := 0; i < otherLimit; i++ {
		c.RecordRequest(ChannelOther, base)
	}
	if wait := c.TimeUntilAllowed(ChannelOther, base, false); wait <= 0 {
		t.Errorf("Expected the catch-all channel to hit its lower limit of %d", otherLimit)
	}
}

func TestMonotonicity(t *testing.T) {
	c := NewController()
	base := time.Now()

	for i := 0; i < perChannelLimit; i++ {
		c.RecordRequest("somehash", base.Add(time.Duration(i)*time.Millisecond))
	}

	previous := c.TimeUntilAllowed("somehash", base.Add(time.Second), false)
	for _, offset := range []time.Duration{10, 60, 300, 600} {
		wait := c.TimeUntilAllowed("somehash", base.Add(offset*time.Second), false)
		if wait >= previous {
			t.Errorf("Expected wait to decrease as timestamps age, got %v after %v", wait, previous)
		}
		previous = wait
	}
}

func TestPruningIsIdempotent(t *testing.T) {
	c := NewController()
	base := time.Now()

	// Old enough to be pruned, and recent enough to matter.
	c.RecordRequest("somehash", base.Add(-2*time.Hour))
	for i := 0; i < perChannelLimit; i++ {
		c.RecordRequest("somehash", base)
	}

	first := c.TimeUntilAllowed("somehash", base, false)
	second := c.TimeUntilAllowed("somehash", base, false)
	if first != second {
		t.Errorf("Expected pruning not to change the result, got %v then %v", first, second)
	}
	if len(c.history["somehash"]) != perChannelLimit {
		t.Errorf("Expected only the aged-out timestamp to be pruned, have %d", len(c.history["somehash"]))
	}
}

func TestGraphqlAccumulatedBudget(t *testing.T) {
	c := NewController()
	base := time.Now()

	// Spread the budget across several hash channels, none at its own limit.
	for i := 0; i < graphqlLimit; i++ {
		c.RecordRequest(fmt.Sprintf("hash%d", i%3), base)
	}

	if wait := c.TimeUntilAllowed("freshhash", base, false); wait <= 0 {
		t.Error("Expected the accumulated budget to apply to an unused hash channel")
	}
	if wait := c.TimeUntilAllowed(ChannelOther, base, false); wait != 0 {
		t.Errorf("Expected the catch-all channel to be exempt, got %v", wait)
	}
	if wait := c.TimeUntilAllowed(ChannelApp, base, false); wait != 0 {
		t.Errorf("Expected the app channel to be exempt, got %v", wait)
	}
}

func TestAppWindow(t *testing.T) {
	c := NewController()
	base := time.Now()

	for i := 0; i < appLimit; i++ {
		c.RecordRequest(ChannelApp, base)
	}
	wait := c.TimeUntilAllowed(ChannelApp, base, false)
	expected := appWindow + appMargin
	if wait != expected {
		t.Errorf("Expected wait of %v, got %v", expected, wait)
	}
}

func TestUntrackedPenaltyCarriesOver(t *testing.T) {
	c := NewController()
	base := time.Now()

	c.RecordRequest(ChannelOther, base)
	if wait := c.TimeUntilAllowed(ChannelOther, base, true); wait <= 0 {
		t.Fatal("Expected the untracked path to impose a wait")
	}

	// The penalty must be honored by unrelated channels of the same family.
	if wait := c.TimeUntilAllowed("somehash", base, false); wait <= 0 {
		t.Error("Expected the penalty to carry over to other web channels")
	}

	// And it must decay over time.
	later := base.Add(perChannelWindow + perChannelMargin + time.Second)
	if wait := c.TimeUntilAllowed("somehash", later, false); wait != 0 {
		t.Errorf("Expected the penalty to expire, got %v", wait)
	}
}

func TestUntrackedPenaltyAppFamily(t *testing.T) {
	c := NewController()
	base := time.Now()

	c.RecordRequest(ChannelApp, base)
	if wait := c.TimeUntilAllowed(ChannelApp, base, true); wait <= 0 {
		t.Fatal("Expected the untracked path to impose a wait")
	}
	if c.earliestNextApp.IsZero() {
		t.Error("Expected the app-family scalar to be persisted")
	}
	if !c.earliestNextWeb.IsZero() {
		t.Error("Expected the web-family scalar to be untouched")
	}
}

func TestLazyChannelCreation(t *testing.T) {
	c := NewController()
	base := time.Now()

	if wait := c.TimeUntilAllowed("brandnew", base, false); wait != 0 {
		t.Errorf("Expected no wait for an unused channel, got %v", wait)
	}
	c.RecordRequest("brandnew", base)
	if len(c.history["brandnew"]) != 1 {
		t.Error("Expected the channel to be created lazily on first use")
	}
}
