// Package resume composes a cursor iterator with a checkpoint store so an
// interrupted crawl can pick up where it left off. Deliberate aborts
// freeze progress before propagating; every other error passes through
// unchanged, and a mismatched or expired checkpoint means starting fresh,
// never resuming into the wrong crawl.
package resume
