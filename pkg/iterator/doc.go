// Package iterator provides lazy sequences over the two pagination shapes
// the remote service uses.
//
// CursorIterator handles connection-shaped endpoints (edges, end cursor,
// has-next-page) and supports checkpointing: Freeze captures the resumable
// state, Thaw restores it into an identically configured iterator, and
// Fingerprint names the configuration for checkpoint storage.
//
// SectionIterator handles the alternate shape some endpoints use instead:
// ordered sections of media entries with a more-available flag and a
// max-id token. It offers the same pull contract but no checkpointing.
//
// Both iterators emit items in the exact order the server returned them
// and keep at most one page in flight. Endpoint-shape differences stay
// inside the page-fetch logic; callers only see Next and ErrDone.
package iterator
