package iterator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	igerrors "igcrawl/pkg/errors"
	"igcrawl/pkg/session"
)

const (
	defaultPageSize = 12

	// Server-side cursor semantics are not guaranteed stable; checkpoints
	// older than this are considered decayed.
	checkpointLifetime = 29 * 24 * time.Hour
)

// CursorConfig describes one cursor-paginated endpoint. Exactly one of
// QueryHash and DocID must be set.
type CursorConfig[T any] struct {
	QueryHash string
	DocID     string
	Variables map[string]interface{}
	Referer   string

	// Extract locates the connection substructure in a raw response.
	Extract EdgeExtractor
	// MapNode converts one raw node into the caller's result type.
	MapNode func(Node) (T, error)

	// FirstPage optionally supplies an already-fetched first-page payload,
	// avoiding the initial network call.
	FirstPage map[string]interface{}

	// IsFirst reports whether candidate is more extremal than the current
	// lead item. When nil, the very first node ever emitted is the anchor.
	// The lead item detects content that appeared after a checkpoint.
	IsFirst func(candidate, current Node) bool

	// PageSize is the requested page length, defaulting to 12.
	PageSize int
}

// CursorIterator is a lazy sequence over a cursor-paginated endpoint.
// It can be frozen into a resumable checkpoint and thawed back.
type CursorIterator[T any] struct {
	ctx *session.Context
	cfg CursorConfig[T]

	boundUsername string
	page          *Connection
	index         int
	total         int
	bestBefore    time.Time
	firstNode     Node
	initialized   bool
}

// FrozenCursor is the serializable checkpoint of a CursorIterator. It may
// only be thawed into an iterator configured identically.
type FrozenCursor struct {
	QueryHash     string                 `json:"query_hash,omitempty"`
	DocID         string                 `json:"doc_id,omitempty"`
	Variables     map[string]interface{} `json:"variables"`
	Referer       string                 `json:"referer"`
	Username      string                 `json:"username,omitempty"`
	TotalConsumed int                    `json:"total_consumed"`
	BestBefore    time.Time              `json:"best_before"`
	Remaining     *Connection            `json:"remaining"`
	FirstNode     Node                   `json:"first_node,omitempty"`
}

// NewCursor creates a cursor iterator bound to the context's current
// authenticated username.
func NewCursor[T any](ctx *session.Context, cfg CursorConfig[T]) (*CursorIterator[T], error) {
	if (cfg.QueryHash == "") == (cfg.DocID == "") {
		return nil, igerrors.New(igerrors.KindInvalidArgument,
			"exactly one of query hash and doc-id must be set")
	}
	if cfg.Extract == nil || cfg.MapNode == nil {
		return nil, igerrors.New(igerrors.KindInvalidArgument,
			"edge extractor and node mapper are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	it := &CursorIterator[T]{
		ctx:           ctx,
		cfg:           cfg,
		boundUsername: ctx.Username(),
	}
	if cfg.FirstPage != nil {
		page, err := cfg.Extract(cfg.FirstPage)
		if err != nil {
			return nil, err
		}
		it.page = page
		it.bestBefore = time.Now().Add(checkpointLifetime)
		it.initialized = true
	}
	return it, nil
}

// Next returns the next node's mapped result, or ErrDone at the end of the
// sequence. Items are emitted in the exact order the server returned them.
func (it *CursorIterator[T]) Next() (T, error) {
	var zero T
	if !it.initialized {
		page, err := it.fetchPage("")
		if err != nil {
			return zero, err
		}
		it.page = page
		it.index = 0
		it.bestBefore = time.Now().Add(checkpointLifetime)
		it.initialized = true
	}

	for {
		if it.index < len(it.page.Edges) {
			node := it.page.Edges[it.index]
			it.index++
			it.total++
			it.trackFirst(node)
			return it.cfg.MapNode(node)
		}
		if !it.page.HasNextPage {
			return zero, ErrDone
		}
		next, err := it.fetchPage(it.page.EndCursor)
		if err != nil {
			return zero, err
		}
		if len(next.Edges) == 0 || sameEdges(next.Edges, it.page.Edges) {
			return zero, ErrDone
		}
		it.page = next
		it.index = 0
	}
}

// TotalConsumed returns how many items have been emitted so far, counting
// across a thaw.
func (it *CursorIterator[T]) TotalConsumed() int {
	return it.total
}

// BestBefore returns the expiry of a checkpoint taken from this iterator.
func (it *CursorIterator[T]) BestBefore() time.Time {
	return it.bestBefore
}

// FirstNode returns the tracked lead item.
func (it *CursorIterator[T]) FirstNode() Node {
	return it.firstNode
}

// Freeze snapshots the iterator into a resumable checkpoint. The consumed
// count is reduced by one so that resumption re-validates the boundary
// item rather than skipping it; the remainder keeps that item for the same
// reason.
func (it *CursorIterator[T]) Freeze() *FrozenCursor {
	total := it.total
	if total > 0 {
		total--
	}
	var remaining *Connection
	if it.page != nil {
		start := it.index - 1
		if start < 0 {
			start = 0
		}
		remaining = &Connection{
			Edges:       append([]Node(nil), it.page.Edges[start:]...),
			HasNextPage: it.page.HasNextPage,
			EndCursor:   it.page.EndCursor,
		}
	}
	return &FrozenCursor{
		QueryHash:     it.cfg.QueryHash,
		DocID:         it.cfg.DocID,
		Variables:     it.cfg.Variables,
		Referer:       it.cfg.Referer,
		Username:      it.boundUsername,
		TotalConsumed: total,
		BestBefore:    it.bestBefore,
		Remaining:     remaining,
		FirstNode:     it.firstNode,
	}
}

// Thaw restores a frozen checkpoint into this iterator. The iterator must
// be unused and configured identically to the one the checkpoint was taken
// from; a mismatch is a hard error and leaves the iterator untouched.
func (it *CursorIterator[T]) Thaw(frozen *FrozenCursor) error {
	if it.total > 0 || it.index > 0 {
		return igerrors.New(igerrors.KindInvalidArgument,
			"cannot thaw into an iterator that has already been used")
	}
	if frozen.QueryHash != it.cfg.QueryHash || frozen.DocID != it.cfg.DocID {
		return igerrors.New(igerrors.KindMismatchedCheckpoint,
			"checkpoint was taken from a different query")
	}
	if !jsonEqual(frozen.Variables, it.cfg.Variables) {
		return igerrors.New(igerrors.KindMismatchedCheckpoint,
			"checkpoint was taken with different query variables")
	}
	if frozen.Referer != it.cfg.Referer {
		return igerrors.New(igerrors.KindMismatchedCheckpoint,
			"checkpoint was taken with a different referer")
	}
	if frozen.Username != it.boundUsername {
		return igerrors.Newf(igerrors.KindMismatchedCheckpoint,
			"checkpoint is bound to %q, session is %q", frozen.Username, it.boundUsername)
	}
	if frozen.BestBefore.IsZero() || frozen.Remaining == nil {
		return igerrors.New(igerrors.KindMismatchedCheckpoint,
			"checkpoint lacks an expiry or a page remainder")
	}

	it.total = frozen.TotalConsumed
	it.bestBefore = frozen.BestBefore
	it.page = frozen.Remaining
	it.index = 0
	it.firstNode = frozen.FirstNode
	it.initialized = true
	return nil
}

// Fingerprint derives a short stable identifier from the iterator's
// configuration, used to name checkpoint storage. Collisions are
// astronomically unlikely, not cryptographically impossible.
func (it *CursorIterator[T]) Fingerprint() string {
	vars, _ := json.Marshal(it.cfg.Variables)
	h := xxhash.New()
	h.WriteString(it.cfg.QueryHash)
	h.WriteString(it.cfg.DocID)
	h.Write(vars)
	h.WriteString(it.cfg.Referer)
	h.WriteString(it.boundUsername)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (it *CursorIterator[T]) fetchPage(after string) (*Connection, error) {
	vars := make(map[string]interface{}, len(it.cfg.Variables)+2)
	for k, v := range it.cfg.Variables {
		vars[k] = v
	}
	vars["first"] = it.cfg.PageSize
	if after != "" {
		vars["after"] = after
	}

	var doc map[string]interface{}
	var err error
	if it.cfg.QueryHash != "" {
		doc, err = it.ctx.GraphqlQuery(it.cfg.QueryHash, vars, it.cfg.Referer)
	} else {
		doc, err = it.ctx.DocIDQuery(it.cfg.DocID, vars, it.cfg.Referer)
	}
	if err != nil {
		return nil, err
	}
	return it.cfg.Extract(doc)
}

func (it *CursorIterator[T]) trackFirst(node Node) {
	if it.cfg.IsFirst != nil {
		if it.firstNode == nil || it.cfg.IsFirst(node, it.firstNode) {
			it.firstNode = node
		}
		return
	}
	if it.firstNode == nil {
		it.firstNode = node
	}
}

func jsonEqual(a, b map[string]interface{}) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
