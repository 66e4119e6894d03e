package iterator

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrDone signals the normal end of a sequence. It is a sentinel, not a
// failure; compare with errors.Is.
var ErrDone = errors.New("no more items")

// Node is one content record as the remote service returned it. The
// iterators treat it as an untyped keyed map; interpretation is delegated
// to the caller-supplied mapping function.
type Node map[string]interface{}

// Connection is the cursor-paginated response shape: a list of edges plus
// the cursor and has-more flag for the following page.
type Connection struct {
	Edges       []Node `json:"edges"`
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// EdgeExtractor locates the connection substructure inside a raw response
// document. Each endpoint nests it differently, so the caller supplies the
// extractor per endpoint.
type EdgeExtractor func(doc map[string]interface{}) (*Connection, error)

// sameEdges compares two edge sets byte-for-byte. Some endpoints echo a
// stale page instead of advancing the cursor; comparing the serialized
// edges is the documented safeguard against looping on them. It is a
// heuristic for an undocumented server quirk, do not replace it with a
// cursor-value comparison without verifying against the real endpoint.
func sameEdges(a, b []Node) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
