package iterator

// LazyNode provides two-tier access to a node's fields: a lookup is first
// tried against the partial payload a listing endpoint returned; on a miss
// the full payload is fetched once, cached, and the lookup retried.
// Absence is surfaced as a typed optional, never a panic.
type LazyNode struct {
	partial   Node
	full      Node
	fetched   bool
	fetchFull func() (Node, error)
}

// NewLazyNode wraps a partial node. fetchFull may be nil for nodes with no
// fuller representation.
func NewLazyNode(partial Node, fetchFull func() (Node, error)) *LazyNode {
	return &LazyNode{partial: partial, fetchFull: fetchFull}
}

// Value returns the field's value and whether it is present, fetching the
// full payload at most once.
func (n *LazyNode) Value(key string) (interface{}, bool, error) {
	if v, ok := n.partial[key]; ok {
		return v, true, nil
	}
	if !n.fetched {
		if n.fetchFull == nil {
			return nil, false, nil
		}
		full, err := n.fetchFull()
		if err != nil {
			return nil, false, err
		}
		n.full = full
		n.fetched = true
	}
	v, ok := n.full[key]
	return v, ok, nil
}

// String returns the field as a string, absent if missing or another type.
func (n *LazyNode) String(key string) (string, bool, error) {
	v, ok, err := n.Value(key)
	if err != nil || !ok {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Float returns the field as a float64, the type JSON numbers decode to.
func (n *LazyNode) Float(key string) (float64, bool, error) {
	v, ok, err := n.Value(key)
	if err != nil || !ok {
		return 0, false, err
	}
	f, ok := v.(float64)
	return f, ok, nil
}

// Bool returns the field as a bool, absent if missing or another type.
func (n *LazyNode) Bool(key string) (bool, bool, error) {
	v, ok, err := n.Value(key)
	if err != nil || !ok {
		return false, false, err
	}
	b, ok := v.(bool)
	return b, ok, nil
}

// Map returns the field as a nested node.
func (n *LazyNode) Map(key string) (Node, bool, error) {
	v, ok, err := n.Value(key)
	if err != nil || !ok {
		return nil, false, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	return Node(m), true, nil
}
