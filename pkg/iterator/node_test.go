package iterator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	igerrors "igcrawl/pkg/errors"
)

func TestLazyNodePartialHit(t *testing.T) {
	fetches := 0
	node := NewLazyNode(Node{"id": "m1"}, func() (Node, error) {
		fetches++
		return Node{}, nil
	})

	id, ok, err := node.String("id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "m1", id)
	assert.Equal(t, 0, fetches, "a partial hit must not trigger the full fetch")
}

func TestLazyNodeFetchesFullOnce(t *testing.T) {
	fetches := 0
	node := NewLazyNode(Node{"id": "m1"}, func() (Node, error) {
		fetches++
		return Node{"caption": "hello", "like_count": float64(3)}, nil
	})

	caption, ok, err := node.String("caption")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", caption)

	likes, ok, err := node.Float("like_count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(3), likes)

	_, ok, err = node.Value("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, fetches, "the full payload is fetched at most once")
}

func TestLazyNodeWithoutFullRepresentation(t *testing.T) {
	node := NewLazyNode(Node{"id": "m1"}, nil)

	_, ok, err := node.Value("caption")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLazyNodeFetchError(t *testing.T) {
	node := NewLazyNode(Node{}, func() (Node, error) {
		return nil, igerrors.New(igerrors.KindConnection, "fetch failed")
	})

	_, ok, err := node.Value("caption")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, igerrors.IsKind(err, igerrors.KindConnection))
}

func TestLazyNodeTypeMismatch(t *testing.T) {
	node := NewLazyNode(Node{"like_count": float64(3), "owner": map[string]interface{}{"username": "alice"}}, nil)

	_, ok, err := node.String("like_count")
	require.NoError(t, err)
	assert.False(t, ok, "a type mismatch reads as absent")

	owner, ok, err := node.Map("owner")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", owner["username"])
}
