package resume

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawl/pkg/config"
	igerrors "igcrawl/pkg/errors"
	"igcrawl/pkg/iterator"
	"igcrawl/pkg/session"
)

// memStore keeps checkpoints in memory and records every call.
type memStore struct {
	checkpoints map[string]*iterator.FrozenCursor
	loadErr     error
	saveErr     error
	saves       int
	deletes     int
}

func newMemStore() *memStore {
	return &memStore{checkpoints: make(map[string]*iterator.FrozenCursor)}
}

func (s *memStore) Load(path string) (*iterator.FrozenCursor, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.checkpoints[path], nil
}

func (s *memStore) Save(frozen *iterator.FrozenCursor, path string) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.checkpoints[path] = frozen
	return nil
}

func (s *memStore) Delete(path string) error {
	s.deletes++
	delete(s.checkpoints, path)
	return nil
}

// undeletableStore is a Store without Deleter.
type undeletableStore struct {
	inner *memStore
}

func (s undeletableStore) Load(path string) (*iterator.FrozenCursor, error) {
	return s.inner.Load(path)
}

func (s undeletableStore) Save(frozen *iterator.FrozenCursor, path string) error {
	return s.inner.Save(frozen, path)
}

var _ Store = (*memStore)(nil)
var _ Deleter = (*memStore)(nil)

func pageServer(t *testing.T, pages map[string][]string, order []string) *httptest.Server {
	t.Helper()
	next := make(map[string]string)
	for i, cursor := range order {
		if i+1 < len(order) {
			next[cursor] = order[i+1]
		}
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var vars map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars))
		after, _ := vars["after"].(string)

		ids, ok := pages[after]
		require.True(t, ok, "unexpected cursor %q", after)
		edges := make([]interface{}, len(ids))
		for i, id := range ids {
			edges[i] = map[string]interface{}{"id": id}
		}
		following, hasNext := next[after]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data": map[string]interface{}{
				"items": map[string]interface{}{
					"edges":         edges,
					"has_next_page": hasNext,
					"end_cursor":    following,
				},
			},
		})
	}))
}

func newTestIterator(t *testing.T, serverURL string) *iterator.CursorIterator[string] {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Sleep = false
	cfg.Connection.MaxConnectionAttempts = 1
	ctx := session.New(cfg, nil)
	ctx.SetBaseURL(serverURL)
	t.Cleanup(ctx.Close)

	it, err := iterator.NewCursor(ctx, iterator.CursorConfig[string]{
		QueryHash: "abc123",
		Variables: map[string]interface{}{"id": "42"},
		Extract: func(doc map[string]interface{}) (*iterator.Connection, error) {
			data, _ := doc["data"].(map[string]interface{})
			items, ok := data["items"].(map[string]interface{})
			if !ok {
				return nil, igerrors.New(igerrors.KindConnection, "response lacks an items connection")
			}
			conn := &iterator.Connection{}
			for _, e := range items["edges"].([]interface{}) {
				conn.Edges = append(conn.Edges, iterator.Node(e.(map[string]interface{})))
			}
			conn.HasNextPage, _ = items["has_next_page"].(bool)
			conn.EndCursor, _ = items["end_cursor"].(string)
			return conn, nil
		},
		MapNode: func(n iterator.Node) (string, error) {
			return n["id"].(string), nil
		},
	})
	require.NoError(t, err)
	return it
}

func twoPageServer(t *testing.T) *httptest.Server {
	return pageServer(t, map[string][]string{
		"":   {"m1", "m2"},
		"c1": {"m3", "m4"},
	}, []string{"", "c1"})
}

func TestIterateCompleteCrawlDeletesCheckpoint(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()

	var got []string
	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		assert.False(t, resuming)
		assert.Equal(t, 0, start)
		got = append(got, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, got)
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, 1, store.deletes)
}

func TestIterateAbortSavesThenResumes(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()

	abort := igerrors.New(igerrors.KindAbort, "interrupted")
	var firstRun []string
	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		firstRun = append(firstRun, item)
		if len(firstRun) == 3 {
			return abort
		}
		return nil
	})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, []string{"m1", "m2", "m3"}, firstRun)
	require.Equal(t, 1, store.saves)
	require.Len(t, store.checkpoints, 1)

	var secondRun []string
	err = Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		assert.True(t, resuming)
		assert.Equal(t, 2, start, "the boundary item is not counted as consumed")
		secondRun = append(secondRun, item)
		return nil
	})
	require.NoError(t, err)
	// The boundary item m3 is re-emitted on resume.
	assert.Equal(t, []string{"m3", "m4"}, secondRun)
	assert.Empty(t, store.checkpoints, "a completed crawl cleans up its checkpoint")
}

func TestIterateNonAbortErrorPassesThrough(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()

	cause := igerrors.New(igerrors.KindConnection, "flaky network")
	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		return cause
	})
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 0, store.saves, "only deliberate aborts are checkpointed")
}

func TestIterateExpiredCheckpointStartsOver(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()

	it := newTestIterator(t, server.URL)
	path := "resume_info_" + it.Fingerprint() + ".json"
	store.checkpoints[path] = &iterator.FrozenCursor{
		QueryHash:     "abc123",
		Variables:     map[string]interface{}{"id": "42"},
		TotalConsumed: 2,
		BestBefore:    time.Now().Add(-time.Hour),
		Remaining:     &iterator.Connection{Edges: []iterator.Node{{"id": "m3"}}},
	}

	var got []string
	err := Iterate(it, store, Options{CheckExpiry: true}, func(item string, resuming bool, start int) error {
		assert.False(t, resuming)
		got = append(got, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, got)
}

func TestIterateMismatchedCheckpointStartsOver(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()

	it := newTestIterator(t, server.URL)
	path := "resume_info_" + it.Fingerprint() + ".json"
	store.checkpoints[path] = &iterator.FrozenCursor{
		QueryHash:  "differenthash",
		BestBefore: time.Now().Add(time.Hour),
		Remaining:  &iterator.Connection{},
	}

	var got []string
	err := Iterate(it, store, Options{}, func(item string, resuming bool, start int) error {
		assert.False(t, resuming)
		got = append(got, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, got)
}

func TestIterateLoadFailureStartsOver(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()
	store.loadErr = igerrors.New(igerrors.KindConnection, "store unavailable")

	count := 0
	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestIterateSaveFailureStillRaisesAbort(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := newMemStore()
	store.saveErr = igerrors.New(igerrors.KindConnection, "disk full")

	abort := igerrors.New(igerrors.KindAbort, "interrupted")
	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		return abort
	})
	require.ErrorIs(t, err, abort, "a failed save must not mask the abort")
}

func TestIterateStoreWithoutDeleter(t *testing.T) {
	server := twoPageServer(t)
	defer server.Close()
	store := undeletableStore{newMemStore()}

	err := Iterate(newTestIterator(t, server.URL), store, Options{}, func(item string, resuming bool, start int) error {
		return nil
	})
	require.NoError(t, err)
}
