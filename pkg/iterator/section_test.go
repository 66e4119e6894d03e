package iterator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	igerrors "igcrawl/pkg/errors"
)

type testSectionPage struct {
	sections      [][]string
	moreAvailable bool
	nextMaxID     string
}

func sectionServer(t *testing.T, pages map[string]testSectionPage) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		maxID := r.URL.Query().Get("max_id")
		page, ok := pages[maxID]
		require.True(t, ok, "unexpected max_id %q", maxID)

		sections := make([]interface{}, len(page.sections))
		for i, ids := range page.sections {
			media := make([]interface{}, len(ids))
			for j, id := range ids {
				media[j] = map[string]interface{}{"id": id}
			}
			sections[i] = map[string]interface{}{"media": media}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"sections":       sections,
			"more_available": page.moreAvailable,
			"next_max_id":    page.nextMaxID,
		})
	}))
	return server, &calls
}

func testSectionExtractor(doc map[string]interface{}) (*SectionPage, error) {
	page := &SectionPage{}
	if sections, ok := doc["sections"].([]interface{}); ok {
		for _, raw := range sections {
			s, _ := raw.(map[string]interface{})
			section := Section{}
			if media, ok := s["media"].([]interface{}); ok {
				for _, m := range media {
					section.Media = append(section.Media, Node(m.(map[string]interface{})))
				}
			}
			page.Sections = append(page.Sections, section)
		}
	}
	page.MoreAvailable, _ = doc["more_available"].(bool)
	page.NextMaxID, _ = doc["next_max_id"].(string)
	return page, nil
}

func baseSectionConfig() SectionConfig[string] {
	return SectionConfig[string]{
		Path:    "explore/locations/12345/",
		Params:  url.Values{"tab": []string{"recent"}},
		Extract: testSectionExtractor,
		MapNode: idMapper,
	}
}

func TestSectionWalkOrder(t *testing.T) {
	server, _ := sectionServer(t, map[string]testSectionPage{
		"": {sections: [][]string{{"m1", "m2", "m3"}, {"m4", "m5", "m6"}}},
	})
	defer server.Close()
	ctx := newIterContext(t, server.URL)
	defer ctx.Close()

	it, err := NewSection(ctx, baseSectionConfig())
	require.NoError(t, err)

	var got []string
	for {
		id, nextErr := it.Next()
		if nextErr != nil {
			assert.ErrorIs(t, nextErr, ErrDone)
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, got)
	assert.Equal(t, 6, it.TotalConsumed())
}

func TestSectionPaging(t *testing.T) {
	server, calls := sectionServer(t, map[string]testSectionPage{
		"":       {sections: [][]string{{"m1"}, {"m2"}}, moreAvailable: true, nextMaxID: "token1"},
		"token1": {sections: [][]string{{"m3"}}},
	})
	defer server.Close()
	ctx := newIterContext(t, server.URL)
	defer ctx.Close()

	it, err := NewSection(ctx, baseSectionConfig())
	require.NoError(t, err)

	var got []string
	for {
		id, nextErr := it.Next()
		if nextErr != nil {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestSectionEmptySections(t *testing.T) {
	server, _ := sectionServer(t, map[string]testSectionPage{
		"": {sections: [][]string{{}, {"m1"}, {}}},
	})
	defer server.Close()
	ctx := newIterContext(t, server.URL)
	defer ctx.Close()

	it, err := NewSection(ctx, baseSectionConfig())
	require.NoError(t, err)

	id, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	_, err = it.Next()
	assert.ErrorIs(t, err, ErrDone)
}

func TestNewSectionValidation(t *testing.T) {
	ctx := newIterContext(t, "http://127.0.0.1:0")
	defer ctx.Close()

	cases := []struct {
		name   string
		mutate func(*SectionConfig[string])
	}{
		{"MissingPath", func(c *SectionConfig[string]) { c.Path = "" }},
		{"MissingExtractor", func(c *SectionConfig[string]) { c.Extract = nil }},
		{"MissingMapper", func(c *SectionConfig[string]) { c.MapNode = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseSectionConfig()
			tc.mutate(&cfg)
			_, err := NewSection(ctx, cfg)
			require.Error(t, err)
			assert.True(t, igerrors.IsKind(err, igerrors.KindInvalidArgument))
		})
	}
}
