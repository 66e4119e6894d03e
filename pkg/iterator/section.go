package iterator

import (
	"net/url"

	igerrors "igcrawl/pkg/errors"
	"igcrawl/pkg/session"
)

// SectionPage is the alternate pagination shape used by a subset of
// endpoints: an ordered list of sections of media entries, with a
// more-available flag and a max-id cursor token instead of the
// edges/cursor/has-more triple.
type SectionPage struct {
	Sections      []Section `json:"sections"`
	MoreAvailable bool      `json:"more_available"`
	NextMaxID     string    `json:"next_max_id"`
}

// Section is one batch of media entries.
type Section struct {
	Media []Node `json:"media"`
}

// SectionExtractor locates the section structure inside a raw response.
type SectionExtractor func(doc map[string]interface{}) (*SectionPage, error)

// SectionConfig describes one section-paginated endpoint.
type SectionConfig[T any] struct {
	// Path of the sections endpoint under the web API.
	Path string
	// Params are the base query parameters sent with every page request.
	Params  url.Values
	Referer string

	Extract SectionExtractor
	MapNode func(Node) (T, error)

	// MaxIDParam is the cursor parameter name, defaulting to "max_id".
	MaxIDParam string
}

// SectionIterator is a lazy sequence over a section-paginated endpoint,
// walking sections in order and media entries within each section in
// order. Section endpoints do not support checkpointing.
type SectionIterator[T any] struct {
	ctx *session.Context
	cfg SectionConfig[T]

	page        *SectionPage
	sectionIdx  int
	mediaIdx    int
	total       int
	initialized bool
}

// NewSection creates a section iterator.
func NewSection[T any](ctx *session.Context, cfg SectionConfig[T]) (*SectionIterator[T], error) {
	if cfg.Path == "" {
		return nil, igerrors.New(igerrors.KindInvalidArgument, "endpoint path is required")
	}
	if cfg.Extract == nil || cfg.MapNode == nil {
		return nil, igerrors.New(igerrors.KindInvalidArgument,
			"section extractor and node mapper are required")
	}
	if cfg.MaxIDParam == "" {
		cfg.MaxIDParam = "max_id"
	}
	return &SectionIterator[T]{ctx: ctx, cfg: cfg}, nil
}

// Next returns the next entry's mapped result, or ErrDone once all
// sections of the last page are exhausted.
func (it *SectionIterator[T]) Next() (T, error) {
	var zero T
	if !it.initialized {
		page, err := it.fetchPage("")
		if err != nil {
			return zero, err
		}
		it.page = page
		it.initialized = true
	}

	for {
		for it.sectionIdx < len(it.page.Sections) {
			section := it.page.Sections[it.sectionIdx]
			if it.mediaIdx < len(section.Media) {
				node := section.Media[it.mediaIdx]
				it.mediaIdx++
				it.total++
				return it.cfg.MapNode(node)
			}
			it.sectionIdx++
			it.mediaIdx = 0
		}
		if !it.page.MoreAvailable {
			return zero, ErrDone
		}
		next, err := it.fetchPage(it.page.NextMaxID)
		if err != nil {
			return zero, err
		}
		it.page = next
		it.sectionIdx = 0
		it.mediaIdx = 0
	}
}

// TotalConsumed returns how many entries have been emitted so far.
func (it *SectionIterator[T]) TotalConsumed() int {
	return it.total
}

func (it *SectionIterator[T]) fetchPage(maxID string) (*SectionPage, error) {
	params := url.Values{}
	for key, values := range it.cfg.Params {
		params[key] = values
	}
	if maxID != "" {
		params.Set(it.cfg.MaxIDParam, maxID)
	}
	doc, err := it.ctx.Query(it.cfg.Path, params, session.QueryOptions{Referer: it.cfg.Referer})
	if err != nil {
		return nil, err
	}
	return it.cfg.Extract(doc)
}
