package datatable

import (
	"math"
	"strconv"
)

// MarkerKind tells a page link from an ellipsis.
type MarkerKind int

const (
	MarkerPage MarkerKind = iota
	MarkerEllipsisStart
	MarkerEllipsisEnd
)

// Marker is one item of the page window.
type Marker struct {
	Kind MarkerKind
	Page int
}

// PageMarker returns a marker for page n.
func PageMarker(n int) Marker {
	return Marker{Kind: MarkerPage, Page: n}
}

var (
	EllipsisStart = Marker{Kind: MarkerEllipsisStart}
	EllipsisEnd   = Marker{Kind: MarkerEllipsisEnd}
)

// IsEllipsis reports whether m is a placeholder.
func (m Marker) IsEllipsis() bool {
	return m.Kind != MarkerPage
}

func (m Marker) String() string {
	switch m.Kind {
	case MarkerEllipsisStart:
		return "ellipsis-start"
	case MarkerEllipsisEnd:
		return "ellipsis-end"
	default:
		return strconv.Itoa(m.Page)
	}
}

// Pages returns the page window around current: the first page, the pages
// adjacent to current, the last page, and an ellipsis wherever pages are
// skipped. A non-positive total is treated as a single page and current is
// clamped to [1, total].
func Pages(current, total int) []Marker {
	if total <= 0 {
		total = 1
	}
	current = min(max(current, 1), total)

	markers := []Marker{PageMarker(1)}
	if current > 4 {
		markers = append(markers, EllipsisStart)
	}
	for i := max(2, current-1); i <= min(total-1, current+1); i++ {
		if i != 1 && i != total {
			markers = append(markers, PageMarker(i))
		}
	}
	if current < total-3 {
		markers = append(markers, EllipsisEnd)
	}
	if total > 1 {
		markers = append(markers, PageMarker(total))
	}
	return markers
}

// Meta is the pagination metadata a row provider reports with each page.
type Meta struct {
	TotalRecords int `json:"total_records"`
	PageSize     int `json:"page_size"`
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
}

// NewMeta computes pagination metadata.
func NewMeta(totalRecords, pageSize, currentPage int) Meta {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if currentPage <= 0 {
		currentPage = DefaultPage
	}
	if totalRecords < 0 {
		totalRecords = 0
	}
	totalPages := int(math.Ceil(float64(totalRecords) / float64(pageSize)))
	return Meta{TotalRecords: totalRecords, PageSize: pageSize, CurrentPage: currentPage, TotalPages: totalPages}
}

// Offset is the number of records before the current page.
func (m Meta) Offset() int {
	if m.CurrentPage <= 1 {
		return 0
	}
	return (m.CurrentPage - 1) * m.PageSize
}

// Pager is what a template needs to draw the controls under a table.
type Pager struct {
	Meta
	Markers   []Marker
	HasPrev   bool
	HasNext   bool
	PrevPage  int
	NextPage  int
	PageSizes []int
}

// NewPager builds the controls for meta.
func NewPager(meta Meta) Pager {
	if meta.CurrentPage <= 0 {
		meta.CurrentPage = DefaultPage
	}
	if meta.PageSize <= 0 {
		meta.PageSize = DefaultPageSize
	}
	return Pager{
		Meta:      meta,
		Markers:   Pages(meta.CurrentPage, meta.TotalPages),
		HasPrev:   meta.CurrentPage > 1,
		HasNext:   meta.CurrentPage < meta.TotalPages,
		PrevPage:  meta.CurrentPage - 1,
		NextPage:  meta.CurrentPage + 1,
		PageSizes: PageSizes,
	}
}

// IsCurrent reports whether m points at the current page.
func (p Pager) IsCurrent(m Marker) bool {
	return !m.IsEllipsis() && m.Page == p.CurrentPage
}

// Navigate validates a page change. It returns false for the current page
// and for targets outside [1, TotalPages], which is how disabled previous
// and next controls behave.
func (p Pager) Navigate(target int) (int, bool) {
	if target == p.CurrentPage || target < 1 {
		return p.CurrentPage, false
	}
	total := max(p.TotalPages, 1)
	if target > total {
		return p.CurrentPage, false
	}
	return target, true
}
