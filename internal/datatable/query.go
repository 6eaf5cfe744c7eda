package datatable

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names.
const (
	ParamPage     = "page"
	ParamPageSize = "page_size"
	ParamSort     = "sort"
	ParamOrder    = "order"
	ParamSearch   = "search"

	suffixFrom = "_from"
	suffixTo   = "_to"
)

// Encode projects st onto a query string. Keys come out in a fixed order:
// page, page_size, sort, order, search, then filters in insertion order.
// Unset values are skipped and date ranges become <key>_from / <key>_to.
func Encode(st State) string {
	var b strings.Builder
	add := func(key, value string) {
		if value == "" || value == AllValue {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	if st.Page >= 1 {
		add(ParamPage, strconv.Itoa(st.Page))
	}
	if st.PageSize >= 1 {
		add(ParamPageSize, strconv.Itoa(st.PageSize))
	}
	add(ParamSort, st.Sort)
	if st.Sort != "" {
		add(ParamOrder, string(st.Order))
	}
	add(ParamSearch, st.Search)
	for _, f := range st.Filters {
		if f.Value.Unset() {
			continue
		}
		if f.Value.IsRange() {
			r := f.Value.DateRange()
			add(f.Key+suffixFrom, r.From)
			add(f.Key+suffixTo, r.To)
			continue
		}
		add(f.Key, f.Value.String())
	}
	return b.String()
}

// Decode reads a state back from query values. Filter keys are taken from the
// filterable columns: <id> for scalar kinds, <id>_from and <id>_to for date
// ranges. Anything else in q is ignored.
func Decode(q url.Values, columns []Column) State {
	st := DefaultState()
	if page, err := strconv.Atoi(q.Get(ParamPage)); err == nil && page >= 1 {
		st.Page = page
	}
	if size, err := strconv.Atoi(q.Get(ParamPageSize)); err == nil && ValidPageSize(size) {
		st.PageSize = size
	}
	if sort := q.Get(ParamSort); sort != "" && sort != AllValue && sortable(columns, sort) {
		st.Sort = sort
		if order := Order(q.Get(ParamOrder)); order.Valid() {
			st.Order = order
		}
	}
	if search := q.Get(ParamSearch); search != AllValue {
		st.Search = search
	}
	for _, col := range FilterableColumns(columns) {
		if col.FilterField == FilterDateRange {
			st.setFilter(col.ID+suffixFrom, Text(dateInput(q.Get(col.ID+suffixFrom))))
			st.setFilter(col.ID+suffixTo, Text(dateInput(q.Get(col.ID+suffixTo))))
			continue
		}
		st.setFilter(col.ID, Text(q.Get(col.ID)))
	}
	return st
}

func sortable(columns []Column, id string) bool {
	if len(columns) == 0 {
		return true
	}
	for _, col := range columns {
		if col.ID == id {
			return col.Sortable
		}
	}
	return false
}

// URLSync is an Observer that keeps a request URL in step with a table
// state. It records a replace-navigation target only when the projected
// query differs from the current one, so an already canonical URL never
// triggers another navigation.
type URLSync struct {
	path    string
	current string
	target  string
	pending bool
}

// NewURLSync binds a synchroniser to the URL the client is looking at.
func NewURLSync(u *url.URL) *URLSync {
	if u == nil {
		return &URLSync{path: "/"}
	}
	return &URLSync{path: u.Path, current: u.RawQuery}
}

// Observe projects st and compares it with the current query.
func (s *URLSync) Observe(_ string, st State) {
	query := Encode(st)
	if query == s.current {
		s.pending = false
		s.target = ""
		return
	}
	s.target = Location(s.path, query)
	s.pending = true
}

// Target returns the location to replace the current URL with, if any.
func (s *URLSync) Target() (string, bool) {
	return s.target, s.pending
}

// Location joins a path and a query string.
func Location(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}
