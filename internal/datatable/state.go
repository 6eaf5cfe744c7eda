// Package datatable keeps the view state (page, page size, sort, search and
// column filters) of paginated tables, projects it into query strings and
// computes the page window rendered under a table.
package datatable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Order is a sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Valid reports whether o is a known direction.
func (o Order) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

const (
	// DefaultPage is the first page.
	DefaultPage = 1
	// DefaultPageSize is the page size of a fresh table.
	DefaultPageSize = 10
	// AllValue is the select option meaning "no filter".
	AllValue = "all"
)

// PageSizes lists the page sizes a table accepts.
var PageSizes = []int{5, 10, 20, 30, 40, 50}

// ValidPageSize reports whether n is one of PageSizes.
func ValidPageSize(n int) bool {
	return slices.Contains(PageSizes, n)
}

// DateRange is an inclusive range of ISO calendar dates. Either side may be empty.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// IsZero reports whether both sides are empty.
func (r DateRange) IsZero() bool {
	return r.From == "" && r.To == ""
}

// Value is a column filter value: a scalar or a date range.
type Value struct {
	text string
	rng  *DateRange
}

// Text returns a scalar filter value.
func Text(s string) Value {
	return Value{text: s}
}

// Number returns a numeric scalar filter value.
func Number(n int64) Value {
	return Value{text: strconv.FormatInt(n, 10)}
}

// Range returns a date range filter value.
func Range(from, to string) Value {
	return Value{rng: &DateRange{From: from, To: to}}
}

// IsRange reports whether v holds a date range.
func (v Value) IsRange() bool {
	return v.rng != nil
}

// DateRange returns the range held by v, or the zero range for scalars.
func (v Value) DateRange() DateRange {
	if v.rng == nil {
		return DateRange{}
	}
	return *v.rng
}

// String returns the scalar text. Ranges render as "from..to".
func (v Value) String() string {
	if v.rng != nil {
		return v.rng.From + ".." + v.rng.To
	}
	return v.text
}

// Unset reports whether v is one of the "no filter" sentinels: an empty
// string, the "all" option, an empty range or the zero Value.
func (v Value) Unset() bool {
	if v.rng != nil {
		return v.rng.IsZero()
	}
	return v.text == "" || v.text == AllValue
}

// MarshalJSON encodes scalars as strings and ranges as {from, to} objects.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.rng != nil {
		return json.Marshal(*v.rng)
	}
	if v.text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts a string, a number, null or a {from, to} object.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = Value{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case data[0] == '{':
		var r DateRange
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*v = Range(r.From, r.To)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("datatable: unsupported filter value %s", data)
		}
		*v = Text(n.String())
	}
	return nil
}

// Filter is one column filter entry.
type Filter struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// State is the view state of one table.
type State struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Sort     string   `json:"sort,omitempty"`
	Order    Order    `json:"order,omitempty"`
	Search   string   `json:"search,omitempty"`
	Filters  []Filter `json:"filters,omitempty"`
}

// DefaultState is the state of a table that was never touched.
func DefaultState() State {
	return State{Page: DefaultPage, PageSize: DefaultPageSize}
}

// Filter returns the filter stored under key.
func (s State) Filter(key string) (Value, bool) {
	for _, f := range s.Filters {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.Filters != nil {
		out.Filters = make([]Filter, len(s.Filters))
		copy(out.Filters, s.Filters)
	}
	return out
}

// normalize drops invalid and unset keys so the state stays minimal.
func (s State) normalize() State {
	out := DefaultState()
	if s.Page >= 1 {
		out.Page = s.Page
	}
	if ValidPageSize(s.PageSize) {
		out.PageSize = s.PageSize
	}
	if sort := strings.TrimSpace(s.Sort); sort != "" && sort != AllValue {
		out.Sort = sort
		if s.Order.Valid() {
			out.Order = s.Order
		}
	}
	if s.Search != "" && s.Search != AllValue {
		out.Search = s.Search
	}
	for _, f := range s.Filters {
		out.setFilter(f.Key, f.Value)
	}
	return out
}

// setFilter stores or removes a filter, keeping the position of existing keys.
func (s *State) setFilter(key string, v Value) {
	key = strings.TrimSpace(key)
	if key == "" || reservedKey(key) {
		return
	}
	idx := slices.IndexFunc(s.Filters, func(f Filter) bool { return f.Key == key })
	if v.Unset() {
		if idx >= 0 {
			s.Filters = slices.Delete(s.Filters, idx, idx+1)
		}
		if len(s.Filters) == 0 {
			s.Filters = nil
		}
		return
	}
	if idx >= 0 {
		s.Filters[idx].Value = v
		return
	}
	s.Filters = append(s.Filters, Filter{Key: key, Value: v})
}

func reservedKey(key string) bool {
	switch key {
	case ParamPage, ParamPageSize, ParamSort, ParamOrder, ParamSearch:
		return true
	}
	return false
}

// Params is a partial update of a State. Nil pointers are "not supplied";
// supplied sentinels ("", "all") remove the key. A filter whose value is
// unset removes that filter.
type Params struct {
	Page     *int
	PageSize *int
	Sort     *string
	Order    *Order
	Search   *string
	Filters  []Filter
}

// Ptr returns a pointer to v. Handy when building Params.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether p supplies nothing.
func (p Params) Empty() bool {
	return p.Page == nil && p.PageSize == nil && p.Sort == nil && p.Order == nil && p.Search == nil && len(p.Filters) == 0
}

// merge applies p on top of s. Supplying sort, order, search, page size or
// any filter sends the table back to the first page.
func (s State) merge(p Params) State {
	next := s.Clone()
	resetPage := false

	if p.PageSize != nil && ValidPageSize(*p.PageSize) {
		next.PageSize = *p.PageSize
		resetPage = true
	}
	if p.Sort != nil {
		sort := strings.TrimSpace(*p.Sort)
		if sort == "" || sort == AllValue {
			next.Sort = ""
			next.Order = ""
		} else {
			next.Sort = sort
		}
		resetPage = true
	}
	if p.Order != nil {
		switch {
		case p.Order.Valid():
			next.Order = *p.Order
		case *p.Order == "" || string(*p.Order) == AllValue:
			next.Order = ""
		}
		resetPage = true
	}
	if p.Search != nil {
		if *p.Search == "" || *p.Search == AllValue {
			next.Search = ""
		} else {
			next.Search = *p.Search
		}
		resetPage = true
	}
	for _, f := range p.Filters {
		next.setFilter(f.Key, f.Value)
		resetPage = true
	}
	if p.Page != nil && *p.Page >= 1 {
		next.Page = *p.Page
	}
	if resetPage {
		next.Page = DefaultPage
	}
	return next
}
