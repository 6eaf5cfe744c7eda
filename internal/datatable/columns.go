package datatable

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FilterKind selects the editor used for a column filter.
type FilterKind string

const (
	FilterInput     FilterKind = "input"
	FilterSelect    FilterKind = "select"
	FilterDate      FilterKind = "date"
	FilterDateRange FilterKind = "daterange"
)

// Option is one choice of a select filter.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Column describes a table column.
type Column struct {
	ID                 string     `json:"id"`
	Header             string     `json:"header,omitempty"`
	Sortable           bool       `json:"sortable,omitempty"`
	EnableColumnFilter bool       `json:"enable_column_filter,omitempty"`
	FilterField        FilterKind `json:"filter_field,omitempty"`
	Options            []Option   `json:"options,omitempty"`
}

// Label returns the header, falling back to the title-cased id.
func (c Column) Label() string {
	if c.Header != "" {
		return c.Header
	}
	return cases.Title(language.English).String(strings.ReplaceAll(c.ID, "_", " "))
}

// Kind returns the filter kind, defaulting to a text input.
func (c Column) Kind() FilterKind {
	if c.FilterField == "" {
		return FilterInput
	}
	return c.FilterField
}

// FilterableColumns keeps the columns with EnableColumnFilter set.
func FilterableColumns(columns []Column) []Column {
	out := make([]Column, 0, len(columns))
	for _, col := range columns {
		if col.EnableColumnFilter {
			out = append(out, col)
		}
	}
	return out
}

// FindColumn looks a column up by id.
func FindColumn(columns []Column, id string) (Column, bool) {
	for _, col := range columns {
		if col.ID == id {
			return col, true
		}
	}
	return Column{}, false
}

// HeaderView is a column header as rendered: label plus current sort arrow.
type HeaderView struct {
	Column
	Direction Order
}

// Headers pairs each column with the direction it is sorted in, if any.
func Headers(columns []Column, st State) []HeaderView {
	out := make([]HeaderView, len(columns))
	for i, col := range columns {
		hv := HeaderView{Column: col}
		if st.Sort == col.ID {
			hv.Direction = st.Order
			if hv.Direction == "" {
				hv.Direction = OrderAsc
			}
		}
		out[i] = hv
	}
	return out
}

// NextSort computes the sort change for a click on column id: a column that
// is sorted ascending flips to descending, anything else starts ascending.
func NextSort(st State, id string) Params {
	order := OrderAsc
	if st.Sort == id && st.Order != OrderDesc {
		order = OrderDesc
	}
	return Params{Sort: Ptr(id), Order: Ptr(order), Page: Ptr(DefaultPage)}
}
