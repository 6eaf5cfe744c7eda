package datatable

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownColumn is returned when editing a column that has no filter.
var ErrUnknownColumn = errors.New("datatable: unknown filter column")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// FilterForm buffers filter edits until they are applied, so half-edited
// values never reach the store.
type FilterForm struct {
	columns []Column
	values  map[string]Value
	open    bool
}

// FormField is one editor of the form, ready for a template.
type FormField struct {
	Column
	Value string
	From  string
	To    string
}

// OpenFilterForm seeds a buffer from the committed filters of st. Scalars
// start from "" and date ranges from an empty range when nothing is committed.
func OpenFilterForm(columns []Column, committed State) *FilterForm {
	f := &FilterForm{columns: FilterableColumns(columns), open: true}
	f.seed(committed)
	return f
}

func (f *FilterForm) seed(st State) {
	f.values = make(map[string]Value, len(f.columns))
	for _, col := range f.columns {
		if col.Kind() == FilterDateRange {
			var r DateRange
			if v, ok := st.Filter(col.ID); ok && v.IsRange() {
				r = v.DateRange()
			}
			if v, ok := st.Filter(col.ID + suffixFrom); ok && !v.IsRange() {
				r.From = v.String()
			}
			if v, ok := st.Filter(col.ID + suffixTo); ok && !v.IsRange() {
				r.To = v.String()
			}
			f.values[col.ID] = Range(dateInput(r.From), dateInput(r.To))
			continue
		}
		v, _ := st.Filter(col.ID)
		if col.Kind() == FilterDate {
			v = Text(dateInput(v.String()))
		}
		f.values[col.ID] = Text(v.String())
	}
}

// IsOpen reports whether the form is still being edited.
func (f *FilterForm) IsOpen() bool {
	return f.open
}

// Columns returns the filterable columns of the form.
func (f *FilterForm) Columns() []Column {
	return f.columns
}

// Set edits the buffered value of a scalar column.
func (f *FilterForm) Set(columnID, value string) error {
	col, ok := FindColumn(f.columns, columnID)
	if !ok || col.Kind() == FilterDateRange {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	f.values[columnID] = Text(value)
	return nil
}

// SetRange edits the buffered value of a date range column.
func (f *FilterForm) SetRange(columnID, from, to string) error {
	col, ok := FindColumn(f.columns, columnID)
	if !ok || col.Kind() != FilterDateRange {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	f.values[columnID] = Range(from, to)
	return nil
}

// Value returns the buffered value of a column.
func (f *FilterForm) Value(columnID string) Value {
	return f.values[columnID]
}

// Bind copies submitted form fields into the buffer: <id> for scalar
// columns, <id>_from and <id>_to for date ranges. Missing fields read as empty.
func (f *FilterForm) Bind(form url.Values) {
	for _, col := range f.columns {
		if col.Kind() == FilterDateRange {
			f.values[col.ID] = Range(strings.TrimSpace(form.Get(col.ID+suffixFrom)), strings.TrimSpace(form.Get(col.ID+suffixTo)))
			continue
		}
		f.values[col.ID] = Text(strings.TrimSpace(form.Get(col.ID)))
	}
}

// Validate checks that date editors hold ISO calendar dates.
func (f *FilterForm) Validate() map[string]string {
	errs := make(map[string]string)
	check := func(key, value string) bool {
		if value == "" {
			return true
		}
		if err := formValidator().Var(value, "datetime=2006-01-02"); err != nil {
			errs[key] = "must be a date (YYYY-MM-DD)"
			return false
		}
		return true
	}
	for _, col := range f.columns {
		v := f.values[col.ID]
		switch col.Kind() {
		case FilterDate:
			check(col.ID, v.String())
		case FilterDateRange:
			r := v.DateRange()
			fromOK := check(col.ID+suffixFrom, r.From)
			toOK := check(col.ID+suffixTo, r.To)
			if fromOK && toOK && r.From != "" && r.To != "" && r.From > r.To {
				errs[col.ID+suffixTo] = "must not be before the start date"
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Apply flattens the buffer into the filters to commit and closes the form.
// Date ranges become <id>_from / <id>_to entries for the sides that are set;
// empty scalars and the "all" option are dropped.
func (f *FilterForm) Apply() []Filter {
	var out []Filter
	for _, col := range f.columns {
		v, ok := f.values[col.ID]
		if !ok || v.Unset() {
			continue
		}
		if v.IsRange() {
			r := v.DateRange()
			if r.From != "" {
				out = append(out, Filter{Key: col.ID + suffixFrom, Value: Text(r.From)})
			}
			if r.To != "" {
				out = append(out, Filter{Key: col.ID + suffixTo, Value: Text(r.To)})
			}
			continue
		}
		out = append(out, Filter{Key: col.ID, Value: v})
	}
	f.open = false
	return out
}

// ApplyParams is Apply shaped as a store update: every filter key the form
// owns and did not set is cleared, so emptied editors remove committed filters.
func (f *FilterForm) ApplyParams() Params {
	applied := f.Apply()
	set := make(map[string]bool, len(applied))
	for _, a := range applied {
		set[a.Key] = true
	}
	filters := applied
	for _, key := range f.keys() {
		if !set[key] {
			filters = append(filters, Filter{Key: key})
		}
	}
	return Params{Filters: filters, Page: Ptr(DefaultPage)}
}

// keys lists every store key the form may write.
func (f *FilterForm) keys() []string {
	keys := make([]string, 0, len(f.columns))
	for _, col := range f.columns {
		if col.Kind() == FilterDateRange {
			keys = append(keys, col.ID, col.ID+suffixFrom, col.ID+suffixTo)
			continue
		}
		keys = append(keys, col.ID)
	}
	return keys
}

// Reset clears the table in the store and empties every editor. The form
// stays open.
func (f *FilterForm) Reset(store *Store, tableID string) State {
	st := store.ResetTable(tableID)
	f.seed(State{})
	f.open = true
	return st
}

// Fields returns the editors in column order.
func (f *FilterForm) Fields() []FormField {
	out := make([]FormField, 0, len(f.columns))
	for _, col := range f.columns {
		v := f.values[col.ID]
		field := FormField{Column: col}
		if col.Kind() == FilterDateRange {
			r := v.DateRange()
			field.From, field.To = r.From, r.To
		} else {
			field.Value = v.String()
		}
		out = append(out, field)
	}
	return out
}

// dateInput trims a timestamp down to its calendar date.
func dateInput(s string) string {
	if i := strings.IndexByte(s, 'T'); i > 0 {
		return s[:i]
	}
	return s
}
