package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
)

// TableID names the task table in view-state stores.
const TableID = "tasks"

// DateLayout is the wire format of due dates.
const DateLayout = "2006-01-02"

// Columns describes the task table.
var Columns = []datatable.Column{
	{ID: "title", Sortable: true, EnableColumnFilter: true, FilterField: datatable.FilterInput},
	{ID: "status", Sortable: true, EnableColumnFilter: true, FilterField: datatable.FilterSelect, Options: []datatable.Option{
		{Label: "All", Value: datatable.AllValue},
		{Label: "Active", Value: string(StatusActive)},
		{Label: "Completed", Value: string(StatusCompleted)},
		{Label: "Archived", Value: string(StatusArchived)},
	}},
	{ID: "due_date", Sortable: true, EnableColumnFilter: true, FilterField: datatable.FilterDate},
	{ID: "archive_date", Header: "Archived", Sortable: true, EnableColumnFilter: true, FilterField: datatable.FilterDateRange},
	{ID: "created_at", Header: "Created", Sortable: true, EnableColumnFilter: true, FilterField: datatable.FilterDateRange},
}

// sortColumns maps table columns onto task columns.
var sortColumns = map[string]string{
	"title":        "title",
	"status":       "status",
	"due_date":     "due_date",
	"archive_date": "archived_at",
	"created_at":   "created_at",
}

// FiltersFromState translates a view state into repository filters. A
// malformed date is a validation error.
func FiltersFromState(userID int64, st datatable.State) (ListFilters, error) {
	f := ListFilters{
		UserID:  userID,
		Search:  strings.TrimSpace(st.Search),
		SortBy:  sortColumns[st.Sort],
		SortDir: string(st.Order),
	}
	if st.PageSize > 0 {
		page := max(st.Page, 1)
		f.Limit = st.PageSize
		f.Offset = (page - 1) * st.PageSize
	}

	var err error
	for _, filter := range st.Filters {
		switch filter.Key {
		case "title":
			f.Title = strings.TrimSpace(filter.Value.String())
		case "status":
			status := Status(filter.Value.String())
			if !status.Valid() {
				return ListFilters{}, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, status)
			}
			f.Status = status
		case "due_date":
			if f.DueDate, err = parseDate(filter.Key, filter.Value.String()); err != nil {
				return ListFilters{}, err
			}
		case "archive_date", "created_at":
			r := filter.Value.DateRange()
			from, to := &f.ArchivedFrom, &f.ArchivedTo
			if filter.Key == "created_at" {
				from, to = &f.CreatedFrom, &f.CreatedTo
			}
			if *from, err = parseDate(filter.Key, r.From); err != nil {
				return ListFilters{}, err
			}
			if *to, err = parseDate(filter.Key, r.To); err != nil {
				return ListFilters{}, err
			}
		case "archive_date_from":
			if f.ArchivedFrom, err = parseDate(filter.Key, filter.Value.String()); err != nil {
				return ListFilters{}, err
			}
		case "archive_date_to":
			if f.ArchivedTo, err = parseDate(filter.Key, filter.Value.String()); err != nil {
				return ListFilters{}, err
			}
		case "created_at_from":
			if f.CreatedFrom, err = parseDate(filter.Key, filter.Value.String()); err != nil {
				return ListFilters{}, err
			}
		case "created_at_to":
			if f.CreatedTo, err = parseDate(filter.Key, filter.Value.String()); err != nil {
				return ListFilters{}, err
			}
		}
	}
	return f, nil
}

// parseDate reads an ISO calendar date, tolerating a trailing time part.
func parseDate(key, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if i := strings.IndexByte(value, 'T'); i > 0 {
		value = value[:i]
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD)", httpx.ErrValidation, key)
	}
	return &t, nil
}

// endOfDay turns an inclusive date into an exclusive upper bound.
func endOfDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	next := t.AddDate(0, 0, 1)
	return &next
}
