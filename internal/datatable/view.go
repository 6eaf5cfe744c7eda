package datatable

// View bundles what the table partials render apart from the rows.
type View struct {
	ID       string
	Action   string
	ListPath string
	Headers  []HeaderView
	State    State
	Query    string
	Pager    Pager
	Err      error
}

// NewView assembles a View. When err is set the pager falls back to the
// page the state asks for, with no records.
func NewView(tableID, action, listPath string, columns []Column, st State, meta Meta, err error) View {
	if err != nil || meta.PageSize == 0 {
		meta = NewMeta(meta.TotalRecords, st.PageSize, st.Page)
	}
	return View{
		ID:       tableID,
		Action:   action,
		ListPath: listPath,
		Headers:  Headers(columns, st),
		State:    st,
		Query:    Encode(st),
		Pager:    NewPager(meta),
		Err:      err,
	}
}

// ReturnTo is the list URL for the current state.
func (v View) ReturnTo() string {
	return Location(v.ListPath, v.Query)
}
