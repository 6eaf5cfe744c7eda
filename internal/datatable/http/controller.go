// Package datatablehttp exposes table view state over HTTP: POST controls
// for server-rendered tables and a JSON state API.
package datatablehttp

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// ErrNoScope is returned by a ScopeFunc when the request has no owner.
var ErrNoScope = errors.New("datatable: request has no owner")

var errInvalidForm = errors.New("datatable: invalid filter form")

// ScopeFunc names the owner of the store a request works on.
type ScopeFunc func(r *http.Request) (string, error)

// Table describes one mounted table.
type Table struct {
	ID          string
	ListPath    string
	ActionPath  string
	FiltersPath string
	Columns     []datatable.Column
}

// Controller handles the controls of one table.
type Controller struct {
	logger   *slog.Logger
	repo     datatable.Repository
	scope    ScopeFunc
	recorder datatable.Recorder
	validate *validator.Validate
	table    Table
}

type pageSizeInput struct {
	PageSize int `validate:"required,oneof=5 10 20 30 40 50"`
}

type pageInput struct {
	Page       int `validate:"required,min=1"`
	TotalPages int `validate:"min=0"`
}

// NewController constructs a Controller for table.
func NewController(logger *slog.Logger, repo datatable.Repository, scope ScopeFunc, table Table, recorder datatable.Recorder) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Controller{
		logger:   logger,
		repo:     repo,
		scope:    scope,
		recorder: recorder,
		validate: validator.New(),
		table:    table,
	}
}

// Table returns the table the controller serves.
func (c *Controller) Table() Table {
	return c.table
}

// MountRoutes registers the control endpoints relative to the table's action path.
func (c *Controller) MountRoutes(r chi.Router) {
	r.Post("/sort", c.handleSort)
	r.Post("/page", c.handlePage)
	r.Post("/page-size", c.handlePageSize)
	r.Post("/search", c.handleSearch)
	r.Post("/filters", c.handleFilters)
	r.Post("/reset", c.handleReset)
}

// Resolve returns the committed state for a GET of the list page. A table
// seen for the first time is initialised from the query. When the query is
// not the projection of the committed state the client is redirected to the
// canonical URL and ok is false.
func (c *Controller) Resolve(w http.ResponseWriter, r *http.Request) (datatable.State, bool) {
	scope, err := c.scope(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return datatable.State{}, false
	}
	sync := datatable.NewURLSync(r.URL)
	store, written, err := c.repo.Update(r.Context(), scope, func(store *datatable.Store) error {
		cancel := store.Subscribe(c.table.ID, sync.Observe)
		defer cancel()
		if st, ok := store.Get(c.table.ID); ok {
			sync.Observe(c.table.ID, st)
			return nil
		}
		store.InitTable(c.table.ID, datatable.Decode(r.URL.Query(), c.table.Columns))
		return nil
	})
	if err != nil {
		c.logger.Error("resolve table state", slog.Any("error", err), slog.String("table", c.table.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return datatable.State{}, false
	}
	if written {
		c.recorder.TableMutated(c.table.ID, "init")
	}
	st := store.State(c.table.ID)

	if target, pending := sync.Target(); pending {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return st, false
	}
	return st, true
}

// State returns the committed state without touching the URL.
func (c *Controller) State(r *http.Request) (datatable.State, error) {
	scope, err := c.scope(r)
	if err != nil {
		return datatable.State{}, err
	}
	store, err := c.repo.Load(r.Context(), scope)
	if err != nil {
		return datatable.State{}, err
	}
	return store.State(c.table.ID), nil
}

// Scope exposes the owner scope of r.
func (c *Controller) Scope(r *http.Request) (string, error) {
	return c.scope(r)
}

func (c *Controller) handleSort(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid request")
		return
	}
	column := r.PostFormValue("column")
	col, ok := datatable.FindColumn(c.table.Columns, column)
	if !ok || !col.Sortable {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Column cannot be sorted")
		return
	}
	c.mutate(w, r, "sort", func(store *datatable.Store) {
		store.SetParams(c.table.ID, datatable.NextSort(store.State(c.table.ID), column))
	})
}

func (c *Controller) handlePage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid request")
		return
	}
	input := pageInput{
		Page:       atoi(r.PostFormValue("page")),
		TotalPages: atoi(r.PostFormValue("total_pages")),
	}
	if err := c.validate.Struct(input); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid page")
		return
	}
	c.mutate(w, r, "page", func(store *datatable.Store) {
		st := store.State(c.table.ID)
		total := input.TotalPages
		if total == 0 {
			total = max(input.Page, st.Page)
		}
		pager := datatable.NewPager(datatable.Meta{PageSize: st.PageSize, CurrentPage: st.Page, TotalPages: total})
		page, ok := pager.Navigate(input.Page)
		if !ok {
			return
		}
		store.SetParams(c.table.ID, datatable.Params{Page: datatable.Ptr(page)})
	})
}

func (c *Controller) handlePageSize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid request")
		return
	}
	input := pageSizeInput{PageSize: atoi(r.PostFormValue("page_size"))}
	if err := c.validate.Struct(input); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid page size")
		return
	}
	c.mutate(w, r, "page_size", func(store *datatable.Store) {
		store.SetParams(c.table.ID, datatable.Params{PageSize: datatable.Ptr(input.PageSize)})
	})
}

func (c *Controller) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, c.table.ListPath, "danger", "Invalid request")
		return
	}
	search := strings.TrimSpace(r.PostFormValue("search"))
	c.mutate(w, r, "search", func(store *datatable.Store) {
		store.SetParams(c.table.ID, datatable.Params{Search: datatable.Ptr(search)})
	})
}

// handleFilters applies or resets the filter form. Reset keeps the user on
// the form page, the way the modal stays open.
func (c *Controller) handleFilters(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, c.table.FiltersPath, "danger", "Invalid request")
		return
	}

	if r.PostFormValue("action") == "reset" {
		_, ok := c.commit(w, r, "reset", func(store *datatable.Store) error {
			form := datatable.OpenFilterForm(c.table.Columns, store.State(c.table.ID))
			form.Reset(store, c.table.ID)
			return nil
		})
		if ok {
			http.Redirect(w, r, c.table.FiltersPath, http.StatusSeeOther)
		}
		return
	}

	var formErrs map[string]string
	store, ok := c.commit(w, r, "filters", func(store *datatable.Store) error {
		form := datatable.OpenFilterForm(c.table.Columns, store.State(c.table.ID))
		form.Bind(r.PostForm)
		if formErrs = form.Validate(); formErrs != nil {
			return errInvalidForm
		}
		store.SetParams(c.table.ID, form.ApplyParams())
		return nil
	})
	if formErrs != nil {
		c.redirectWithFlash(w, r, c.table.FiltersPath, "danger", validationMessage(formErrs))
		return
	}
	if !ok {
		return
	}
	st := store.State(c.table.ID)
	http.Redirect(w, r, datatable.Location(c.table.ListPath, datatable.Encode(st)), http.StatusSeeOther)
}

func (c *Controller) handleReset(w http.ResponseWriter, r *http.Request) {
	c.mutate(w, r, "reset", func(store *datatable.Store) {
		store.ResetTable(c.table.ID)
	})
}

// mutate applies fn to the owner's latest store, commits the result and
// redirects to the list page for the committed state.
func (c *Controller) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(*datatable.Store)) {
	store, ok := c.commit(w, r, op, func(store *datatable.Store) error {
		fn(store)
		return nil
	})
	if !ok {
		return
	}
	st := store.State(c.table.ID)
	http.Redirect(w, r, datatable.Location(c.table.ListPath, datatable.Encode(st)), http.StatusSeeOther)
}

// commit runs fn through the repository and records op when the store
// changed. Failures other than errInvalidForm are answered here.
func (c *Controller) commit(w http.ResponseWriter, r *http.Request, op string, fn func(*datatable.Store) error) (*datatable.Store, bool) {
	scope, err := c.scope(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}
	store, written, err := c.repo.Update(r.Context(), scope, fn)
	if err != nil {
		if errors.Is(err, errInvalidForm) {
			return nil, false
		}
		c.logger.Error("update table state", slog.Any("error", err), slog.String("table", c.table.ID), slog.String("op", op))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	if written {
		c.recorder.TableMutated(c.table.ID, op)
	}
	return store, true
}

func (c *Controller) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func validationMessage(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for key := range errs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+" "+errs[key])
	}
	return strings.Join(parts, "; ")
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

type noopRecorder struct{}

func (noopRecorder) TableMutated(string, string) {}
func (noopRecorder) StaleDiscarded(string)       {}
