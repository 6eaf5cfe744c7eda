package tasks

import (
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	datatablehttp "github.com/odyssey-erp/taskdesk/internal/datatable/http"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
	"github.com/odyssey-erp/taskdesk/internal/shared"
	"github.com/odyssey-erp/taskdesk/internal/view"
)

// Table is the mounted task table.
var Table = datatablehttp.Table{
	ID:          TableID,
	ListPath:    "/tasks",
	ActionPath:  "/tasks/table",
	FiltersPath: "/tasks/filters",
	Columns:     Columns,
}

// Handler serves the server-rendered task pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	table     *datatablehttp.Controller
	loader    *datatable.Loader[Task]
}

// NewHandler constructs the task handler. Table state lives in states.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, states datatable.Repository, recorder datatable.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		table:     datatablehttp.NewController(logger, states, datatablehttp.UserScope, Table, recorder),
		loader:    datatable.NewLoader(service.Rows(), datatable.WithRecorder(recorder)),
	}
}

// MountRoutes registers task pages relative to /tasks.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/filters", h.showFilters)
	r.Get("/export.csv", h.export)
	r.Route("/table", h.table.MountRoutes)
	r.Get("/new", h.showNew)
	r.Post("/", h.create)
	r.Get("/{id}/edit", h.showEdit)
	r.Post("/{id}", h.update)
	r.Post("/{id}/status", h.setStatus)
	r.Post("/{id}/delete", h.delete)
}

type taskForm struct {
	ID      int64
	Title   string
	Status  string
	DueDate string
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	st, ok := h.table.Resolve(w, r)
	if !ok {
		return
	}
	scope, err := h.table.Scope(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	res := h.loader.Load(r.Context(), scope+"/"+TableID, TableID, st)
	if errors.Is(res.Err, datatable.ErrStale) {
		http.Error(w, "superseded by a newer request", http.StatusConflict)
		return
	}
	if res.Err != nil {
		h.logger.Warn("load tasks", slog.Any("error", res.Err), slog.String("query", res.Snapshot))
	}

	table := datatable.NewView(Table.ID, Table.ActionPath, Table.ListPath, Table.Columns, st, res.Meta, res.Err)
	h.render(w, r, "Tasks", "pages/tasks_list.html", map[string]any{
		"Table":       table,
		"Rows":        res.Rows,
		"Error":       loadError(res.Err),
		"FiltersPath": Table.FiltersPath,
		"Statuses":    statuses(),
	}, http.StatusOK)
}

// loadError is what the table shows instead of rows when the fetch failed.
func loadError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, httpx.ErrValidation):
		return err.Error()
	default:
		return "Tasks could not be loaded. Try again."
	}
}

func (h *Handler) showFilters(w http.ResponseWriter, r *http.Request) {
	st, err := h.table.State(r)
	if err != nil {
		h.fail(w, "load table state", err)
		return
	}
	form := datatable.OpenFilterForm(Table.Columns, st)
	h.render(w, r, "Filters", "pages/task_filters.html", map[string]any{
		"Fields":   form.Fields(),
		"Action":   Table.ActionPath + "/filters",
		"ReturnTo": datatable.Location(Table.ListPath, datatable.Encode(st)),
	}, http.StatusOK)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	st, err := h.table.State(r)
	if err != nil {
		h.fail(w, "load table state", err)
		return
	}
	rows, err := h.service.ListAll(r.Context(), userID, st)
	if err != nil {
		if errors.Is(err, httpx.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.fail(w, "export tasks", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="tasks.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "title", "status", "due_date", "archived_at", "created_at"})
	for _, t := range rows {
		_ = cw.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Title,
			string(t.Status),
			formatOptional(t.DueDate, DateLayout),
			formatOptional(t.ArchivedAt, time.RFC3339),
			t.CreatedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) showNew(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, taskForm{Status: string(StatusActive)}, nil, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	_, err := h.service.Create(r.Context(), userID, form.input())
	if err != nil {
		h.formError(w, r, form, err)
		return
	}
	h.redirectWithFlash(w, r, Table.ListPath, "success", "Task created")
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	task, err := h.service.Get(r.Context(), userID, parseID(r))
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.fail(w, "get task", err)
		return
	}
	h.renderForm(w, r, taskForm{
		ID:      task.ID,
		Title:   task.Title,
		Status:  string(task.Status),
		DueDate: formatOptional(task.DueDate, DateLayout),
	}, nil, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	userID, form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	form.ID = parseID(r)
	_, err := h.service.Update(r.Context(), userID, form.ID, form.input())
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.formError(w, r, form, err)
		return
	}
	h.redirectWithFlash(w, r, Table.ListPath, "success", "Task updated")
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	status := Status(r.PostFormValue("status"))
	if _, err := h.service.Patch(r.Context(), userID, parseID(r), Patch{Status: &status}); err != nil {
		switch {
		case errors.Is(err, httpx.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, httpx.ErrValidation):
			h.redirectWithFlash(w, r, Table.ListPath, "danger", "Unknown status")
		default:
			h.fail(w, "set task status", err)
		}
		return
	}
	h.redirectWithFlash(w, r, Table.ListPath, "success", "Task marked "+string(status))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := h.service.Delete(r.Context(), userID, parseID(r)); err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.fail(w, "delete task", err)
		return
	}
	h.redirectWithFlash(w, r, Table.ListPath, "success", "Task deleted")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (int64, taskForm, bool) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, taskForm{}, false
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, taskForm{}, false
	}
	return userID, taskForm{
		Title:   r.PostFormValue("title"),
		Status:  r.PostFormValue("status"),
		DueDate: r.PostFormValue("due_date"),
	}, true
}

func (f taskForm) input() Input {
	return Input{Title: f.Title, Status: Status(f.Status), DueDate: f.DueDate}
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, form taskForm, err error) {
	if !errors.Is(err, httpx.ErrValidation) {
		h.fail(w, "save task", err)
		return
	}
	h.renderForm(w, r, form, FieldErrors(err), http.StatusBadRequest)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, form taskForm, errs map[string]string, status int) {
	title, action := "New task", "/tasks"
	if form.ID > 0 {
		title, action = "Edit task", "/tasks/"+strconv.FormatInt(form.ID, 10)
	}
	h.render(w, r, title, "pages/task_form.html", map[string]any{
		"Form":     form,
		"Errors":   errs,
		"Action":   action,
		"Statuses": statuses(),
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, title, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func parseID(r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatOptional(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

func statuses() []Status {
	return []Status{StatusActive, StatusCompleted, StatusArchived}
}
