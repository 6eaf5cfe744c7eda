package tasks_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/platform/filedb"
	"github.com/odyssey-erp/taskdesk/internal/shared"
	"github.com/odyssey-erp/taskdesk/internal/tasks"
	"github.com/odyssey-erp/taskdesk/internal/view"
	_ "github.com/odyssey-erp/taskdesk/testing"
)

type fixture struct {
	service *tasks.Service
	states  datatable.Repository
	router  http.Handler
}

// withUser stands in for the session middleware: X-User carries the user id.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := strconv.ParseInt(r.Header.Get("X-User"), 10, 64); err == nil {
			r = r.WithContext(shared.ContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := filedb.Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	service := tasks.NewService(tasks.NewFileRepository(db))
	states := datatable.NewRedisRepository(client, time.Hour)
	templates, err := view.NewEngine()
	require.NoError(t, err)

	handler := tasks.NewHandler(nil, service, templates, shared.NewCSRFManager("csrfsecret"), states, nil)
	r := chi.NewRouter()
	r.Use(withUser)
	r.Route("/tasks", handler.MountRoutes)
	r.Route("/api/tasks", tasks.NewAPIHandler(nil, service).MountRoutes)
	return &fixture{service: service, states: states, router: r}
}

func (f *fixture) seed(t *testing.T, userID int64, titles ...string) {
	t.Helper()
	for _, title := range titles {
		_, err := f.service.Create(context.Background(), userID, tasks.Input{Title: title})
		require.NoError(t, err)
	}
}

func (f *fixture) do(t *testing.T, method, target, user string, body *strings.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return f.do(t, http.MethodGet, target, "1", nil, "")
}

func (f *fixture) post(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	return f.do(t, http.MethodPost, target, "1", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func TestListRedirectsThenRenders(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "Write report", "Book flights")
	f.seed(t, 2, "Not mine")

	res := f.get(t, "/tasks")
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/tasks?page=1&page_size=10", res.Header().Get("Location"))

	res = f.get(t, "/tasks?page=1&page_size=10")
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Write report")
	assert.Contains(t, body, "Book flights")
	assert.NotContains(t, body, "Not mine")
	assert.Contains(t, body, "2 records")
}

func TestListFollowsTableControls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alpha", "bravo", "charlie")
	require.Equal(t, http.StatusSeeOther, f.get(t, "/tasks").Code)

	res := f.post(t, "/tasks/table/search", url.Values{"search": {"rav"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	location := res.Header().Get("Location")
	assert.Equal(t, "/tasks?page=1&page_size=10&search=rav", location)

	res = f.get(t, location)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "bravo")
	assert.NotContains(t, res.Body.String(), "charlie")

	// A stale URL is replaced by the committed state.
	res = f.get(t, "/tasks?page=1&page_size=10")
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, location, res.Header().Get("Location"))
}

func TestListShowsFilterErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alpha")

	res := f.get(t, "/tasks?page=1&page_size=10&due_date=someday")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "due_date must be a date")
	assert.NotContains(t, res.Body.String(), "<td>alpha</td>")
}

func TestListRequiresUser(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/tasks", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestFiltersPage(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.get(t, "/tasks?page=1&page_size=10&archive_date_from=2024-01-01").Code)

	res := f.get(t, "/tasks/filters")
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, `action="/tasks/table/filters"`)
	assert.Contains(t, body, `name="archive_date_from" value="2024-01-01"`)
	assert.Contains(t, body, `name="status"`)
	assert.Contains(t, body, `href="/tasks?page=1&amp;page_size=10&amp;archive_date_from=2024-01-01"`)
}

func TestCreateAndEditTask(t *testing.T) {
	f := newFixture(t)

	res := f.post(t, "/tasks", url.Values{"title": {""}, "status": {"active"}})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Title is required")

	res = f.post(t, "/tasks", url.Values{"title": {"Plan trip"}, "status": {"active"}, "due_date": {"2024-05-01"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/tasks", res.Header().Get("Location"))

	res = f.get(t, "/tasks/1/edit")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `value="Plan trip"`)
	assert.Contains(t, res.Body.String(), `value="2024-05-01"`)

	res = f.post(t, "/tasks/1", url.Values{"title": {"Plan holiday"}, "status": {"completed"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	task, err := f.service.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Plan holiday", task.Title)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Nil(t, task.DueDate)

	res = f.post(t, "/tasks/1/status", url.Values{"status": {"archived"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	task, err = f.service.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusArchived, task.Status)
	assert.NotNil(t, task.ArchivedAt)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/tasks/99/edit").Code)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/tasks/99/delete", url.Values{}).Code)

	res = f.post(t, "/tasks/1/delete", url.Values{})
	require.Equal(t, http.StatusSeeOther, res.Code)
	_, err = f.service.Get(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestExportUsesCommittedState(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "Write report", "Write letters", "Book flights")
	require.Equal(t, http.StatusOK, f.get(t, "/tasks?page=1&page_size=5&sort=title&order=desc&search=write").Code)

	res := f.get(t, "/tasks/export.csv")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "text/csv; charset=utf-8", res.Header().Get("Content-Type"))

	records, err := csv.NewReader(res.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "title", "status", "due_date", "archived_at", "created_at"}, records[0])
	assert.Equal(t, "Write report", records[1][1])
	assert.Equal(t, "Write letters", records[2][1])
}

type listBody struct {
	Data  []tasks.Task   `json:"data"`
	Meta  datatable.Meta `json:"meta"`
	Error string         `json:"error"`
}

func TestTaskAPI(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alpha", "bravo", "charlie", "delta", "echo", "foxtrot")

	res := f.get(t, "/api/tasks?page=2&page_size=5&sort=title&order=asc")
	require.Equal(t, http.StatusOK, res.Code)
	var list listBody
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &list))
	assert.Equal(t, datatable.Meta{TotalRecords: 6, PageSize: 5, CurrentPage: 2, TotalPages: 2}, list.Meta)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "foxtrot", list.Data[0].Title)
	assert.Empty(t, list.Error)

	res = f.get(t, "/api/tasks?status=unknown")
	require.Equal(t, http.StatusBadRequest, res.Code)
	list = listBody{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &list))
	assert.NotNil(t, list.Data)
	assert.Contains(t, list.Error, "unknown status")

	res = f.do(t, http.MethodPost, "/api/tasks", "1", strings.NewReader(`{"title":"golf"}`), "application/json")
	require.Equal(t, http.StatusCreated, res.Code)
	var created tasks.Task
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, "golf", created.Title)
	assert.Equal(t, tasks.StatusActive, created.Status)

	target := "/api/tasks/" + strconv.FormatInt(created.ID, 10)
	res = f.do(t, http.MethodPatch, target, "1", strings.NewReader(`{"status":"completed","due_date":"2024-06-01"}`), "application/json")
	require.Equal(t, http.StatusOK, res.Code)
	var patched tasks.Task
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &patched))
	assert.Equal(t, tasks.StatusCompleted, patched.Status)
	require.NotNil(t, patched.DueDate)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, target, "2", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, target, "1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, target).Code)
}

func TestTaskAPIErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/tasks", "", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tasks", "1", strings.NewReader(`{`), "application/json").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tasks", "1", strings.NewReader(`{"title":""}`), "application/json").Code)
}
