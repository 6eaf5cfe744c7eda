package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/taskdesk/internal/app"
	"github.com/odyssey-erp/taskdesk/internal/auth"
	"github.com/odyssey-erp/taskdesk/internal/datatable"
	datatablehttp "github.com/odyssey-erp/taskdesk/internal/datatable/http"
	"github.com/odyssey-erp/taskdesk/internal/observability"
	"github.com/odyssey-erp/taskdesk/internal/platform/filedb"
	"github.com/odyssey-erp/taskdesk/internal/shared"
	"github.com/odyssey-erp/taskdesk/internal/tasks"
	"github.com/odyssey-erp/taskdesk/internal/view"
	_ "github.com/odyssey-erp/taskdesk/testing"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := filedb.Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	authService := auth.NewService(auth.NewFileRepository(db))
	_, err = authService.Register(context.Background(), "jhon", "password")
	require.NoError(t, err)

	templates, err := view.NewEngine()
	require.NoError(t, err)
	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second}
	sessions := shared.NewSessionManager(client, "taskdesk_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	tokens := auth.NewTokenIssuer("jwt-secret", time.Hour)
	metrics := observability.NewMetrics()
	states := datatable.NewRedisRepository(client, time.Hour)
	taskService := tasks.NewService(tasks.NewFileRepository(db))

	return app.NewRouter(app.RouterParams{
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		Tokens:          tokens,
		AuthHandler:     auth.NewHandler(nil, authService, templates, sessions, csrf),
		AuthAPIHandler:  auth.NewAPIHandler(nil, authService, tokens),
		TasksHandler:    tasks.NewHandler(nil, taskService, templates, csrf, states, metrics),
		TasksAPIHandler: tasks.NewAPIHandler(nil, taskService),
		TableAPIHandler: datatablehttp.NewAPIHandler(nil, states, datatablehttp.UserScope, metrics, tasks.TableID),
		Metrics:         metrics,
	})
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"jhon","password":"password"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestRouterPublicPages(t *testing.T) {
	router := newRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/welcome", rec.Header().Get("Location"))

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/welcome", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.LoginPath, rec.Header().Get("Location"))
}

func TestRouterRejectsFormPostWithoutCSRF(t *testing.T) {
	router := newRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/tasks/table/search", strings.NewReader("search=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterTokenAPI(t *testing.T) {
	router := newRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := login(t, router)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Write report"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec = serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/tasks?search=report", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []tasks.Task   `json:"data"`
		Meta datatable.Meta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Write report", list.Data[0].Title)
	assert.Equal(t, 1, list.Meta.TotalRecords)

	req = httptest.NewRequest(http.MethodPatch, "/api/tables/"+tasks.TableID, strings.NewReader(`{"search":"report"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"search":"report"`)
}

func TestRouterMetrics(t *testing.T) {
	router := newRouter(t)
	serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskdesk_")
}
