package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/taskdesk/internal/auth"
	datatablehttp "github.com/odyssey-erp/taskdesk/internal/datatable/http"
	"github.com/odyssey-erp/taskdesk/internal/observability"
	"github.com/odyssey-erp/taskdesk/internal/shared"
	"github.com/odyssey-erp/taskdesk/internal/tasks"
	"github.com/odyssey-erp/taskdesk/internal/view"
	"github.com/odyssey-erp/taskdesk/jobs"
	"github.com/odyssey-erp/taskdesk/web"
)

// APIPrefix is the mount point of the bearer-token JSON API.
const APIPrefix = "/api"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Templates       *view.Engine
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	Tokens          *auth.TokenIssuer
	AuthHandler     *auth.Handler
	AuthAPIHandler  *auth.APIHandler
	TasksHandler    *tasks.Handler
	TasksAPIHandler *tasks.APIHandler
	TableAPIHandler *datatablehttp.APIHandler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with taskdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Landing page for unauthenticated users
	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, r, params, "pages/landing.html", nil)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			http.Redirect(w, r, "/welcome", http.StatusSeeOther)
			return
		}
		renderPage(w, r, params, "pages/home.html", map[string]any{"AppEnv": params.Config.AppEnv})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.TasksHandler != nil {
		r.Route("/tasks", func(r chi.Router) {
			r.Use(auth.RequireSession)
			params.TasksHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireSession)
				params.JobHandler.MountAdminRoutes(r)
			})
		})
	}

	r.Route(APIPrefix, func(r chi.Router) {
		if params.AuthAPIHandler != nil {
			params.AuthAPIHandler.MountRoutes(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireToken(params.Tokens))
			if params.TasksAPIHandler != nil {
				r.Route("/tasks", params.TasksAPIHandler.MountRoutes)
			}
			if params.TableAPIHandler != nil {
				r.Route("/tables", params.TableAPIHandler.MountRoutes)
			}
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func renderPage(w http.ResponseWriter, r *http.Request, params RouterParams, name string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	td := view.TemplateData{
		Title:       "Taskdesk",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := params.Templates.Render(w, name, td); err != nil {
		params.Logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func signedIn(r *http.Request) bool {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return false
	}
	_, ok := sess.UserID()
	return ok
}

// staticCacheHandler caches static assets in the browser for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
