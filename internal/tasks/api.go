package tasks

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// APIHandler serves the JSON task API.
type APIHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewAPIHandler constructs an APIHandler.
func NewAPIHandler(logger *slog.Logger, service *Service) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{logger: logger, service: service}
}

// MountRoutes registers task API routes.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.patch)
	r.Delete("/{id}", h.delete)
}

type listResponse struct {
	Data  []Task         `json:"data"`
	Meta  datatable.Meta `json:"meta"`
	Error string         `json:"error,omitempty"`
}

// list reads the view state from the query, the same encoding the list page
// URL uses.
func (h *APIHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	st := datatable.Decode(r.URL.Query(), Columns)
	page, err := h.service.List(r.Context(), userID, st)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to load tasks"
		if errors.Is(err, httpx.ErrValidation) {
			status, msg = http.StatusBadRequest, err.Error()
		} else {
			h.logger.Error("list tasks", slog.Any("error", err))
		}
		httpx.JSON(w, status, listResponse{
			Data:  []Task{},
			Meta:  datatable.NewMeta(0, st.PageSize, st.Page),
			Error: msg,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: page.Rows, Meta: page.Meta})
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	task, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		h.respondError(w, "create task", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, task)
}

func (h *APIHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	task, err := h.service.Get(r.Context(), userID, parseID(r))
	if err != nil {
		h.respondError(w, "get task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *APIHandler) patch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var p Patch
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	task, err := h.service.Patch(r.Context(), userID, parseID(r), p)
	if err != nil {
		h.respondError(w, "patch task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *APIHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, parseID(r)); err != nil {
		h.respondError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) user(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "No token")
		return 0, false
	}
	return userID, true
}

func (h *APIHandler) respondError(w http.ResponseWriter, msg string, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
