package datatablehttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
)

// APIHandler serves the JSON state API of the registered tables.
type APIHandler struct {
	logger   *slog.Logger
	repo     datatable.Repository
	scope    ScopeFunc
	recorder datatable.Recorder
	tables   map[string]bool
}

// stateResponse is the body of every state API reply.
type stateResponse struct {
	TableID string          `json:"table_id"`
	State   datatable.State `json:"state"`
	Query   string          `json:"query"`
}

// paramsRequest is the PATCH body. Absent or null fields are not supplied;
// an empty string clears sort, order or search.
type paramsRequest struct {
	Page     *int               `json:"page"`
	PageSize *int               `json:"page_size"`
	Sort     *string            `json:"sort"`
	Order    *datatable.Order   `json:"order"`
	Search   *string            `json:"search"`
	Filters  []datatable.Filter `json:"filters"`
}

func (p paramsRequest) params() datatable.Params {
	return datatable.Params{
		Page:     p.Page,
		PageSize: p.PageSize,
		Sort:     p.Sort,
		Order:    p.Order,
		Search:   p.Search,
		Filters:  p.Filters,
	}
}

// NewAPIHandler constructs an APIHandler for tableIDs.
func NewAPIHandler(logger *slog.Logger, repo datatable.Repository, scope ScopeFunc, recorder datatable.Recorder, tableIDs ...string) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	tables := make(map[string]bool, len(tableIDs))
	for _, id := range tableIDs {
		tables[id] = true
	}
	return &APIHandler{logger: logger, repo: repo, scope: scope, recorder: recorder, tables: tables}
}

// MountRoutes registers /{tableID} routes.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Get("/{tableID}", h.handleGet)
	r.Put("/{tableID}", h.handleInit)
	r.Patch("/{tableID}", h.handlePatch)
	r.Post("/{tableID}/reset", h.handleReset)
}

func (h *APIHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tableID, scope, ok := h.target(w, r)
	if !ok {
		return
	}
	store, err := h.repo.Load(r.Context(), scope)
	if err != nil {
		h.logger.Error("load table state", slog.Any("error", err), slog.String("table", tableID))
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, tableID, store.State(tableID))
}

// handleInit seeds a table. The first write wins, so a PUT on an existing
// table returns the state already in effect.
func (h *APIHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	tableID, scope, ok := h.target(w, r)
	if !ok {
		return
	}
	var initial datatable.State
	if err := httpx.DecodeJSON(r, &initial); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	h.commit(w, r, tableID, scope, "init", func(store *datatable.Store) {
		store.InitTable(tableID, initial)
	})
}

func (h *APIHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	tableID, scope, ok := h.target(w, r)
	if !ok {
		return
	}
	var req paramsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	params := req.params()
	h.commit(w, r, tableID, scope, "params", func(store *datatable.Store) {
		if !params.Empty() {
			store.SetParams(tableID, params)
		}
	})
}

func (h *APIHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	tableID, scope, ok := h.target(w, r)
	if !ok {
		return
	}
	h.commit(w, r, tableID, scope, "reset", func(store *datatable.Store) {
		store.ResetTable(tableID)
	})
}

// target resolves the table and owner of r, answering unknown tables and
// anonymous requests itself.
func (h *APIHandler) target(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tableID := chi.URLParam(r, "tableID")
	if !h.tables[tableID] {
		httpx.RespondError(w, httpx.ErrNotFound)
		return "", "", false
	}
	scope, err := h.scope(r)
	if err != nil {
		if errors.Is(err, ErrNoScope) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "No token")
			return "", "", false
		}
		httpx.RespondError(w, err)
		return "", "", false
	}
	return tableID, scope, true
}

// commit applies fn to the owner's latest store and responds with the
// committed state of tableID.
func (h *APIHandler) commit(w http.ResponseWriter, r *http.Request, tableID, scope, op string, fn func(*datatable.Store)) {
	store, written, err := h.repo.Update(r.Context(), scope, func(store *datatable.Store) error {
		fn(store)
		return nil
	})
	if err != nil {
		h.logger.Error("update table state", slog.Any("error", err), slog.String("scope", scope), slog.String("op", op))
		httpx.RespondError(w, err)
		return
	}
	if written {
		h.recorder.TableMutated(tableID, op)
	}
	h.respond(w, http.StatusOK, tableID, store.State(tableID))
}

func (h *APIHandler) respond(w http.ResponseWriter, status int, tableID string, st datatable.State) {
	httpx.JSON(w, status, stateResponse{TableID: tableID, State: st, Query: datatable.Encode(st)})
}
