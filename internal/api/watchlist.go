package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/bazaar/internal/catalog"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/metrics"
	"github.com/erazemk/bazaar/internal/tree"
	"github.com/erazemk/bazaar/internal/watchlist"
)

// WatchlistHandler serves the signed-in identity's watchlist.
type WatchlistHandler struct {
	Items   tree.Store
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// List handles GET /api/watchlist.
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	vm := watchlist.New(r.Context(), h.Items, GetSession(r.Context()), h.Log)
	defer vm.Close()

	state, err := vm.Loaded(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "watchlist not available")
		return
	}
	if !state.SignedIn() {
		jsonError(w, http.StatusUnauthorized, watchlist.ErrNotSignedIn.Error())
		return
	}

	out := make([]itemJSON, len(state.Entries))
	for i, e := range state.Entries {
		out[i] = toJSON(e.Item)
	}
	jsonResponse(w, http.StatusOK, out)
}

// Add handles PUT /api/watchlist/{owner}/{id}. Only new items can be
// watched.
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	vm, err := catalog.New(r.Context(), h.Items, GetSession(r.Context()), catalog.Filter{}, h.Log)
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("opening catalog")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer vm.Close()

	if _, err := vm.Loaded(r.Context()); err != nil {
		jsonError(w, http.StatusServiceUnavailable, "catalog not available")
		return
	}

	item, ok := vm.Find(chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	err = vm.Watch(r.Context(), item)
	if h.Metrics != nil {
		h.Metrics.ObserveWatch(err)
	}
	switch {
	case errors.Is(err, catalog.ErrNotWatchable):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, catalog.ErrNotSignedIn):
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		logger.FromRequest(r).Error().Err(err).Msg("watching item")
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /api/watchlist/{id}. The watched item is untouched.
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	vm := watchlist.New(r.Context(), h.Items, GetSession(r.Context()), h.Log)
	defer vm.Close()

	err := vm.Remove(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, tree.ErrInvalidPath):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, watchlist.ErrNotSignedIn):
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		logger.FromRequest(r).Error().Err(err).Msg("removing watchlist entry")
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
