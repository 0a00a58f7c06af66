package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/bazaar/internal/inventory"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/tree"
)

// MyItemsHandler serves the signed-in identity's own items.
type MyItemsHandler struct {
	Items tree.Store
	Log   *logger.Logger
}

type patchRequest struct {
	Name      string          `json:"name"`
	Condition model.Condition `json:"condition"`
	Type      string          `json:"type"`
	Pic       string          `json:"pic"`
}

// List handles GET /api/my-items.
func (h *MyItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	vm := inventory.New(r.Context(), h.Items, GetSession(r.Context()), h.Log)
	defer vm.Close()

	state, err := vm.Loaded(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "items not available")
		return
	}
	if !state.SignedIn() {
		jsonError(w, http.StatusUnauthorized, inventory.ErrNotSignedIn.Error())
		return
	}

	jsonResponse(w, http.StatusOK, itemsJSON(state.Items))
}

// Update handles PATCH /api/my-items/{id}.
func (h *MyItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vm := inventory.New(r.Context(), h.Items, GetSession(r.Context()), h.Log)
	defer vm.Close()

	err := vm.Edit(r.Context(), chi.URLParam(r, "id"), inventory.Patch{
		Name:      req.Name,
		Condition: req.Condition,
		Type:      req.Type,
		Pic:       req.Pic,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/my-items/{id}.
func (h *MyItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vm := inventory.New(r.Context(), h.Items, GetSession(r.Context()), h.Log)
	defer vm.Close()

	if err := vm.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MyItemsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidPatch), errors.Is(err, tree.ErrInvalidPath):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrNotSignedIn):
		jsonError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.FromRequest(r).Error().Err(err).Msg("changing item")
		jsonError(w, http.StatusBadGateway, err.Error())
	}
}
