package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/erazemk/bazaar/internal/catalog"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/upload"
)

// ItemsHandler serves the public catalog and the upload workflow.
type ItemsHandler struct {
	Deps
}

type catalogResponse struct {
	Items     []itemJSON `json:"items"`
	NoResults bool       `json:"no_results"`
}

type uploadResponse struct {
	ID  string `json:"id"`
	Pic string `json:"pic"`
}

// List handles GET /api/items?q=&condition=.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	f := catalog.Filter{
		Query:     r.URL.Query().Get("q"),
		Condition: model.Condition(r.URL.Query().Get("condition")),
	}
	if f.Condition != "" && !f.Condition.Valid() {
		jsonError(w, http.StatusBadRequest, "unknown condition")
		return
	}

	vm, err := catalog.New(r.Context(), h.Items, GetSession(r.Context()), f, h.Log)
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("opening catalog")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer vm.Close()

	state, err := vm.Loaded(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "catalog not available")
		return
	}

	jsonResponse(w, http.StatusOK, catalogResponse{
		Items:     itemsJSON(state.Items),
		NoResults: state.NoResults(),
	})
}

// Create handles POST /api/items as multipart form data with fields name,
// condition, type and a file field image.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	form := upload.Form{
		Name:      r.FormValue("name"),
		Condition: model.Condition(r.FormValue("condition")),
		Type:      r.FormValue("type"),
	}
	img, err := readImage(r, "image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "reading image")
		return
	}
	form.Image = img

	opts := []upload.Option{
		upload.WithImageOptions(h.Images),
		upload.WithLogger(logger.FromRequest(r)),
	}
	if h.Metrics != nil {
		opts = append(opts, upload.WithObserver(h.Metrics.ObserveUpload))
	}
	wf := upload.New(h.Items, h.Blobs, GetSession(r.Context()), opts...)

	out, err := wf.Submit(r.Context(), form)
	var failure *upload.Failure
	switch {
	case errors.As(err, &failure):
		jsonError(w, http.StatusBadGateway, failure.Error())
		return
	case errors.Is(err, upload.ErrNotAuthenticated):
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	jsonResponse(w, http.StatusCreated, uploadResponse{ID: out.ItemID, Pic: out.Pic})
}

// readImage returns the uploaded file in field, or nil when none was sent.
func readImage(r *http.Request, field string) (*upload.Image, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &upload.Image{Filename: header.Filename, Data: data}, nil
}
