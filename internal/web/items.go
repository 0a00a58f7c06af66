package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/bazaar/internal/inventory"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/tree"
	"github.com/erazemk/bazaar/internal/upload"
)

type myItemsData struct {
	PageData
	State inventory.State
}

type uploadData struct {
	PageData
	Form upload.Form
}

// MyItemsPage handles GET /navigator/my-items.
func (s *Server) MyItemsPage(w http.ResponseWriter, r *http.Request) {
	vm := inventory.New(r.Context(), s.Items, GetSession(r.Context()), s.Log)
	defer vm.Close()

	s.renderMyItems(w, r, vm, http.StatusOK, PageData{Success: takeFlash(w, r)})
}

func (s *Server) renderMyItems(w http.ResponseWriter, r *http.Request, vm *inventory.ViewModel, status int, page PageData) {
	state, err := vm.Loaded(r.Context())
	if err != nil {
		return
	}
	if !state.SignedIn() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	page.Title = "My items"
	page.User = state.Identity
	s.Templates.RenderStatus(w, r, status, "my_items.html", &myItemsData{PageData: page, State: state})
}

// MyItemEditSubmit handles POST /navigator/my-items/{id}. An attached image
// replaces the item's picture.
func (s *Server) MyItemEditSubmit(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	vm := inventory.New(r.Context(), s.Items, sess, s.Log)
	defer vm.Close()

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.renderMyItems(w, r, vm, http.StatusBadRequest, PageData{Error: "The selected file is too large."})
		return
	}

	patch := inventory.Patch{
		Name:      r.FormValue("name"),
		Condition: model.Condition(r.FormValue("condition")),
		Type:      r.FormValue("type"),
	}
	if err := patch.Validate(); err != nil {
		s.renderMyItems(w, r, vm, http.StatusBadRequest, PageData{Error: "Please fill in name, condition and type."})
		return
	}

	img, err := readImage(r, "image")
	if err != nil {
		s.renderMyItems(w, r, vm, http.StatusBadRequest, PageData{Error: "Error reading the selected file."})
		return
	}
	if img != nil {
		id := sess.Identity()
		if id == nil {
			s.renderMyItems(w, r, vm, http.StatusUnauthorized, PageData{Error: inventory.ErrNotSignedIn.Error()})
			return
		}
		pic, err := upload.StorePicture(r.Context(), s.Blobs, id.UID, *img, s.Images)
		if err != nil {
			s.renderMyItems(w, r, vm, statusFor(err), PageData{Error: err.Error()})
			return
		}
		patch.Pic = pic
	}

	err = vm.Edit(r.Context(), chi.URLParam(r, "id"), patch)
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		s.renderMyItems(w, r, vm, http.StatusNotFound, PageData{Error: "This item no longer exists."})
		return
	case errors.Is(err, tree.ErrInvalidPath):
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	case err != nil:
		logger.FromRequest(r).Warn().Err(err).Msg("editing item")
		s.renderMyItems(w, r, vm, http.StatusBadGateway, PageData{Error: "Error " + err.Error()})
		return
	}

	setFlash(w, "Item updated successfully!")
	http.Redirect(w, r, "/navigator/my-items", http.StatusSeeOther)
}

// MyItemDeleteSubmit handles POST /navigator/my-items/{id}/delete. Watchlist
// copies of the item are kept.
func (s *Server) MyItemDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	vm := inventory.New(r.Context(), s.Items, GetSession(r.Context()), s.Log)
	defer vm.Close()

	err := vm.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, tree.ErrInvalidPath) {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.FromRequest(r).Warn().Err(err).Msg("deleting item")
		s.renderMyItems(w, r, vm, http.StatusBadGateway, PageData{Error: "Error " + err.Error()})
		return
	}

	setFlash(w, "Item deleted successfully!")
	http.Redirect(w, r, "/navigator/my-items", http.StatusSeeOther)
}

// UploadPage handles GET /navigator/upload-details.
func (s *Server) UploadPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, r, "upload.html", &uploadData{
		PageData: PageData{Title: "Upload", User: GetSession(r.Context()).Identity()},
		Form:     upload.Form{Condition: model.ConditionNew},
	})
}

// UploadSubmit handles POST /navigator/upload-details.
func (s *Server) UploadSubmit(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	data := &uploadData{PageData: PageData{Title: "Upload", User: sess.Identity()}}

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		data.Error = "The selected file is too large."
		s.Templates.RenderStatus(w, r, http.StatusBadRequest, "upload.html", data)
		return
	}

	data.Form = upload.Form{
		Name:      r.FormValue("name"),
		Condition: model.Condition(r.FormValue("condition")),
		Type:      r.FormValue("type"),
	}
	img, err := readImage(r, "image")
	if err != nil {
		data.Error = "Error reading the selected file."
		s.Templates.RenderStatus(w, r, http.StatusBadRequest, "upload.html", data)
		return
	}
	form := data.Form
	form.Image = img

	opts := []upload.Option{
		upload.WithImageOptions(s.Images),
		upload.WithLogger(logger.FromRequest(r)),
	}
	if s.Metrics != nil {
		opts = append(opts, upload.WithObserver(s.Metrics.ObserveUpload))
	}
	out, err := upload.New(s.Items, s.Blobs, sess, opts...).Submit(r.Context(), form)
	if err != nil {
		data.Error = err.Error()
		s.Templates.RenderStatus(w, r, statusFor(err), "upload.html", data)
		return
	}

	data.Form = out.Form
	if data.Form.Condition == "" {
		data.Form.Condition = model.ConditionNew
	}
	data.Success = "Item uploaded successfully!"
	s.Templates.Render(w, r, "upload.html", data)
}

// statusFor maps an upload error to a response status.
func statusFor(err error) int {
	var failure *upload.Failure
	switch {
	case errors.As(err, &failure):
		return http.StatusBadGateway
	case errors.Is(err, upload.ErrNotAuthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// readImage returns the uploaded file in field, or nil when none was sent.
func readImage(r *http.Request, field string) (*upload.Image, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
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

// Media handles GET /media/*.
func (s *Server) Media(w http.ResponseWriter, r *http.Request) {
	// Download URLs escape each segment. Unescape the escaped form so a
	// name with a literal '%' decodes once.
	path, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/media/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	blob, err := s.Blobs.Get(r.Context(), path)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, tree.ErrInvalidPath) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("failed to get blob")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(blob.Data); err != nil {
		logger.FromRequest(r).Warn().Err(err).Msg("failed to write blob response")
	}
}
