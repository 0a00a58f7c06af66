package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/bazaar/internal/catalog"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
)

type detailsData struct {
	PageData
	Filter catalog.Filter
	// Query re-encodes Filter for the events URL.
	Query string
	State catalog.State
}

func filterFrom(r *http.Request) catalog.Filter {
	f := catalog.Filter{
		Query:     r.URL.Query().Get("q"),
		Condition: model.Condition(r.URL.Query().Get("condition")),
	}
	if !f.Condition.Valid() {
		f.Condition = ""
	}
	return f
}

func encodeFilter(f catalog.Filter) string {
	v := url.Values{}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Condition != "" {
		v.Set("condition", string(f.Condition))
	}
	return v.Encode()
}

// Navigator handles GET /navigator.
func (s *Server) Navigator(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/navigator/details", http.StatusSeeOther)
}

// DetailsPage handles GET /navigator/details?q=&condition=.
func (s *Server) DetailsPage(w http.ResponseWriter, r *http.Request) {
	s.renderDetails(w, r, http.StatusOK, PageData{Success: takeFlash(w, r)})
}

func (s *Server) renderDetails(w http.ResponseWriter, r *http.Request, status int, page PageData) {
	sess := GetSession(r.Context())
	f := filterFrom(r)

	vm, err := catalog.New(r.Context(), s.Items, sess, f, s.Log)
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("opening catalog")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer vm.Close()

	state, err := vm.Loaded(r.Context())
	if err != nil {
		return
	}

	page.Title = "Catalog"
	page.User = sess.Identity()
	s.Templates.RenderStatus(w, r, status, "details.html", &detailsData{
		PageData: page,
		Filter:   f,
		Query:    encodeFilter(f),
		State:    state,
	})
}

// DetailsEvents handles GET /navigator/details/events. It pushes the
// rendered item list whenever the catalog or its filter result changes.
func (s *Server) DetailsEvents(w http.ResponseWriter, r *http.Request) {
	f := filterFrom(r)
	vm, err := catalog.New(r.Context(), s.Items, GetSession(r.Context()), f, s.Log)
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("opening catalog")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer vm.Close()

	stream, err := newEventStream(w)
	if err != nil {
		logger.FromRequest(r).Warn().Err(err).Msg("event stream")
		return
	}

	updates, stop := vm.Updates()
	defer stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case state := <-updates:
			if !state.Loaded {
				continue
			}
			frag, err := s.Templates.Fragment("details.html", "catalog", &detailsData{Filter: f, State: state})
			if err != nil {
				logger.FromRequest(r).Error().Err(err).Msg("rendering catalog")
				return
			}
			if err := stream.send("update", frag); err != nil {
				return
			}
		}
	}
}

// WatchSubmit handles POST /navigator/details/{owner}/{id}/watch.
func (s *Server) WatchSubmit(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	vm, err := catalog.New(r.Context(), s.Items, sess, catalog.Filter{}, s.Log)
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("opening catalog")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer vm.Close()

	if _, err := vm.Loaded(r.Context()); err != nil {
		return
	}

	item, ok := vm.Find(chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if !ok {
		s.renderDetails(w, r, http.StatusNotFound, PageData{Error: "This item is no longer available."})
		return
	}

	err = vm.Watch(r.Context(), item)
	if s.Metrics != nil {
		s.Metrics.ObserveWatch(err)
	}
	switch {
	case errors.Is(err, catalog.ErrNotWatchable):
		s.renderDetails(w, r, http.StatusUnprocessableEntity, PageData{Error: "Only new items can be added to the watchlist."})
		return
	case errors.Is(err, catalog.ErrNotSignedIn):
		s.renderDetails(w, r, http.StatusUnauthorized, PageData{Error: err.Error()})
		return
	case err != nil:
		logger.FromRequest(r).Warn().Err(err).Msg("watching item")
		s.renderDetails(w, r, http.StatusBadGateway, PageData{Error: "Error " + err.Error()})
		return
	}

	setFlash(w, "Item added to watchlist!")
	http.Redirect(w, r, "/navigator/details", http.StatusSeeOther)
}
