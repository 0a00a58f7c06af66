package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/tree"
	"github.com/erazemk/bazaar/internal/watchlist"
)

type watchlistData struct {
	PageData
	State watchlist.State
}

// WatchlistPage handles GET /navigator/watchlist.
func (s *Server) WatchlistPage(w http.ResponseWriter, r *http.Request) {
	vm := watchlist.New(r.Context(), s.Items, GetSession(r.Context()), s.Log)
	defer vm.Close()

	s.renderWatchlist(w, r, vm, http.StatusOK, PageData{Success: takeFlash(w, r)})
}

func (s *Server) renderWatchlist(w http.ResponseWriter, r *http.Request, vm *watchlist.ViewModel, status int, page PageData) {
	state, err := vm.Loaded(r.Context())
	if err != nil {
		return
	}
	page.Title = "Watchlist"
	page.User = state.Identity
	s.Templates.RenderStatus(w, r, status, "watchlist.html", &watchlistData{PageData: page, State: state})
}

// WatchlistEvents handles GET /navigator/watchlist/events. Entries are
// pushed as they change; when the session signs out the stream sends the
// signed-out placeholder and ends.
func (s *Server) WatchlistEvents(w http.ResponseWriter, r *http.Request) {
	vm := watchlist.New(r.Context(), s.Items, GetSession(r.Context()), s.Log)
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
			frag, err := s.Templates.Fragment("watchlist.html", "entries", state)
			if err != nil {
				logger.FromRequest(r).Error().Err(err).Msg("rendering watchlist")
				return
			}
			if !state.SignedIn() {
				_ = stream.send("end", frag)
				return
			}
			if err := stream.send("update", frag); err != nil {
				return
			}
		}
	}
}

// WatchlistRemoveSubmit handles POST /navigator/watchlist/{id}/remove.
func (s *Server) WatchlistRemoveSubmit(w http.ResponseWriter, r *http.Request) {
	vm := watchlist.New(r.Context(), s.Items, GetSession(r.Context()), s.Log)
	defer vm.Close()

	err := vm.Remove(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, tree.ErrInvalidPath):
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	case errors.Is(err, watchlist.ErrNotSignedIn):
		s.renderWatchlist(w, r, vm, http.StatusUnauthorized, PageData{Error: err.Error()})
		return
	case err != nil:
		logger.FromRequest(r).Warn().Err(err).Msg("removing watchlist entry")
		s.renderWatchlist(w, r, vm, http.StatusBadGateway, PageData{Error: "Error " + err.Error()})
		return
	}

	setFlash(w, "Item removed from watchlist.")
	http.Redirect(w, r, "/navigator/watchlist", http.StatusSeeOther)
}
