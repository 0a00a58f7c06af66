package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/bazaar/internal/imaging"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/metrics"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/tree"
	webembed "github.com/erazemk/bazaar/web"
)

// Server holds all dependencies for page handlers.
type Server struct {
	Provider *session.Provider
	Items    tree.Store
	Blobs    *store.Bucket
	Images   imaging.Options
	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64
	// TokenTTL is the lifetime of the login cookie.
	TokenTTL time.Duration
	// Metrics is optional. When set, /metrics serves it.
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Templates *Templates
}

// NewRouter creates the web page router with all page routes registered.
func NewRouter(s *Server) (http.Handler, error) {
	if s.Templates == nil {
		templates, err := LoadTemplates()
		if err != nil {
			return nil, err
		}
		s.Templates = templates
	}
	if s.Log == nil {
		s.Log = logger.Nop()
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 10 << 20
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 24 * time.Hour
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	// Static assets.
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.StaticFS()))))
	r.Get("/media/*", s.Media)
	r.Get("/healthz", s.Healthz)

	// Public routes.
	r.Get("/", s.LoginPage)
	r.Post("/", s.LoginSubmit)
	r.Get("/register", s.RegisterPage)
	r.Post("/register", s.RegisterSubmit)
	r.Post("/logout", s.Logout)
	r.Get("/sample", s.SamplePage)

	// Authenticated routes.
	r.Route("/navigator", func(r chi.Router) {
		r.Use(CookieSession(s.Provider))

		r.Get("/", s.Navigator)
		r.Get("/details", s.DetailsPage)
		r.Get("/details/events", s.DetailsEvents)
		r.Post("/details/{owner}/{id}/watch", s.WatchSubmit)

		r.Get("/my-items", s.MyItemsPage)
		r.Post("/my-items/{id}", s.MyItemEditSubmit)
		r.Post("/my-items/{id}/delete", s.MyItemDeleteSubmit)

		r.Get("/upload-details", s.UploadPage)
		r.Post("/upload-details", s.UploadSubmit)

		r.Get("/watchlist", s.WatchlistPage)
		r.Get("/watchlist/events", s.WatchlistEvents)
		r.Post("/watchlist/{id}/remove", s.WatchlistRemoveSubmit)

		r.Get("/profile", s.ProfilePage)
	})

	return r, nil
}
