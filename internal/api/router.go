package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/bazaar/internal/imaging"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/metrics"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/tree"
	"github.com/erazemk/bazaar/internal/upload"
)

// Deps are the collaborators shared by the API handlers.
type Deps struct {
	Provider *session.Provider
	Items    tree.Store
	Blobs    upload.BlobStore
	Images   imaging.Options
	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64
	// Metrics is optional.
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}

	authHandler := &AuthHandler{Provider: deps.Provider}
	itemsHandler := &ItemsHandler{Deps: deps}
	myItemsHandler := &MyItemsHandler{Items: deps.Items, Log: deps.Log.Child("inventory")}
	watchlistHandler := &WatchlistHandler{Items: deps.Items, Metrics: deps.Metrics, Log: deps.Log.Child("watchlist")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		// Public: register and login.
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// The catalog is public; uploading needs a session.
		r.With(OptionalAuth(deps.Provider)).Get("/items", itemsHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(deps.Provider))

			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/items", itemsHandler.Create)

			r.Get("/my-items", myItemsHandler.List)
			r.Patch("/my-items/{id}", myItemsHandler.Update)
			r.Delete("/my-items/{id}", myItemsHandler.Delete)

			r.Get("/watchlist", watchlistHandler.List)
			r.Put("/watchlist/{owner}/{id}", watchlistHandler.Add)
			r.Delete("/watchlist/{id}", watchlistHandler.Remove)
		})
	})

	return r
}
