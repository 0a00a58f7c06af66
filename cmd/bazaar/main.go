package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/bazaar/internal/api"
	"github.com/erazemk/bazaar/internal/config"
	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/imaging"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/metrics"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/tree"
	"github.com/erazemk/bazaar/internal/web"
)

// setupLogger writes to stdout and, if logPath is non-empty, also to that
// file. Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath, level string) (*logger.Logger, func(), error) {
	w := io.Writer(os.Stdout)
	cleanup := func() {}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		w = io.MultiWriter(os.Stdout, f)
	}

	log, err := logger.New(w, "server", level)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return log, cleanup, nil
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := setupLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("server error")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	// Ensure schema exists (idempotent).
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("database ready")

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Generated on first run and kept in the settings table.
		if jwtSecret, err = store.GetJWTSecret(ctx, database); err != nil {
			return fmt.Errorf("loading JWT secret: %w", err)
		}
	}

	items := store.NewTree(database, log.Child("tree"))
	defer items.Close()

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		relay := tree.NewRedisRelay(client, cfg.Redis.Channel, items.Hub(), log.Child("relay"))
		items.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("change relay stopped")
			}
		}()
	}

	blobs := store.NewBucket(database, cfg.PublicURL)
	provider := session.NewProvider(database, jwtSecret, cfg.TokenTTL, log.Child("session"))
	go sweep(ctx, provider, cfg.SweepInterval, log)

	var m *metrics.Metrics
	if cfg.MetricsEnabled() {
		m = metrics.New()
		m.Gauge("bazaar_subscriptions_active", "Open item store subscriptions.", items.Hub().Active)
		m.Gauge("bazaar_sessions_active", "Signed-in sessions held in memory.", provider.Active)
	}

	images := imaging.Options{MaxDimension: cfg.ImageMaxDimension, Quality: cfg.ImageQuality}

	apiRouter := api.NewRouter(api.Deps{
		Provider:       provider,
		Items:          items,
		Blobs:          blobs,
		Images:         images,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        m,
		Log:            log.Child("api"),
	})
	webRouter, err := web.NewRouter(&web.Server{
		Provider:       provider,
		Items:          items,
		Blobs:          blobs,
		Images:         images,
		MaxUploadBytes: cfg.MaxUploadBytes,
		TokenTTL:       cfg.TokenTTL,
		Metrics:        m,
		Log:            log.Child("web"),
	})
	if err != nil {
		return fmt.Errorf("setting up web router: %w", err)
	}

	// Combine: API routes take priority, web routes handle the rest.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/", webRouter)

	handler := api.TraceID(log)(api.LoggingMiddleware(mux))

	server := newServer(ctx, cfg.Addr, handler)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Str("url", cfg.PublicURL).Msg("server started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info().Msg("server stopped, closing database")
	return nil
}

// newServer builds the HTTP server. Request contexts derive from ctx, so
// event streams end when ctx is cancelled instead of holding up Shutdown.
func newServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// sweep periodically drops expired sessions.
func sweep(ctx context.Context, provider *session.Provider, every time.Duration, log *logger.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := provider.Sweep(ctx, now); err != nil {
				log.Warn().Err(err).Msg("session sweep failed")
			}
		}
	}
}

