package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/inkseal/inkseal/internal/auth"
	"github.com/inkseal/inkseal/internal/httpmiddleware"
	"github.com/inkseal/inkseal/internal/logger"
	"github.com/inkseal/inkseal/internal/stubservice"
	"github.com/inkseal/inkseal/internal/telemetry"
)

type ServeCmd struct {
	Listen      string   `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"INKSEAL_LISTEN"`
	Seed        string   `help:"YAML seed file with signing tasks" env:"INKSEAL_SEED" type:"path"`
	TrustedKeys []string `help:"PEM public key files whose tokens are accepted" name:"trusted-key" env:"INKSEAL_TRUSTED_KEYS"`
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"*" env:"INKSEAL_CORS_ORIGINS"`
	Tracing     bool     `help:"enable tracing" default:"false" env:"INKSEAL_TRACING"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting stub document service")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "inkseal-stub", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	store := stubservice.NewInstanceStore()
	if err := c.loadTasks(ctx, store, log); err != nil {
		return err
	}

	mux := http.NewServeMux()
	stubservice.NewHandler(store, nil).Register(mux)

	authMiddleware, err := c.authMiddleware(log)
	if err != nil {
		return err
	}

	// Assemble the middleware chain inside out: routes, token check,
	// access log, request metadata, CORS, compression.
	var handler http.Handler = mux
	handler = authMiddleware(handler)
	handler = logger.NewHTTPRequests(log).Wrap(handler)
	handler = httpmiddleware.ClientIP()(handler)
	handler = httpmiddleware.RequestID()(handler)
	handler = withCORS(c.CORSOrigins, handler)
	handler = gzhttp.GzipHandler(handler)

	// h2c lets local clients speak HTTP/2 without TLS
	handler = h2c.NewHandler(handler, &http2.Server{})

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("auth", len(c.TrustedKeys) > 0).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}

// loadTasks seeds the store from the seed file, or with one generated sample
// task so the service is usable out of the box.
func (c *ServeCmd) loadTasks(ctx context.Context, store *stubservice.InstanceStore, log zerolog.Logger) error {
	now := time.Now()

	if c.Seed == "" {
		task := stubservice.SampleTask(now)
		if err := store.Put(ctx, task); err != nil {
			return err
		}

		log.Info().
			Str("instance_id", task.InstanceID).
			Str("signature_field", task.SignatureField).
			Time("expires_at", task.ExpiresAt).
			Msg("no seed file given, generated a sample signing task")

		return nil
	}

	data, err := os.ReadFile(c.Seed)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	seed, err := stubservice.ParseSeed(data)
	if err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	tasks, err := seed.Tasks(now)
	if err != nil {
		return fmt.Errorf("failed to build tasks from seed: %w", err)
	}

	for _, task := range tasks {
		if err := store.Put(ctx, task); err != nil {
			return fmt.Errorf("failed to register instance %s: %w", task.InstanceID, err)
		}
	}

	log.Info().Int("instances", len(tasks)).Str("seed", c.Seed).Msg("seeded signing tasks")

	return nil
}

// authMiddleware builds the bearer-token check from the trusted key files.
// With no keys the service runs open.
func (c *ServeCmd) authMiddleware(log zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if len(c.TrustedKeys) == 0 {
		log.Warn().Msg("Authentication is disabled (no --trusted-key). This should only be used in development!")
		return func(next http.Handler) http.Handler { return next }, nil
	}

	registry := auth.NewStaticKeyRegistry()
	for _, path := range c.TrustedKeys {
		pemData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted key %s: %w", path, err)
		}

		fingerprint, err := registry.AddPEM(pemData)
		if err != nil {
			return nil, fmt.Errorf("failed to load trusted key %s: %w", path, err)
		}

		log.Info().Str("path", path).Str("fingerprint", fingerprint).Msg("trusted key registered")
	}

	return auth.NewVerifier(registry).Middleware(), nil
}

// withCORS adds CORS support for browser-based API clients.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", httpmiddleware.RequestIDHeader},
		ExposedHeaders: []string{httpmiddleware.RequestIDHeader},
	})
	return middleware.Handler(h)
}
