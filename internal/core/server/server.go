package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cyrcle-app/parking-engine/internal/core/health"
	"github.com/cyrcle-app/parking-engine/internal/core/middleware"
	"github.com/cyrcle-app/parking-engine/internal/core/router"
)

type Options struct {
	Addr           string
	MetricsHandler http.Handler
	Ready          map[string]health.Pinger
}

// Run wires the routes and serves until the context is canceled.
func Run(ctx context.Context, opts Options, logger *slog.Logger, api *router.API) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready))
	if opts.MetricsHandler != nil {
		r.Get("/metrics", opts.MetricsHandler.ServeHTTP)
	}

	r.Get("/parkings", router.Observe("/parkings", api.Viewport))
	r.Post("/parkings", router.Observe("/parkings", api.CreateParking))
	r.Get("/parkings/{id}", router.Observe("/parkings/{id}", api.GetParking))
	r.Put("/parkings/{id}", router.Observe("/parkings/{id}", api.UpdateParking))
	r.Delete("/parkings/{id}", router.Observe("/parkings/{id}", api.DeleteParking))

	r.Get("/parkings/{id}/reports", router.Observe("/parkings/{id}/reports", api.ListReports))
	r.Post("/parkings/{id}/reports", router.Observe("/parkings/{id}/reports", api.AddReport))
	r.Post("/parkings/{id}/images/{imageID}/reports",
		router.Observe("/parkings/{id}/images/{imageID}/reports", api.AddImageReport))
	r.Get("/parkings/{id}/images/{imageID}/reports",
		router.Observe("/parkings/{id}/images/{imageID}/reports", api.ListImageReports))

	r.Post("/users/signin", router.Observe("/users/signin", api.SignIn))
	r.Post("/users/signout", router.Observe("/users/signout", api.SignOut))

	r.Get("/favorites", router.Observe("/favorites", api.Favorites))
	r.Put("/favorites/{id}", router.Observe("/favorites/{id}", api.AddFavorite))
	r.Delete("/favorites/{id}", router.Observe("/favorites/{id}", api.RemoveFavorite))

	r.Get("/address/suggest", router.Observe("/address/suggest", api.SuggestAddress))

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", opts.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
