package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"appcore/api/auth"
	"appcore/api/cron"
	"appcore/api/handler"
	"appcore/api/model"
	"appcore/api/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, reconciler workers and periodic jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := wire()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.hub.Run(ctx)
	c.pool.Start()

	scheduler := cron.New()
	if err := cron.RegisterDrivers(scheduler, c.apps, cfg.CronSyncInterval, cfg.CronRetryInterval); err != nil {
		return err
	}
	scheduler.Start()

	if cfg.ManifestsDir != "" {
		applyStartupManifests(ctx, c)
	}

	validator := auth.NewValidator(cfg.JWTSecret)
	opts := handler.Options{
		Apps:      c.apps,
		Scheduler: scheduler,
		Checks:    c.healthChecks(),
		Version:   Version,
	}
	if validator.Enabled() {
		opts.Auth = validator
		log.Infof("JWT auth enabled")
	}
	h := handler.New(opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Route("/api", h.Routes)
	if opts.Auth != nil {
		r.With(opts.Auth.Middleware).Get("/ws", c.hub.HandleConnect)
	} else {
		r.Get("/ws", c.hub.HandleConnect)
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("appcore %s listening on %s:%s", Version, cfg.BindAddr, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		scheduler.Stop()
		return err
	}

	log.Infof("shutting down...")
	scheduler.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	if err := c.pool.Stop(shutdownCtx); err != nil {
		log.Warnf("%v", err)
	}
	return nil
}

func applyStartupManifests(ctx context.Context, c *components) {
	manifests, err := model.DiscoverManifests(cfg.ManifestsDir)
	if err != nil {
		log.Warnf("manifests: %v", err)
		return
	}
	valid := manifests[:0]
	for _, m := range manifests {
		if r := validate.Manifest(m); !r.Valid() {
			log.Warnf("skipping manifest %s: %d validation errors", m.App, r.Errors)
			continue
		}
		valid = append(valid, m)
	}
	if n := c.apps.ApplyManifests(ctx, valid); n > 0 {
		log.Infof("created %d applications from %s", n, cfg.ManifestsDir)
	}
}
