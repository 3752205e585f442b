package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/api"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, log := a.cfg, a.log
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	origins, _ := cmd.Flags().GetStringSlice("cors-origin")

	allocator := membership.NewAllocator(a.store, a.catalog.Plans(), a.ledger, log)
	scheduler := api.NewCycleScheduler(allocator, a.store, log)
	scheduler.Interval = cfg.Scheduler.Interval.Duration
	scheduler.Enabled = cfg.Scheduler.Enabled

	handler := api.NewHandler(a.store, a.catalog, a.booking, scheduler, log)
	if err := handler.SyncResources(cmd.Context()); err != nil {
		log.WithError(err).Warn("Failed to sync resources")
	}

	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(10*time.Minute, stopCleanup)

	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: origins, Limiter: limiter})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on http://localhost:%d", cfg.Server.Port)
		log.Infof("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	log.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
