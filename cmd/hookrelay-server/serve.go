package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coregx/hookrelay/cmd/hookrelay-server/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, unless disabled, the delivery worker pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, cfg.Worker.Enabled)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.pool != nil {
		if err := a.pool.Start(runCtx); err != nil {
			return err
		}
	} else {
		logger.Info("Worker pool disabled; this process only serves the API")
	}

	handler := api.NewHandler(a.ingestor, a.subscriptions, a.dlq, a.db, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, logger, cfg.Server.Mode),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("HTTP server failed: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}

	if a.pool != nil {
		a.drainPool()
	}
	logger.Info("Server stopped gracefully")
	return nil
}
