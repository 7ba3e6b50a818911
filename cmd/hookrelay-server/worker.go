package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var metricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the delivery worker pool",
	Long: `worker runs the delivery worker pool without the HTTP API. Several worker
processes can share one database; leases keep each delivery on one worker.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address of the /metrics endpoint, empty to disable")
}

func runWorker(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.pool.Start(runCtx); err != nil {
		return err
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Infof("Metrics listening on %s", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Infof("Received %s, draining worker pool", sig)
	case <-ctx.Done():
	}

	a.drainPool()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
