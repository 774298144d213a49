package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/asaengine/pkg/api"
	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the task submission and status API",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().String("addr", ":8080", "API listen address")
	serverCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "metrics/health listen address")
}

func runServer(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	inf, err := buildInfra(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build infra: %w", err)
	}
	defer inf.close()

	inf.broker.Start()
	defer inf.broker.Stop()

	collector := metrics.NewCollector(func(ctx context.Context) (int, int, error) {
		stats, err := inf.queue.Stats(ctx)
		if err != nil {
			return 0, 0, err
		}
		return stats.Queued, stats.Running, nil
	})
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("queue", true, "ready")

	registrar := api.NewHealthRegistrar(inf.store, inf.queue, 15*time.Second)
	registrar.Start()
	defer registrar.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Errorf("metrics server", err)
		}
	}()
	log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))

	apiServer := api.NewServer(inf.store, inf.queue, inf.broker)
	httpServer := &http.Server{Addr: addr, Handler: apiServer.Router()}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	log.Info(fmt.Sprintf("api listening on %s", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Errorf("server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
