package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the task queue and drive tasks to a terminal state",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().String("id", "", "worker identity (defaults to a generated uuid)")
	workerCmd.Flags().Duration("poll-interval", 2*time.Second, "queue poll interval")
	workerCmd.Flags().Duration("task-timeout", 0, "wall-clock ceiling per task, 0 disables it")
}

func runWorker(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = uuid.New().String()
	}
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	taskTimeout, _ := cmd.Flags().GetDuration("task-timeout")

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

	w := worker.New(worker.Config{
		ID:              id,
		PollInterval:    pollInterval,
		TaskTimeout:     taskTimeout,
		OrchestratorCfg: cfg.Orchestrator,
	}, inf.workerDeps())

	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	log.Info(fmt.Sprintf("worker %s started", id))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("stopping worker")
	return w.Stop()
}
