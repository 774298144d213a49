package worker

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/orchestrator"
	"github.com/cuemby/asaengine/pkg/types"
)

// Config holds worker configuration.
type Config struct {
	ID              string
	PollInterval    time.Duration
	TaskTimeout     time.Duration // 0 disables the wall-clock ceiling
	OrchestratorCfg orchestrator.Config
}

// Worker drains the queue and drives one task at a time to a terminal
// state, using a fresh Orchestrator per task bound to shared infrastructure
// clients.
type Worker struct {
	id           string
	pollInterval time.Duration
	taskTimeout  time.Duration
	orchCfg      orchestrator.Config

	dequeuer Dequeuer
	loader   TaskLoader
	store    orchestrator.TaskPersister
	cloner   orchestrator.Cloner
	index    orchestrator.Indexer
	runner   orchestrator.SandboxRunner
	gateway  orchestrator.FixGateway
	patcher  PatcherFactory
	vcs      orchestrator.VCSPublisher

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// PatcherFactory builds a PatchApplier rooted at a task's workspace. A
// patch.Applicator is bound to a single workspace directory at
// construction, so the worker needs a fresh one per task rather than one
// shared instance.
type PatcherFactory func(workspace string) orchestrator.PatchApplier

// Deps bundles the infrastructure clients a Worker hands to each
// Orchestrator it constructs.
type Deps struct {
	Dequeuer Dequeuer
	Loader   TaskLoader
	Store    orchestrator.TaskPersister
	Cloner   orchestrator.Cloner
	Index    orchestrator.Indexer
	Runner   orchestrator.SandboxRunner
	Gateway  orchestrator.FixGateway
	Patcher  PatcherFactory
	VCS      orchestrator.VCSPublisher
}

// New creates a worker instance. It does not start polling; call Start.
func New(cfg Config, deps Deps) *Worker {
	return &Worker{
		id:           cfg.ID,
		pollInterval: cfg.PollInterval,
		taskTimeout:  cfg.TaskTimeout,
		orchCfg:      cfg.OrchestratorCfg,
		dequeuer:     deps.Dequeuer,
		loader:       deps.Loader,
		store:        deps.Store,
		cloner:       deps.Cloner,
		index:        deps.Index,
		runner:       deps.Runner,
		gateway:      deps.Gateway,
		patcher:      deps.Patcher,
		vcs:          deps.VCS,
		logger:       log.WithComponent("worker").With().Str("worker_id", cfg.ID).Logger(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the poll loop in the background.
func (w *Worker) Start() error {
	w.wg.Add(1)
	go w.pollLoop()
	return nil
}

// Stop signals the poll loop to exit and waits for the in-flight task, if
// any, to finish.
func (w *Worker) Stop() error {
	close(w.stopCh)
	w.wg.Wait()
	return nil
}

// pollLoop periodically dequeues and runs tasks one at a time until Stop
// closes stopCh.
func (w *Worker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drainOnce()
		case <-w.stopCh:
			return
		}
	}
}

// drainOnce dequeues and runs tasks back to back, without waiting for the
// next tick, until the queue reports empty or a stop is requested.
func (w *Worker) drainOnce() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		ctx := context.Background()
		handle, ok, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("dequeue failed")
			return
		}
		if !ok {
			return
		}
		w.runTask(ctx, handle)
	}
}

// runTask loads the handle's task, runs it through a fresh Orchestrator to
// a terminal state, and releases the handle. Any error escaping Run is
// treated as an unhandled failure: it is recorded on the task and the
// handle is released as failed rather than propagated.
func (w *Worker) runTask(ctx context.Context, handle *types.JobHandle) {
	metrics.WorkerUtilization.WithLabelValues(w.id).Set(1)
	defer metrics.WorkerUtilization.WithLabelValues(w.id).Set(0)

	logger := w.logger.With().Str("task_id", handle.TaskID).Str("handle_id", handle.ID).Logger()

	task, err := w.loader.LoadTask(ctx, handle.TaskID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load task")
		_ = w.dequeuer.Release(ctx, handle.ID, types.HandleFailed)
		return
	}
	if task == nil || task.Status.IsTerminal() {
		logger.Warn().Msg("task missing or already terminal at dequeue")
		_ = w.dequeuer.Release(ctx, handle.ID, types.HandleFinished)
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if w.taskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}

	probe := func() bool {
		cancelled, err := w.dequeuer.Cancelled(ctx, handle.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to check cancel flag, assuming not cancelled")
			return false
		}
		return cancelled
	}

	// The workspace path is deterministic from the task id even before the
	// orchestrator's clone effect sets task.WorkspacePath, so the patcher
	// can be built up front for the task about to run.
	patcher := w.patcher(filepath.Join(w.orchCfg.WorkspaceBase, task.ID))
	o := orchestrator.New(w.orchCfg, w.store, w.cloner, w.index, w.runner, w.gateway, patcher, w.vcs)

	logger.Info().Str("state", string(task.Status)).Msg("starting task")
	if err := o.Run(runCtx, task, probe); err != nil {
		logger.Error().Err(err).Msg("orchestrator run failed unhandled")
		task.Status = types.StateFailed
		task.Log += "\n" + err.Error()
		task.UpdatedAt = time.Now()
		_ = w.store.UpdateTask(ctx, task)
	}

	logger.Info().Str("final_state", string(task.Status)).Msg("task finished")
	_ = w.dequeuer.Release(ctx, handle.ID, handleStatusFor(task.Status))
}

// handleStatusFor maps a task's terminal orchestrator state to the
// queue-coordination layer's handle status vocabulary.
func handleStatusFor(s types.State) types.HandleStatus {
	switch s {
	case types.StateCompleted:
		return types.HandleFinished
	case types.StateCancelled:
		return types.HandleCancelled
	default:
		return types.HandleFailed
	}
}
