// Package orchestrator drives a Task through the engine's finite state
// graph: it runs each state's effect, reduces the effect's outcome to a
// Signal, and looks up the next state in a static transition table until
// a terminal state is reached.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// CancelProbe reports whether the task's cancellation flag has been set.
// The orchestrator consults it before entering any state and effects
// consult it again before any long-running sub-step.
type CancelProbe func() bool

// errCancelled is returned internally by an effect when the probe trips
// mid-effect; the driver loop treats it like a direct cancellation, not a
// signal eligible for the transition table.
var errCancelled = errors.New("cancelled")

// retryLimits declares the max re-entry count for each retry-eligible
// state. Counters reset when the state is exited on a non-retry path.
var retryLimits = map[types.State]int{
	types.StateGeneratingFix:        2,
	types.StateRunningTestsAfterFix: 1,
}

// TaskPersister is the subset of durable storage the orchestrator needs:
// updating the Task row and appending to its state history.
type TaskPersister interface {
	UpdateTask(ctx context.Context, task *types.Task) error
	AppendStateContext(ctx context.Context, taskID string, sc types.StateContext) error
}

// Config holds the orchestrator's run-time tunables.
type Config struct {
	BehavioralVerificationEnabled bool
	TestOutputTailBytes           int
	WorkspaceBase                 string
	TestRunTimeout                time.Duration
	GitCloneTimeout               time.Duration
	SandboxNetworkDisabled        bool
}

// Orchestrator drives a single Task to a terminal state.
type Orchestrator struct {
	cfg     Config
	store   TaskPersister
	cloner  Cloner
	index   Indexer
	runner  SandboxRunner
	gateway FixGateway
	patcher PatchApplier
	vcs     VCSPublisher
	logger  zerolog.Logger

	retryCounts map[types.State]int
}

// New builds an Orchestrator for one task run. A fresh Orchestrator (and
// fresh retry counters) is expected per task, matching the worker's
// per-task construction in §4.2.
func New(cfg Config, store TaskPersister, cloner Cloner, index Indexer, runner SandboxRunner, gateway FixGateway, patcher PatchApplier, vcs VCSPublisher) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		cloner:      cloner,
		index:       index,
		runner:      runner,
		gateway:     gateway,
		patcher:     patcher,
		vcs:         vcs,
		logger:      log.WithComponent("orchestrator"),
		retryCounts: make(map[types.State]int),
	}
}

// Run drives task from its current status to a terminal state, persisting
// a StateContext entry for every state it completes. It never returns an
// error for a task-level failure — that is recorded as Task.Status =
// FAILED — only for a defect in the driver itself (e.g. a persistence
// failure).
func (o *Orchestrator) Run(ctx context.Context, task *types.Task, probe CancelProbe) error {
	logger := o.logger.With().Str("task_id", task.ID).Logger()

	if task.Status == "" {
		task.Status = types.StateQueued
	}

	current := task.Status
	var retryFrom types.State

	for !current.IsTerminal() {
		if probe != nil && probe() {
			logger.Info().Str("state", string(current)).Msg("cancellation observed before state entry")
			return o.finish(ctx, task, types.StateCancelled)
		}

		if current == types.StateRetry {
			next, err := o.resolveRetry(ctx, task, retryFrom, logger)
			if err != nil {
				return err
			}
			current = next
			continue
		}

		entered := time.Now()
		signal, meta, err := o.runEffect(ctx, current, task, probe)
		exited := time.Now()

		if errors.Is(err, errCancelled) {
			logger.Info().Str("state", string(current)).Msg("cancellation observed mid-effect")
			return o.finish(ctx, task, types.StateCancelled)
		}

		sc := types.StateContext{
			State:     current,
			EnteredAt: entered,
			ExitedAt:  exited,
			Outcome:   signal,
			Metadata:  meta,
		}
		if err != nil {
			sc.Error = err.Error()
			if re := (*aerrors.RetryExhausted)(nil); errors.As(err, &re) {
				signal = types.SignalRetryExhausted
				sc.Outcome = signal
			} else if signal == "" {
				signal = types.SignalFailure
				sc.Outcome = signal
			}
		}

		if appendErr := o.store.AppendStateContext(ctx, task.ID, sc); appendErr != nil {
			return appendErr
		}
		metrics.StateDuration.WithLabelValues(string(current)).Observe(exited.Sub(entered).Seconds())

		next, ok := transitionFor(current, signal, o.cfg.BehavioralVerificationEnabled)
		if !ok {
			logger.Error().Str("state", string(current)).Str("signal", string(signal)).Msg("no transition defined; failing task")
			next = types.StateFailed
		}
		metrics.RecordStateTransition(current, next, signal)

		if _, retryEligible := retryLimits[current]; retryEligible && next != types.StateRetry {
			o.retryCounts[current] = 0
		}
		if next == types.StateRetry {
			retryFrom = current
		}

		current = next
		task.Status = current
		task.UpdatedAt = time.Now()
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return err
		}
	}

	return o.finish(ctx, task, current)
}

// resolveRetry implements RETRY as a pseudo-state: it owns no effect of
// its own, only the previous retry-eligible state's counter check.
func (o *Orchestrator) resolveRetry(ctx context.Context, task *types.Task, prev types.State, logger zerolog.Logger) (types.State, error) {
	entered := time.Now()

	maxAttempts, ok := retryLimits[prev]
	if !ok {
		// Defensive: RETRY was reached from a state with no declared limit.
		maxAttempts = 0
	}

	o.retryCounts[prev]++
	count := o.retryCounts[prev]
	metrics.RetriesTotal.WithLabelValues(string(prev)).Inc()

	outcome := types.SignalSuccess
	next := prev
	if count > maxAttempts {
		outcome = types.SignalRetryExhausted
		next = types.StateFailed
		o.retryCounts[prev] = 0
	}
	metrics.RecordStateTransition(types.StateRetry, next, outcome)

	sc := types.StateContext{
		State:     types.StateRetry,
		EnteredAt: entered,
		ExitedAt:  time.Now(),
		Outcome:   outcome,
		Metadata:  map[string]string{"retried_state": string(prev), "attempt": strconv.Itoa(count), "max": strconv.Itoa(maxAttempts)},
	}
	if err := o.store.AppendStateContext(ctx, task.ID, sc); err != nil {
		return "", err
	}

	logger.Info().Str("retried_state", string(prev)).Int("attempt", count).Int("max", maxAttempts).Msg("retry pseudo-state resolved")

	task.Status = next
	task.UpdatedAt = time.Now()
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return "", err
	}
	return next, nil
}

func (o *Orchestrator) finish(ctx context.Context, task *types.Task, final types.State) error {
	task.Status = final
	task.UpdatedAt = time.Now()
	metrics.TasksCompletedTotal.WithLabelValues(string(final)).Inc()
	return o.store.UpdateTask(ctx, task)
}

