package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/orchestrator"
	"github.com/cuemby/asaengine/pkg/patch"
	"github.com/cuemby/asaengine/pkg/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Replay every recorded evaluation case against the engine offline",
	Long: `eval runs every EvaluationCase in the configured store through a
fresh Orchestrator directly, bypassing the queue and API, and records an
EvaluationResult comparing the actual terminal state against the case's
expected one. It is the harness for regression-testing a prompt or model
change against a fixed case set before it reaches production budgets.`,
	RunE: runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
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

	cases, err := inf.store.ListEvaluationCases(ctx)
	if err != nil {
		return fmt.Errorf("list evaluation cases: %w", err)
	}
	if len(cases) == 0 {
		log.Info("no evaluation cases recorded, nothing to run")
		return nil
	}

	passed := 0
	for _, c := range cases {
		result, err := runEvalCase(ctx, inf, cfg, c)
		if err != nil {
			log.Errorf(fmt.Sprintf("evaluation case %s failed to run", c.Name), err)
			continue
		}
		if result.Passed {
			passed++
		}
		if err := inf.store.CreateEvaluationResult(ctx, result); err != nil {
			log.Errorf(fmt.Sprintf("record result for %s", c.Name), err)
		}
		log.Info(fmt.Sprintf("case %s: expected=%s actual=%s passed=%v", c.Name, c.ExpectTerminal, result.ActualTerminal, result.Passed))
	}

	fmt.Printf("%d/%d cases passed\n", passed, len(cases))
	return nil
}

func runEvalCase(ctx context.Context, inf *infra, cfg config.Config, c *types.EvaluationCase) (*types.EvaluationResult, error) {
	task := &types.Task{
		ID:             uuid.New().String(),
		RepoURL:        c.RepoURL,
		BugDescription: c.BugDescription,
		TestCommand:    c.TestCommand,
		Status:         types.StateQueued,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := inf.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	patcher := patch.New(filepath.Join(cfg.Orchestrator.WorkspaceBase, task.ID))
	o := orchestrator.New(cfg.Orchestrator, inf.store, inf.vcs, inf.index, inf.runner, inf.gateway, patcher, inf.vcs)

	start := time.Now()
	noCancel := func() bool { return false }
	runErr := o.Run(ctx, task, noCancel)
	duration := time.Since(start)
	if runErr != nil {
		return nil, fmt.Errorf("orchestrator run: %w", runErr)
	}

	return &types.EvaluationResult{
		ID:             uuid.New().String(),
		CaseID:         c.ID,
		TaskID:         task.ID,
		ActualTerminal: task.Status,
		Passed:         task.Status == c.ExpectTerminal,
		DurationMS:     duration.Milliseconds(),
		CreatedAt:      time.Now(),
	}, nil
}
