package llm

import (
	"context"
	"time"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// Budgets are the global ceilings the gateway enforces before any call.
type Budgets struct {
	MaxTokensPerTask           int
	MaxCostPerTaskUSD          float64
	MaxCostPerPrincipalPerDay  float64
}

// UsageStore is the subset of persistence the gateway needs to evaluate
// budgets and to record every call attempt. pkg/store's sqlx and bbolt
// implementations both satisfy it.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec UsageRecordInput) error
	SumTokensForTask(ctx context.Context, taskID string) (int, error)
	SumCostForTask(ctx context.Context, taskID string) (float64, error)
	SumCostForPrincipalSince(ctx context.Context, principal string, since time.Time) (float64, error)
}

// UsageRecordInput is the gateway's view of a types.UsageRecord, kept
// local so this package does not need to know the store's id/timestamp
// assignment conventions.
type UsageRecordInput struct {
	TaskID           string
	Principal        string
	Purpose          types.Purpose
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMS        int64
	Success          bool
	ErrorText        string
}

// checkBudget runs the four pre-call gates in order, in the priority this
// package's purpose pinning table follows, and raises the first one that
// fails. callCount is the gateway's own in-process counter for (taskID,
// purpose); it never reaches the store.
func (g *Gateway) checkBudget(ctx context.Context, taskID, principal string, purpose types.Purpose, cfg types.ModelConfig, callCount int) error {
	if callCount >= cfg.MaxCallsPerTask {
		metrics.BudgetDenialsTotal.WithLabelValues("call_count").Inc()
		return aerrors.New(aerrors.KindTokenBudgetExceeded, nil, map[string]string{
			"reason": "per-purpose call count exceeded", "purpose": string(purpose),
		})
	}

	tokens, err := g.store.SumTokensForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if tokens >= g.budgets.MaxTokensPerTask {
		metrics.BudgetDenialsTotal.WithLabelValues("tokens_per_task").Inc()
		return aerrors.New(aerrors.KindTokenBudgetExceeded, nil, map[string]string{"task_id": taskID})
	}

	taskCost, err := g.store.SumCostForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if taskCost >= g.budgets.MaxCostPerTaskUSD {
		metrics.BudgetDenialsTotal.WithLabelValues("cost_per_task").Inc()
		return aerrors.New(aerrors.KindCostBudgetExceeded, nil, map[string]string{"task_id": taskID})
	}

	if principal != "" {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		principalCost, err := g.store.SumCostForPrincipalSince(ctx, principal, dayStart)
		if err != nil {
			return err
		}
		if principalCost >= g.budgets.MaxCostPerPrincipalPerDay {
			metrics.BudgetDenialsTotal.WithLabelValues("cost_per_principal_per_day").Inc()
			return aerrors.New(aerrors.KindCostBudgetExceeded, nil, map[string]string{"principal": principal})
		}
	}

	return nil
}
