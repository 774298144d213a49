package store

import (
	"context"
	"time"

	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/types"
)

// Store is the full persistence contract asaengine needs. Its method set
// is a superset of llm.UsageStore, llm.PromptStore, orchestrator.TaskPersister,
// and worker.TaskLoader, so a *PostgresStore or *BoltStore satisfies all four
// without an adapter.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	ListTasksByPrincipal(ctx context.Context, principal string, limit int) ([]*types.Task, error)

	// State history
	AppendStateContext(ctx context.Context, taskID string, sc types.StateContext) error
	ListStateContext(ctx context.Context, taskID string) ([]types.StateContext, error)

	// LLM usage and budgets
	RecordUsage(ctx context.Context, rec llm.UsageRecordInput) error
	SumTokensForTask(ctx context.Context, taskID string) (int, error)
	SumCostForTask(ctx context.Context, taskID string) (float64, error)
	SumCostForPrincipalSince(ctx context.Context, principal string, since time.Time) (float64, error)

	// Prompts
	LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error)
	SavePromptVersion(ctx context.Context, pv types.PromptVersion) error

	// Feedback
	CreateFeedback(ctx context.Context, fb *types.Feedback) error
	ListFeedbackForTask(ctx context.Context, taskID string) ([]types.Feedback, error)

	// Evaluation
	CreateEvaluationCase(ctx context.Context, c *types.EvaluationCase) error
	GetEvaluationCase(ctx context.Context, id string) (*types.EvaluationCase, error)
	ListEvaluationCases(ctx context.Context) ([]*types.EvaluationCase, error)
	CreateEvaluationResult(ctx context.Context, r *types.EvaluationResult) error
	ListEvaluationResultsForCase(ctx context.Context, caseID string) ([]*types.EvaluationResult, error)

	Close() error
}
