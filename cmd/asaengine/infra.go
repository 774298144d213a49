package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/events"
	"github.com/cuemby/asaengine/pkg/index"
	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/orchestrator"
	"github.com/cuemby/asaengine/pkg/patch"
	"github.com/cuemby/asaengine/pkg/queue"
	"github.com/cuemby/asaengine/pkg/sandbox"
	"github.com/cuemby/asaengine/pkg/store"
	"github.com/cuemby/asaengine/pkg/vcs"
	"github.com/cuemby/asaengine/pkg/worker"
)

// infra bundles every shared component server and worker construct from
// the same Config, so the two commands cannot drift in how they wire the
// store, queue, or LLM gateway.
type infra struct {
	cfg     config.Config
	store   store.Store
	queue   queue.Coordinator
	gateway *llm.FixAssistant
	vcs     *vcs.GitCLI
	runner  *sandbox.Runner
	index   *index.LexicalIndex
	broker  *events.Broker
}

func buildInfra(ctx context.Context, cfg config.Config) (*infra, error) {
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	q, err := buildQueue(cfg)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	providers := map[string]llm.ProviderClient{}
	if cfg.Credentials.AnthropicKey != "" {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Credentials.AnthropicKey)
	}
	if cfg.Credentials.OpenAIKey != "" {
		model, err := openai.New(openai.WithToken(cfg.Credentials.OpenAIKey))
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		providers["local"] = llm.NewLangchainClient(model)
	} else {
		log.Info("no ASA_OPENAI_API_KEY configured, semantic_search/code_review purposes will fail budget-free until one is set")
	}
	gw := llm.NewGateway(providers, st, st, cfg.Budgets, cfg.LLMCallTimeout)
	if err := llm.SeedPrompts(ctx, st); err != nil {
		return nil, fmt.Errorf("seed prompts: %w", err)
	}

	forge := vcs.NewGitHubForge(cfg.Credentials.GitHubToken, cfg.Credentials.GitHubBaseURL)
	gitCLI := vcs.NewGitCLI(cfg.Credentials.GitHubToken, forge)

	return &infra{
		cfg:     cfg,
		store:   st,
		queue:   q,
		gateway: llm.NewFixAssistant(gw),
		vcs:     gitCLI,
		runner:  sandbox.NewRunner(cfg.Orchestrator.TestOutputTailBytes),
		index:   index.NewLexicalIndex(),
		broker:  events.NewBroker(),
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.PostgresDSN != "" {
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	}
	return store.NewBoltStore(cfg.Orchestrator.WorkspaceBase)
}

func buildQueue(cfg config.Config) (queue.Coordinator, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisCoordinator(client, cfg.Queue, cfg.TTL, "asaengine"), nil
	}
	return queue.NewMemoryCoordinator(cfg.Queue, cfg.TTL), nil
}

// workerDeps assembles the worker.Deps that drive every dequeued task
// through a fresh Orchestrator, sharing inf's long-lived clients.
func (inf *infra) workerDeps() worker.Deps {
	return worker.Deps{
		Dequeuer: inf.queue,
		Loader:   inf.store,
		Store:    inf.store,
		Cloner:   inf.vcs,
		Index:    inf.index,
		Runner:   inf.runner,
		Gateway:  inf.gateway,
		Patcher:  func(workspace string) orchestrator.PatchApplier { return patch.New(workspace) },
		VCS:      inf.vcs,
	}
}

func (inf *infra) close() {
	_ = inf.store.Close()
	_ = inf.queue.Close()
}
