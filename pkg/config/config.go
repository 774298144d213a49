package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/orchestrator"
	"github.com/cuemby/asaengine/pkg/queue"
)

// Credentials holds the forge and LLM provider secrets the orchestrator's
// vcs and llm clients are constructed with. Never logged.
type Credentials struct {
	GitHubToken    string
	GitHubBaseURL  string // empty selects the public github.com API
	AnthropicKey   string
	OpenAIKey      string
}

// Config is the engine's complete run-time configuration, assembled once
// at process startup and handed down to each component's constructor.
type Config struct {
	Queue         queue.Limits
	TTL           queue.TTLConfig
	Budgets       llm.Budgets
	LLMCallTimeout time.Duration
	Orchestrator  orchestrator.Config

	PostgresDSN string
	RedisAddr   string

	Credentials Credentials

	LogJSON  bool
	LogLevel log.Level
}

// Load reads Config from the process environment, applying the defaults
// below for anything unset and failing fast if a present value does not
// parse. There is no environment-binding library anywhere in the
// retrieved corpus (no viper, no envconfig), so this parses with
// os.Getenv and strconv directly, matching the teacher's
// parse-with-defaults style for its own Config structs.
func Load() (Config, error) {
	var cfg Config
	var err error

	if cfg.Queue.MaxQueueSize, err = getIntDefault("MAX_QUEUE_SIZE", 100); err != nil {
		return Config{}, err
	}
	if cfg.Queue.MaxConcurrentJobs, err = getIntDefault("MAX_CONCURRENT_JOBS", 4); err != nil {
		return Config{}, err
	}
	if cfg.Queue.MaxPerUserConcurrent, err = getIntDefault("MAX_PER_USER_CONCURRENT", 2); err != nil {
		return Config{}, err
	}

	if cfg.TTL.ResultTTL, err = getDurationSecondsDefault("JOB_RESULT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TTL.FailureTTL, err = getDurationSecondsDefault("JOB_FAILURE_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}

	if cfg.Budgets.MaxTokensPerTask, err = getIntDefault("MAX_TOKENS_PER_TASK", 200000); err != nil {
		return Config{}, err
	}
	if cfg.Budgets.MaxCostPerTaskUSD, err = getFloatDefault("MAX_COST_PER_TASK_USD", 2.0); err != nil {
		return Config{}, err
	}
	if cfg.Budgets.MaxCostPerPrincipalPerDay, err = getFloatDefault("MAX_COST_PER_USER_PER_DAY_USD", 20.0); err != nil {
		return Config{}, err
	}

	if cfg.LLMCallTimeout, err = getDurationSecondsDefault("LLM_CALL_TIMEOUT_SECONDS", 120*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Orchestrator.TestRunTimeout, err = getDurationSecondsDefault("TEST_RUN_TIMEOUT_SECONDS", 300*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Orchestrator.GitCloneTimeout, err = getDurationSecondsDefault("GIT_CLONE_TIMEOUT_SECONDS", 60*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.Orchestrator.BehavioralVerificationEnabled, err = getBoolDefault("ENABLE_BEHAVIORAL_VERIFICATION", true); err != nil {
		return Config{}, err
	}
	cfg.Orchestrator.WorkspaceBase = getStringDefault("WORKSPACE_BASE_DIR", "/var/lib/asaengine/workspaces")
	if cfg.Orchestrator.TestOutputTailBytes, err = getIntDefault("TEST_OUTPUT_TAIL_BYTES", 8192); err != nil {
		return Config{}, err
	}
	if cfg.Orchestrator.SandboxNetworkDisabled, err = getBoolDefault("SANDBOX_NETWORK_DISABLED", true); err != nil {
		return Config{}, err
	}

	cfg.PostgresDSN = getStringDefault("ASA_POSTGRES_DSN", "")
	cfg.RedisAddr = getStringDefault("ASA_REDIS_ADDR", "")

	cfg.Credentials.GitHubToken = os.Getenv("ASA_GITHUB_TOKEN")
	cfg.Credentials.GitHubBaseURL = os.Getenv("ASA_GITHUB_BASE_URL")
	cfg.Credentials.AnthropicKey = os.Getenv("ASA_ANTHROPIC_API_KEY")
	cfg.Credentials.OpenAIKey = os.Getenv("ASA_OPENAI_API_KEY")

	if cfg.LogJSON, err = getBoolDefault("ASA_LOG_JSON", false); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = log.Level(getStringDefault("ASA_LOG_LEVEL", string(log.InfoLevel)))

	return cfg, nil
}

func getStringDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getFloatDefault(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}

func getBoolDefault(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return b, nil
}

// getDurationSecondsDefault reads key as a plain integer count of seconds
// (matching the *_SECONDS / *_TTL naming convention of every timeout
// variable this package recognizes) rather than Go's duration syntax.
func getDurationSecondsDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return time.Duration(secs) * time.Second, nil
}
