// Package errors implements the engine's closed error taxonomy and the
// retry handler shared by the LLM gateway and the orchestrator's
// retry-eligible effects.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is a member of the closed set of error kinds the engine recognizes.
// New kinds are additive; existing kinds never change category.
type Kind string

const (
	// Transient
	KindNetworkTimeout    Kind = "network_timeout"
	KindNetworkConnection Kind = "network_connection"
	KindLLMRateLimit      Kind = "llm_rate_limit"
	KindLLMTimeout        Kind = "llm_timeout"
	KindSandboxTimeout    Kind = "sandbox_timeout"
	KindForgeRateLimit    Kind = "forge_rate_limit"

	// Permanent
	KindLLMInvalidResponse     Kind = "llm_invalid_response"
	KindParseError             Kind = "parse_error"
	KindFileNotFound           Kind = "file_not_found"
	KindGitAuthenticationFailed Kind = "git_authentication_failed"
	KindSandboxFailed          Kind = "sandbox_failed"

	// Policy
	KindGuardianRejected Kind = "guardian_rejected"
	KindSecretExposed    Kind = "secret_exposed"
	KindUnsafeCode       Kind = "unsafe_code"

	// User
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidRepoURL Kind = "invalid_repo_url"

	// Resource
	KindTokenBudgetExceeded Kind = "token_budget_exceeded"
	KindCostBudgetExceeded  Kind = "cost_budget_exceeded"
	KindTimeBudgetExceeded  Kind = "time_budget_exceeded"
	KindQueueFull           Kind = "queue_full"
)

// Category groups kinds by how the retry handler should treat them.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryPolicy    Category = "policy"
	CategoryUser      Category = "user"
	CategoryResource  Category = "resource"
)

// RetryPolicy describes how a Category of failure may be retried.
type RetryPolicy struct {
	ShouldRetry    bool
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

var categoryPolicy = map[Category]RetryPolicy{
	CategoryTransient: {
		ShouldRetry:    true,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
	},
	CategoryPermanent: {ShouldRetry: false, MaxAttempts: 1},
	CategoryPolicy:    {ShouldRetry: false, MaxAttempts: 1},
	CategoryUser:      {ShouldRetry: false, MaxAttempts: 1},
	CategoryResource:  {ShouldRetry: false, MaxAttempts: 1},
}

// kindCategory is the static, closed kind -> category map.
var kindCategory = map[Kind]Category{
	KindNetworkTimeout:    CategoryTransient,
	KindNetworkConnection: CategoryTransient,
	KindLLMRateLimit:      CategoryTransient,
	KindLLMTimeout:        CategoryTransient,
	KindSandboxTimeout:    CategoryTransient,
	KindForgeRateLimit:    CategoryTransient,

	KindLLMInvalidResponse:      CategoryPermanent,
	KindParseError:              CategoryPermanent,
	KindFileNotFound:            CategoryPermanent,
	KindGitAuthenticationFailed: CategoryPermanent,
	KindSandboxFailed:           CategoryPermanent,

	KindGuardianRejected: CategoryPolicy,
	KindSecretExposed:    CategoryPolicy,
	KindUnsafeCode:       CategoryPolicy,

	KindInvalidInput:   CategoryUser,
	KindInvalidRepoURL: CategoryUser,

	KindTokenBudgetExceeded: CategoryResource,
	KindCostBudgetExceeded:  CategoryResource,
	KindTimeBudgetExceeded:  CategoryResource,
	KindQueueFull:           CategoryResource,
}

// CategoryOf returns the category a kind is mapped to. Unknown kinds
// default to CategoryPermanent (never retried) — a missing taxonomy entry
// should fail closed, not spin forever.
func CategoryOf(k Kind) Category {
	if c, ok := kindCategory[k]; ok {
		return c
	}
	return CategoryPermanent
}

// PolicyOf returns the RetryPolicy for a kind's category.
func PolicyOf(k Kind) RetryPolicy {
	return categoryPolicy[CategoryOf(k)]
}

// Error wraps an underlying cause with a taxonomy Kind and a details map.
type Error struct {
	Kind    Kind
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with kind and optional details.
func New(kind Kind, cause error, details map[string]string) *Error {
	return &Error{Kind: kind, Cause: cause, Details: details}
}

// RetryExhausted is returned by Retry once the retry budget is consumed.
type RetryExhausted struct {
	Kind     Kind
	Attempts int
	LastErr  error
}

func (r *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts (kind=%s): %v", r.Attempts, r.Kind, r.LastErr)
}

func (r *RetryExhausted) Unwrap() error { return r.LastErr }

// Classify maps a raw error to a taxonomy Kind by inspecting its message.
// It defaults to KindSandboxFailed when no rule matches, per spec.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return KindLLMRateLimit
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "timeout"):
		return KindNetworkTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host"):
		return KindNetworkConnection
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return KindGitAuthenticationFailed
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "not found"):
		return KindFileNotFound
	case strings.Contains(msg, "invalid json") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "parse"):
		return KindParseError
	case strings.Contains(msg, "invalid repo") || strings.Contains(msg, "invalid url"):
		return KindInvalidRepoURL
	default:
		return KindSandboxFailed
	}
}
