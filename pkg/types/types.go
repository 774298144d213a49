package types

import "time"

// Task is a user-submitted bug-fix request and its lifecycle state.
//
// WorkspacePath is set exactly once, at CLONING_REPO success, and is
// immutable for the remainder of the task's lifetime. UpdatedAt strictly
// increases on any mutation.
type Task struct {
	ID               string
	RepoURL          string
	BugDescription   string
	TestCommand      string
	Principal        string // optional; empty means anonymous
	Status           State
	WorkspacePath    string
	BranchName       string
	PRURL            string
	Log              string // append-only
	LastTestOutput   string
	BehavioralTestPath string
	JobHandleID      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Priority is the admission priority class.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// HandleStatus is the observable lifecycle of a JobHandle.
type HandleStatus string

const (
	HandleQueued    HandleStatus = "queued"
	HandleRunning   HandleStatus = "running"
	HandleFinished  HandleStatus = "finished"
	HandleFailed    HandleStatus = "failed"
	HandleCancelled HandleStatus = "cancelled"
	HandleExpired   HandleStatus = "expired"
)

// JobHandle is the queue's opaque reference to a queued unit of work.
type JobHandle struct {
	ID         string
	TaskID     string
	Principal  string
	Priority   Priority
	Status     HandleStatus
	Cancelled  bool
	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time
}

// Purpose is an enumerated LLM call intent; it selects a pinned model.
type Purpose string

const (
	PurposeFixGeneration           Purpose = "fix_generation"
	PurposeCodeAnalysis            Purpose = "code_analysis"
	PurposeBugDetection            Purpose = "bug_detection"
	PurposeTestGeneration          Purpose = "test_generation"
	PurposeCodeReview              Purpose = "code_review"
	PurposeSemanticSearch          Purpose = "semantic_search"
	PurposeBehavioralTestGeneration Purpose = "behavioral_test_generation"
	PurposeGuardian                Purpose = "guardian"
)

// UsageStatus is the outcome of a single LLM call.
type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageError   UsageStatus = "error"
)

// UsageRecord is an append-only, never-mutated row describing one LLM call.
type UsageRecord struct {
	ID               string
	TaskID           string
	Principal        string
	Purpose          Purpose
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	LatencyMS        int64
	Status           UsageStatus
	ErrorText        string
	CreatedAt        time.Time
}

// PatchOperation is the kind of mutation a Patch applies.
type PatchOperation string

const (
	PatchReplace PatchOperation = "replace"
	PatchInsert  PatchOperation = "insert"
	PatchDelete  PatchOperation = "delete"
)

// Patch is a single line-level mutation to one file.
type Patch struct {
	FilePath        string
	Operation       PatchOperation
	StartLine       int
	EndLine         int
	ReplacementText string
	Description     string
}

// PatchSet is an ordered collection of Patches with set-level metadata.
type PatchSet struct {
	Patches     []Patch
	Rationale   string
	Confidence  float64 // [0, 1]
	BugSummary  string
}

// State is a node in the orchestrator's transition graph.
type State string

const (
	StateQueued                  State = "QUEUED"
	StateInit                    State = "INIT"
	StateCloningRepo             State = "CLONING_REPO"
	StateIndexingCode            State = "INDEXING_CODE"
	StateVerifyingBugBehavior    State = "VERIFYING_BUG_BEHAVIOR"
	StateRunningTestsBeforeFix   State = "RUNNING_TESTS_BEFORE_FIX"
	StateGeneratingFix           State = "GENERATING_FIX"
	StateRunningTestsAfterFix    State = "RUNNING_TESTS_AFTER_FIX"
	StateVerifyingFixBehavior    State = "VERIFYING_FIX_BEHAVIOR"
	StateCreatingPRBranch        State = "CREATING_PR_BRANCH"
	StateRetry                   State = "RETRY"
	StateCompleted               State = "COMPLETED"
	StateFailed                  State = "FAILED"
	StateTimeout                 State = "TIMEOUT"
	StateCancelled               State = "CANCELLED"
)

// IsTerminal reports whether a state has no outgoing transitions. CANCELLED
// has no row in the transition table (cooperative cancellation short-circuits
// the driver loop directly, never through a signal), but it is one of the
// terminal statuses a Task can end in.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateCancelled:
		return true
	default:
		return false
	}
}

// Signal is the closed-set outcome of a state's effect.
type Signal string

const (
	SignalSuccess        Signal = "success"
	SignalFailure        Signal = "failure"
	SignalTimeout        Signal = "timeout"
	SignalRetryExhausted Signal = "retry_exhausted"
	SignalTestsPass      Signal = "tests_pass"
	SignalTestsFail      Signal = "tests_fail"
	SignalBugConfirmed   Signal = "bug_confirmed"
	SignalBugNotFound    Signal = "bug_not_found"
	SignalFixValidated   Signal = "fix_validated"
	SignalFixInvalid     Signal = "fix_invalid"
)

// StateContext is one entry in a task's append-only orchestration history.
type StateContext struct {
	State      State
	EnteredAt  time.Time
	ExitedAt   time.Time
	Outcome    Signal
	Error      string
	Metadata   map[string]string
}

// PromptVersion is an immutable, versioned prompt record.
type PromptVersion struct {
	Purpose             Purpose
	SemanticVersion     string
	SchemaVersion       string
	Checksum            string
	SystemPrompt        string
	UserPromptTemplate  string
	OutputSchema        string
	ModelConfigOverride *ModelConfig
}

// ModelConfig pins a Purpose to a concrete provider/model and its budgets.
type ModelConfig struct {
	Provider         string
	Model            string
	Version          string
	MaxTokensPerCall int
	MaxCallsPerTask  int
	Temperature      float64
}

// FeedbackRating is a coarse signal on a completed task's fix quality.
type FeedbackRating string

const (
	FeedbackUp   FeedbackRating = "up"
	FeedbackDown FeedbackRating = "down"
)

// Feedback is a principal's reaction to a completed task, used to bias
// future prompt selection. Never required for correctness.
type Feedback struct {
	ID        string
	TaskID    string
	Principal string
	Rating    FeedbackRating
	Comment   string
	CreatedAt time.Time
}

// EvaluationCase is a named offline fixture for regression-testing prompt
// and model changes against a fixed (repo, bug) pair.
type EvaluationCase struct {
	ID             string
	Name           string
	RepoURL        string
	BugDescription string
	TestCommand    string
	ExpectTerminal State
	CreatedAt      time.Time
}

// EvaluationResult is the recorded outcome of running the engine against
// an EvaluationCase.
type EvaluationResult struct {
	ID            string
	CaseID        string
	TaskID        string
	ActualTerminal State
	Passed        bool
	DurationMS    int64
	CreatedAt     time.Time
}
