package orchestrator

import "github.com/cuemby/asaengine/pkg/types"

type edge struct {
	from   types.State
	signal types.Signal
}

// transitionTable is the static graph §4.3 names. Two rows
// (INDEXING_CODE/success and RUNNING_TESTS_AFTER_FIX/tests_pass) branch on
// whether behavioral verification is enabled; those are resolved in
// transitionFor rather than encoded twice here.
var transitionTable = map[edge]types.State{
	{types.StateQueued, types.SignalSuccess}: types.StateInit,
	{types.StateInit, types.SignalSuccess}:   types.StateCloningRepo,

	{types.StateCloningRepo, types.SignalSuccess}: types.StateIndexingCode,
	{types.StateCloningRepo, types.SignalFailure}: types.StateFailed,

	{types.StateIndexingCode, types.SignalFailure}: types.StateFailed,

	{types.StateVerifyingBugBehavior, types.SignalBugConfirmed}: types.StateRunningTestsBeforeFix,
	{types.StateVerifyingBugBehavior, types.SignalBugNotFound}:  types.StateRunningTestsBeforeFix,

	{types.StateRunningTestsBeforeFix, types.SignalTestsFail}: types.StateGeneratingFix,
	{types.StateRunningTestsBeforeFix, types.SignalTestsPass}: types.StateFailed,
	{types.StateRunningTestsBeforeFix, types.SignalFailure}:   types.StateFailed,

	{types.StateGeneratingFix, types.SignalSuccess}:       types.StateRunningTestsAfterFix,
	{types.StateGeneratingFix, types.SignalFailure}:       types.StateRetry,
	{types.StateGeneratingFix, types.SignalRetryExhausted}: types.StateFailed,

	{types.StateRunningTestsAfterFix, types.SignalTestsFail}:      types.StateRetry,
	{types.StateRunningTestsAfterFix, types.SignalRetryExhausted}: types.StateFailed,

	{types.StateVerifyingFixBehavior, types.SignalFixValidated}: types.StateCreatingPRBranch,
	{types.StateVerifyingFixBehavior, types.SignalFixInvalid}:   types.StateCreatingPRBranch,

	{types.StateCreatingPRBranch, types.SignalSuccess}: types.StateCompleted,
	{types.StateCreatingPRBranch, types.SignalFailure}: types.StateCompleted,
}

// transitionFor resolves the next state for (from, signal), applying the
// two behavioral-verification-conditioned branches the static table above
// cannot express as plain keys.
func transitionFor(from types.State, signal types.Signal, behavioralEnabled bool) (types.State, bool) {
	switch {
	case from == types.StateIndexingCode && signal == types.SignalSuccess:
		if behavioralEnabled {
			return types.StateVerifyingBugBehavior, true
		}
		return types.StateRunningTestsBeforeFix, true
	case from == types.StateRunningTestsAfterFix && signal == types.SignalTestsPass:
		if behavioralEnabled {
			return types.StateVerifyingFixBehavior, true
		}
		return types.StateCreatingPRBranch, true
	}

	next, ok := transitionTable[edge{from, signal}]
	return next, ok
}
