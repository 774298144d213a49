package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
)

func TestRunCommandCapturesStdoutAndExitCode(t *testing.T) {
	r := NewRunner(0)
	result, err := r.RunCommand(context.Background(), t.TempDir(), "echo hello", time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.True(t, result.Passed())
}

func TestRunCommandCapturesNonZeroExitCode(t *testing.T) {
	r := NewRunner(0)
	result, err := r.RunCommand(context.Background(), t.TempDir(), "exit 7", time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
	assert.False(t, result.Passed())
}

func TestRunCommandCapturesStderr(t *testing.T) {
	r := NewRunner(0)
	result, err := r.RunCommand(context.Background(), t.TempDir(), "echo oops 1>&2", time.Second, false)
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "oops")
}

func TestRunCommandReturnsTimeoutKindOnDeadlineExceeded(t *testing.T) {
	r := NewRunner(0)
	_, err := r.RunCommand(context.Background(), t.TempDir(), "sleep 5", 50*time.Millisecond, false)
	require.Error(t, err)
	assert.Equal(t, aerrors.KindSandboxTimeout, aerrors.Classify(err))
}

func TestRunCommandTruncatesOutputToMaxBytes(t *testing.T) {
	r := NewRunner(5)
	result, err := r.RunCommand(context.Background(), t.TempDir(), "echo 1234567890", time.Second, false)
	require.NoError(t, err)
	assert.Len(t, result.Stdout, 5)
}

func TestRunCommandRunsInWorkspaceDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(0)
	result, err := r.RunCommand(context.Background(), dir, "pwd", time.Second, false)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
}
