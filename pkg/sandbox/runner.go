package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/orchestrator"
)

// Runner executes commands as subprocesses rooted at a workspace directory.
type Runner struct {
	// MaxOutputBytes truncates stdout/stderr kept in the returned
	// CommandResult. 0 means unbounded.
	MaxOutputBytes int
}

// NewRunner builds a Runner truncating captured output at maxOutputBytes.
func NewRunner(maxOutputBytes int) *Runner {
	return &Runner{MaxOutputBytes: maxOutputBytes}
}

// RunCommand runs command in a shell rooted at workspace, killing it if it
// exceeds timeout. When networkDisabled is true on Linux and `unshare` is
// available, the command runs in a fresh network namespace; elsewhere the
// request is honored best-effort and the command still runs.
func (r *Runner) RunCommand(ctx context.Context, workspace, command string, timeout time.Duration, networkDisabled bool) (orchestrator.CommandResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if networkDisabled && runtime.GOOS == "linux" {
		if _, err := exec.LookPath("unshare"); err == nil {
			cmd = exec.CommandContext(runCtx, "unshare", "--net", "--", "sh", "-c", command)
		}
	}
	if cmd == nil {
		cmd = exec.CommandContext(runCtx, "sh", "-c", command)
	}
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := orchestrator.CommandResult{
		Stdout: truncate(stdout.String(), r.MaxOutputBytes),
		Stderr: truncate(stderr.String(), r.MaxOutputBytes),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return result, aerrors.New(aerrors.KindSandboxTimeout, runCtx.Err(), map[string]string{"command": command})
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, aerrors.New(aerrors.KindSandboxFailed, err, map[string]string{"command": command})
	}

	result.ExitCode = 0
	return result, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
