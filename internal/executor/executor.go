package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/opsline/deployctl/internal/config"
	"github.com/opsline/deployctl/internal/models"
)

// maxCaptureBytes bounds how much of each output stream is kept, so a
// runaway deployment cannot grow the server's memory without limit.
const maxCaptureBytes = 1 << 20

// spawnExitCode is reported when the command could not be started at all,
// distinguishing spawn failures from any real exit status.
const spawnExitCode = -1

// Executor runs the configured deployment command in the configured working
// directory. Executions are serialized through a mutex: a trigger arriving
// while another deployment is in flight waits for it rather than running
// concurrently against the same working directory.
//
// The command is run through a shell so operators can configure pipelines and
// composite commands. Anyone who can authenticate can therefore run arbitrary
// shell content; that is the feature, not an oversight.
type Executor struct {
	workingDir string
	command    string
	timeout    time.Duration

	mu sync.Mutex
}

// New creates an executor. A zero timeout means executions are never
// interrupted by the server.
func New(workingDir, command string, timeout time.Duration) *Executor {
	return &Executor{
		workingDir: workingDir,
		command:    command,
		timeout:    timeout,
	}
}

// Execute runs the deployment command and reports the outcome. Command
// failures (nonzero exit, spawn failure, timeout) are encoded in the result,
// not returned as errors; the only error case is an invalid working
// directory, detected before anything is spawned.
func (e *Executor) Execute() (*models.DeployResult, error) {
	info, err := os.Stat(e.workingDir)
	if err != nil {
		return nil, &config.ConfigurationError{
			Reason: fmt.Sprintf("working directory %q does not exist", e.workingDir),
		}
	}
	if !info.IsDir() {
		return nil, &config.ConfigurationError{
			Reason: fmt.Sprintf("working directory %q is not a directory", e.workingDir),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := context.Background()
	cancel := func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	stdout := &boundedBuffer{max: maxCaptureBytes}
	stderr := &boundedBuffer{max: maxCaptureBytes}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", e.command)
	cmd.Dir = e.workingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Don't wait forever on output pipes held open by orphaned children.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &models.DeployResult{
		Success:    runErr == nil,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.truncated || stderr.truncated,
		DurationMs: duration.Milliseconds(),
		Timestamp:  start,
	}

	switch {
	case runErr == nil:
		result.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = spawnExitCode
		if cmd.ProcessState != nil {
			result.ExitCode = cmd.ProcessState.ExitCode()
		}
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Shell unavailable or spawn failure: nothing ran.
			result.ExitCode = spawnExitCode
			result.Stderr = runErr.Error()
		}
	}

	return result, nil
}

// boundedBuffer keeps at most max bytes and flags any overflow instead of
// failing the write, so the command itself never sees a broken pipe.
type boundedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.max - len(b.buf)
	if remaining <= 0 {
		if n > 0 {
			b.truncated = true
		}
		return n, nil
	}
	if n > remaining {
		p = p[:remaining]
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *boundedBuffer) String() string {
	return string(b.buf)
}
