package process

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// StdioPolicy controls how a spawned process's stdio is wired, per
// SPEC_FULL.md §4.8.
type StdioPolicy int

// Stdio policies.
const (
	// Capture buffers stdout/stderr and returns them; stdin is inherited
	// unless explicit input bytes are supplied.
	Capture StdioPolicy = iota
	// Stream inherits stdout/stderr directly; returned buffers are empty.
	Stream
	// StreamCapture tees stdout/stderr to both the console and an
	// internal buffer; order within each stream is preserved, ordering
	// between streams is not.
	StreamCapture
	// Interactive fully inherits stdio; the runner cannot observe output.
	Interactive
)

// Attempt records the outcome of a single invocation of a command.
type Attempt struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
	Duration time.Duration
}

// Options is the per-attempt contract described in §4.8.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	Stdio StdioPolicy
	Stdin []byte

	// Timeout, if non-zero, is re-armed on every attempt.
	Timeout time.Duration
	// RetryCount is the number of additional attempts on failure.
	RetryCount uint8
	// ErrorOnNonzero controls whether a non-zero exit triggers a retry;
	// callers that want to interpret status codes themselves leave this
	// false and inspect Result.ExitCode.
	ErrorOnNonzero bool

	Logger hclog.Logger
}

// Result is the outcome of Run across every attempt made.
type Result struct {
	Attempts []Attempt
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes task commands per §4.8, layering bounded retry/backoff
// (github.com/cenkalti/backoff/v4) and stdio-policy wiring on top of the
// graceful-stop-then-hard-kill Child from child.go/manager.go.
type Runner struct {
	logger hclog.Logger
}

// NewRunner creates a Runner.
func NewRunner(logger hclog.Logger) *Runner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Runner{logger: logger.Named("process")}
}

// Run executes opts.Command, retrying up to opts.RetryCount additional
// times on failure. Each attempt is a fresh invocation; timeout and
// cancellation are re-armed per attempt (§4.8).
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	result := &Result{}
	attempts := int(opts.RetryCount) + 1

	for i := 0; i < attempts; i++ {
		attempt := r.runOnce(ctx, opts)
		result.Attempts = append(result.Attempts, attempt)
		result.ExitCode = attempt.ExitCode
		result.Stdout = attempt.Stdout
		result.Stderr = attempt.Stderr

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if attempt.Err == nil && (attempt.ExitCode == 0 || !opts.ErrorOnNonzero) {
			return result, nil
		}

		isLast := i == attempts-1
		if isLast {
			break
		}

		wait := policy.NextBackOff()
		r.logger.Debug("retrying command", "command", opts.Command, "attempt", i+1, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	return result, nil
}

func (r *Runner) runOnce(ctx context.Context, opts Options) Attempt {
	start := time.Now()

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	switch opts.Stdio {
	case Stream:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case StreamCapture:
		cmd.Stdout = io.MultiWriter(os.Stdout, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)
	case Interactive:
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	default: // Capture
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}
	if cmd.Stdin == nil {
		if len(opts.Stdin) > 0 {
			cmd.Stdin = bytes.NewReader(opts.Stdin)
		} else if opts.Stdio == Capture {
			cmd.Stdin = os.Stdin
		}
	}

	child, err := newChild(NewInput{
		Cmd:         cmd,
		Timeout:     opts.Timeout,
		KillSignal:  os.Interrupt,
		KillTimeout: 10 * time.Second,
		Logger:      r.logger,
	})
	if err != nil {
		return Attempt{Err: err, Duration: time.Since(start)}
	}

	if err := child.Start(); err != nil {
		return Attempt{Err: err, Duration: time.Since(start)}
	}

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			child.Stop()
		case <-watchDone:
		}
	}()

	exitCode, ok := <-child.ExitCh()
	close(watchDone)
	if !ok {
		exitCode = ExitCodeError
	}

	return Attempt{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		Duration: time.Since(start),
	}
}
