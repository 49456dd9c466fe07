package process

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestRunnerCaptureReturnsOutput(t *testing.T) {
	r := NewRunner(hclog.NewNullLogger())
	result, err := r.Run(context.Background(), Options{
		Command: "echo",
		Args:    []string{"hello"},
		Stdio:   Capture,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt on success, got %d", len(result.Attempts))
	}
	if string(result.Stdout) != "hello\n" {
		t.Fatalf("expected captured stdout %q, got %q", "hello\n", result.Stdout)
	}
}

func TestRunnerStreamLeavesBuffersEmpty(t *testing.T) {
	r := NewRunner(hclog.NewNullLogger())
	result, err := r.Run(context.Background(), Options{
		Command: "echo",
		Args:    []string{"hello"},
		Stdio:   Stream,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Stdout) != 0 {
		t.Fatalf("expected empty stdout buffer under Stream policy, got %q", result.Stdout)
	}
}

func TestRunnerRetriesOnNonzeroExit(t *testing.T) {
	r := NewRunner(hclog.NewNullLogger())
	result, err := r.Run(context.Background(), Options{
		Command:        "false",
		Stdio:          Capture,
		RetryCount:     2,
		ErrorOnNonzero: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 1 + RetryCount(2) = 3 attempts, got %d", len(result.Attempts))
	}
	if result.ExitCode == 0 {
		t.Fatal("expected a non-zero final exit code")
	}
}

func TestRunnerNonzeroExitWithoutErrorOnNonzeroDoesNotRetry(t *testing.T) {
	r := NewRunner(hclog.NewNullLogger())
	result, err := r.Run(context.Background(), Options{
		Command:    "false",
		Stdio:      Capture,
		RetryCount: 5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected callers that don't set ErrorOnNonzero to see exactly 1 attempt, got %d", len(result.Attempts))
	}
}

func TestRunnerCancellationStopsProcess(t *testing.T) {
	r := NewRunner(hclog.NewNullLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = r.Run(ctx, Options{
			Command: "sleep",
			Args:    []string{"30"},
			Stdio:   Capture,
		})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for cancellation to stop the process")
	}
	if runErr != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", runErr)
	}
}
