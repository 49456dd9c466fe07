package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// TaskFailure is the error attached to a RunTask ActionResult that failed
// with a non-zero exit, carrying the tail of captured stderr a user-facing
// message must include (§7).
type TaskFailure struct {
	ExitCode  int
	StderrTail string
}

func (f *TaskFailure) Error() string {
	if f.StderrTail == "" {
		return fmt.Sprintf("task exited with code %d", f.ExitCode)
	}
	return fmt.Sprintf("task exited with code %d: %s", f.ExitCode, f.StderrTail)
}

// Sentinel errors, matching §11's "sentinel/wrapped errors built with
// github.com/pkg/errors" convention.
var (
	errUnknownActionKind     = errors.New("pipeline: unknown action kind")
	errUnknownProjectForSync = errors.New("pipeline: SyncProject references an unknown project")
	errUnknownTaskForRun     = errors.New("pipeline: RunTask references a task absent from its project")
	errAborted               = errors.New("pipeline: aborted after a bail-worthy failure")
)
