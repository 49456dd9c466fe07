// Package target implements the canonical identifier and target grammar:
// project ids, task ids, and the `<scope>:<task>` strings used to name a
// unit of work across the workspace and action graphs.
package target

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrTooWild is returned when parsing the bare string ":" — a scope with no
// task id at all.
var ErrTooWild = errors.New("target: too wild, expected a task id after ':'")

// ErrInvalidFormat is returned when a target string cannot be parsed under
// the grammar in any form (missing delimiter, invalid identifier).
var ErrInvalidFormat = errors.New("target: invalid format")

// identifierPattern is the grammar for a bare Identifier: non-empty ASCII
// matching [A-Za-z_][A-Za-z0-9_./-]*.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_./-]*$`)

// projectIDPattern extends identifierPattern with a leading '@' so that
// scoped package-style project ids ("@scope/foo") parse in the project
// position; only the ':' split character is otherwise privileged.
var projectIDPattern = regexp.MustCompile(`^@?[A-Za-z_][A-Za-z0-9_./@-]*$`)

// ScopeKind discriminates the four forms a Target's scope may take.
type ScopeKind int

const (
	// ScopeAll matches every project that defines the named task.
	ScopeAll ScopeKind = iota
	// ScopeDeps resolves to the task's own project's dependencies; only
	// legal inside a task-dependency context.
	ScopeDeps
	// ScopeOwnSelf resolves to the task's own project; only legal inside a
	// task-dependency context.
	ScopeOwnSelf
	// ScopeProject pins the target to a concrete project id.
	ScopeProject
)

// Scope is the left-hand side of a Target: either one of the three
// wildcard sigils or a concrete project id.
type Scope struct {
	Kind    ScopeKind
	Project string // only meaningful when Kind == ScopeProject
}

// String renders the canonical scope prefix (without the trailing ':').
func (s Scope) String() string {
	switch s.Kind {
	case ScopeAll:
		return ""
	case ScopeDeps:
		return "^"
	case ScopeOwnSelf:
		return "~"
	default:
		return s.Project
	}
}

// IsWildcard reports whether this scope must be expanded before it can be
// used inside an ActionGraph; only ScopeProject is valid at execution time.
func (s Scope) IsWildcard() bool {
	return s.Kind != ScopeProject
}

// Target is a canonical (scope, task) reference, optionally wildcard-scoped.
type Target struct {
	Scope  Scope
	TaskID string
}

// IsConcrete reports whether the target names a single (project, task)
// pair, i.e. its scope has already been resolved to a project id.
func (t Target) IsConcrete() bool {
	return t.Scope.Kind == ScopeProject
}

// String renders the canonical "<scope>:<task>" form.
func (t Target) String() string {
	return t.Scope.String() + ":" + t.TaskID
}

// Format builds the canonical target string for a concrete project/task
// pair.
func Format(projectID, taskID string) string {
	return Target{Scope: Scope{Kind: ScopeProject, Project: projectID}, TaskID: taskID}.String()
}

// IsAllTask reports whether a bare task id (no scope prefix at all) should
// be treated as an All-scoped wildcard task name, e.g. when a CLI arg omits
// the leading ':' entirely. It is simply an identifier validity check: any
// valid identifier can serve as a task id under the All scope.
func IsAllTask(taskID string) bool {
	return identifierPattern.MatchString(taskID)
}

// Parse parses a target string per the grammar in SPEC_FULL.md §4.1 / §6:
//
//	target := scope? ':' task_id
//	scope   ∈ '' | '^' | '~' | project_id
//
// The split is on the first ':'; everything left of it is the scope,
// everything right of it must be a non-empty Identifier. The project
// position may itself contain '@', '/' — only the ':' split character is
// privileged, so "@scope/foo:build" parses as Project("@scope/foo") over
// task "build".
func Parse(s string) (Target, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return Target{}, errors.Wrapf(ErrInvalidFormat, "missing ':' in %q", s)
	}

	left := s[:idx]
	right := s[idx+1:]

	if right == "" {
		if left == "" {
			return Target{}, ErrTooWild
		}
		return Target{}, errors.Wrapf(ErrInvalidFormat, "empty task id in %q", s)
	}
	if !identifierPattern.MatchString(right) {
		return Target{}, errors.Wrapf(ErrInvalidFormat, "invalid task id %q in %q", right, s)
	}

	var scope Scope
	switch left {
	case "":
		scope = Scope{Kind: ScopeAll}
	case "^":
		scope = Scope{Kind: ScopeDeps}
	case "~":
		scope = Scope{Kind: ScopeOwnSelf}
	default:
		if !projectIDPattern.MatchString(left) {
			return Target{}, errors.Wrapf(ErrInvalidFormat, "invalid project id %q in %q", left, s)
		}
		scope = Scope{Kind: ScopeProject, Project: left}
	}

	return Target{Scope: scope, TaskID: right}, nil
}
