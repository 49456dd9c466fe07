package workspace

import "github.com/pkg/errors"

// Sentinel errors for workspace graph construction, per SPEC_FULL.md §7.
var (
	ErrDuplicateProjectID    = errors.New("workspace: duplicate project id")
	ErrDuplicateProjectAlias = errors.New("workspace: duplicate project alias")
	ErrCycleDetected         = errors.New("workspace: cycle detected")
	ErrUnknownDependency     = errors.New("workspace: unknown dependency id")
)

// CycleError carries the representative cycle, as an id path, alongside
// ErrCycleDetected.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	s := "workspace: cycle detected: "
	for i, id := range e.Cycle {
		if i > 0 {
			s += " → "
		}
		s += id
	}
	return s
}

// Unwrap lets errors.Is(err, ErrCycleDetected) succeed for a *CycleError.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// DuplicateProjectIDError names the colliding id and its two sources.
type DuplicateProjectIDError struct {
	ID       string
	SourceA  string
	SourceB  string
}

func (e *DuplicateProjectIDError) Error() string {
	return "workspace: duplicate project id " + e.ID + " at " + e.SourceA + " and " + e.SourceB
}

// Unwrap lets errors.Is(err, ErrDuplicateProjectID) succeed.
func (e *DuplicateProjectIDError) Unwrap() error {
	return ErrDuplicateProjectID
}

// DuplicateProjectAliasError names the colliding alias.
type DuplicateProjectAliasError struct {
	Alias string
}

func (e *DuplicateProjectAliasError) Error() string {
	return "workspace: duplicate project alias " + e.Alias
}

// Unwrap lets errors.Is(err, ErrDuplicateProjectAlias) succeed.
func (e *DuplicateProjectAliasError) Unwrap() error {
	return ErrDuplicateProjectAlias
}

// UnknownDependencyError names a project's depends_on entry that doesn't
// resolve to any project in the graph.
type UnknownDependencyError struct {
	ProjectID    string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return "workspace: project " + e.ProjectID + " depends on unknown project " + e.DependencyID
}

// Unwrap lets errors.Is(err, ErrUnknownDependency) succeed.
func (e *UnknownDependencyError) Unwrap() error {
	return ErrUnknownDependency
}
