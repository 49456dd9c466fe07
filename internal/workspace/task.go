package workspace

import "github.com/riftrun/rift/internal/target"

// MergeStrategy controls how a layered task config combines with its
// parent layer for a given collection field.
type MergeStrategy int

// Merge strategies, per SPEC_FULL.md §6.
const (
	MergeAppend MergeStrategy = iota
	MergePrepend
	MergePreserve
	MergeReplace
)

// Priority orders RunTask dispatch when several are simultaneously ready.
type Priority int

// Task priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// TaskOptions is the subset of `options` (SPEC_FULL.md §6) that the
// orchestration core itself branches on; options that only affect the
// (out of scope) config parser's own defaulting are not modeled here.
type TaskOptions struct {
	AffectedFiles        string // "args" | "env" | "" (bool false) | "true" (bool true)
	AffectedPassInputs   bool
	AllowFailure         bool
	Cache                bool
	CacheKey             string
	Interactive          bool
	Internal             bool
	Mutex                string
	OutputStyle          string
	Persistent           bool
	Priority             Priority
	RetryCount           uint8
	RunDepsInParallel    bool
	RunInCI              string // "always" | "affected" | "true" | "false"
	RunFromWorkspaceRoot bool
	Shell                bool
	Timeout              uint64 // seconds, 0 = none

	MergeArgs    MergeStrategy
	MergeDeps    MergeStrategy
	MergeEnv     MergeStrategy
	MergeInputs  MergeStrategy
	MergeOutputs MergeStrategy
}

// Metadata carries the runtime-significant flags derived from a task's
// options during workspace graph construction.
type Metadata struct {
	Interactive bool
	Persistent  bool
	Internal    bool
	Local       bool
	// EmptyInputs marks a task with no declared inputs at all; such a
	// task is always affected (§4.4) and its hash has an empty inputs
	// list (§4.6).
	EmptyInputs bool
}

// InputScheme is the URI scheme of an InputSpec, per SPEC_FULL.md §6.
type InputScheme int

// Input schemes.
const (
	InputFile InputScheme = iota
	InputGlob
	InputGroup
	InputManifest
	InputProject
)

// InputSpec is one parsed entry of a task's `inputs` list.
type InputSpec struct {
	Scheme InputScheme
	Path   string // scheme-specific path/pattern/id, leading '/' = workspace-relative

	Optional bool
	Matches  string // optional regex filter
	Cache    bool   // applies to InputGlob only; default true
}

// TaskDep is one entry of a task's `deps` list: a target plus optional
// per-dependency overrides.
type TaskDep struct {
	Target   target.Target
	Args     []string
	Env      map[string]string
	Optional bool
}

// Task is a single unit of work declared on a Project.
type Task struct {
	Target target.Target

	Command string
	Args    []string
	Script  string // mutually exclusive with Command

	Env map[string]string

	InputSpecs []InputSpec
	// InputFiles/InputGlobs/InputEnv are the expanded, typed projections
	// of InputSpecs used directly by the affected tracker (§4.4) and the
	// task hasher (§4.6); populated by the workspace graph builder after
	// file-group and token resolution.
	InputFiles []string
	InputGlobs []string
	InputEnv   []string

	Outputs []string

	Deps []TaskDep

	Toolchains []string

	Options  TaskOptions
	Metadata Metadata
}

// CreateGlobSet compiles InputGlobs into a matcher usable by the affected
// tracker; kept as a method so callers never need to know the compiled
// representation. Returns a matcher that reports false for every path
// when there are no globs, never an error in that case.
func (t *Task) CreateGlobSet() (GlobSet, error) {
	return compileGlobSet(t.InputGlobs)
}
