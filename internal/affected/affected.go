// Package affected implements the affected tracker (SPEC_FULL.md §4.4):
// given a set of touched files and upstream/downstream scope policies, it
// marks which projects and tasks are affected and records why.
//
// Directly grounded on
// original_source/crates/affected/src/affected_tracker.rs — the moon
// Rust source this spec's affected-propagation algorithm was distilled
// from; the Go port keeps the same reason-accumulating shape.
package affected

import (
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/workspace"
)

// UpstreamScope controls how far dependency edges are walked when
// propagating affectedness.
type UpstreamScope int

// DownstreamScope controls how far dependent edges are walked.
type DownstreamScope int

// Scope depths, shared between upstream and downstream propagation.
const (
	ScopeNone UpstreamScope = iota
	ScopeDirect
	ScopeDeep
)

// Mirror the same three depths for downstream; kept as a distinct type so
// callers can't accidentally swap upstream/downstream policies.
const (
	DownstreamNone DownstreamScope = iota
	DownstreamDirect
	DownstreamDeep
)

// ReasonKind discriminates why a project or task was marked affected.
type ReasonKind int

// Reason kinds, per SPEC_FULL.md §4.4.
const (
	ReasonTouchedFile ReasonKind = iota
	ReasonUpstreamProject
	ReasonDownstreamProject
	ReasonUpstreamTask
	ReasonDownstreamTask
	ReasonAlreadyMarked
	ReasonAlwaysAffected
	ReasonEnvironmentVariable
)

// Reason is one cause recorded against an affected project or task; a
// project/task may accumulate several.
type Reason struct {
	Kind ReasonKind
	// Value carries the touched file path, the upstream/downstream id or
	// target, or the env var name, depending on Kind.
	Value string
}

// ProjectState is the accumulated affectedness record for one project.
type ProjectState struct {
	Reasons []Reason
}

// TaskState is the accumulated affectedness record for one task.
type TaskState struct {
	Reasons []Reason
}

// Affected is the tracker's output: which projects and tasks are
// affected, and whether affectedness should be checked at all.
type Affected struct {
	Projects map[string]ProjectState
	Tasks     map[string]TaskState // keyed by target.Target.String()

	// ShouldCheck is true iff the touched-file set was non-empty.
	ShouldCheck bool
}

// Tracker accumulates affectedness over one run of project/task tracking.
// Not safe for concurrent use — callers run tracking phases sequentially,
// per §4.4's single-pass build.
type Tracker struct {
	graph        *workspace.Graph
	touchedFiles map[string]struct{}

	projectUpstream   UpstreamScope
	projectDownstream DownstreamScope
	taskUpstream      UpstreamScope
	taskDownstream    DownstreamScope

	projects map[string][]Reason
	tasks    map[string][]Reason

	logger hclog.Logger
}

// New creates a Tracker over graph for the given touched-file set
// (workspace-relative paths).
func New(graph *workspace.Graph, touchedFiles []string, logger hclog.Logger) *Tracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	set := make(map[string]struct{}, len(touchedFiles))
	for _, f := range touchedFiles {
		set[f] = struct{}{}
	}
	return &Tracker{
		graph:        graph,
		touchedFiles: set,
		projects:     make(map[string][]Reason),
		tasks:        make(map[string][]Reason),
		logger:       logger.Named("affected"),
	}
}

// WithProjectScopes sets the project propagation policy.
func (t *Tracker) WithProjectScopes(upstream UpstreamScope, downstream DownstreamScope) *Tracker {
	t.projectUpstream, t.projectDownstream = upstream, downstream
	return t
}

// WithTaskScopes sets the task propagation policy.
func (t *Tracker) WithTaskScopes(upstream UpstreamScope, downstream DownstreamScope) *Tracker {
	t.taskUpstream, t.taskDownstream = upstream, downstream
	return t
}

// WithScopes sets both project and task policies to the same values.
func (t *Tracker) WithScopes(upstream UpstreamScope, downstream DownstreamScope) *Tracker {
	t.WithProjectScopes(upstream, downstream)
	t.WithTaskScopes(upstream, downstream)
	return t
}

// Build finalizes the tracker into its public Affected result.
func (t *Tracker) Build() Affected {
	projects := make(map[string]ProjectState, len(t.projects))
	for id, reasons := range t.projects {
		projects[id] = ProjectState{Reasons: reasons}
	}
	tasks := make(map[string]TaskState, len(t.tasks))
	for tgt, reasons := range t.tasks {
		tasks[tgt] = TaskState{Reasons: reasons}
	}
	return Affected{
		Projects:    projects,
		Tasks:       tasks,
		ShouldCheck: len(t.touchedFiles) > 0,
	}
}

// TrackProjects marks every project in the graph that is directly
// affected, then propagates per the configured scopes.
func (t *Tracker) TrackProjects() {
	for _, p := range t.graph.All() {
		if reason, ok := t.isProjectAffected(p); ok {
			t.markProjectAffected(p, reason)
		}
	}
}

func (t *Tracker) isProjectAffected(p *workspace.Project) (Reason, bool) {
	if p.IsRootLevel() {
		if file, ok := t.anyTouchedFile(); ok {
			return Reason{Kind: ReasonTouchedFile, Value: file}, true
		}
		return Reason{}, false
	}
	for file := range t.touchedFiles {
		if strings.HasPrefix(file, p.Source) {
			return Reason{Kind: ReasonTouchedFile, Value: file}, true
		}
	}
	return Reason{}, false
}

func (t *Tracker) anyTouchedFile() (string, bool) {
	files := make([]string, 0, len(t.touchedFiles))
	for f := range t.touchedFiles {
		files = append(files, f)
	}
	if len(files) == 0 {
		return "", false
	}
	sort.Strings(files)
	return files[0], true
}

func (t *Tracker) markProjectAffected(p *workspace.Project, reason Reason) {
	if reason.Kind == ReasonAlreadyMarked {
		return
	}
	t.projects[p.ID] = append(t.projects[p.ID], reason)
	t.trackProjectDependencies(p, 0)
	t.trackProjectDependents(p, 0)
}

func (t *Tracker) trackProjectDependencies(p *workspace.Project, depth int) {
	if t.projectUpstream == ScopeNone {
		return
	}
	for _, depID := range t.graph.DependenciesOf(p.ID) {
		t.projects[depID] = append(t.projects[depID], Reason{Kind: ReasonDownstreamProject, Value: p.ID})

		if depth == 0 && t.projectUpstream == ScopeDirect {
			continue
		}
		if depProject, ok := t.graph.Project(depID); ok {
			t.trackProjectDependencies(depProject, depth+1)
		}
	}
}

func (t *Tracker) trackProjectDependents(p *workspace.Project, depth int) {
	if t.projectDownstream == DownstreamNone {
		return
	}
	for _, depID := range t.graph.DependentsOf(p.ID) {
		t.projects[depID] = append(t.projects[depID], Reason{Kind: ReasonUpstreamProject, Value: p.ID})

		if depth == 0 && t.projectDownstream == DownstreamDirect {
			continue
		}
		if depProject, ok := t.graph.Project(depID); ok {
			t.trackProjectDependents(depProject, depth+1)
		}
	}
}

// TrackTasks marks every task across the graph that is directly affected,
// then propagates to its task dependencies per the configured upstream task
// scope. The downstream task scope is not applied: tasks that depend on an
// affected task are not marked by this propagation.
func (t *Tracker) TrackTasks() error {
	for _, p := range t.graph.All() {
		for _, task := range p.Tasks {
			reason, ok, err := t.isTaskAffected(task)
			if err != nil {
				return err
			}
			if ok {
				t.markTaskAffected(task, reason)
			}
		}
	}
	return nil
}

func (t *Tracker) isTaskAffected(task *workspace.Task) (Reason, bool, error) {
	key := task.Target.String()
	if _, marked := t.tasks[key]; marked {
		return Reason{Kind: ReasonAlreadyMarked}, true, nil
	}
	if task.Metadata.EmptyInputs {
		return Reason{Kind: ReasonAlwaysAffected}, true, nil
	}
	for _, name := range task.InputEnv {
		if v := os.Getenv(name); v != "" {
			return Reason{Kind: ReasonEnvironmentVariable, Value: name}, true, nil
		}
	}

	globs, err := task.CreateGlobSet()
	if err != nil {
		return Reason{}, false, err
	}
	inputFiles := make(map[string]struct{}, len(task.InputFiles))
	for _, f := range task.InputFiles {
		inputFiles[f] = struct{}{}
	}
	for file := range t.touchedFiles {
		if _, ok := inputFiles[file]; ok || globs.Matches(file) {
			return Reason{Kind: ReasonTouchedFile, Value: file}, true, nil
		}
	}
	return Reason{}, false, nil
}

func (t *Tracker) markTaskAffected(task *workspace.Task, reason Reason) {
	if reason.Kind == ReasonAlreadyMarked {
		return
	}
	key := task.Target.String()
	t.tasks[key] = append(t.tasks[key], reason)
	t.trackTaskDependencies(task, 0)
}

func (t *Tracker) trackTaskDependencies(task *workspace.Task, depth int) {
	if t.taskUpstream == ScopeNone {
		return
	}
	for _, dep := range task.Deps {
		key := dep.Target.String()
		t.tasks[key] = append(t.tasks[key], Reason{Kind: ReasonDownstreamTask, Value: task.Target.String()})

		if depth == 0 && t.taskUpstream == ScopeDirect {
			continue
		}
		if dep.Target.Scope.Kind == target.ScopeProject {
			if p, ok := t.graph.Project(dep.Target.Scope.Project); ok {
				if depTask, ok := p.Tasks[dep.Target.TaskID]; ok {
					t.trackTaskDependencies(depTask, depth+1)
				}
			}
		}
	}
}
