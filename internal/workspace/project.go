package workspace

import "github.com/riftrun/rift/internal/filegroup"

// DependencyScope classifies why a project depends on another.
type DependencyScope int

// Dependency scopes, per SPEC_FULL.md §3 Project.
const (
	ScopeProduction DependencyScope = iota
	ScopeDevelopment
	ScopePeer
)

// DependencySource records whether an edge was declared explicitly in
// config or inferred (e.g. from a package manager's lockfile).
type DependencySource int

// Dependency sources.
const (
	SourceExplicit DependencySource = iota
	SourceImplicit
)

// DependencyEdge is one entry in a Project's dependency map.
type DependencyEdge struct {
	Scope  DependencyScope
	Source DependencySource
	Via    string // optional: the toolchain/manifest that inferred this edge
}

// RepoType classifies the overall shape of the workspace, computed once
// the project set is known (§4.3 step 7).
type RepoType int

// Repo types.
const (
	RepoPolyrepo RepoType = iota
	RepoMonorepoWithRoot
	RepoMonorepo
)

// Project is one node of the WorkspaceGraph.
type Project struct {
	ID       string
	Source   string // workspace-relative, "." for the root-level project
	Root     string // absolute; invariant Root == WorkspaceRoot/Source
	Language string
	Stack    string
	ProjectTags []string

	Toolchains []string

	DependsOn map[string]DependencyEdge

	FileGroups map[string]filegroup.Group
	Tasks      map[string]*Task

	// InheritedLayers records the ordered provenance of config layers
	// merged to produce this project's tasks (§4.3 step 5), project
	// config last.
	InheritedLayers []string

	// OriginalID is set when the project's config declared an explicit
	// `id` rename; downstream lookups honour both OriginalID and ID.
	OriginalID string
}

// IsRootLevel reports whether this project sits at the workspace root.
func (p *Project) IsRootLevel() bool {
	return p.Source == "."
}

// Tags returns the project's declared tags, used for inherited-task
// layer lookup (§4.3 step 5).
func (p *Project) Tags() []string {
	return p.ProjectTags
}
