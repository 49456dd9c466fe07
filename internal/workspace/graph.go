// Package workspace builds and exposes the immutable WorkspaceGraph: the
// DAG of discovered projects, their merged task sets, and the
// dependency/dependent edges used by the affected tracker and action
// graph builder downstream.
//
// Grounded on internal/context/context.go (parallel project discovery,
// topological population) and internal/graph/graph.go (aggregate graph
// struct) from the teacher; cycle detection follows the Tarjan's-SCC
// instruction in SPEC_FULL.md §4.3 step 6 rather than the teacher's
// dag.AcyclicGraph cycle path (which the teacher never needed to surface
// to users, since it only schedules, never reports cycles as config
// errors).
package workspace

import (
	"sort"

	"github.com/pyr-sh/dag"
)

// Graph is the immutable result of Build. All lookups are read-only and
// safe for concurrent use by pipeline workers.
type Graph struct {
	dag      *dag.AcyclicGraph
	projects map[string]*Project
	aliases  map[string]string // alias -> canonical id
	renames  map[string]string // original id -> new id
	repoType RepoType
}

// RepoType reports the overall shape of the workspace (§4.3 step 7).
func (g *Graph) RepoType() RepoType {
	return g.repoType
}

// Project resolves an id, alias, or pre-rename original id to its
// Project, honouring renames recorded during construction (§4.3 step 3).
func (g *Graph) Project(idOrAlias string) (*Project, bool) {
	if id, ok := g.aliases[idOrAlias]; ok {
		idOrAlias = id
	}
	if id, ok := g.renames[idOrAlias]; ok {
		idOrAlias = id
	}
	p, ok := g.projects[idOrAlias]
	return p, ok
}

// All returns every project, sorted by id for deterministic iteration.
func (g *Graph) All() []*Project {
	ids := make([]string, 0, len(g.projects))
	for id := range g.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.projects[id])
	}
	return out
}

// DependenciesOf returns the ids a project directly depends on
// (`depends_on` edges), sorted.
func (g *Graph) DependenciesOf(id string) []string {
	return g.neighbors(id, true)
}

// DependentsOf returns the ids of projects that directly depend on id,
// sorted.
func (g *Graph) DependentsOf(id string) []string {
	return g.neighbors(id, false)
}

func (g *Graph) neighbors(id string, down bool) []string {
	var set dag.Set
	if down {
		set = g.dag.DownEdges(id)
	} else {
		set = g.dag.UpEdges(id)
	}
	out := make([]string, 0, set.Len())
	for _, v := range set.List() {
		out = append(out, dag.VertexName(v))
	}
	sort.Strings(out)
	return out
}
