package actiongraph

import (
	"sort"

	"github.com/pyr-sh/dag"

	"github.com/riftrun/rift/internal/affected"
	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/workspace"
)

// ToolchainResolver locates the dependency root a toolchain's
// InstallDependencies action should run in for a given project. Toolchain
// plugins themselves are out of scope for this core (SPEC_FULL.md §1
// Non-goals); callers inject whatever resolution their plugin host
// provides. DefaultToolchainResolver is used when none is supplied.
type ToolchainResolver interface {
	DependencyRoot(toolchain string, project *workspace.Project) string
}

// DefaultToolchainResolver treats every project's own root as its
// dependency root, which is correct for single-root toolchains and a
// reasonable default absent a real plugin host.
type DefaultToolchainResolver struct{}

// DependencyRoot implements ToolchainResolver.
func (DefaultToolchainResolver) DependencyRoot(_ string, project *workspace.Project) string {
	return project.Root
}

// ActionGraph is the immutable result of Build: a DAG of Nodes plus the
// edges between them, ready for the pipeline executor to walk.
type ActionGraph struct {
	dag   *dag.AcyclicGraph
	nodes map[string]Node
}

// Nodes returns every node in the graph, in an arbitrary but stable
// (key-sorted) order.
func (g *ActionGraph) Nodes() []Node {
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Node, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.nodes[k])
	}
	return out
}

// Len reports the number of nodes in the graph.
func (g *ActionGraph) Len() int { return len(g.nodes) }

// DependenciesOf returns the nodes that key directly depends on (edges
// point from an action to the actions it requires first).
func (g *ActionGraph) DependenciesOf(key string) []Node {
	set := g.dag.DownEdges(key)
	out := make([]Node, 0, set.Len())
	for _, v := range set.List() {
		out = append(out, g.nodes[dag.VertexName(v)])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Walk performs a dependency-respecting topological walk, invoking fn once
// per node with all of that node's dependencies already visited. This is
// the same walk the pipeline executor (§4.9) drives concurrency over; here
// it's exposed synchronously for callers (tests, `moon query`-style
// inspection) that just need ordering.
func (g *ActionGraph) Walk(fn func(Node) error) error {
	return g.dag.Walk(func(v dag.Vertex) error {
		return fn(g.nodes[dag.VertexName(v)])
	})
}

// Options tunes action graph construction.
type Options struct {
	// IncludeDependents adds RunTask nodes for every downstream project
	// defining the same task id, per §4.5 step 4.
	IncludeDependents bool
	Toolchains        ToolchainResolver
}

type builder struct {
	graph     *workspace.Graph
	affected  *affected.Affected
	resolver  ToolchainResolver
	dependent bool

	ag    *dag.AcyclicGraph
	nodes map[string]Node
	adj   map[string][]string

	// inserted tracks RunTask keys already fully expanded, to break
	// cycles in task.deps chains during insertion (the real cycle is
	// still reported by the acyclicity check at the end).
	inserted map[string]bool
}

// Build runs the five-step procedure in SPEC_FULL.md §4.5 over requests
// (the top-level requested targets) and returns the ActionGraph, or the
// first fatal error: an illegal top-level wildcard scope, an unresolvable
// project/task reference, or CycleDetected.
func Build(g *workspace.Graph, requests []target.Target, aff *affected.Affected, opts Options) (*ActionGraph, error) {
	resolver := opts.Toolchains
	if resolver == nil {
		resolver = DefaultToolchainResolver{}
	}

	b := &builder{
		graph:     g,
		affected:  aff,
		resolver:  resolver,
		dependent: opts.IncludeDependents,
		ag:        &dag.AcyclicGraph{},
		nodes:     make(map[string]Node),
		adj:       make(map[string][]string),
		inserted:  make(map[string]bool),
	}

	selected, err := b.expandRequests(requests)
	if err != nil {
		return nil, err
	}

	selected = b.filterAffected(selected)

	if b.dependent {
		selected = b.withDependents(selected)
	}

	b.ensureNode(Node{Kind: KindSyncWorkspace})

	for _, sel := range selected {
		if err := b.insertTask(sel.project, sel.task); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if cycle := findCycle(ids, b.adj); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return &ActionGraph{dag: b.ag, nodes: b.nodes}, nil
}

type selection struct {
	project *workspace.Project
	task    *workspace.Task
}

// expandRequests implements §4.5 step 1.
func (b *builder) expandRequests(requests []target.Target) ([]selection, error) {
	var out []selection
	seen := make(map[string]bool)

	add := func(p *workspace.Project, t *workspace.Task) {
		key := p.ID + ":" + t.Target.TaskID
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, selection{project: p, task: t})
	}

	for _, req := range requests {
		switch req.Scope.Kind {
		case target.ScopeAll:
			for _, p := range b.graph.All() {
				if t, ok := p.Tasks[req.TaskID]; ok {
					add(p, t)
				}
			}
		case target.ScopeDeps:
			return nil, ErrNoProjectDepsInRunContext
		case target.ScopeOwnSelf:
			return nil, ErrNoProjectSelfInRunContext
		case target.ScopeProject:
			p, ok := b.graph.Project(req.Scope.Project)
			if !ok {
				return nil, ErrUnknownProject
			}
			t, ok := p.Tasks[req.TaskID]
			if !ok {
				return nil, ErrUnknownTask
			}
			add(p, t)
		}
	}
	return out, nil
}

// filterAffected implements §4.5 step 2.
func (b *builder) filterAffected(selected []selection) []selection {
	if b.affected == nil {
		return selected
	}
	out := selected[:0]
	for _, sel := range selected {
		if _, ok := b.affected.Tasks[sel.task.Target.String()]; ok {
			out = append(out, sel)
		}
	}
	return out
}

// withDependents implements §4.5 step 4.
func (b *builder) withDependents(selected []selection) []selection {
	extra := make([]selection, 0, len(selected))
	seen := make(map[string]bool, len(selected))
	for _, sel := range selected {
		seen[sel.project.ID+":"+sel.task.Target.TaskID] = true
	}
	for _, sel := range selected {
		for _, depID := range b.graph.DependentsOf(sel.project.ID) {
			dp, ok := b.graph.Project(depID)
			if !ok {
				continue
			}
			dt, ok := dp.Tasks[sel.task.Target.TaskID]
			if !ok {
				continue
			}
			key := dp.ID + ":" + dt.Target.TaskID
			if seen[key] {
				continue
			}
			seen[key] = true
			extra = append(extra, selection{project: dp, task: dt})
		}
	}
	return append(selected, extra...)
}

func (b *builder) ensureNode(n Node) string {
	key := n.Key()
	if _, ok := b.nodes[key]; !ok {
		b.nodes[key] = n
		b.ag.Add(key)
		b.adj[key] = nil
	}
	return key
}

func (b *builder) connect(fromKey, toKey string) {
	b.ag.Connect(dag.BasicEdge(fromKey, toKey))
	for _, existing := range b.adj[fromKey] {
		if existing == toKey {
			return
		}
	}
	b.adj[fromKey] = append(b.adj[fromKey], toKey)
}

// insertTask implements §4.5 step 3 for one selected (project, task): it
// creates the task's RunTask node and its toolchain/project edges first,
// then recurses into task.deps per step 3d and adds an edge from the
// RunTask node to each dependency's RunTask node.
func (b *builder) insertTask(p *workspace.Project, t *workspace.Task) error {
	runKey := Node{Kind: KindRunTask, Target: t.Target}.Key()
	if b.inserted[runKey] {
		return nil
	}
	b.inserted[runKey] = true

	syncWorkspaceKey := b.ensureNode(Node{Kind: KindSyncWorkspace})

	runKey = b.ensureNode(Node{Kind: KindRunTask, Target: t.Target})
	b.connect(runKey, syncWorkspaceKey)

	for _, toolchain := range t.Toolchains {
		setupKey := b.ensureNode(Node{Kind: KindSetupToolchain, Toolchain: toolchain})
		b.connect(setupKey, syncWorkspaceKey)

		envKey := b.ensureNode(Node{Kind: KindSetupEnvironment, Toolchain: toolchain})
		b.connect(envKey, setupKey)

		root := b.resolver.DependencyRoot(toolchain, p)
		installKey := b.ensureNode(Node{Kind: KindInstallDependencies, Toolchain: toolchain, Root: root})
		b.connect(installKey, envKey)
		b.connect(runKey, installKey)
	}

	syncProjectKey := b.ensureNode(Node{Kind: KindSyncProject, Project: p.ID})
	b.connect(syncProjectKey, syncWorkspaceKey)
	b.connect(runKey, syncProjectKey)

	for _, dep := range t.Deps {
		targets, err := b.resolveDepTargets(p, dep)
		if err != nil {
			return err
		}
		for _, dt := range targets {
			depProject, ok := b.graph.Project(dt.Scope.Project)
			if !ok {
				if dep.Optional {
					continue
				}
				return ErrUnknownProject
			}
			depTask, ok := depProject.Tasks[dt.TaskID]
			if !ok {
				if dep.Optional {
					continue
				}
				return ErrUnknownTask
			}
			if err := b.insertTask(depProject, depTask); err != nil {
				return err
			}
			depKey := Node{Kind: KindRunTask, Target: depTask.Target}.Key()
			b.connect(runKey, depKey)
		}
	}

	return nil
}

// resolveDepTargets resolves one task.deps entry to the concrete
// `(project, task)` targets it names, expanding Deps/OwnSelf/All scopes
// relative to the project the dependency was declared on.
func (b *builder) resolveDepTargets(owner *workspace.Project, dep workspace.TaskDep) ([]target.Target, error) {
	switch dep.Target.Scope.Kind {
	case target.ScopeProject:
		return []target.Target{dep.Target}, nil
	case target.ScopeOwnSelf:
		return []target.Target{{
			Scope:  target.Scope{Kind: target.ScopeProject, Project: owner.ID},
			TaskID: dep.Target.TaskID,
		}}, nil
	case target.ScopeDeps:
		var out []target.Target
		for _, depID := range b.graph.DependenciesOf(owner.ID) {
			dp, ok := b.graph.Project(depID)
			if !ok {
				continue
			}
			if _, ok := dp.Tasks[dep.Target.TaskID]; !ok {
				continue
			}
			out = append(out, target.Target{
				Scope:  target.Scope{Kind: target.ScopeProject, Project: depID},
				TaskID: dep.Target.TaskID,
			})
		}
		return out, nil
	case target.ScopeAll:
		var out []target.Target
		for _, p := range b.graph.All() {
			if _, ok := p.Tasks[dep.Target.TaskID]; ok {
				out = append(out, target.Target{
					Scope:  target.Scope{Kind: target.ScopeProject, Project: p.ID},
					TaskID: dep.Target.TaskID,
				})
			}
		}
		return out, nil
	default:
		return nil, ErrUnknownTask
	}
}
