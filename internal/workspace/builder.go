package workspace

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-hclog"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/pyr-sh/dag"
	"golang.org/x/sync/errgroup"

	"github.com/riftrun/rift/internal/filegroup"
)

// ProjectLoad is what a Loader returns for one discovered source: the
// already-parsed configuration values the workspace builder needs, per
// §1's non-goal that configuration parsing itself lives outside the core.
type ProjectLoad struct {
	// Rename is the explicit `id` the project's own config declared, if
	// any (§4.3 step 3); empty means keep the source-derived id.
	Rename string

	Language string
	Stack    string
	ProjectTags []string

	Toolchains []string
	DependsOn  map[string]DependencyEdge
	FileGroups map[string]filegroup.Group
	Tasks      map[string]*Task
}

// Loader loads one project's configuration file. Returning (nil, nil)
// means the source has no config file, which is allowed — the project is
// built with defaults (§4.3 step 2).
type Loader interface {
	Load(ctx context.Context, source string) (*ProjectLoad, error)
}

// InheritedTasksManager supplies the globally layered task configuration
// consulted during §4.3 step 5. It is an injected collaborator, not
// something this package parses.
type InheritedTasksManager interface {
	// LayerKeys returns the ordered lookup keys for a project with the
	// given toolchain/language/stack/tags, following the key order in
	// §4.3 step 5 (any key containing "unknown" is skipped by the
	// caller, not the implementation).
	LayerKeys(toolchain, language, stack string, tags []string) []string
	// Tasks returns the tasks declared at layer key, or nil.
	Tasks(key string) map[string]*Task
}

// ExtendSubscriber is a toolchain-plugin hook invoked once per project
// during graph construction (§4.3 step 4); it may propose an alias.
type ExtendSubscriber func(p *Project) (alias string, ok bool, err error)

// Config is the full input to Build.
type Config struct {
	WorkspaceRoot string
	// Explicit maps project id -> workspace-relative source directory.
	Explicit map[string]string
	// Globs additionally discovers sources by walking the workspace;
	// matched directories become projects named by their basename
	// unless their own config declares a Rename.
	Globs []string

	Loader         Loader
	InheritedTasks InheritedTasksManager
	Subscribers    []ExtendSubscriber

	Logger hclog.Logger
}

type discoveredSource struct {
	id     string // provisional, source-derived id
	source string
}

// Build runs the seven-step procedure in SPEC_FULL.md §4.3 and returns
// the immutable WorkspaceGraph, or the first fatal configuration/graph
// error encountered.
func Build(ctx context.Context, cfg Config) (*Graph, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("workspacegraph")

	sources, err := enumerateSources(cfg)
	if err != nil {
		return nil, err
	}

	if err := checkDuplicateSources(sources); err != nil {
		return nil, err
	}

	projects, err := loadProjects(ctx, cfg, sources)
	if err != nil {
		return nil, err
	}

	aliases, err := resolveAliases(cfg, projects)
	if err != nil {
		return nil, err
	}

	applyInheritedTasks(cfg, projects, logger)

	graph, adj, err := buildDAG(projects)
	if err != nil {
		return nil, err
	}

	if cycle := findCycle(idsOf(projects), adj); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	repoType := computeRepoType(projects)

	return &Graph{
		dag:      graph,
		projects: projects,
		aliases:  aliases,
		renames:  renamesOf(projects),
		repoType: repoType,
	}, nil
}

func enumerateSources(cfg Config) ([]discoveredSource, error) {
	var sources []discoveredSource
	seen := make(map[string]bool)

	for id, src := range cfg.Explicit {
		sources = append(sources, discoveredSource{id: id, source: src})
		seen[src] = true
	}

	for _, pattern := range cfg.Globs {
		matches, err := walkForGlob(cfg.WorkspaceRoot, pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "workspace: discovering projects via glob %q", pattern)
		}
		for _, src := range matches {
			if seen[src] {
				continue
			}
			seen[src] = true
			id := src
			if idx := strings.LastIndexByte(src, '/'); idx >= 0 {
				id = src[idx+1:]
			}
			sources = append(sources, discoveredSource{id: id, source: src})
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].source < sources[j].source })
	return sources, nil
}

// walkForGlob finds directories under root matching pattern, skipping
// dot-prefixed directories and node_modules-like vendor folders, per §4.3
// step 1.
func walkForGlob(root, pattern string) ([]string, error) {
	compiled, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}

	var matches []string
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			base := de.Name()
			if osPathname == root {
				return nil
			}
			if strings.HasPrefix(base, ".") || base == "node_modules" || base == "vendor" {
				return godirwalk.SkipThis
			}
			rel := strings.TrimPrefix(strings.ReplaceAll(osPathname, "\\", "/"), strings.ReplaceAll(root, "\\", "/")+"/")
			if compiled.Match(rel) {
				matches = append(matches, rel)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func checkDuplicateSources(sources []discoveredSource) error {
	byID := make(map[string]string, len(sources))
	for _, s := range sources {
		if other, ok := byID[s.id]; ok && other != s.source {
			return &DuplicateProjectIDError{ID: s.id, SourceA: other, SourceB: s.source}
		}
		byID[s.id] = s.source
	}
	return nil
}

func loadProjects(ctx context.Context, cfg Config, sources []discoveredSource) (map[string]*Project, error) {
	projects := make(map[string]*Project, len(sources))
	results := make([]*Project, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sources {
		i, s := i, s
		g.Go(func() error {
			p := &Project{
				ID:     s.id,
				Source: s.source,
				Root:   path.Join(cfg.WorkspaceRoot, s.source),
				Tasks:  make(map[string]*Task),
			}

			if cfg.Loader != nil {
				load, err := cfg.Loader.Load(gctx, s.source)
				if err != nil {
					return errors.Wrapf(err, "workspace: loading project config at %q", s.source)
				}
				if load != nil {
					applyLoad(p, load)
				}
			}

			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range results {
		if existing, ok := projects[p.ID]; ok {
			return nil, &DuplicateProjectIDError{ID: p.ID, SourceA: existing.Source, SourceB: p.Source}
		}
		projects[p.ID] = p
	}
	return projects, nil
}

func applyLoad(p *Project, load *ProjectLoad) {
	if load.Rename != "" {
		p.OriginalID = p.ID
		p.ID = load.Rename
	}
	p.Language = load.Language
	p.Stack = load.Stack
	p.ProjectTags = load.ProjectTags
	p.Toolchains = load.Toolchains
	if load.DependsOn != nil {
		p.DependsOn = load.DependsOn
	} else {
		p.DependsOn = make(map[string]DependencyEdge)
	}
	if load.FileGroups != nil {
		p.FileGroups = load.FileGroups
	}
	if load.Tasks != nil {
		p.Tasks = load.Tasks
	}
}

// resolveAliases runs the workspace's alias subscribers over every project
// and returns the resulting alias -> canonical id map (§4.3 step 4). The
// identity id -> id entries seeded into claimed are only used to detect an
// alias colliding with an existing project id; they're excluded from the
// returned map since Graph.Project already looks projects up by id first.
func resolveAliases(cfg Config, projects map[string]*Project) (map[string]string, error) {
	if len(cfg.Subscribers) == 0 {
		return map[string]string{}, nil
	}

	claimed := make(map[string]string, len(projects)) // alias -> project id
	for id := range projects {
		claimed[id] = id
	}

	for _, p := range orderedProjects(projects) {
		for _, sub := range cfg.Subscribers {
			alias, ok, err := sub(p)
			if err != nil {
				return nil, errors.Wrapf(err, "workspace: extend-project-graph subscriber for %q", p.ID)
			}
			if !ok {
				continue
			}
			if owner, taken := claimed[alias]; taken && owner != p.ID {
				return nil, &DuplicateProjectAliasError{Alias: alias}
			}
			claimed[alias] = p.ID
		}
	}

	aliases := make(map[string]string, len(claimed))
	for alias, id := range claimed {
		if alias == id {
			continue
		}
		aliases[alias] = id
	}
	return aliases, nil
}

func applyInheritedTasks(cfg Config, projects map[string]*Project, logger hclog.Logger) {
	if cfg.InheritedTasks == nil {
		return
	}
	for _, p := range orderedProjects(projects) {
		toolchain := ""
		if len(p.Toolchains) > 0 {
			toolchain = p.Toolchains[0]
		}
		keys := cfg.InheritedTasks.LayerKeys(toolchain, p.Language, p.Stack, p.Tags())

		merged := make(map[string]*Task)
		var layers []string
		for _, key := range keys {
			if strings.Contains(key, "unknown") {
				continue
			}
			layerTasks := cfg.InheritedTasks.Tasks(key)
			if len(layerTasks) == 0 {
				continue
			}
			layers = append(layers, key)
			for id, t := range layerTasks {
				merged[id] = t
			}
		}
		// Project's own tasks are merged last, taking precedence.
		for id, t := range p.Tasks {
			merged[id] = t
		}
		p.Tasks = merged
		p.InheritedLayers = append(layers, p.Source)

		logger.Trace("merged inherited task layers", "project", p.ID, "layers", layers)
	}
}

func buildDAG(projects map[string]*Project) (*dag.AcyclicGraph, map[string][]string, error) {
	graph := &dag.AcyclicGraph{}
	adj := make(map[string][]string, len(projects))

	for id := range projects {
		graph.Add(id)
		adj[id] = nil
	}

	for _, id := range idsOf(projects) {
		p := projects[id]
		deps := make([]string, 0, len(p.DependsOn))
		for depID := range p.DependsOn {
			deps = append(deps, depID)
		}
		sort.Strings(deps)
		for _, depID := range deps {
			if _, ok := projects[depID]; !ok {
				return nil, nil, &UnknownDependencyError{ProjectID: id, DependencyID: depID}
			}
			graph.Connect(dag.BasicEdge(id, depID))
			adj[id] = append(adj[id], depID)
		}
	}
	return graph, adj, nil
}

func computeRepoType(projects map[string]*Project) RepoType {
	if len(projects) == 1 {
		return RepoPolyrepo
	}
	for _, p := range projects {
		if p.IsRootLevel() {
			return RepoMonorepoWithRoot
		}
	}
	return RepoMonorepo
}

func idsOf(projects map[string]*Project) []string {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func renamesOf(projects map[string]*Project) map[string]string {
	renames := make(map[string]string)
	for id, p := range projects {
		if p.OriginalID != "" {
			renames[p.OriginalID] = id
		}
	}
	return renames
}

func orderedProjects(projects map[string]*Project) []*Project {
	ids := idsOf(projects)
	out := make([]*Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, projects[id])
	}
	return out
}
