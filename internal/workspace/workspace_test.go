package workspace

import (
	"context"
	"os"
	"testing"

	"github.com/riftrun/rift/internal/target"
)

// fixtureLoader returns canned ProjectLoad values keyed by source, imitating
// a config loader the way internal/affected's chainLoader and
// internal/actiongraph's fixtureLoader do.
type fixtureLoader struct {
	bySource map[string]*ProjectLoad
}

func (l *fixtureLoader) Load(ctx context.Context, source string) (*ProjectLoad, error) {
	return l.bySource[source], nil
}

func dep(id string) map[string]DependencyEdge {
	return map[string]DependencyEdge{id: {Scope: ScopeProduction, Source: SourceExplicit}}
}

func TestBuildSimpleTwoProjectGraph(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a": {Language: "go"},
		"apps/b": {Language: "go", DependsOn: dep("a")},
	}}

	g, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "libs/a", "b": "apps/b"},
		Loader:        loader,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(g.All()) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(g.All()))
	}

	deps := g.DependenciesOf("b")
	if len(deps) != 1 || deps[0] != "a" {
		t.Fatalf("expected b to depend on [a], got %v", deps)
	}
	dependents := g.DependentsOf("a")
	if len(dependents) != 1 || dependents[0] != "b" {
		t.Fatalf("expected a's dependents to be [b], got %v", dependents)
	}

	if g.RepoType() != RepoMonorepo {
		t.Fatalf("expected RepoMonorepo, got %v", g.RepoType())
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"a": {DependsOn: dep("b")},
		"b": {DependsOn: dep("c")},
		"c": {DependsOn: dep("a")},
	}}

	_, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "a", "b": "b", "c": "c"},
		Loader:        loader,
	})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) < 2 {
		t.Fatalf("expected a multi-node cycle path, got %v", cycleErr.Cycle)
	}
}

func TestBuildRejectsDuplicateProjectID(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, root, "libs/a")
	mustMkdirAll(t, root, "libs2/a")

	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a":  {},
		"libs2/a": {},
	}}

	// "libs/a" is claimed explicitly as id "a"; the glob then discovers
	// "libs2/a", whose basename also derives id "a" — a collision.
	_, err := Build(context.Background(), Config{
		WorkspaceRoot: root,
		Explicit:      map[string]string{"a": "libs/a"},
		Globs:         []string{"libs2/*"},
		Loader:        loader,
	})
	if err == nil {
		t.Fatal("expected a duplicate project id error, got nil")
	}
	if _, ok := err.(*DuplicateProjectIDError); !ok {
		t.Fatalf("expected *DuplicateProjectIDError, got %T: %v", err, err)
	}
}

func mustMkdirAll(t *testing.T, root, rel string) {
	t.Helper()
	if err := os.MkdirAll(root+"/"+rel, 0775); err != nil {
		t.Fatalf("mkdir %s/%s: %v", root, rel, err)
	}
}

func TestBuildRejectsDuplicateAlias(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a": {},
		"libs/b": {},
	}}

	alwaysSame := func(p *Project) (string, bool, error) { return "shared-alias", true, nil }

	_, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "libs/a", "b": "libs/b"},
		Loader:        loader,
		Subscribers:   []ExtendSubscriber{alwaysSame},
	})
	if err == nil {
		t.Fatal("expected duplicate alias error, got nil")
	}
	if _, ok := err.(*DuplicateProjectAliasError); !ok {
		t.Fatalf("expected *DuplicateProjectAliasError, got %T: %v", err, err)
	}
}

func TestBuildResolvesAliasLookup(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a": {},
	}}

	packageName := func(p *Project) (string, bool, error) {
		if p.ID == "a" {
			return "@scope/a", true, nil
		}
		return "", false, nil
	}

	g, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "libs/a"},
		Loader:        loader,
		Subscribers:   []ExtendSubscriber{packageName},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	p, ok := g.Project("@scope/a")
	if !ok {
		t.Fatal("expected lookup by alias to succeed")
	}
	if p.ID != "a" {
		t.Fatalf("expected alias to resolve to project %q, got %q", "a", p.ID)
	}

	// Lookup by the canonical id must still work alongside the alias.
	if _, ok := g.Project("a"); !ok {
		t.Fatal("expected lookup by canonical id to still succeed")
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a": {DependsOn: dep("ghost")},
	}}

	_, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "libs/a"},
		Loader:        loader,
	})
	if err == nil {
		t.Fatal("expected an unknown dependency error, got nil")
	}
	unknownErr, ok := err.(*UnknownDependencyError)
	if !ok {
		t.Fatalf("expected *UnknownDependencyError, got %T: %v", err, err)
	}
	if unknownErr.ProjectID != "a" || unknownErr.DependencyID != "ghost" {
		t.Fatalf("expected a -> ghost, got %+v", unknownErr)
	}
}

func TestBuildHonoursExplicitRename(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"libs/a": {Rename: "alpha"},
	}}

	g, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"a": "libs/a"},
		Loader:        loader,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	p, ok := g.Project("alpha")
	if !ok {
		t.Fatal("expected lookup by renamed id to succeed")
	}
	if p.OriginalID != "a" {
		t.Fatalf("expected OriginalID %q, got %q", "a", p.OriginalID)
	}

	// The pre-rename id must still resolve to the same project.
	pByOriginal, ok := g.Project("a")
	if !ok || pByOriginal.ID != "alpha" {
		t.Fatalf("expected lookup by original id to resolve to renamed project, got %+v ok=%v", pByOriginal, ok)
	}
}

// inheritedTasksFixture lays out two layers: a toolchain-wide layer
// contributing "lint", and a language layer contributing "build" (which the
// project's own "build" task should override).
type inheritedTasksFixture struct{}

func (inheritedTasksFixture) LayerKeys(toolchain, language, stack string, tags []string) []string {
	return []string{"toolchain:" + toolchain, "language:" + language, "unknown-stack:" + stack}
}

func (inheritedTasksFixture) Tasks(key string) map[string]*Task {
	switch key {
	case "toolchain:node":
		return map[string]*Task{"lint": {Command: "eslint"}}
	case "language:js":
		return map[string]*Task{"build": {Command: "inherited-build"}}
	default:
		return nil
	}
}

func TestBuildLayersInheritedTasksBeneathProjectOwnTasks(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		"apps/web": {
			Language:   "js",
			Toolchains: []string{"node"},
			Tasks: map[string]*Task{
				"build": {Command: "project-build"},
			},
		},
	}}

	g, err := Build(context.Background(), Config{
		WorkspaceRoot:  "/repo",
		Explicit:       map[string]string{"web": "apps/web"},
		Loader:         loader,
		InheritedTasks: inheritedTasksFixture{},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	p, _ := g.Project("web")
	if p.Tasks["lint"] == nil || p.Tasks["lint"].Command != "eslint" {
		t.Fatalf("expected inherited lint task to survive, got %+v", p.Tasks["lint"])
	}
	if p.Tasks["build"].Command != "project-build" {
		t.Fatalf("expected project's own build task to win, got %q", p.Tasks["build"].Command)
	}
	// "unknown-stack:" key must never be consulted.
	if len(p.InheritedLayers) == 0 || p.InheritedLayers[len(p.InheritedLayers)-1] != "apps/web" {
		t.Fatalf("expected InheritedLayers to end with the project's own source, got %v", p.InheritedLayers)
	}
	for _, layer := range p.InheritedLayers {
		if layer == "unknown-stack:" {
			t.Fatalf("an 'unknown' layer key must never be recorded: %v", p.InheritedLayers)
		}
	}
}

func TestComputeRepoTypePolyrepoAndRootVariants(t *testing.T) {
	loader := &fixtureLoader{bySource: map[string]*ProjectLoad{"only": {}}}
	g, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"only": "only"},
		Loader:        loader,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.RepoType() != RepoPolyrepo {
		t.Fatalf("expected RepoPolyrepo for a single project, got %v", g.RepoType())
	}

	rootLoader := &fixtureLoader{bySource: map[string]*ProjectLoad{
		".":      {},
		"libs/a": {},
	}}
	g2, err := Build(context.Background(), Config{
		WorkspaceRoot: "/repo",
		Explicit:      map[string]string{"root": ".", "a": "libs/a"},
		Loader:        rootLoader,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g2.RepoType() != RepoMonorepoWithRoot {
		t.Fatalf("expected RepoMonorepoWithRoot, got %v", g2.RepoType())
	}
}

func TestTaskDepsCarryTargets(t *testing.T) {
	depTarget, err := target.Parse("a:build")
	if err != nil {
		t.Fatalf("target.Parse: %v", err)
	}
	task := &Task{
		Deps: []TaskDep{{Target: depTarget}},
	}
	if task.Deps[0].Target.TaskID != "build" {
		t.Fatalf("expected dep target task id %q, got %q", "build", task.Deps[0].Target.TaskID)
	}
}
