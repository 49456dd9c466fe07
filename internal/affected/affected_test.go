package affected

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/workspace"
)

// chainLoader builds a straight dependency chain a <- b <- c <- d (each
// project depending on the one before it; root depends on nothing and
// nothing depends on root), matching the fixture
// used by SPEC_FULL.md §8 property 7.
type chainLoader struct {
	dependsOn map[string]string // project -> its single dependency id
}

func (l chainLoader) Load(_ context.Context, source string) (*workspace.ProjectLoad, error) {
	id := source
	deps := make(map[string]workspace.DependencyEdge)
	if dep, ok := l.dependsOn[id]; ok {
		deps[dep] = workspace.DependencyEdge{Scope: workspace.ScopeProduction, Source: workspace.SourceExplicit}
	}
	return &workspace.ProjectLoad{DependsOn: deps}, nil
}

func buildChainGraph(t *testing.T) *workspace.Graph {
	t.Helper()
	loader := chainLoader{dependsOn: map[string]string{
		"b": "a",
		"c": "b",
		"d": "c",
	}}
	g, err := workspace.Build(context.Background(), workspace.Config{
		WorkspaceRoot: "/repo",
		Explicit: map[string]string{
			"root": ".",
			"a":    "a",
			"b":    "b",
			"c":    "c",
			"d":    "d",
		},
		Loader: loader,
	})
	require.NoError(t, err)
	return g
}

func TestTrackProjectsDeepDownstreamChain(t *testing.T) {
	g := buildChainGraph(t)

	tracker := New(g, []string{"a/file.txt"}, nil)
	tracker.WithScopes(ScopeNone, DownstreamDeep)
	tracker.TrackProjects()

	result := tracker.Build()
	assert.True(t, result.ShouldCheck)

	for _, id := range []string{"a", "b", "c", "d", "root"} {
		_, ok := result.Projects[id]
		assert.Truef(t, ok, "expected %q to be affected", id)
	}

	aReasons := result.Projects["a"].Reasons
	require.Len(t, aReasons, 1)
	assert.Equal(t, ReasonTouchedFile, aReasons[0].Kind)

	bReasons := result.Projects["b"].Reasons
	require.Len(t, bReasons, 1)
	assert.Equal(t, ReasonUpstreamProject, bReasons[0].Kind)
	assert.Equal(t, "a", bReasons[0].Value)

	cReasons := result.Projects["c"].Reasons
	require.Len(t, cReasons, 1)
	assert.Equal(t, "b", cReasons[0].Value)

	dReasons := result.Projects["d"].Reasons
	require.Len(t, dReasons, 1)
	assert.Equal(t, "c", dReasons[0].Value)
}

func TestTrackProjectsDirectDownstreamOnly(t *testing.T) {
	g := buildChainGraph(t)

	tracker := New(g, []string{"a/file.txt"}, nil)
	tracker.WithScopes(ScopeNone, DownstreamDirect)
	tracker.TrackProjects()

	result := tracker.Build()
	_, bAffected := result.Projects["b"]
	_, cAffected := result.Projects["c"]
	assert.True(t, bAffected)
	assert.False(t, cAffected, "direct downstream scope must not propagate past depth 1")
}

func TestTrackProjectsNoTouchedFilesMeansShouldCheckFalse(t *testing.T) {
	g := buildChainGraph(t)
	tracker := New(g, nil, nil)
	tracker.TrackProjects()
	assert.False(t, tracker.Build().ShouldCheck)
}

func TestTrackTasksAlwaysAffectedOnEmptyInputs(t *testing.T) {
	g := buildChainGraph(t)
	proj, ok := g.Project("a")
	require.True(t, ok)
	proj.Tasks = map[string]*workspace.Task{
		"build": {
			Target:   target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: "a"}, TaskID: "build"},
			Metadata: workspace.Metadata{EmptyInputs: true},
		},
	}

	tracker := New(g, nil, nil)
	require.NoError(t, tracker.TrackTasks())
	result := tracker.Build()

	state, ok := result.Tasks["a:build"]
	require.True(t, ok)
	assert.Equal(t, ReasonAlwaysAffected, state.Reasons[0].Kind)
}
