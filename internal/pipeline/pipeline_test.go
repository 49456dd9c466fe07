package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftrun/rift/internal/actiongraph"
	"github.com/riftrun/rift/internal/cache"
	"github.com/riftrun/rift/internal/events"
	"github.com/riftrun/rift/internal/process"
	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/taskhash"
	"github.com/riftrun/rift/internal/turbopath"
	"github.com/riftrun/rift/internal/workspace"
)

func mkTarget(project, task string) target.Target {
	return target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: project}, TaskID: task}
}

// pipelineFixtureLoader builds a two-project chain, app -> lib, each with
// a trivially-succeeding shell task, mirroring actiongraph_test.go's
// fixture shape.
type pipelineFixtureLoader struct {
	persistentApp bool
}

func (l pipelineFixtureLoader) Load(_ context.Context, source string) (*workspace.ProjectLoad, error) {
	switch source {
	case "lib":
		return &workspace.ProjectLoad{
			Tasks: map[string]*workspace.Task{
				"build": {
					Target:   mkTarget("lib", "build"),
					Command:  "true",
					Metadata: workspace.Metadata{EmptyInputs: true},
					Options:  workspace.TaskOptions{Cache: false},
				},
			},
		}, nil
	case "app":
		meta := workspace.Metadata{EmptyInputs: true, Persistent: l.persistentApp}
		return &workspace.ProjectLoad{
			DependsOn: map[string]workspace.DependencyEdge{
				"lib": {Scope: workspace.ScopeProduction, Source: workspace.SourceExplicit},
			},
			Tasks: map[string]*workspace.Task{
				"build": {
					Target: mkTarget("app", "build"),
					Deps: []workspace.TaskDep{
						{Target: mkTarget("lib", "build")},
					},
					Command:  "true",
					Metadata: meta,
					Options:  workspace.TaskOptions{Cache: false},
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func buildPipelineFixtureGraph(t *testing.T, loader workspace.Loader) *workspace.Graph {
	t.Helper()
	g, err := workspace.Build(context.Background(), workspace.Config{
		WorkspaceRoot: t.TempDir(),
		Explicit: map[string]string{
			"root": ".",
			"lib":  "lib",
			"app":  "app",
		},
		Loader: loader,
	})
	require.NoError(t, err)
	return g
}

func newTestContext(t *testing.T, wg *workspace.Graph) *Context {
	t.Helper()
	c, err := cache.New(cache.Options{
		Dir:  turbopath.AbsoluteSystemPath(t.TempDir()),
		Mode: cache.ModeReadWrite,
	})
	require.NoError(t, err)

	root, ok := wg.Project("root")
	require.True(t, ok, "fixture graphs always declare an explicit root source")

	return &Context{
		Graph:         wg,
		States:        NewTargetStates(),
		HashTracker:   taskhash.NewTracker(),
		Cache:         c,
		Runner:        process.NewRunner(nil),
		Bus:           events.New(),
		WorkspaceRoot: turbopath.AbsoluteSystemPath(root.Root),
	}
}

func TestExecuteRunsDependencyBeforeDependent(t *testing.T) {
	wg := buildPipelineFixtureGraph(t, pipelineFixtureLoader{})
	ag, err := actiongraph.Build(wg, []target.Target{mkTarget("app", "build")}, nil, actiongraph.Options{})
	require.NoError(t, err)

	pc := newTestContext(t, wg)
	p := New(ag, pc, Options{Concurrency: 2})

	report, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Aborted)

	libState, ok := pc.States.Get(mkTarget("lib", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusPassed, libState.Status)

	appState, ok := pc.States.Get(mkTarget("app", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusPassed, appState.Status)
}

func TestExecuteBailStopsNewNonInteractiveWork(t *testing.T) {
	wg := buildPipelineFixtureGraph(t, failingLoader{})

	ag, err := actiongraph.Build(wg, []target.Target{mkTarget("app", "build")}, nil, actiongraph.Options{})
	require.NoError(t, err)

	pc := newTestContext(t, wg)
	p := New(ag, pc, Options{Concurrency: 2, Bail: true})

	report, err := p.Execute(context.Background())
	require.Error(t, err, "bail-worthy failures must escalate to a pipeline-level error")
	assert.Contains(t, err.Error(), mkTarget("lib", "build").String())
	assert.True(t, report.Aborted)

	libState, ok := pc.States.Get(mkTarget("lib", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusFailed, libState.Status)

	appState, ok := pc.States.Get(mkTarget("app", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, appState.Status)
}

// failingLoader makes lib:build a non-zero-exit, non-allow-failure task so
// its failure is abort-worthy and app:build (which depends on it) must
// never be dispatched once bail fires.
type failingLoader struct{}

func (failingLoader) Load(_ context.Context, source string) (*workspace.ProjectLoad, error) {
	switch source {
	case "lib":
		return &workspace.ProjectLoad{
			Tasks: map[string]*workspace.Task{
				"build": {
					Target:   mkTarget("lib", "build"),
					Command:  "false",
					Metadata: workspace.Metadata{EmptyInputs: true},
					Options:  workspace.TaskOptions{Cache: false},
				},
			},
		}, nil
	case "app":
		return &workspace.ProjectLoad{
			DependsOn: map[string]workspace.DependencyEdge{
				"lib": {Scope: workspace.ScopeProduction, Source: workspace.SourceExplicit},
			},
			Tasks: map[string]*workspace.Task{
				"build": {
					Target: mkTarget("app", "build"),
					Deps: []workspace.TaskDep{
						{Target: mkTarget("lib", "build")},
					},
					Command:  "true",
					Metadata: workspace.Metadata{EmptyInputs: true},
					Options:  workspace.TaskOptions{Cache: false},
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func TestExecuteCachesSecondRun(t *testing.T) {
	wg := buildPipelineFixtureGraph(t, pipelineFixtureLoader{})
	ag, err := actiongraph.Build(wg, []target.Target{mkTarget("lib", "build")}, nil, actiongraph.Options{})
	require.NoError(t, err)

	lib, ok := wg.Project("lib")
	require.True(t, ok)
	lib.Tasks["build"].Options.Cache = true

	pc := newTestContext(t, wg)
	p := New(ag, pc, Options{Concurrency: 1})

	report, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	first, ok := pc.States.Get(mkTarget("lib", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusPassed, first.Status)

	pc.States = NewTargetStates()
	p2 := New(ag, pc, Options{Concurrency: 1})
	report2, err := p2.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report2.Aborted)
	second, ok := pc.States.Get(mkTarget("lib", "build").String())
	require.True(t, ok)
	assert.Equal(t, StatusCached, second.Status)
}

func TestExecutePersistentTaskDoesNotBlockCompletion(t *testing.T) {
	wg := buildPipelineFixtureGraph(t, pipelineFixtureLoader{persistentApp: true})
	ag, err := actiongraph.Build(wg, []target.Target{mkTarget("app", "build")}, nil, actiongraph.Options{})
	require.NoError(t, err)

	pc := newTestContext(t, wg)
	p := New(ag, pc, Options{Concurrency: 2})

	done := make(chan *Report, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		report, err := p.Execute(ctx)
		require.NoError(t, err)
		done <- report
	}()

	select {
	case report := <-done:
		libState, ok := pc.States.Get(mkTarget("lib", "build").String())
		require.True(t, ok)
		assert.Equal(t, StatusPassed, libState.Status)
		assert.NotNil(t, report)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return promptly despite app:build being persistent")
	}
}
