// Package pipeline implements the pipeline executor (SPEC_FULL.md §4.9):
// a bounded-concurrency topological walk of an ActionGraph that dispatches
// each node to its handler and records TargetState for every RunTask node.
//
// Grounded on internal/core/scheduler.go's Execute() (semaphore + dag.Walk
// dispatch) and internal/run/real_run.go's execFunc/execContext pattern,
// generalized from the teacher's single "run a package task" shape to the
// six ActionNode variants this spec names.
package pipeline

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/riftrun/rift/internal/actiongraph"
	"github.com/riftrun/rift/internal/affected"
	"github.com/riftrun/rift/internal/cache"
	"github.com/riftrun/rift/internal/events"
	"github.com/riftrun/rift/internal/process"
	"github.com/riftrun/rift/internal/taskhash"
	"github.com/riftrun/rift/internal/turbopath"
	"github.com/riftrun/rift/internal/workspace"
)

// WorkspaceSyncer performs the idempotent, registered workspace-level sync
// hooks a SyncWorkspace action invokes. Real syncers (VCS hooks, generated
// config) are a plugin-host concern out of scope per §1 Non-goals; callers
// inject whatever their host provides and get NopWorkspaceSyncer otherwise.
type WorkspaceSyncer interface {
	SyncWorkspace(ctx context.Context) error
}

// ToolchainHost resolves the SetupToolchain/SetupEnvironment/
// InstallDependencies actions to their plugin-specific behavior. Plugin
// execution itself is out of scope (§1); NopToolchainHost makes every
// toolchain action a no-op success so the surrounding graph machinery is
// still fully exercised.
type ToolchainHost interface {
	SetupToolchain(ctx context.Context, toolchain string) error
	SetupEnvironment(ctx context.Context, toolchain string) error
	// InstallDependencies installs toolchain's dependencies rooted at
	// root, reporting whether the install was skipped (manifest/lockfile
	// state unchanged since the last recorded install).
	InstallDependencies(ctx context.Context, toolchain, root string) (skipped bool, err error)
}

// ProjectSyncer invokes a project's enabled toolchains' sync hooks.
type ProjectSyncer interface {
	SyncProject(ctx context.Context, project *workspace.Project) error
}

// NopWorkspaceSyncer is the zero-value WorkspaceSyncer.
type NopWorkspaceSyncer struct{}

// SyncWorkspace implements WorkspaceSyncer.
func (NopWorkspaceSyncer) SyncWorkspace(context.Context) error { return nil }

// NopToolchainHost is the zero-value ToolchainHost.
type NopToolchainHost struct{}

// SetupToolchain implements ToolchainHost.
func (NopToolchainHost) SetupToolchain(context.Context, string) error { return nil }

// SetupEnvironment implements ToolchainHost.
func (NopToolchainHost) SetupEnvironment(context.Context, string) error { return nil }

// InstallDependencies implements ToolchainHost.
func (NopToolchainHost) InstallDependencies(context.Context, string, string) (bool, error) {
	return false, nil
}

// NopProjectSyncer is the zero-value ProjectSyncer.
type NopProjectSyncer struct{}

// SyncProject implements ProjectSyncer.
func (NopProjectSyncer) SyncProject(context.Context, *workspace.Project) error { return nil }

// ActionResult is the outcome of dispatching one Node, per §4.9 step 3.
type ActionResult struct {
	Node     actiongraph.Node
	Status   Status
	Err      error
	Duration time.Duration

	// Hash, Stdout, Stderr: RunTask only.
	Hash   string
	Stdout []byte
	Stderr []byte

	// Abort marks a failure that invalidates dependents (§7's "failure
	// marked abort", e.g. a toolchain setup that can't be trusted for
	// anything downstream). Outside RunTask it stops the run even without
	// bail; on a RunTask failure it stops the run only when bail is set.
	Abort bool
}

// Context is the shared, read-mostly state every handler dispatches
// against: the workspace and action graphs, the collaborators that
// perform out-of-core work, and the TargetState map handlers write to
// exactly once per RunTask node.
type Context struct {
	Graph    *workspace.Graph
	Actions  *actiongraph.ActionGraph
	Affected *affected.Affected
	States   *TargetStates

	HashTracker *taskhash.Tracker
	Cache       *cache.Cache
	Runner      *process.Runner
	Bus         *events.Bus

	Workspace WorkspaceSyncer
	Toolchain ToolchainHost
	Project   ProjectSyncer

	WorkspaceRoot turbopath.AbsoluteSystemPath
	CacheDir        string
	PassthroughArgs []string

	Logger hclog.Logger
}

func (c *Context) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

// dispatch runs node's handler and always returns a non-nil ActionResult;
// a node of unknown kind yields a Failed result rather than an error.
func dispatch(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	start := time.Now()
	var result *ActionResult

	switch node.Kind {
	case actiongraph.KindSyncWorkspace:
		result = handleSyncWorkspace(ctx, pc, node)
	case actiongraph.KindSetupToolchain:
		result = handleSetupToolchain(ctx, pc, node)
	case actiongraph.KindSetupEnvironment:
		result = handleSetupEnvironment(ctx, pc, node)
	case actiongraph.KindInstallDependencies:
		result = handleInstallDependencies(ctx, pc, node)
	case actiongraph.KindSyncProject:
		result = handleSyncProject(ctx, pc, node)
	case actiongraph.KindRunTask:
		result = handleRunTask(ctx, pc, node)
	default:
		result = &ActionResult{Node: node, Status: StatusFailed, Err: errUnknownActionKind}
	}

	result.Duration = time.Since(start)
	return result
}

func handleSyncWorkspace(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	if v := os.Getenv("MOON_SKIP_SYNC_WORKSPACE"); v == "true" {
		return &ActionResult{Node: node, Status: StatusSkipped}
	}
	syncer := pc.Workspace
	if syncer == nil {
		syncer = NopWorkspaceSyncer{}
	}
	if err := syncer.SyncWorkspace(ctx); err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err}
	}
	return &ActionResult{Node: node, Status: StatusPassed}
}

func handleSetupToolchain(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	host := pc.Toolchain
	if host == nil {
		host = NopToolchainHost{}
	}
	if err := host.SetupToolchain(ctx, node.Toolchain); err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err, Abort: true}
	}
	return &ActionResult{Node: node, Status: StatusPassed}
}

func handleSetupEnvironment(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	host := pc.Toolchain
	if host == nil {
		host = NopToolchainHost{}
	}
	if err := host.SetupEnvironment(ctx, node.Toolchain); err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err, Abort: true}
	}
	return &ActionResult{Node: node, Status: StatusPassed}
}

// handleInstallDependencies implements the skip conditions enumerated in
// §4.9's handler table. A skip is a first-class terminal status, not an
// error (§7).
func handleInstallDependencies(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	if skipInstallDepsEnv(node.Toolchain, node.Root) {
		return &ActionResult{Node: node, Status: StatusSkipped}
	}
	if pc.Cache != nil && pc.Cache.IsWriteOnly() {
		return &ActionResult{Node: node, Status: StatusSkipped}
	}

	release, acquired := acquireInstallLock(node.Toolchain, node.Root, pc.logger())
	if !acquired {
		return &ActionResult{Node: node, Status: StatusSkipped}
	}
	defer release()

	host := pc.Toolchain
	if host == nil {
		host = NopToolchainHost{}
	}
	skipped, err := host.InstallDependencies(ctx, node.Toolchain, node.Root)
	if err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err, Abort: true}
	}
	if skipped {
		return &ActionResult{Node: node, Status: StatusSkipped}
	}
	return &ActionResult{Node: node, Status: StatusPassed}
}

// skipInstallDepsEnv implements the MOON_SKIP_INSTALL_DEPS matching rule:
// "true", or "<toolchain>:<root-or-*>". The part after the colon is
// compared with the install node's dependency root path (or "*"); it is
// not compared with a project id.
func skipInstallDepsEnv(toolchain, root string) bool {
	v := os.Getenv("MOON_SKIP_INSTALL_DEPS")
	if v == "" {
		return false
	}
	if v == "true" {
		return true
	}
	prefix := toolchain + ":"
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	target := strings.TrimPrefix(v, prefix)
	return target == "*" || target == root
}

func handleSyncProject(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	project, ok := pc.Graph.Project(node.Project)
	if !ok {
		return &ActionResult{Node: node, Status: StatusFailed, Err: errUnknownProjectForSync}
	}
	syncer := pc.Project
	if syncer == nil {
		syncer = NopProjectSyncer{}
	}
	if err := syncer.SyncProject(ctx, project); err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err}
	}
	return &ActionResult{Node: node, Status: StatusPassed}
}
