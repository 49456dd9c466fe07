// Package actiongraph builds the action graph (SPEC_FULL.md §4.5): the DAG
// of typed actions the pipeline executor walks, expanded from a set of
// requested targets against a WorkspaceGraph.
//
// Grounded on internal/core/scheduler.go's generateTaskGraph/AddTask/AddDep
// and ROOT_NODE_NAME pattern — generalized from the teacher's single
// RunTask-shaped node to the six ActionNode variants this spec names. Uses
// github.com/pyr-sh/dag the same way the teacher's scheduler does.
package actiongraph

import (
	"fmt"

	"github.com/riftrun/rift/internal/target"
)

// Kind discriminates the six action variants a node may be.
type Kind int

// Action kinds, per SPEC_FULL.md §3/§4.5.
const (
	KindSyncWorkspace Kind = iota
	KindSetupToolchain
	KindSetupEnvironment
	KindInstallDependencies
	KindSyncProject
	KindRunTask
)

func (k Kind) String() string {
	switch k {
	case KindSyncWorkspace:
		return "SyncWorkspace"
	case KindSetupToolchain:
		return "SetupToolchain"
	case KindSetupEnvironment:
		return "SetupEnvironment"
	case KindInstallDependencies:
		return "InstallDependencies"
	case KindSyncProject:
		return "SyncProject"
	case KindRunTask:
		return "RunTask"
	default:
		return "Unknown"
	}
}

// Node is one vertex of the ActionGraph. Only the fields relevant to its
// Kind are populated; Key is tagged-field equality, matching §4.5's
// "node equality uses tagged-field equality" requirement, so two requests
// naming the same action reuse the same node.
type Node struct {
	Kind Kind

	// Toolchain, Root: SetupToolchain, SetupEnvironment, InstallDependencies.
	Toolchain string
	Root      string

	// Project: SyncProject.
	Project string

	// Target: RunTask.
	Target target.Target
}

// Key returns the node's dedup/vertex-name key. Two nodes with equal Key
// are the same node.
func (n Node) Key() string {
	switch n.Kind {
	case KindSyncWorkspace:
		return "sync-workspace"
	case KindSetupToolchain:
		return fmt.Sprintf("setup-toolchain:%s", n.Toolchain)
	case KindSetupEnvironment:
		return fmt.Sprintf("setup-environment:%s", n.Toolchain)
	case KindInstallDependencies:
		return fmt.Sprintf("install-deps:%s:%s", n.Toolchain, n.Root)
	case KindSyncProject:
		return fmt.Sprintf("sync-project:%s", n.Project)
	case KindRunTask:
		return fmt.Sprintf("run-task:%s", n.Target.String())
	default:
		return "unknown"
	}
}

func (n Node) String() string {
	return n.Key()
}
