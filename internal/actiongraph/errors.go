package actiongraph

import "github.com/pkg/errors"

// Sentinel errors, per SPEC_FULL.md §4.5/§7.
var (
	ErrNoProjectDepsInRunContext = errors.New("actiongraph: Deps scope is only legal inside a project's task deps")
	ErrNoProjectSelfInRunContext = errors.New("actiongraph: OwnSelf scope is only legal inside a project's task deps")
	ErrUnknownProject            = errors.New("actiongraph: unknown project")
	ErrUnknownTask               = errors.New("actiongraph: unknown task")
)

// CycleError reports a detected cycle among action nodes, with an ordered
// representative path a -> b -> ... -> a.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	s := "actiongraph: cycle detected: "
	for i, id := range e.Cycle {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}
