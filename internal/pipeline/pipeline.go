package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/riftrun/rift/internal/actiongraph"
	"github.com/riftrun/rift/internal/estimate"
	"github.com/riftrun/rift/internal/events"
	"github.com/riftrun/rift/internal/workspace"
)

// Options tunes one Execute call's concurrency and failure handling.
type Options struct {
	// Concurrency bounds how many actions run at once. <= 0 defaults to
	// the logical CPU count, per §4.9's "N (default = logical CPU
	// count)".
	Concurrency int
	// Bail cancels non-interactive in-flight work after the first
	// bail-worthy RunTask failure (§4.9 step 4).
	Bail bool
}

// Report is the aggregate outcome of one Execute call.
type Report struct {
	// Results holds every dispatched action's outcome, keyed by its
	// node key. Persistent actions are included once launched, but
	// their Duration/Status reflect the moment Execute returned, not
	// their eventual exit (Execute never waits on them).
	Results  map[string]*ActionResult
	Counts   map[string]int
	Estimate estimate.Estimate
	// Aborted reports whether an aborting failure cancelled the run.
	Aborted bool
}

// Pipeline drives one ActionGraph to completion against a shared Context,
// per SPEC_FULL.md §4.9. Grounded on internal/core/scheduler.go's
// semaphore-gated dag.Walk dispatch, generalized from a single walk
// callback to independently-spawned workers so a bail-worthy failure can
// cancel in-flight siblings without unwinding the walk itself.
type Pipeline struct {
	graph *actiongraph.ActionGraph
	pc    *Context
	opts  Options
}

// New creates a Pipeline over graph, dispatching through pc per opts. It
// sets pc.Actions to graph so handlers (notably RunTask's dependency-hash
// resolution) can see the graph they're being walked over.
func New(graph *actiongraph.ActionGraph, pc *Context, opts Options) *Pipeline {
	pc.Actions = graph
	return &Pipeline{graph: graph, pc: pc, opts: opts}
}

func (p *Pipeline) concurrency() int {
	if p.opts.Concurrency > 0 {
		return p.opts.Concurrency
	}
	return runtime.NumCPU()
}

func (p *Pipeline) taskFor(n actiongraph.Node) *workspace.Task {
	if n.Kind != actiongraph.KindRunTask {
		return nil
	}
	project, ok := p.pc.Graph.Project(n.Target.Scope.Project)
	if !ok {
		return nil
	}
	task, ok := project.Tasks[n.Target.TaskID]
	if !ok {
		return nil
	}
	return task
}

func (p *Pipeline) isPersistent(n actiongraph.Node) bool {
	t := p.taskFor(n)
	return t != nil && t.Metadata.Persistent
}

func (p *Pipeline) isInteractive(n actiongraph.Node) bool {
	t := p.taskFor(n)
	return t != nil && t.Metadata.Interactive
}

// Execute runs every node in the graph to a terminal ActionResult and
// returns the aggregate Report. It blocks until every non-persistent
// action has completed (or the run aborts); any persistent RunTask nodes
// are launched afterward and left running, tracked only in the returned
// Report's initial snapshot — callers that need their eventual outcome
// should watch the event bus or cancel ctx to stop them.
func (p *Pipeline) Execute(ctx context.Context) (*Report, error) {
	start := time.Now()
	// runCtx governs only the non-persistent dispatch loop below; bail
	// cancels it early. Persistent actions are dispatched against the
	// caller's own ctx, per §5's "external cancellation" — they must
	// outlive runCtx's cancellation on a normal, non-bailed return.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes := p.graph.Nodes()
	byKey := make(map[string]actiongraph.Node, len(nodes))
	for _, n := range nodes {
		byKey[n.Key()] = n
	}

	// §4.9 step 5: persistent actions never gate, and are never gated
	// by, the ordinary dependency count — they're scheduled entirely
	// outside the topological iterator.
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	var persistentNodes []actiongraph.Node

	for _, n := range nodes {
		key := n.Key()
		if p.isPersistent(n) {
			persistentNodes = append(persistentNodes, n)
			continue
		}
		count := 0
		for _, dep := range p.graph.DependenciesOf(key) {
			if p.isPersistent(dep) {
				continue
			}
			count++
			dependents[dep.Key()] = append(dependents[dep.Key()], key)
		}
		indegree[key] = count
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*ActionResult, len(nodes))
		aborted bool
	)
	sem := newSemaphore(p.concurrency())

	var dispatchKey func(key string)
	dispatchKey = func(key string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem.acquire()
			defer sem.release()

			node := byKey[key]

			mu.Lock()
			bailedNow := aborted
			mu.Unlock()

			var result *ActionResult
			if bailedNow && !p.isInteractive(node) {
				// §4.9 step 4: stop dispatching new non-interactive
				// work once a bail-worthy failure has landed.
				result = &ActionResult{Node: node, Status: StatusSkipped}
				if node.Kind == actiongraph.KindRunTask {
					publishFinished(p.pc, node.Target.String(), node, result)
				}
			} else {
				// Interactive actions run under the caller's ctx, so a
				// bail does not cancel them once they are in flight.
				dctx := runCtx
				if p.isInteractive(node) {
					dctx = ctx
				}
				result = dispatch(dctx, p.pc, node)
			}

			var newlyReady []string
			var cancelNow bool
			mu.Lock()
			results[key] = result
			if result.Status == StatusFailed && result.Abort && (p.opts.Bail || node.Kind != actiongraph.KindRunTask) {
				aborted = true
				cancelNow = true
			}
			for _, dep := range dependents[key] {
				indegree[dep]--
				if indegree[dep] == 0 {
					newlyReady = append(newlyReady, dep)
				}
			}
			mu.Unlock()

			if cancelNow {
				cancel()
			}
			for _, nk := range newlyReady {
				dispatchKey(nk)
			}
		}()
	}

	var initial []string
	for key, n := range indegree {
		if n == 0 {
			initial = append(initial, key)
		}
	}
	sort.Strings(initial)
	for _, key := range initial {
		dispatchKey(key)
	}

	wg.Wait()
	wall := time.Since(start)

	mu.Lock()
	finalAborted := aborted
	mu.Unlock()

	// §4.9 step 5: persistent actions are scheduled last, launched in
	// parallel, and run until the pipeline is externally cancelled or
	// they exit — Execute does not wait on them.
	for _, n := range persistentNodes {
		n := n
		key := n.Key()
		mu.Lock()
		results[key] = &ActionResult{Node: n, Status: StatusRunning}
		mu.Unlock()
		go func() {
			result := dispatch(ctx, p.pc, n)
			mu.Lock()
			results[key] = result
			mu.Unlock()
		}()
	}

	mu.Lock()
	snapshot := make(map[string]*ActionResult, len(results))
	for k, v := range results {
		snapshot[k] = v
	}
	mu.Unlock()

	report := p.buildReport(snapshot, wall)
	report.Aborted = finalAborted

	publish(p.pc, events.Event{
		Kind:     events.KindPipelineFinished,
		Counts:   report.Counts,
		Estimate: report.Estimate,
	})

	var runErr error
	if finalAborted {
		runErr = bailError(snapshot)
	}
	return report, runErr
}

// bailError escalates every failed action in results to a single
// pipeline-level error, per §7's "execution errors are attached to their
// ActionResult and only escalate to a pipeline-level multierror under
// bail". Individual failures remain available per-action on Report.Results
// regardless of whether Execute itself returns an error.
func bailError(results map[string]*ActionResult) error {
	keys := make([]string, 0, len(results))
	for k, r := range results {
		if r.Status == StatusFailed && r.Err != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	var merr *multierror.Error
	for _, k := range keys {
		merr = multierror.Append(merr, errors.Wrapf(results[k].Err, "action %s", k))
	}
	return merr.ErrorOrNil()
}

func (p *Pipeline) buildReport(results map[string]*ActionResult, wall time.Duration) *Report {
	counts := make(map[string]int)
	entries := make([]estimate.Entry, 0, len(results))

	for _, r := range results {
		counts[r.Status.String()]++

		isTask := r.Node.Kind == actiongraph.KindRunTask
		taskID := ""
		if isTask {
			taskID = r.Node.Target.TaskID
		}
		entries = append(entries, estimate.Entry{
			TaskID:   taskID,
			IsTask:   isTask,
			Duration: r.Duration,
			Cached:   r.Status == StatusCached,
		})
	}

	return &Report{
		Results:  results,
		Counts:   counts,
		Estimate: estimate.Compute(entries, wall),
	}
}
