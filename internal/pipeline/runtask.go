package pipeline

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/riftrun/rift/internal/actiongraph"
	"github.com/riftrun/rift/internal/events"
	"github.com/riftrun/rift/internal/process"
	"github.com/riftrun/rift/internal/taskhash"
	"github.com/riftrun/rift/internal/turbopath"
	"github.com/riftrun/rift/internal/workspace"
)

// maxStderrTail is how much captured stderr a failed result keeps
// verbatim for user-facing messages, per §7's "last 4 KiB of captured
// stderr".
const maxStderrTail = 4 * 1024

// handleRunTask is the critical path named in §4.10.
func handleRunTask(ctx context.Context, pc *Context, node actiongraph.Node) *ActionResult {
	key := node.Target.String()

	project, ok := pc.Graph.Project(node.Target.Scope.Project)
	if !ok {
		return &ActionResult{Node: node, Status: StatusFailed, Err: errUnknownTaskForRun}
	}
	task, ok := project.Tasks[node.Target.TaskID]
	if !ok {
		return &ActionResult{Node: node, Status: StatusFailed, Err: errUnknownTaskForRun}
	}

	hash, err := computeTaskHash(pc, node, project, task)
	if err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err}
	}
	pc.HashTracker.RecordTaskHash(key, hash)

	publish(pc, events.Event{Kind: events.KindActionStarted, ActionKey: key, ActionKind: node.Kind.String()})

	var result *ActionResult
	switch {
	case task.Metadata.Persistent:
		// §4.10 step 6: persistent tasks are never cache-consulted and
		// never retried; they stream until the pipeline cancels them.
		result = runProcess(ctx, pc, node, project, task, hash, process.Options{RetryCount: 0})
		if result.Status == StatusFailed && ctx.Err() != nil {
			// Stopped by pipeline cancellation, not a real failure.
			result.Status = StatusPassed
			result.Err = nil
		}
	case task.Options.Cache && !task.Metadata.Local:
		result = runWithCache(ctx, pc, node, project, task, hash)
	default:
		result = runProcess(ctx, pc, node, project, task, hash, process.Options{RetryCount: task.Options.RetryCount, ErrorOnNonzero: true})
	}

	publishFinished(pc, key, node, result)
	return result
}

// runWithCache implements §4.10 steps 2-4 for a cacheable, non-local,
// non-persistent task.
func runWithCache(ctx context.Context, pc *Context, node actiongraph.Node, project *workspace.Project, task *workspace.Task, hash string) *ActionResult {
	key := node.Target.String()

	if entry, hit, err := pc.Cache.Lookup(hash); err != nil {
		pc.logger().Warn("cache lookup failed, executing instead", "target", key, "error", err)
	} else if hit {
		if _, err := pc.Cache.Restore(hash, pc.WorkspaceRoot); err != nil {
			pc.logger().Warn("cache restore failed, executing instead", "target", key, "error", err)
		} else {
			return &ActionResult{Node: node, Status: StatusCached, Hash: hash, Stdout: entry.Stdout, Stderr: entry.Stderr}
		}
	}

	result := runProcess(ctx, pc, node, project, task, hash, process.Options{RetryCount: task.Options.RetryCount, ErrorOnNonzero: true})
	if result.Status != StatusPassed {
		return result
	}

	outputs := collectOutputs(project, task)
	if err := pc.Cache.Store(hash, pc.WorkspaceRoot, outputs, result.Duration, result.Stdout, result.Stderr); err != nil {
		// Cache population is best-effort (§7): the run still succeeded.
		pc.logger().Warn("cache store failed", "target", key, "error", err)
	} else {
		pc.Cache.Mirror(hash)
	}
	return result
}

// runProcess builds and spawns the task's command, per §6's argument/env
// grammar and §4.10 step 3/5.
func runProcess(ctx context.Context, pc *Context, node actiongraph.Node, project *workspace.Project, task *workspace.Task, hash string, opts process.Options) *ActionResult {
	opts.Command, opts.Args = taskCommand(task)
	if task.Options.AffectedFiles == "args" || task.Options.AffectedFiles == "true" {
		if files := affectedFilesForTask(pc, task); len(files) > 0 {
			opts.Args = append(append([]string{}, opts.Args...), files...)
		}
	}
	opts.Dir = project.Root
	if task.Options.RunFromWorkspaceRoot {
		opts.Dir = pc.WorkspaceRoot.ToString()
	}
	opts.Env = taskEnv(pc, project, task, hash, opts.Dir)
	opts.Timeout = time.Duration(task.Options.Timeout) * time.Second
	opts.Logger = pc.logger()
	opts.Stdio = taskStdio(task)

	result, err := pc.Runner.Run(ctx, opts)
	if err != nil && ctx.Err() != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: ctx.Err(), Hash: hash}
	}
	if err != nil {
		return &ActionResult{Node: node, Status: StatusFailed, Err: err, Hash: hash}
	}

	if result.ExitCode != 0 {
		return &ActionResult{
			Node:   node,
			Status: StatusFailed,
			Err:    tailStderrError(result.ExitCode, result.Stderr),
			Hash:   hash,
			Stdout: result.Stdout,
			Stderr: result.Stderr,
			Abort:  !task.Options.AllowFailure,
		}
	}
	return &ActionResult{Node: node, Status: StatusPassed, Hash: hash, Stdout: result.Stdout, Stderr: result.Stderr}
}

func taskStdio(task *workspace.Task) process.StdioPolicy {
	switch {
	case task.Metadata.Interactive:
		return process.Interactive
	case task.Metadata.Local:
		return process.Stream
	case task.Options.OutputStyle == "stream":
		return process.StreamCapture
	default:
		return process.Capture
	}
}

func taskCommand(task *workspace.Task) (string, []string) {
	if task.Script != "" {
		return shellCommand(task.Script)
	}
	return task.Command, task.Args
}

func shellCommand(script string) (string, []string) {
	if os.PathSeparator == '\\' {
		return "cmd", []string{"/C", script}
	}
	return "sh", []string{"-c", script}
}

// taskEnv builds the process environment per §6: the task's declared env
// plus the MOON_* variables every task process receives. dir is the
// working directory the process is about to be spawned in (project root,
// or the workspace root when run_from_workspace_root is set).
func taskEnv(pc *Context, project *workspace.Project, task *workspace.Task, hash string, dir string) []string {
	env := os.Environ()
	for k, v := range task.Env {
		env = append(env, k+"="+v)
	}

	target := project.ID + ":" + task.Target.TaskID
	env = append(env,
		"PWD="+dir,
		"MOON_PROJECT_ID="+project.ID,
		"MOON_PROJECT_ROOT="+project.Root,
		"MOON_PROJECT_SOURCE="+project.Source,
		"MOON_TASK_ID="+task.Target.TaskID,
		"MOON_TASK_HASH="+hash,
		"MOON_TARGET="+target,
		"MOON_WORKSPACE_ROOT="+pc.WorkspaceRoot.ToString(),
		"MOON_WORKING_DIR="+project.Root,
	)
	if pc.CacheDir != "" {
		env = append(env, "MOON_CACHE_DIR="+pc.CacheDir)
	}
	if snapshot, err := writeProjectSnapshot(pc, project); err != nil {
		pc.logger().Warn("writing project snapshot failed", "project", project.ID, "error", err)
	} else if snapshot != "" {
		env = append(env, "MOON_PROJECT_SNAPSHOT="+snapshot)
	}

	if task.Options.AffectedFiles == "env" || task.Options.AffectedFiles == "true" {
		if pc.Affected != nil {
			files := affectedFilesForTask(pc, task)
			if len(files) > 0 {
				env = append(env, "MOON_AFFECTED_FILES="+strings.Join(files, ","))
			}
		}
	}
	return env
}

func affectedFilesForTask(pc *Context, task *workspace.Task) []string {
	if pc.Affected == nil {
		return nil
	}
	state, ok := pc.Affected.Tasks[task.Target.String()]
	if !ok {
		return nil
	}
	var files []string
	for _, r := range state.Reasons {
		files = append(files, r.Value)
	}
	sort.Strings(files)
	return files
}

func collectOutputs(project *workspace.Project, task *workspace.Task) []turbopath.AnchoredSystemPath {
	anchor := turbopath.AbsoluteSystemPath(project.Root)
	var outputs []turbopath.AnchoredSystemPath
	for _, o := range task.Outputs {
		rel := turbopath.AnchoredUnixPath(o).ToSystemPath()
		abs := rel.RestoreAnchor(anchor)
		if abs.FileExists() || abs.DirExists() {
			outputs = append(outputs, rel)
		}
	}
	return outputs
}

func tailStderrError(exitCode int, stderr []byte) error {
	tail := stderr
	if len(tail) > maxStderrTail {
		tail = tail[len(tail)-maxStderrTail:]
	}
	return &TaskFailure{ExitCode: exitCode, StderrTail: string(tail)}
}

// computeTaskHash builds the HashContent for task and returns its
// canonical hash, per §4.6.
func computeTaskHash(pc *Context, node actiongraph.Node, project *workspace.Project, task *workspace.Task) (string, error) {
	content := taskhash.HashContent{
		Command: task.Command,
		Args:    task.Args,
		Script:  task.Script,
	}
	if len(task.Env) > 0 {
		content.Env = task.Env
	}

	if !task.Metadata.EmptyInputs {
		paths, err := resolveInputPaths(project, task)
		if err != nil {
			return "", err
		}
		hashes, err := taskhash.GitFileHasher{}.HashFiles(project.Root, paths)
		if err != nil {
			return "", err
		}
		for _, p := range paths {
			content.Inputs = append(content.Inputs, taskhash.InputEntry{Path: p, ContentHash: hashes[p]})
		}
	}

	depKeys, passthrough := runTaskDependencyKeys(pc, node)
	deps, err := pc.HashTracker.ResolveDepHashes(depKeys, passthrough)
	if err != nil {
		return "", err
	}
	if len(deps) > 0 {
		content.Deps = deps
	}

	for _, toolchain := range task.Toolchains {
		content.Toolchain = append(content.Toolchain, taskhash.ToolchainContent{
			ID:      toolchain,
			Version: os.Getenv("MOON_" + strings.ToUpper(toolchain) + "_VERSION"),
		})
	}

	return taskhash.Hash(content)
}

// runTaskDependencyKeys resolves node's RunTask predecessors in the
// action graph (already expanded from every wildcard task.Deps entry by
// the action graph builder) to the target keys their recorded hashes
// live under, marking persistent dependencies (which never reach a
// normal terminal hash) as passthrough.
func runTaskDependencyKeys(pc *Context, node actiongraph.Node) ([]string, map[string]bool) {
	if pc.Actions == nil {
		return nil, nil
	}
	var keys []string
	passthrough := make(map[string]bool)
	for _, dep := range pc.Actions.DependenciesOf(node.Key()) {
		if dep.Kind != actiongraph.KindRunTask {
			continue
		}
		key := dep.Target.String()
		keys = append(keys, key)
		if state, ok := pc.States.Get(key); ok && state.Passthrough {
			passthrough[key] = true
		}
	}
	return keys, passthrough
}

func publish(pc *Context, e events.Event) {
	if pc.Bus != nil {
		pc.Bus.Publish(e)
	}
}

func publishFinished(pc *Context, key string, node actiongraph.Node, result *ActionResult) {
	pc.States.Set(key, TargetState{
		Status:      result.Status,
		Hash:        result.Hash,
		Err:         result.Err,
		Duration:    result.Duration,
		Passthrough: result.Status == StatusSkipped,
	})
	publish(pc, events.Event{
		Kind:       events.KindActionFinished,
		ActionKey:  key,
		ActionKind: node.Kind.String(),
		Status:     result.Status.String(),
		Err:        result.Err,
	})
}
