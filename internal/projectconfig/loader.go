// Package projectconfig is the one concrete workspace.Loader this repo
// ships: it reads a per-project "project.yml" file and turns it into the
// workspace.ProjectLoad value the workspace graph builder asks for. The
// core itself never parses configuration (SPEC_FULL.md §1 Non-goals) --
// this package is the adapter a hosting CLI plugs in, grounded on
// internal/config.ReadTurboConfig's "one file per concern, absence is
// fine" shape but generalized to the language-agnostic task/dependency
// model this orchestrator core uses instead of turbo.json's.
package projectconfig

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/workspace"
)

// FileName is the project config file name looked up inside each
// discovered project source directory.
const FileName = "project.yml"

// fileTask mirrors the subset of Task fields a project.yml can declare;
// fields absent from the file keep Task's zero values, except cache, which
// defaults to true when the task has a command or a script.
type fileTask struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Script  string            `yaml:"script"`
	Env     map[string]string `yaml:"env"`
	Inputs  []string          `yaml:"inputs"`
	Outputs []string          `yaml:"outputs"`
	DependsOn []string        `yaml:"dependsOn"`
	Toolchains []string       `yaml:"toolchains"`

	Cache        *bool  `yaml:"cache"`
	Persistent   bool   `yaml:"persistent"`
	Interactive  bool   `yaml:"interactive"`
	Local        bool   `yaml:"local"`
	AllowFailure bool   `yaml:"allowFailure"`
	RetryCount   uint8  `yaml:"retryCount"`
	Timeout      uint64 `yaml:"timeout"`
}

type fileDependency struct {
	Scope string `yaml:"scope"`
}

type fileProject struct {
	ID         string                    `yaml:"id"`
	Language   string                    `yaml:"language"`
	Stack      string                    `yaml:"stack"`
	Tags       []string                  `yaml:"tags"`
	Toolchains []string                  `yaml:"toolchains"`
	DependsOn  map[string]fileDependency `yaml:"dependsOn"`
	Tasks      map[string]fileTask       `yaml:"tasks"`
}

// Loader implements workspace.Loader by reading FileName out of the
// workspace root joined with each source directory.
type Loader struct {
	WorkspaceRoot string
}

// Load implements workspace.Loader.
func (l Loader) Load(_ context.Context, source string) (*workspace.ProjectLoad, error) {
	path := filepath.Join(l.WorkspaceRoot, source, FileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var fp fileProject
	if err := yaml.Unmarshal(raw, &fp); err != nil {
		return nil, err
	}

	load := &workspace.ProjectLoad{
		Rename:      fp.ID,
		Language:    fp.Language,
		Stack:       fp.Stack,
		ProjectTags: fp.Tags,
		Toolchains:  fp.Toolchains,
		Tasks:       make(map[string]*workspace.Task, len(fp.Tasks)),
	}

	if len(fp.DependsOn) > 0 {
		load.DependsOn = make(map[string]workspace.DependencyEdge, len(fp.DependsOn))
		for id, dep := range fp.DependsOn {
			load.DependsOn[id] = workspace.DependencyEdge{
				Scope:  parseScope(dep.Scope),
				Source: workspace.SourceExplicit,
			}
		}
	}

	projectID := fp.ID
	if projectID == "" {
		projectID = filepath.Base(source)
	}
	for id, ft := range fp.Tasks {
		t, err := toTask(projectID, id, ft)
		if err != nil {
			return nil, err
		}
		load.Tasks[id] = t
	}

	return load, nil
}

func parseScope(s string) workspace.DependencyScope {
	switch s {
	case "development":
		return workspace.ScopeDevelopment
	case "peer":
		return workspace.ScopePeer
	default:
		return workspace.ScopeProduction
	}
}

func toTask(projectID, taskID string, ft fileTask) (*workspace.Task, error) {
	tgt := target.Target{
		Scope:  target.Scope{Kind: target.ScopeProject, Project: projectID},
		TaskID: taskID,
	}

	deps := make([]workspace.TaskDep, 0, len(ft.DependsOn))
	for _, d := range ft.DependsOn {
		depTarget, err := resolveDepTarget(projectID, d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, workspace.TaskDep{Target: depTarget})
	}

	cache := ft.Command != "" || ft.Script != ""
	if ft.Cache != nil {
		cache = *ft.Cache
	}

	return &workspace.Task{
		Target:     tgt,
		Command:    ft.Command,
		Args:       ft.Args,
		Script:     ft.Script,
		Env:        ft.Env,
		InputGlobs: ft.Inputs,
		Outputs:    ft.Outputs,
		Deps:       deps,
		Toolchains: ft.Toolchains,
		Options: workspace.TaskOptions{
			Cache:        cache,
			AllowFailure: ft.AllowFailure,
			RetryCount:   ft.RetryCount,
			Timeout:      ft.Timeout,
		},
		Metadata: workspace.Metadata{
			Persistent:  ft.Persistent,
			Interactive: ft.Interactive,
			Local:       ft.Local,
			EmptyInputs: len(ft.Inputs) == 0,
		},
	}, nil
}

// resolveDepTarget accepts either a bare task id (same project) or a
// fully-qualified "project:task" / scope-sigil form understood by
// target.Parse.
func resolveDepTarget(projectID, raw string) (target.Target, error) {
	if raw == "" {
		return target.Target{}, &InvalidDependencyError{Raw: raw}
	}
	for _, r := range raw {
		if r == ':' {
			return target.Parse(raw)
		}
	}
	return target.Target{
		Scope:  target.Scope{Kind: target.ScopeProject, Project: projectID},
		TaskID: raw,
	}, nil
}

// InvalidDependencyError reports a task dependency entry that could not
// be resolved to a target.
type InvalidDependencyError struct{ Raw string }

func (e *InvalidDependencyError) Error() string {
	return "projectconfig: invalid task dependency " + e.Raw
}
