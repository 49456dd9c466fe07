package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/riftrun/rift/internal/workspace"
)

// projectSnapshot is the JSON document written for a project and pointed
// to by MOON_PROJECT_SNAPSHOT (§6), so a task process can introspect its
// own project without re-parsing config files.
type projectSnapshot struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	Root       string   `json:"root"`
	Language   string   `json:"language,omitempty"`
	Stack      string   `json:"stack,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Toolchains []string `json:"toolchains,omitempty"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Tasks      []string `json:"tasks,omitempty"`
}

func projectSnapshotPath(pc *Context, project *workspace.Project) string {
	if pc.CacheDir == "" {
		return ""
	}
	return filepath.Join(pc.CacheDir, "states", project.ID, "snapshot.json")
}

// writeProjectSnapshot persists project to its snapshot path and returns
// that path. Returns ("", nil) when no cache directory is configured, since
// there is nowhere to put the snapshot; writing it is best-effort like the
// rest of cache population (§7), so the caller only logs a failure.
func writeProjectSnapshot(pc *Context, project *workspace.Project) (string, error) {
	path := projectSnapshotPath(pc, project)
	if path == "" {
		return "", nil
	}

	deps := make([]string, 0, len(project.DependsOn))
	for id := range project.DependsOn {
		deps = append(deps, id)
	}
	sort.Strings(deps)

	tasks := make([]string, 0, len(project.Tasks))
	for id := range project.Tasks {
		tasks = append(tasks, id)
	}
	sort.Strings(tasks)

	snapshot := projectSnapshot{
		ID:         project.ID,
		Source:     project.Source,
		Root:       project.Root,
		Language:   project.Language,
		Stack:      project.Stack,
		Tags:       project.ProjectTags,
		Toolchains: project.Toolchains,
		DependsOn:  deps,
		Tasks:      tasks,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
