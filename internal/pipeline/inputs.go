package pipeline

import (
	"sort"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/riftrun/rift/internal/workspace"
)

// resolveInputPaths returns the project-root-relative paths a task's hash
// (§4.6) must cover: its declared InputFiles verbatim, plus every file
// under the project root matched by its compiled InputGlobs. Grounded on
// internal/workspace/builder.go's walkForGlob, the same dot-dir/vendor
// skip rules applied here since a task's inputs never reach into those
// trees either.
func resolveInputPaths(project *workspace.Project, task *workspace.Task) ([]string, error) {
	seen := make(map[string]struct{}, len(task.InputFiles))
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, f := range task.InputFiles {
		add(f)
	}

	if len(task.InputGlobs) > 0 {
		globs, err := task.CreateGlobSet()
		if err != nil {
			return nil, err
		}
		root := project.Root
		err = godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(osPathname string, de *godirwalk.Dirent) error {
				if de.IsDir() {
					base := de.Name()
					if osPathname != root && (strings.HasPrefix(base, ".") || base == "node_modules" || base == "vendor") {
						return godirwalk.SkipThis
					}
					return nil
				}
				rel := strings.TrimPrefix(strings.ReplaceAll(osPathname, "\\", "/"), strings.ReplaceAll(root, "\\", "/")+"/")
				if globs.Matches(rel) {
					add(rel)
				}
				return nil
			},
			Unsorted: true,
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(out)
	return out, nil
}
