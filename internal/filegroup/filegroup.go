// Package filegroup resolves named file groups — ordered bundles of
// files, globs, env var refs, and token refs — into concrete workspace
// paths, rooted either at a project or at the workspace.
//
// Grounded on the glob-rooting rules in internal/doublestar and
// internal/globby from the teacher, generalized to the path-discriminator
// shape in SPEC_FULL.md §4.2, and backed by github.com/gobwas/glob for
// matching and github.com/karrick/godirwalk for the directory walk.
package filegroup

import (
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Kind discriminates the six path-spec forms a file group entry may take.
type Kind int

const (
	// ProjectFile is a single file, project-relative.
	ProjectFile Kind = iota
	// ProjectGlob is a glob pattern, project-relative unless it begins
	// with '/'.
	ProjectGlob
	// WorkspaceFile is a single file, workspace-relative.
	WorkspaceFile
	// WorkspaceGlob is a glob pattern, workspace-relative.
	WorkspaceGlob
	// EnvVar names an environment variable, not a path.
	EnvVar
	// TokenRef is an unresolved token reference, resolved by the caller
	// before a file group is used as task input; contributes nothing to
	// the path projections.
	TokenRef
)

// Entry is one input spec inside a file group, in declaration order.
type Entry struct {
	Kind  Kind
	Value string
}

// Group is a named, ordered bundle of Entry values. Groups merge by
// replacement on id conflict (project overrides global) — that merge
// happens one level up, in the workspace graph builder; this package only
// resolves an already-merged Group.
type Group struct {
	ID      string
	Entries []Entry
}

// ProjectContext supplies the two roots a Group's entries are resolved
// against.
type ProjectContext struct {
	ProjectRoot   string // absolute
	WorkspaceRoot string // absolute
}

// Walker enumerates concrete file paths matching a glob rooted at root.
// The default implementation (DirWalker) wraps github.com/karrick/godirwalk;
// callers may substitute a fake walker in tests.
type Walker interface {
	Walk(root string, match glob.Glob) ([]string, error)
}

// Projection is the resolved result of a Group against a ProjectContext:
// the four views named in SPEC_FULL.md §4.2.
type Projection struct {
	Files []string // absolute file paths, deduplicated, sorted
	Dirs  []string // absolute directory paths containing a Files entry
	Globs []string // glob patterns, as written; their roots are not recorded
	Root  string    // greatest common ancestor of Dirs, else ProjectRoot
}

// Resolve expands g against ctx using walker for glob entries.
func Resolve(g Group, ctx ProjectContext, walker Walker) (Projection, error) {
	fileSet := make(map[string]struct{})
	var globs []string

	for _, e := range g.Entries {
		switch e.Kind {
		case ProjectFile:
			fileSet[joinClean(ctx.ProjectRoot, e.Value)] = struct{}{}
		case WorkspaceFile:
			fileSet[joinClean(ctx.WorkspaceRoot, e.Value)] = struct{}{}
		case ProjectGlob, WorkspaceGlob:
			root := rootFor(e, ctx)
			pattern := normalizeSeparators(e.Value)
			globs = append(globs, pattern)

			compiled, err := glob.Compile(strings.TrimPrefix(pattern, "/"), '/')
			if err != nil {
				return Projection{}, errors.Wrapf(err, "file group %q: invalid glob %q", g.ID, e.Value)
			}
			matches, err := walker.Walk(root, compiled)
			if err != nil {
				return Projection{}, errors.Wrapf(err, "file group %q: walking %q", g.ID, root)
			}
			for _, m := range matches {
				fileSet[m] = struct{}{}
			}
		case EnvVar, TokenRef:
			// Contributes no path; resolved elsewhere (affected tracker
			// reads EnvVar directly off task.input_env, the caller
			// resolves TokenRef before inputs reach this package).
		}
	}

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)

	dirSet := make(map[string]struct{}, len(files))
	for _, f := range files {
		dirSet[path.Dir(f)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	root := commonAncestor(dirs)
	if root == "" {
		root = ctx.ProjectRoot
	}

	return Projection{Files: files, Dirs: dirs, Globs: globs, Root: root}, nil
}

func rootFor(e Entry, ctx ProjectContext) string {
	if e.Kind == WorkspaceGlob || strings.HasPrefix(e.Value, "/") {
		return ctx.WorkspaceRoot
	}
	return ctx.ProjectRoot
}

func joinClean(root, rel string) string {
	rel = normalizeSeparators(strings.TrimPrefix(rel, "/"))
	return path.Join(normalizeSeparators(root), rel)
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// commonAncestor returns the greatest common ancestor directory of a sorted
// set of absolute, '/'-separated directory paths, or "" if dirs is empty.
func commonAncestor(dirs []string) string {
	if len(dirs) == 0 {
		return ""
	}
	segments := strings.Split(strings.Trim(dirs[0], "/"), "/")
	for _, d := range dirs[1:] {
		other := strings.Split(strings.Trim(d, "/"), "/")
		segments = commonPrefix(segments, other)
		if len(segments) == 0 {
			break
		}
	}
	return "/" + strings.Join(segments, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// DirWalker is the default Walker, backed by github.com/karrick/godirwalk.
type DirWalker struct{}

// Walk implements Walker.
func (DirWalker) Walk(root string, match glob.Glob) ([]string, error) {
	var matches []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				base := de.Name()
				if strings.HasPrefix(base, ".") || base == "node_modules" {
					return godirwalk.SkipThis
				}
				return nil
			}
			rel := strings.TrimPrefix(normalizeSeparators(osPathname), normalizeSeparators(root)+"/")
			if match.Match(rel) {
				matches = append(matches, normalizeSeparators(osPathname))
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
