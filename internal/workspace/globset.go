package workspace

import "github.com/gobwas/glob"

// GlobSet matches a workspace-relative path against a task's compiled
// input globs, grounded on the same github.com/gobwas/glob matcher used
// by internal/filegroup.
type GlobSet struct {
	compiled []glob.Glob
}

// Matches reports whether path matches any compiled glob.
func (g GlobSet) Matches(path string) bool {
	for _, c := range g.compiled {
		if c.Match(path) {
			return true
		}
	}
	return false
}

func compileGlobSet(patterns []string) (GlobSet, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		c, err := glob.Compile(p, '/')
		if err != nil {
			return GlobSet{}, err
		}
		compiled = append(compiled, c)
	}
	return GlobSet{compiled: compiled}, nil
}
