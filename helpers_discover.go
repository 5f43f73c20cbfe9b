// kwcomplete/helpers_discover.go
// Finds suite and resource files in a workspace.
package kwcomplete

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

var suiteExtensions = map[string]struct{}{
	".robot":    {},
	".resource": {},
	".txt":      {},
}

var skipDirs = map[string]struct{}{
	"node_modules":  {},
	"venv":          {},
	".venv":         {},
	"__pycache__":   {},
	"build":         {},
	"dist":          {},
	"results":       {},
	".pytest_cache": {},
}

// IsSuiteFile reports whether path has a suite or resource file extension.
func IsSuiteFile(path string) bool {
	_, ok := suiteExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DiscoverSuiteFiles returns the absolute paths of suite and resource files under root,
// sorted. Hidden entries, well-known build/vendor directories and .gitignore matches are
// skipped. A root that is itself a file is returned as is.
func DiscoverSuiteFiles(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var gi *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		gi = compiled
	}

	var results []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || d.Type()&os.ModeSymlink != 0 || !IsSuiteFile(name) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}
		results = append(results, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(results)
	return results, nil
}
