// kwcomplete/helpers_resolver.go
// Import resolution: turning Resource/Library/Variables setting lines into file identities.
package kwcomplete

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ImportResolver maps an import line of file from to the identity of the imported file.
// It returns false when the import cannot or must not be followed.
type ImportResolver interface {
	ResolveImport(from string, line Line, flags WalkFlags) (string, bool)
}

type importKind int

const (
	importNone importKind = iota
	importResource
	importLibrary
	importVariables
)

func (k importKind) String() string {
	switch k {
	case importResource:
		return "Resource"
	case importLibrary:
		return "Library"
	case importVariables:
		return "Variables"
	}
	return "none"
}

// parseImport extracts the import kind and target cell of a settings line.
func parseImport(line Line) (importKind, string) {
	if line.Type != LineSetting || len(line.Tokens) == 0 || line.Tokens[0].Type != ArgSettingKey {
		return importNone, ""
	}
	var kind importKind
	switch normalizeName(line.Tokens[0].Value) {
	case "resource":
		kind = importResource
	case "library":
		kind = importLibrary
	case "variables":
		kind = importVariables
	default:
		return importNone, ""
	}
	for _, tok := range line.Tokens[1:] {
		if tok.Type == ArgSettingFile {
			return kind, tok.Value
		}
	}
	return importNone, ""
}

// fileChecker is the part of a line source the resolver needs.
type fileChecker interface {
	Exists(file string) bool
}

// pathResolver resolves Resource and Variables imports against the importing file's
// directory and the configured search paths, and Library imports against the catalog.
type pathResolver struct {
	files   fileChecker
	catalog *LibraryCatalog
	execDir string
	logger  *slog.Logger

	mu          sync.RWMutex
	searchPaths []string
}

func newPathResolver(files fileChecker, catalog *LibraryCatalog, searchPaths []string, logger *slog.Logger) *pathResolver {
	if logger == nil {
		logger = slog.Default()
	}
	execDir, err := os.Getwd()
	if err != nil {
		execDir = ""
	}
	return &pathResolver{
		files:       files,
		catalog:     catalog,
		execDir:     execDir,
		logger:      logger.With("component", "ImportResolver"),
		searchPaths: append([]string(nil), searchPaths...),
	}
}

func (r *pathResolver) setSearchPaths(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchPaths = append([]string(nil), paths...)
}

func (r *pathResolver) ResolveImport(from string, line Line, flags WalkFlags) (string, bool) {
	kind, target := parseImport(line)
	switch kind {
	case importResource:
		return r.resolvePath(from, target)
	case importVariables:
		if !flags.LibraryVariables {
			return "", false
		}
		return r.resolvePath(from, target)
	case importLibrary:
		if !flags.LibraryKeywords || r.catalog == nil {
			return "", false
		}
		if strings.HasSuffix(strings.ToLower(target), ".py") || strings.ContainsAny(target, `/\`) {
			return "", false
		}
		spec, ok := r.catalog.Get(target)
		if !ok {
			return "", false
		}
		return libraryFileID(spec.Name), true
	}
	return "", false
}

func (r *pathResolver) resolvePath(from, target string) (string, bool) {
	if target == "" {
		return "", false
	}
	dir := filepath.Dir(from)
	if _, isLib := libraryFromFileID(from); isLib {
		dir = ""
	}
	target = strings.ReplaceAll(target, "${CURDIR}", dir)
	if r.execDir != "" {
		target = strings.ReplaceAll(target, "${EXECDIR}", r.execDir)
	}
	target = filepath.FromSlash(strings.ReplaceAll(target, `\`, "/"))

	if filepath.IsAbs(target) {
		target = filepath.Clean(target)
		return target, r.files.Exists(target)
	}

	var candidates []string
	if dir != "" {
		candidates = append(candidates, filepath.Join(dir, target))
	}
	r.mu.RLock()
	for _, root := range r.searchPaths {
		candidates = append(candidates, filepath.Join(root, target))
	}
	r.mu.RUnlock()

	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if r.files.Exists(abs) {
			return abs, true
		}
	}
	return "", false
}
