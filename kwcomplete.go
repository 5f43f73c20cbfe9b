// kwcomplete.go
// Package kwcomplete finds keywords that a test suite file calls but that nothing
// reachable through its imports defines, and proposes them as completions when the
// user starts a new keyword definition.
package kwcomplete

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	tryLoad := func(path string) {
		logger.Debug("Attempting to load config", "path", path)
		loaded, loadErr := LoadAndMergeConfig(path, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", path, loadErr))
			logger.Warn("Failed to load or merge config", "path", path, "error", loadErr)
			return
		}
		if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", path)
		}
	}

	if primaryPath != "" {
		tryLoad(primaryPath)
	}
	if (!loadedFromFile || configParseError != nil) && secondaryPath != "" && secondaryPath != primaryPath {
		tryLoad(secondaryPath)
	}

	if !loadedFromFile || configParseError != nil {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}
		switch {
		case writePath == "":
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		case configParseError != nil:
			// Leave a broken file in place for the user to fix.
			logger.Warn("Existing config file failed to parse, using defaults.", "path", writePath, "error", configParseError)
		default:
			logger.Info("No config file found. Writing default.", "path", writePath)
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		}
		cfg = getDefaultConfig()
	}

	if err := cfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		cfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return cfg, nil
}

// =============================================================================
// KeywordCompleter Service
// =============================================================================

// KeywordCompleter ties together the line source, import resolver, library catalog and
// walker. Every request walks the reachable files again; only tokenized files are memoised.
type KeywordCompleter struct {
	catalog  *LibraryCatalog
	cache    *memoryCache
	source   *fileSource
	resolver *pathResolver
	config   Config
	configMu sync.RWMutex
	logger   *stdslog.Logger
}

// NewKeywordCompleter loads the user configuration and creates the service. A returned
// error wrapping ErrConfig is non-fatal: the completer is usable with defaults.
func NewKeywordCompleter(logger *stdslog.Logger) (*KeywordCompleter, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "KeywordCompleter")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		serviceLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}
	kc := newKeywordCompleter(cfg, serviceLogger)
	if configErr != nil {
		return kc, configErr
	}
	return kc, nil
}

// NewKeywordCompleterWithConfig creates the service with an explicit configuration.
func NewKeywordCompleterWithConfig(config Config, logger *stdslog.Logger) (*KeywordCompleter, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "KeywordCompleter")
	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}
	return newKeywordCompleter(config.clone(), serviceLogger), nil
}

func newKeywordCompleter(cfg Config, logger *stdslog.Logger) *KeywordCompleter {
	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		p, err := defaultCatalogPath()
		if err != nil {
			logger.Warn("Could not determine catalog location, keeping catalog in memory only.", "error", err)
		}
		catalogPath = p
	}
	catalog := NewLibraryCatalog(catalogPath, logger)
	cache := newMemoryCache(logger)
	source := newFileSource(catalog, cache, cfg, logger)
	kc := &KeywordCompleter{
		catalog:  catalog,
		cache:    cache,
		source:   source,
		resolver: newPathResolver(source, catalog, cfg.ResourceSearchPaths, logger),
		config:   cfg,
		logger:   logger,
	}
	kc.importSpecDirs(context.Background(), cfg.LibrarySpecDirs)
	return kc
}

func (kc *KeywordCompleter) importSpecDirs(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		n, err := kc.catalog.ImportDir(ctx, dir)
		if err != nil {
			kc.logger.Warn("Library spec directory imported with errors", "dir", dir, "imported", n, "error", err)
		}
	}
}

// Close releases the catalog database and the memory cache.
func (kc *KeywordCompleter) Close() error {
	kc.logger.Info("Closing KeywordCompleter service")
	kc.cache.close()
	return kc.catalog.Close()
}

// UpdateConfig validates and applies a new configuration.
func (kc *KeywordCompleter) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(kc.logger); err != nil {
		kc.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}
	newConfig = newConfig.clone()

	kc.configMu.Lock()
	old := kc.config
	kc.config = newConfig
	kc.configMu.Unlock()

	kc.source.configure(newConfig)
	kc.resolver.setSearchPaths(newConfig.ResourceSearchPaths)
	if !equalStrings(old.LibrarySpecDirs, newConfig.LibrarySpecDirs) {
		kc.importSpecDirs(context.Background(), newConfig.LibrarySpecDirs)
	}

	kc.logger.Info("KeywordCompleter configuration updated",
		stdslog.Group("new_config",
			stdslog.String("log_level", newConfig.LogLevel),
			stdslog.Int("memory_cache_ttl_seconds", newConfig.MemoryCacheTTLSeconds),
			stdslog.Int64("max_file_size_bytes", newConfig.MaxFileSizeBytes),
			stdslog.Any("resource_search_paths", newConfig.ResourceSearchPaths),
			stdslog.Any("library_spec_dirs", newConfig.LibrarySpecDirs),
			stdslog.Any("implicit_libraries", newConfig.ImplicitLibraries),
			stdslog.Bool("diagnostics_enabled", newConfig.DiagnosticsEnabled),
			stdslog.Int("watch_debounce_ms", newConfig.WatchDebounceMs),
		),
	)
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetCurrentConfig returns a copy of the current configuration.
func (kc *KeywordCompleter) GetCurrentConfig() Config {
	kc.configMu.RLock()
	defer kc.configMu.RUnlock()
	return kc.config.clone()
}

// Catalog returns the library catalog.
func (kc *KeywordCompleter) Catalog() *LibraryCatalog { return kc.catalog }

// SetOverlay records unsaved editor content for file.
func (kc *KeywordCompleter) SetOverlay(file string, content []byte) {
	kc.source.SetOverlay(canonicalFile(file), content)
}

// ClearOverlay forgets unsaved content for file.
func (kc *KeywordCompleter) ClearOverlay(file string) { kc.source.ClearOverlay(canonicalFile(file)) }

// Content returns the current text of file, preferring unsaved editor content.
func (kc *KeywordCompleter) Content(file string) ([]byte, error) {
	return kc.source.Content(canonicalFile(file))
}

// Lines returns the tokenized lines of file. Tokens carry the absolute path of file.
func (kc *KeywordCompleter) Lines(ctx context.Context, file string) ([]Line, error) {
	return kc.source.Lines(ctx, canonicalFile(file))
}

// CacheStats reports memo hits and misses.
func (kc *KeywordCompleter) CacheStats() (hits, misses uint64) { return kc.cache.stats() }

// newWalker builds a walker for the current configuration.
func (kc *KeywordCompleter) newWalker(logger *stdslog.Logger) *Walker {
	cfg := kc.GetCurrentConfig()
	var implicit []string
	for _, name := range cfg.ImplicitLibraries {
		spec, ok := kc.catalog.Get(name)
		if !ok {
			logger.Debug("Implicit library not in catalog", "library", name)
			continue
		}
		implicit = append(implicit, libraryFileID(spec.Name))
	}
	return NewWalker(kc.source, kc.resolver, implicit, logger)
}

func (kc *KeywordCompleter) requestLogger(operation, file string) *stdslog.Logger {
	return kc.logger.With("operation", operation, "walk_id", uuid.NewString(), "file", file)
}

// ProposeKeywordDefinitions returns the undefined keywords of req.File whose names start
// with req.Prefix.
func (kc *KeywordCompleter) ProposeKeywordDefinitions(ctx context.Context, req CompletionRequest) ([]CompletionCandidate, error) {
	file := canonicalFile(req.File)
	logger := kc.requestLogger("ProposeKeywordDefinitions", file)
	started := time.Now()

	var assume *TokenID
	if req.CursorToken != nil {
		id := req.CursorToken.ID()
		id.File = canonicalFile(id.File)
		assume = &id
	}
	index, stats, err := CollectKeywordUsage(ctx, kc.newWalker(logger), file, assume)
	recordWalk("propose", stats, started)
	if err != nil {
		logger.Warn("Keyword usage collection failed", "error", err)
		return nil, err
	}
	candidates := GenerateProposals(index, req.Prefix, req.Span)
	completionCandidates.Observe(float64(len(candidates)))
	logger.Debug("Keyword definition proposals generated", "prefix", req.Prefix, "undefined", index.Len(),
		"candidates", len(candidates), "duration", time.Since(started))
	return candidates, nil
}

// Analysis is the result of walking one file.
type Analysis struct {
	Undefined *UndefinedKeywords
	Files     []string // Every file entered, root first; catalog libraries excluded.
	Stats     WalkStats
}

// importRecorder collects usage and remembers the files the walk enters.
type importRecorder struct {
	*collectorVisitor
	files []string
}

func (r *importRecorder) VisitImport(file string, line Line) bool {
	if _, isLib := libraryFromFileID(file); !isLib {
		r.files = append(r.files, file)
	}
	return r.collectorVisitor.VisitImport(file, line)
}

// Analyze walks file and returns its undefined keywords and the files it reaches.
func (kc *KeywordCompleter) Analyze(ctx context.Context, file string, assumeUndefined *TokenID) (*Analysis, error) {
	file = canonicalFile(file)
	if assumeUndefined != nil {
		id := *assumeUndefined
		id.File = canonicalFile(id.File)
		assumeUndefined = &id
	}
	logger := kc.requestLogger("Analyze", file)
	started := time.Now()

	rec := &importRecorder{collectorVisitor: newCollectorVisitor(assumeUndefined), files: []string{file}}
	stats, err := kc.newWalker(logger).Walk(ctx, file, KeywordUseLineTypes, keywordWalkFlags, rec)
	recordWalk("analyze", stats, started)
	if err != nil {
		return nil, err
	}
	return &Analysis{Undefined: rec.Undefined(), Files: rec.files, Stats: stats}, nil
}

// UndefinedKeywords returns the keywords called in file that nothing reachable defines.
func (kc *KeywordCompleter) UndefinedKeywords(ctx context.Context, file string, assumeUndefined *TokenID) (*UndefinedKeywords, error) {
	analysis, err := kc.Analyze(ctx, file, assumeUndefined)
	if err != nil {
		return nil, err
	}
	return analysis.Undefined, nil
}

// FindKeywordDefinition returns the first definition of name reachable from file, in walk
// order. Library keywords are found with a library:<Name> file identity.
func (kc *KeywordCompleter) FindKeywordDefinition(ctx context.Context, file, name string) (*Token, bool, error) {
	file = canonicalFile(file)
	logger := kc.requestLogger("FindKeywordDefinition", file)
	started := time.Now()

	traversal := kc.newWalker(logger).Traverse(ctx, file, NewLineTypeSet(LineKeywordBegin), keywordWalkFlags)
	var found *Token
	for line := range traversal.Matches() {
		if def, ok := line.FirstToken(); ok && def.Value == name {
			found = &def
			break
		}
	}
	recordWalk("definition", traversal.Stats(), started)
	if err := traversal.Err(); err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// KeywordContextAt decides whether offset is at a keyword definition name: inside the
// first cell of a keyword definition line, or at the start of a blank line in a keyword
// table. The returned request has File, Prefix, Span and CursorToken set.
func KeywordContextAt(lines []Line, offset int) (CompletionRequest, bool) {
	idx := lineIndexAt(lines, offset)
	if idx < 0 {
		return CompletionRequest{}, false
	}
	line := lines[idx]
	if tableAt(lines, idx) != tableKeywords {
		return CompletionRequest{}, false
	}

	if line.Type == LineKeywordBegin {
		tok := line.Tokens[0]
		if offset < tok.Offset || offset > tok.End() {
			return CompletionRequest{}, false
		}
		return CompletionRequest{
			File:        line.File,
			Prefix:      tok.Value[:offset-tok.Offset],
			Span:        Span{Start: tok.Offset, Length: len(tok.Value)},
			CursorToken: &tok,
		}, true
	}
	if len(line.Tokens) == 0 && offset == line.Offset {
		return CompletionRequest{File: line.File, Span: Span{Start: offset}}, true
	}
	return CompletionRequest{}, false
}

// TokenAt returns the token covering offset.
func TokenAt(lines []Line, offset int) (Token, bool) {
	idx := lineIndexAt(lines, offset)
	if idx < 0 {
		return Token{}, false
	}
	for _, tok := range lines[idx].Tokens {
		if offset >= tok.Offset && offset <= tok.End() {
			return tok, true
		}
	}
	return Token{}, false
}

func lineIndexAt(lines []Line, offset int) int {
	idx := -1
	for i, line := range lines {
		if line.Offset > offset {
			break
		}
		idx = i
	}
	return idx
}

func tableAt(lines []Line, idx int) tableKind {
	for i := idx; i >= 0; i-- {
		if lines[i].Type == LineTableHeader {
			return tableFromHeader(lines[i].Tokens[0].Value)
		}
	}
	return tableNone
}
