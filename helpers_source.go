// kwcomplete/helpers_source.go
// Line sources: where the walker gets tokenized lines for a file identity.
package kwcomplete

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LineSource yields the tokenized lines of a file identity (a path or library:<Name>).
type LineSource interface {
	Lines(ctx context.Context, file string) ([]Line, error)
}

// fileSource reads suite files from open-document overlays or disk and renders catalog
// libraries. Tokenized content is memoised by content hash.
type fileSource struct {
	catalog *LibraryCatalog
	cache   *memoryCache
	logger  *slog.Logger

	mu       sync.RWMutex
	overlays map[string][]byte
	maxSize  int64
	ttl      time.Duration
}

func newFileSource(catalog *LibraryCatalog, cache *memoryCache, cfg Config, logger *slog.Logger) *fileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &fileSource{
		catalog:  catalog,
		cache:    cache,
		logger:   logger.With("component", "FileSource"),
		overlays: make(map[string][]byte),
		maxSize:  cfg.MaxFileSizeBytes,
		ttl:      cfg.MemoryCacheTTL,
	}
}

func (s *fileSource) configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSize = cfg.MaxFileSizeBytes
	s.ttl = cfg.MemoryCacheTTL
}

// SetOverlay makes content the current text of file, replacing what is on disk.
func (s *fileSource) SetOverlay(file string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays[filepath.Clean(file)] = append([]byte(nil), content...)
}

// ClearOverlay drops the overlay for file; later reads go to disk.
func (s *fileSource) ClearOverlay(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlays, filepath.Clean(file))
}

func (s *fileSource) overlay(file string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.overlays[filepath.Clean(file)]
	return content, ok
}

// Exists reports whether file can be read, either as an overlay or from disk.
func (s *fileSource) Exists(file string) bool {
	if name, ok := libraryFromFileID(file); ok {
		return s.catalog != nil && s.catalog.Has(name)
	}
	if _, ok := s.overlay(file); ok {
		return true
	}
	info, err := os.Stat(file)
	return err == nil && info.Mode().IsRegular()
}

// Content returns the raw text of file.
func (s *fileSource) Content(file string) ([]byte, error) {
	if content, ok := s.overlay(file); ok {
		return content, nil
	}
	s.mu.RLock()
	maxSize := s.maxSize
	s.mu.RUnlock()

	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", file, fs.ErrInvalid)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, file, info.Size(), maxSize)
	}
	return os.ReadFile(file)
}

func (s *fileSource) Lines(ctx context.Context, file string) ([]Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name, ok := libraryFromFileID(file); ok {
		if s.catalog == nil {
			return nil, fmt.Errorf("library %s: %w", name, fs.ErrNotExist)
		}
		lines, found := s.catalog.Lines(name)
		if !found {
			return nil, fmt.Errorf("library %s: %w", name, fs.ErrNotExist)
		}
		return lines, nil
	}

	content, err := s.Content(file)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	ttl := s.ttl
	s.mu.RUnlock()

	lines, _, err := withMemoryCache(s.cache, linesCacheKey(file, content), int64(len(content))+1, ttl,
		func() ([]Line, error) { return ParseLines(file, content), nil }, s.logger)
	return lines, err
}
