// kwcomplete/helpers_catalog.go
// Library keyword catalog: which keywords a Library import makes available.
// Entries persist in bbolt; a memory map mirrors the database for lookups.
package kwcomplete

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var catalogBucketName = []byte("LibraryKeywords")

//go:embed builtin_libraries.json
var builtinLibrariesJSON []byte

// libraryFilePrefix marks file identities that name a catalog library rather than a path.
const libraryFilePrefix = "library:"

// LibraryKeyword is one keyword exported by a library.
type LibraryKeyword struct {
	Name string   `json:"name" yaml:"name"`
	Doc  string   `json:"doc,omitempty" yaml:"doc"`
	Args []string `json:"args,omitempty" yaml:"args"`
}

// LibrarySpec is the stored description of one library.
type LibrarySpec struct {
	Name     string
	Version  string
	Source   string // Spec file it was imported from; empty for bundled libraries.
	Keywords []LibraryKeyword
}

// libdocJSON is the subset of libdoc's JSON output the catalog reads. Keyword args are
// plain strings in older libdoc versions and objects with a "repr" field in newer ones.
type libdocJSON struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Keywords []struct {
		Name string            `json:"name"`
		Doc  string            `json:"doc"`
		Args []json.RawMessage `json:"args"`
	} `json:"keywords"`
}

type libdocYAML struct {
	Name     string           `yaml:"name"`
	Version  string           `yaml:"version"`
	Keywords []LibraryKeyword `yaml:"keywords"`
}

func (l libdocJSON) toSpec() LibrarySpec {
	spec := LibrarySpec{Name: l.Name, Version: l.Version}
	for _, kw := range l.Keywords {
		entry := LibraryKeyword{Name: kw.Name, Doc: kw.Doc}
		for _, raw := range kw.Args {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				entry.Args = append(entry.Args, s)
				continue
			}
			var obj struct {
				Name string `json:"name"`
				Repr string `json:"repr"`
			}
			if err := json.Unmarshal(raw, &obj); err == nil {
				if obj.Repr != "" {
					entry.Args = append(entry.Args, obj.Repr)
				} else if obj.Name != "" {
					entry.Args = append(entry.Args, obj.Name)
				}
			}
		}
		spec.Keywords = append(spec.Keywords, entry)
	}
	return spec
}

// ParseLibrarySpec decodes a libdoc JSON document or the YAML equivalent, chosen by the
// file extension of name.
func ParseLibrarySpec(name string, data []byte) (LibrarySpec, error) {
	var spec LibrarySpec
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		var doc libdocJSON
		if err := json.Unmarshal(data, &doc); err != nil {
			return spec, fmt.Errorf("%w: %s: %w", ErrLibrarySpec, name, err)
		}
		spec = doc.toSpec()
	case ".yaml", ".yml":
		var doc libdocYAML
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return spec, fmt.Errorf("%w: %s: %w", ErrLibrarySpec, name, err)
		}
		spec = LibrarySpec{Name: doc.Name, Version: doc.Version, Keywords: doc.Keywords}
	default:
		return spec, fmt.Errorf("%w: %s: unsupported extension", ErrLibrarySpec, name)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return spec, fmt.Errorf("%w: %s: missing library name", ErrLibrarySpec, name)
	}
	spec.Source = name
	return spec, nil
}

// LibraryCatalog maps library names to their keywords.
type LibraryCatalog struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	libs   map[string]LibrarySpec // Keyed by normalizeName(spec.Name).
	logger *slog.Logger
}

// defaultCatalogPath returns the catalog location under the user cache directory.
func defaultCatalogPath() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dbDir := filepath.Join(userCacheDir, configDirName, "bboltdb", fmt.Sprintf("v%d", catalogSchemaVersion))
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return "", err
	}
	return filepath.Join(dbDir, "catalog.db"), nil
}

// NewLibraryCatalog opens (or creates) the catalog database at dbPath. An empty dbPath,
// or a database that cannot be opened, gives a memory-only catalog. Bundled libraries
// are always present.
func NewLibraryCatalog(dbPath string, logger *slog.Logger) *LibraryCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &LibraryCatalog{
		libs:   make(map[string]LibrarySpec),
		logger: logger.With("component", "LibraryCatalog"),
	}

	if dbPath != "" {
		db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
		if err != nil {
			c.logger.Warn("Failed to open catalog database, keeping catalog in memory only.", "path", dbPath, "error", err)
		} else {
			err = db.Update(func(tx *bbolt.Tx) error {
				_, err := tx.CreateBucketIfNotExists(catalogBucketName)
				if err != nil {
					return fmt.Errorf("failed to create catalog bucket %s: %w", string(catalogBucketName), err)
				}
				return nil
			})
			if err != nil {
				c.logger.Warn("Failed to ensure catalog bucket exists, keeping catalog in memory only.", "error", err)
				db.Close()
			} else {
				c.db = db
				c.logger.Info("Using bbolt library catalog", "path", dbPath, "schema_version", catalogSchemaVersion)
			}
		}
	}

	if err := c.loadStored(); err != nil {
		c.logger.Warn("Some stored libraries could not be loaded", "error", err)
	}
	c.seedBundled()
	return c
}

// loadStored fills the memory map from the database.
func (c *LibraryCatalog) loadStored() error {
	if c.db == nil {
		return nil
	}
	var decodeErrs []error
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(catalogBucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var spec LibrarySpec
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&spec); err != nil {
				decodeErrs = append(decodeErrs, fmt.Errorf("%w: %s: %w", ErrCatalogDecode, string(k), err))
				return nil
			}
			c.libs[string(k)] = spec
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	return errors.Join(decodeErrs...)
}

// seedBundled adds the embedded standard libraries that are not already present, so a
// user-imported spec for the same library wins.
func (c *LibraryCatalog) seedBundled() {
	var docs []libdocJSON
	if err := json.Unmarshal(builtinLibrariesJSON, &docs); err != nil {
		c.logger.Error("Bundled library list is corrupt", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range docs {
		key := normalizeName(doc.Name)
		if _, ok := c.libs[key]; ok {
			continue
		}
		c.libs[key] = doc.toSpec()
	}
}

// Put stores spec, replacing any library with the same normalized name.
func (c *LibraryCatalog) Put(spec LibrarySpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: library name is empty", ErrCatalog)
	}
	key := normalizeName(spec.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(spec); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCatalogEncode, spec.Name, err)
		}
		err := c.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(catalogBucketName)
			if b == nil {
				return fmt.Errorf("bucket %s not found", string(catalogBucketName))
			}
			return b.Put([]byte(key), buf.Bytes())
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCatalogWrite, spec.Name, err)
		}
	}
	c.libs[key] = spec
	c.logger.Debug("Stored library", "library", spec.Name, "keywords", len(spec.Keywords), "source", spec.Source)
	return nil
}

// Get returns the library whose name matches case-, space- and underscore-insensitively.
func (c *LibraryCatalog) Get(name string) (LibrarySpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.libs[normalizeName(name)]
	return spec, ok
}

// Has reports whether the catalog knows name.
func (c *LibraryCatalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Libraries returns the stored library names, sorted.
func (c *LibraryCatalog) Libraries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.libs))
	for _, spec := range c.libs {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a library. Bundled libraries come back on the next open.
func (c *LibraryCatalog) Delete(name string) error {
	key := normalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(catalogBucketName)
			if b == nil || b.Get([]byte(key)) == nil {
				return nil
			}
			return b.Delete([]byte(key))
		})
		if err != nil {
			return fmt.Errorf("%w: failed to delete %s: %w", ErrCatalogWrite, name, err)
		}
	}
	delete(c.libs, key)
	return nil
}

// ImportSpecFile parses one spec file and stores it.
func (c *LibraryCatalog) ImportSpecFile(path string) (LibrarySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LibrarySpec{}, fmt.Errorf("%w: %w", ErrLibrarySpec, err)
	}
	spec, err := ParseLibrarySpec(path, data)
	if err != nil {
		return spec, err
	}
	return spec, c.Put(spec)
}

// ImportDir imports every *.json, *.yaml and *.yml file in dir (not recursive). Files are
// parsed in parallel; one bad file does not stop the rest. It returns how many libraries
// were stored.
func (c *LibraryCatalog) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	logger := c.logger.With("operation", "ImportDir", "dir", dir)

	var (
		mu       sync.Mutex
		imported int
		errs     []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			spec, err := c.ImportSpecFile(path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Skipping library spec", "path", path, "error", err)
				errs = append(errs, err)
				return nil
			}
			imported++
			logger.Debug("Imported library spec", "path", path, "library", spec.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return imported, err
	}
	logger.Info("Library spec import finished", "imported", imported, "failed", len(errs))
	return imported, errors.Join(errs...)
}

// Keyword looks up one keyword of a library by exact name.
func (c *LibraryCatalog) Keyword(library, keyword string) (LibraryKeyword, bool) {
	spec, ok := c.Get(library)
	if !ok {
		return LibraryKeyword{}, false
	}
	for _, kw := range spec.Keywords {
		if kw.Name == keyword {
			return kw, true
		}
	}
	return LibraryKeyword{}, false
}

// Lines renders a library as keyword definition lines so it can be walked like a file.
// Offsets are synthetic but unique, which keeps token identities stable.
func (c *LibraryCatalog) Lines(name string) ([]Line, bool) {
	spec, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	file := libraryFileID(spec.Name)
	lines := make([]Line, 0, len(spec.Keywords))
	offset := 0
	for i, kw := range spec.Keywords {
		lines = append(lines, Line{
			Type:   LineKeywordBegin,
			File:   file,
			Number: i,
			Offset: offset,
			Tokens: []Token{{Value: kw.Name, Type: ArgNewKeyword, File: file, Line: i, Offset: offset}},
		})
		offset += len(kw.Name) + 1
	}
	return lines, true
}

// Close releases the database.
func (c *LibraryCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	c.logger.Info("Closing bbolt library catalog.")
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	return nil
}

func libraryFileID(name string) string {
	return libraryFilePrefix + name
}

// libraryFromFileID returns the library name of a library identity.
func libraryFromFileID(file string) (string, bool) {
	if !strings.HasPrefix(file, libraryFilePrefix) {
		return "", false
	}
	return strings.TrimPrefix(file, libraryFilePrefix), true
}
