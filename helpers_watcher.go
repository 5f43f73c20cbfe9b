// kwcomplete/helpers_watcher.go
// Watches the directories of reachable suite files and library spec directories.
package kwcomplete

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the changed paths of one debounced burst, sorted.
type ChangeHandler func(changed []string)

// ResourceWatcher reports changes to suite files and library specs in watched
// directories. Bursts of events are coalesced into one callback.
type ResourceWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	delay   time.Duration

	onSuites ChangeHandler
	onSpecs  ChangeHandler

	mu       sync.Mutex
	dirs     map[string]struct{}
	specDirs map[string]struct{}
	pending  map[string]struct{}
	timer    *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewResourceWatcher starts watching nothing; add directories with Watch/WatchSpecDir.
// onSuites runs for suite file changes, onSpecs for changes in library spec directories.
func NewResourceWatcher(debounce time.Duration, onSuites, onSpecs ChangeHandler, logger *slog.Logger) (*ResourceWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ResourceWatcher{
		watcher:  fw,
		logger:   logger.With("component", "ResourceWatcher"),
		delay:    debounce,
		onSuites: onSuites,
		onSpecs:  onSpecs,
		dirs:     make(map[string]struct{}),
		specDirs: make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// WatchFiles watches the parent directories of files. Library identities are ignored.
func (w *ResourceWatcher) WatchFiles(files []string) {
	for _, file := range files {
		if _, isLib := libraryFromFileID(file); isLib {
			continue
		}
		w.addDir(filepath.Dir(file), w.dirs)
	}
}

// WatchSpecDir watches a library spec directory.
func (w *ResourceWatcher) WatchSpecDir(dir string) {
	w.addDir(filepath.Clean(dir), w.specDirs)
}

func (w *ResourceWatcher) addDir(dir string, into map[string]struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := into[dir]; ok {
		return
	}
	_, watched := w.dirs[dir]
	_, watchedSpec := w.specDirs[dir]
	if !watched && !watchedSpec {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Cannot watch directory", "dir", dir, "error", err)
			return
		}
		w.logger.Debug("Watching directory", "dir", dir)
	}
	into[dir] = struct{}{}
}

// SetDebounce changes the quiet period used for later bursts.
func (w *ResourceWatcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delay = d
}

func (w *ResourceWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.queue(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *ResourceWatcher) queue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *ResourceWatcher) flush() {
	w.mu.Lock()
	var suites, specs []string
	for path := range w.pending {
		dir := filepath.Dir(path)
		if _, ok := w.specDirs[dir]; ok && isSpecFile(path) {
			specs = append(specs, path)
		}
		if _, ok := w.dirs[dir]; ok && IsSuiteFile(path) {
			suites = append(suites, path)
		}
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	sort.Strings(specs)
	sort.Strings(suites)
	if len(specs) > 0 && w.onSpecs != nil {
		w.logger.Debug("Library specs changed", "count", len(specs))
		w.onSpecs(specs)
	}
	if len(suites) > 0 && w.onSuites != nil {
		w.logger.Debug("Suite files changed", "count", len(suites))
		w.onSuites(suites)
	}
}

func isSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Close stops the watcher. Pending callbacks are dropped.
func (w *ResourceWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// reimportSpecs imports changed spec files into catalog, skipping removed ones.
func reimportSpecs(ctx context.Context, catalog *LibraryCatalog, paths []string, logger *slog.Logger) {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return
		}
		spec, err := catalog.ImportSpecFile(path)
		if err != nil {
			logger.Debug("Changed library spec not imported", "path", path, "error", err)
			continue
		}
		logger.Info("Library spec reloaded", "path", path, "library", spec.Name)
	}
}
