// kwcomplete/helpers_walker.go
// Import graph traversal.
package kwcomplete

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// Visitor receives the wanted lines of a traversal and decides which imports to follow.
type Visitor interface {
	VisitMatch(line Line, loc FileLocation)
	VisitImport(importedFile string, line Line) bool
}

// WalkStats counts what one traversal did.
type WalkStats struct {
	FilesVisited      int
	ImportsSkipped    int // Unresolvable or unreadable imports.
	CyclesAvoided     int
	DuplicatesAvoided int
}

// Walker visits the file under edit and everything reachable through its imports,
// depth first, in line order.
type Walker struct {
	source   LineSource
	resolver ImportResolver
	implicit []string // Library identities walked after the root when library keywords are wanted.
	logger   *slog.Logger
}

// NewWalker creates a walker. implicit holds file identities (usually library:<Name>)
// treated as imported by every root file.
func NewWalker(source LineSource, resolver ImportResolver, implicit []string, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		source:   source,
		resolver: resolver,
		implicit: append([]string(nil), implicit...),
		logger:   logger.With("component", "Walker"),
	}
}

type walkFrame struct {
	file  string
	lines []Line
	next  int
	root  bool
}

// Traversal is one lazy walk. Err and Stats are meaningful once iteration has finished.
type Traversal struct {
	w      *Walker
	ctx    context.Context
	root   string
	wanted LineTypeSet
	flags  WalkFlags

	stats WalkStats
	err   error
}

// Traverse prepares a traversal from root. Nothing is read until Matches is iterated.
func (w *Walker) Traverse(ctx context.Context, root string, wanted LineTypeSet, flags WalkFlags) *Traversal {
	return &Traversal{w: w, ctx: ctx, root: root, wanted: wanted, flags: flags}
}

// Matches yields every wanted line with its location. Breaking out of the loop stops
// the traversal.
func (t *Traversal) Matches() iter.Seq2[Line, FileLocation] {
	return func(yield func(Line, FileLocation) bool) {
		t.stats, t.err = t.w.run(t.ctx, t.root, t.wanted, t.flags, nil, yield)
	}
}

// Err returns the error that ended the traversal, if any.
func (t *Traversal) Err() error { return t.err }

// Stats returns the traversal counters.
func (t *Traversal) Stats() WalkStats { return t.stats }

// Matches is shorthand for Traverse(...).Matches() when errors and stats are not needed.
func (w *Walker) Matches(ctx context.Context, root string, wanted LineTypeSet, flags WalkFlags) iter.Seq2[Line, FileLocation] {
	return w.Traverse(ctx, root, wanted, flags).Matches()
}

// Walk drives visitor over the traversal from root.
func (w *Walker) Walk(ctx context.Context, root string, wanted LineTypeSet, flags WalkFlags, visitor Visitor) (WalkStats, error) {
	return w.run(ctx, root, wanted, flags, visitor.VisitImport, func(line Line, loc FileLocation) bool {
		visitor.VisitMatch(line, loc)
		return true
	})
}

var errStopWalk = errors.New("walk stopped")

func (w *Walker) run(
	ctx context.Context,
	root string,
	wanted LineTypeSet,
	flags WalkFlags,
	visitImport func(string, Line) bool,
	yield func(Line, FileLocation) bool,
) (WalkStats, error) {
	var stats WalkStats
	logger := w.logger.With("root", root)

	rootLines, err := w.source.Lines(ctx, root)
	if err != nil {
		return stats, fmt.Errorf("%w: %s: %w", ErrRootUnreadable, root, err)
	}

	onPath := map[string]struct{}{root: {}}
	completed := make(map[string]struct{})
	stack := []*walkFrame{{file: root, lines: rootLines, root: true}}
	stats.FilesVisited++

	var pending []string
	if flags.LibraryKeywords {
		pending = append(pending, w.implicit...)
	}

	// enter pushes file after the cycle and dedup checks. from is only used for logging.
	enter := func(file, from string) {
		if _, ok := onPath[file]; ok {
			stats.CyclesAvoided++
			logger.Debug("Import cycle, not entering file again", "file", file, "from", from)
			return
		}
		if _, ok := completed[file]; ok {
			stats.DuplicatesAvoided++
			logger.Debug("File already visited in this walk", "file", file, "from", from)
			return
		}
		lines, err := w.source.Lines(ctx, file)
		if err != nil {
			stats.ImportsSkipped++
			logger.Warn("Imported file unreadable, skipping", "file", file, "from", from, "error", err)
			return
		}
		onPath[file] = struct{}{}
		stack = append(stack, &walkFrame{file: file, lines: lines})
		stats.FilesVisited++
	}

	err = func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(stack) == 0 {
				if len(pending) == 0 {
					return nil
				}
				file := pending[0]
				pending = pending[1:]
				enter(file, "implicit")
				continue
			}

			top := stack[len(stack)-1]
			if top.next >= len(top.lines) {
				stack = stack[:len(stack)-1]
				delete(onPath, top.file)
				completed[top.file] = struct{}{}
				continue
			}
			line := top.lines[top.next]
			top.next++

			if wanted.Has(line.Type) {
				if line.Type < 0 || line.Type >= lineTypeCount {
					panic(fmt.Sprintf("kwcomplete: wanted line %s at %s:%d has no known role", line.Type, top.file, line.Number))
				}
				if !yield(line, FileLocation{File: top.file, Root: top.root}) {
					return errStopWalk
				}
			}

			kind, target := parseImport(line)
			if kind == importNone {
				continue
			}
			imported, ok := w.resolver.ResolveImport(top.file, line, flags)
			if !ok {
				if (kind == importVariables && !flags.LibraryVariables) || (kind == importLibrary && !flags.LibraryKeywords) {
					continue
				}
				stats.ImportsSkipped++
				logger.Warn("Import could not be resolved, skipping", "kind", kind.String(), "target", target, "from", top.file, "line", line.Number+1)
				continue
			}
			if visitImport != nil && !visitImport(imported, line) {
				continue
			}
			enter(imported, top.file)
		}
	}()
	if errors.Is(err, errStopWalk) {
		err = nil
	}
	logger.Debug("Walk finished", "files_visited", stats.FilesVisited, "imports_skipped", stats.ImportsSkipped,
		"cycles_avoided", stats.CyclesAvoided, "duplicates_avoided", stats.DuplicatesAvoided)
	return stats, err
}
