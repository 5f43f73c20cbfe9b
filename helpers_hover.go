// kwcomplete/helpers_hover.go
// Hover text for keyword calls.
package kwcomplete

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// formatKeywordHover renders markdown for a call to name. def is the reachable
// definition, or nil when the keyword is undefined, in which case the call sites
// from index are shown.
func formatKeywordHover(name string, def *Token, catalog *LibraryCatalog, index *UndefinedKeywords, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	var b strings.Builder
	b.WriteString("**KEYWORD** ")
	b.WriteString(name)

	if def == nil {
		sites := index.CallSites(name)
		if len(sites) == 0 {
			logger.Debug("Hover on keyword with neither definition nor call sites", "keyword", name)
			return b.String()
		}
		c := CompletionCandidate{Text: name}
		for _, site := range sites {
			c.Callers = append(c.Callers, site.Caller())
		}
		b.WriteString("\n\n_Not defined in this file or its imports._\n\n")
		b.WriteString(c.ProvenanceMarkdown())
		return b.String()
	}

	if lib, ok := libraryFromFileID(def.File); ok {
		fmt.Fprintf(&b, "\n\nFrom library `%s`", lib)
		if catalog != nil {
			if kw, found := catalog.Keyword(lib, name); found {
				if len(kw.Args) > 0 {
					fmt.Fprintf(&b, "\n\nArguments: `%s`", strings.Join(kw.Args, "`, `"))
				}
				if kw.Doc != "" {
					b.WriteString("\n\n")
					b.WriteString(kw.Doc)
				}
			}
		}
		return b.String()
	}
	fmt.Fprintf(&b, "\n\nDefined in `%s` line %d", filepath.Base(def.File), def.Line+1)
	return b.String()
}
