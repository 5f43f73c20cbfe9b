// kwcomplete/helpers_diagnostics.go
// Diagnostics for keyword calls that nothing reachable defines.
package kwcomplete

import (
	"fmt"
	"log/slog"
)

const (
	diagnosticSource           = "kwcomplete"
	undefinedKeywordDiagnostic = "undefined-keyword"
)

// UndefinedKeywordDiagnostics returns one warning per call site, in first-call order.
// Call sites outside file are ignored.
func UndefinedKeywordDiagnostics(index *UndefinedKeywords, file string, logger *slog.Logger) []Diagnostic {
	if logger == nil {
		logger = slog.Default()
	}
	diagnostics := []Diagnostic{}
	for name, sites := range index.All() {
		for _, site := range sites {
			if site.Call.File != file {
				logger.Debug("Call site outside the diagnosed file", "keyword", name, "call_file", site.Call.File)
				continue
			}
			diagnostics = append(diagnostics, Diagnostic{
				Range:    Range{Start: site.Call.Offset, End: site.Call.End()},
				Severity: SeverityWarning,
				Code:     undefinedKeywordDiagnostic,
				Source:   diagnosticSource,
				Message:  fmt.Sprintf("Keyword '%s' is not defined in this file or its imports", name),
			})
		}
	}
	return diagnostics
}
