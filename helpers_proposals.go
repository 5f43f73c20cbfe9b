// kwcomplete/helpers_proposals.go
// Completion candidates for undefined keywords.
package kwcomplete

import (
	"html"
	"strings"
)

// Caller kinds shown in provenance.
const (
	CallerTestCase = "TEST CASE"
	CallerKeyword  = "KEYWORD"
	CallerUnknown  = "UNKNOWN" // Call with no preceding test case or keyword.
)

const provenanceHeading = "Called from the following testcases/keywords:"

// Caller is the test case or keyword that contains a call.
type Caller struct {
	Kind string
	Name string
}

func (c Caller) String() string {
	if c.Name == "" {
		return c.Kind
	}
	return c.Kind + " " + c.Name
}

// Caller returns the test case or keyword the call sits in.
func (site CallSite) Caller() Caller {
	switch {
	case site.Context == nil:
		return Caller{Kind: CallerUnknown}
	case site.Context.Type == ArgNewTestCase:
		return Caller{Kind: CallerTestCase, Name: site.Context.Value}
	default:
		return Caller{Kind: CallerKeyword, Name: site.Context.Value}
	}
}

// CompletionCandidate proposes defining one undefined keyword.
type CompletionCandidate struct {
	Text    string
	Span    Span
	Callers []Caller
}

// Provenance renders the callers as a plain-text bullet list.
func (c CompletionCandidate) Provenance() string {
	var b strings.Builder
	b.WriteString(provenanceHeading)
	for _, caller := range c.Callers {
		b.WriteString("\n- ")
		b.WriteString(caller.String())
	}
	return b.String()
}

// ProvenanceHTML renders the callers for tooltip widgets that take HTML.
func (c CompletionCandidate) ProvenanceHTML() string {
	var b strings.Builder
	b.WriteString(provenanceHeading)
	b.WriteString("<ul>")
	for _, caller := range c.Callers {
		b.WriteString("<li><b>")
		b.WriteString(caller.Kind)
		b.WriteString("</b>")
		if caller.Name != "" {
			b.WriteString(" ")
			b.WriteString(html.EscapeString(caller.Name))
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// ProvenanceMarkdown renders the callers as markdown.
func (c CompletionCandidate) ProvenanceMarkdown() string {
	var b strings.Builder
	b.WriteString(provenanceHeading)
	b.WriteString("\n")
	for _, caller := range c.Callers {
		b.WriteString("\n- **")
		b.WriteString(caller.Kind)
		b.WriteString("**")
		if caller.Name != "" {
			b.WriteString(" ")
			b.WriteString(caller.Name)
		}
	}
	return b.String()
}

// GenerateProposals returns one candidate per undefined keyword whose name starts with
// typedPrefix, ignoring case, in first-call order.
func GenerateProposals(index *UndefinedKeywords, typedPrefix string, span Span) []CompletionCandidate {
	candidates := []CompletionCandidate{}
	prefix := strings.ToLower(typedPrefix)
	for name, sites := range index.All() {
		if !strings.HasPrefix(strings.ToLower(name), prefix) {
			continue
		}
		callers := make([]Caller, 0, len(sites))
		for _, site := range sites {
			callers = append(callers, site.Caller())
		}
		candidates = append(candidates, CompletionCandidate{Text: name, Span: span, Callers: callers})
	}
	return candidates
}
