// kwcomplete/helpers_collector.go
// Collects keyword calls and definitions from a walk and reduces them to the set of
// keywords that are called but never defined.
package kwcomplete

import (
	"context"
	"iter"
)

// UndefinedKeywords maps keyword names to their call sites, in first-call order.
type UndefinedKeywords struct {
	names []string
	sites map[string][]CallSite
}

func newUndefinedKeywords() *UndefinedKeywords {
	return &UndefinedKeywords{sites: make(map[string][]CallSite)}
}

func (u *UndefinedKeywords) add(name string, site CallSite) {
	if _, ok := u.sites[name]; !ok {
		u.names = append(u.names, name)
	}
	u.sites[name] = append(u.sites[name], site)
}

// Names returns the undefined keyword names in first-call order.
func (u *UndefinedKeywords) Names() []string {
	if u == nil {
		return nil
	}
	return append([]string(nil), u.names...)
}

// CallSites returns the call sites of name in file order.
func (u *UndefinedKeywords) CallSites(name string) []CallSite {
	if u == nil {
		return nil
	}
	return u.sites[name]
}

func (u *UndefinedKeywords) Len() int {
	if u == nil {
		return 0
	}
	return len(u.names)
}

// All iterates names and call sites in first-call order.
func (u *UndefinedKeywords) All() iter.Seq2[string, []CallSite] {
	return func(yield func(string, []CallSite) bool) {
		if u == nil {
			return
		}
		for _, name := range u.names {
			if !yield(name, u.sites[name]) {
				return
			}
		}
	}
}

// usageState is the accumulator threaded through foldLine.
type usageState struct {
	context *Token
	calls   *UndefinedKeywords // Every call seen in the root file; pruned by defined at the end.
	defined map[string]struct{}
}

func newUsageState() usageState {
	return usageState{calls: newUndefinedKeywords(), defined: make(map[string]struct{})}
}

// foldLine applies one walked line to the state. Calls and contexts come only from the
// root file; definitions count from every file except the one token named by
// assumeUndefined.
func foldLine(state usageState, line Line, loc FileLocation, assumeUndefined *TokenID) usageState {
	if loc.Root {
		for i := range line.Tokens {
			tok := line.Tokens[i]
			switch tok.Type {
			case ArgNewTestCase, ArgNewKeyword:
				state.context = &tok
			case ArgKeywordCall, ArgKeywordCallDynamic:
				state.calls.add(tok.Value, CallSite{Context: state.context, Call: tok})
			}
		}
	}
	if line.Type == LineKeywordBegin {
		if def, ok := line.FirstToken(); ok {
			if assumeUndefined == nil || def.ID() != *assumeUndefined {
				state.defined[def.Value] = struct{}{}
			}
		}
	}
	return state
}

// undefined builds the index of called names with no definition.
func (s usageState) undefined() *UndefinedKeywords {
	out := newUndefinedKeywords()
	for name, sites := range s.calls.All() {
		if _, ok := s.defined[name]; ok {
			continue
		}
		for _, site := range sites {
			out.add(name, site)
		}
	}
	return out
}

// CollectKeywordUsage walks from root and returns the keywords called in root that no
// reachable file defines. assumeUndefined, when set, names a definition token that does
// not count as a definition.
func CollectKeywordUsage(ctx context.Context, walker *Walker, root string, assumeUndefined *TokenID) (*UndefinedKeywords, WalkStats, error) {
	traversal := walker.Traverse(ctx, root, KeywordUseLineTypes, keywordWalkFlags)
	state := newUsageState()
	for line, loc := range traversal.Matches() {
		state = foldLine(state, line, loc, assumeUndefined)
	}
	if err := traversal.Err(); err != nil {
		return nil, traversal.Stats(), err
	}
	return state.undefined(), traversal.Stats(), nil
}

// collectorVisitor adapts the fold to the Visitor interface. It follows every import.
type collectorVisitor struct {
	state           usageState
	assumeUndefined *TokenID
}

func newCollectorVisitor(assumeUndefined *TokenID) *collectorVisitor {
	return &collectorVisitor{state: newUsageState(), assumeUndefined: assumeUndefined}
}

func (v *collectorVisitor) VisitMatch(line Line, loc FileLocation) {
	v.state = foldLine(v.state, line, loc, v.assumeUndefined)
}

func (v *collectorVisitor) VisitImport(string, Line) bool { return true }

func (v *collectorVisitor) Undefined() *UndefinedKeywords { return v.state.undefined() }
