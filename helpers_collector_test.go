// kwcomplete/helpers_collector_test.go
package kwcomplete

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const loginSuite = `*** Settings ***
Resource    helpers

*** Test Cases ***
Login Test
    Click Button    login
    Log Message    hi
    Helper

*** Keywords ***
Setup Things
    Click Button    again
    Close All
`

const helpersResource = `*** Keywords ***
Helper
    No Operation
`

func callerNames(sites []CallSite) []string {
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		out = append(out, s.Caller().String())
	}
	return out
}

func TestCollectKeywordUsage(t *testing.T) {
	files := mapSource{"suite": loginSuite, "helpers": helpersResource}
	index, stats, err := CollectKeywordUsage(context.Background(), newMapWalker(files), "suite", nil)
	if err != nil {
		t.Fatalf("CollectKeywordUsage failed: %v", err)
	}
	if stats.FilesVisited != 2 {
		t.Errorf("FilesVisited = %d, want 2", stats.FilesVisited)
	}

	// Helper is defined by the resource; No Operation is called only outside the root.
	if diff := cmp.Diff([]string{"Click Button", "Log Message", "Close All"}, index.Names()); diff != "" {
		t.Errorf("undefined names mismatch (-want +got):\n%s", diff)
	}
	wantCallers := map[string][]string{
		"Click Button": {"TEST CASE Login Test", "KEYWORD Setup Things"},
		"Log Message":  {"TEST CASE Login Test"},
		"Close All":    {"KEYWORD Setup Things"},
	}
	for name, want := range wantCallers {
		if diff := cmp.Diff(want, callerNames(index.CallSites(name))); diff != "" {
			t.Errorf("callers of %q mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestCollectKeywordUsage_RootUnreadable(t *testing.T) {
	_, _, err := CollectKeywordUsage(context.Background(), newMapWalker(mapSource{}), "gone", nil)
	if err == nil {
		t.Fatal("expected an error for an unreadable root")
	}
}

func TestCollectKeywordUsage_AssumeUndefined(t *testing.T) {
	content := "*** Test Cases ***\nT\n    Click Button\n\n*** Keywords ***\nClick Button\n    No Operation\n"
	files := mapSource{"suite": content}
	w := newMapWalker(files)

	index, _, err := CollectKeywordUsage(context.Background(), w, "suite", nil)
	if err != nil {
		t.Fatal(err)
	}
	if index.Len() != 0 {
		t.Errorf("expected no undefined keywords, got %v", index.Names())
	}

	def := TokenID{File: "suite", Offset: strings.LastIndex(content, "Click Button")}
	index, _, err = CollectKeywordUsage(context.Background(), w, "suite", &def)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Click Button"}, index.Names()); diff != "" {
		t.Errorf("names mismatch with the definition under the cursor excluded (-want +got):\n%s", diff)
	}
}

func TestCollectKeywordUsage_AssumeUndefinedOnlyThatToken(t *testing.T) {
	// The same name defined again in an import still counts.
	content := "*** Settings ***\nResource    other\n*** Test Cases ***\nT\n    Click Button\n*** Keywords ***\nClick Button\n"
	files := mapSource{"suite": content, "other": "*** Keywords ***\nClick Button\n"}
	def := TokenID{File: "suite", Offset: strings.LastIndex(content, "Click Button")}

	index, _, err := CollectKeywordUsage(context.Background(), newMapWalker(files), "suite", &def)
	if err != nil {
		t.Fatal(err)
	}
	if index.Len() != 0 {
		t.Errorf("expected the imported definition to count, got %v", index.Names())
	}
}

func TestCollectKeywordUsage_NilContext(t *testing.T) {
	content := "*** Settings ***\nSuite Setup    Prepare\n\n*** Test Cases ***\nT\n    Prepare\n"
	index, _, err := CollectKeywordUsage(context.Background(), newMapWalker(mapSource{"suite": content}), "suite", nil)
	if err != nil {
		t.Fatal(err)
	}
	sites := index.CallSites("Prepare")
	if len(sites) != 2 {
		t.Fatalf("got %d call sites, want 2", len(sites))
	}
	if sites[0].Context != nil {
		t.Errorf("first call site context = %+v, want nil", sites[0].Context)
	}
	if diff := cmp.Diff([]string{"UNKNOWN", "TEST CASE T"}, callerNames(sites)); diff != "" {
		t.Errorf("callers mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorVisitor_MatchesTraversal(t *testing.T) {
	files := mapSource{"suite": loginSuite, "helpers": helpersResource}
	w := newMapWalker(files)

	v := newCollectorVisitor(nil)
	if _, err := w.Walk(context.Background(), "suite", KeywordUseLineTypes, keywordWalkFlags, v); err != nil {
		t.Fatal(err)
	}
	viaTraversal, _, err := CollectKeywordUsage(context.Background(), w, "suite", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(viaTraversal.Names(), v.Undefined().Names()); diff != "" {
		t.Errorf("visitor and traversal disagree (-traversal +visitor):\n%s", diff)
	}
}

func TestUndefinedKeywords_NilSafe(t *testing.T) {
	var u *UndefinedKeywords
	if u.Len() != 0 || u.Names() != nil || u.CallSites("x") != nil {
		t.Error("nil index should behave as empty")
	}
	for range u.All() {
		t.Error("nil index should yield nothing")
	}
}

func TestFoldLine_ContextOnlyFromRoot(t *testing.T) {
	imported := ParseLines("other", []byte("*** Keywords ***\nOther Kw\n    Inner Call\n"))
	root := ParseLines("root", []byte("*** Test Cases ***\n    Orphan Call\n"))

	state := newUsageState()
	for _, l := range imported {
		state = foldLine(state, l, FileLocation{File: "other"}, nil)
	}
	for _, l := range root {
		state = foldLine(state, l, FileLocation{File: "root", Root: true}, nil)
	}
	u := state.undefined()
	if diff := cmp.Diff([]string{"Orphan Call"}, u.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if ctx := u.CallSites("Orphan Call")[0].Context; ctx != nil {
		t.Errorf("context leaked from an imported file: %+v", ctx)
	}
}

func TestCollectKeywordUsage_ImportCycles(t *testing.T) {
	const a = `*** Settings ***
Resource    b

*** Test Cases ***
First
    Click Button    one
    Log Message

*** Keywords ***
Local Step
    Click Button    two
`
	const b = `*** Settings ***
Resource    a

*** Keywords ***
From B
    Click Button    three
`
	tests := []struct {
		name  string
		files mapSource
	}{
		{"a imports b imports a", mapSource{"a": a, "b": b}},
		{"a imports itself", mapSource{"a": strings.Replace(a, "Resource    b", "Resource    a", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, stats, err := CollectKeywordUsage(context.Background(), newMapWalker(tt.files), "a", nil)
			if err != nil {
				t.Fatalf("CollectKeywordUsage failed: %v", err)
			}
			if stats.CyclesAvoided != 1 {
				t.Errorf("CyclesAvoided = %d, want 1", stats.CyclesAvoided)
			}

			first := strings.Index(a, "Click Button")
			second := strings.LastIndex(a, "Click Button")
			logAt := strings.Index(a, "Log Message")
			type site struct {
				Offset int
				Caller string
			}
			sites := func(name string) []site {
				var out []site
				for _, s := range index.CallSites(name) {
					out = append(out, site{s.Call.Offset, s.Caller().String()})
				}
				return out
			}
			want := map[string][]site{
				"Click Button": {{first, "TEST CASE First"}, {second, "KEYWORD Local Step"}},
				"Log Message":  {{logAt, "TEST CASE First"}},
			}
			if diff := cmp.Diff([]string{"Click Button", "Log Message"}, index.Names()); diff != "" {
				t.Errorf("undefined names mismatch (-want +got):\n%s", diff)
			}
			for name, w := range want {
				if diff := cmp.Diff(w, sites(name)); diff != "" {
					t.Errorf("call sites of %q mismatch (-want +got):\n%s", name, diff)
				}
			}
		})
	}
}
