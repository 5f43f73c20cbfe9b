// kwcomplete/helpers_proposals_test.go
package kwcomplete

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func indexFor(t *testing.T, files mapSource, root string) *UndefinedKeywords {
	t.Helper()
	index, _, err := CollectKeywordUsage(context.Background(), newMapWalker(files), root, nil)
	if err != nil {
		t.Fatalf("CollectKeywordUsage failed: %v", err)
	}
	return index
}

func TestGenerateProposals(t *testing.T) {
	index := indexFor(t, mapSource{"suite": loginSuite, "helpers": helpersResource}, "suite")
	span := Span{Start: 10, Length: 2}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"Click Button", "Log Message", "Close All"}},
		{"cl", []string{"Click Button", "Close All"}},
		{"CL", []string{"Click Button", "Close All"}},
		{"lo", []string{"Log Message"}},
		{"Click Button", []string{"Click Button"}},
		{"Click Buttons", []string{}},
		{"zz", []string{}},
	}
	for _, tt := range tests {
		t.Run("prefix="+tt.prefix, func(t *testing.T) {
			got := GenerateProposals(index, tt.prefix, span)
			if got == nil {
				t.Fatal("GenerateProposals returned nil")
			}
			names := make([]string, 0, len(got))
			for _, c := range got {
				names = append(names, c.Text)
				if c.Span != span {
					t.Errorf("candidate %q span = %+v, want %+v", c.Text, c.Span, span)
				}
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Errorf("candidates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateProposals_Repeatable(t *testing.T) {
	index := indexFor(t, mapSource{"suite": loginSuite, "helpers": helpersResource}, "suite")
	span := Span{Start: 3, Length: 1}
	for _, prefix := range []string{"", "c", "Log", "nothing"} {
		first := GenerateProposals(index, prefix, span)
		second := GenerateProposals(index, prefix, span)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("prefix %q: second call differs (-first +second):\n%s", prefix, diff)
		}
		if diff := cmp.Diff([]string{"Click Button", "Log Message", "Close All"}, index.Names()); diff != "" {
			t.Errorf("prefix %q: index changed (-want +got):\n%s", prefix, diff)
		}
	}
}

func TestGenerateProposals_NilIndex(t *testing.T) {
	if got := GenerateProposals(nil, "x", Span{}); got == nil || len(got) != 0 {
		t.Errorf("GenerateProposals(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestCompletionCandidate_Provenance(t *testing.T) {
	index := indexFor(t, mapSource{"suite": loginSuite, "helpers": helpersResource}, "suite")
	got := GenerateProposals(index, "click", Span{})
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]

	wantText := "Called from the following testcases/keywords:\n- TEST CASE Login Test\n- KEYWORD Setup Things"
	if diff := cmp.Diff(wantText, c.Provenance()); diff != "" {
		t.Errorf("Provenance mismatch (-want +got):\n%s", diff)
	}
	wantMD := "Called from the following testcases/keywords:\n\n- **TEST CASE** Login Test\n- **KEYWORD** Setup Things"
	if diff := cmp.Diff(wantMD, c.ProvenanceMarkdown()); diff != "" {
		t.Errorf("ProvenanceMarkdown mismatch (-want +got):\n%s", diff)
	}
	wantHTML := "Called from the following testcases/keywords:<ul><li><b>TEST CASE</b> Login Test</li><li><b>KEYWORD</b> Setup Things</li></ul>"
	if diff := cmp.Diff(wantHTML, c.ProvenanceHTML()); diff != "" {
		t.Errorf("ProvenanceHTML mismatch (-want +got):\n%s", diff)
	}
}

func TestCompletionCandidate_ProvenanceUnknownAndEscaping(t *testing.T) {
	c := CompletionCandidate{
		Text:    "Prepare",
		Callers: []Caller{{Kind: CallerUnknown}, {Kind: CallerTestCase, Name: "a<b>"}},
	}
	if got, want := c.Provenance(), "Called from the following testcases/keywords:\n- UNKNOWN\n- TEST CASE a<b>"; got != want {
		t.Errorf("Provenance() = %q, want %q", got, want)
	}
	if got, want := c.ProvenanceHTML(), "Called from the following testcases/keywords:<ul><li><b>UNKNOWN</b></li><li><b>TEST CASE</b> a&lt;b&gt;</li></ul>"; got != want {
		t.Errorf("ProvenanceHTML() = %q, want %q", got, want)
	}
}

func TestCallSite_Caller(t *testing.T) {
	tc := Token{Value: "Login Test", Type: ArgNewTestCase}
	kw := Token{Value: "Do It", Type: ArgNewKeyword}
	tests := []struct {
		site CallSite
		want Caller
	}{
		{CallSite{Context: &tc}, Caller{Kind: CallerTestCase, Name: "Login Test"}},
		{CallSite{Context: &kw}, Caller{Kind: CallerKeyword, Name: "Do It"}},
		{CallSite{}, Caller{Kind: CallerUnknown}},
	}
	for _, tt := range tests {
		if got := tt.site.Caller(); got != tt.want {
			t.Errorf("Caller() = %+v, want %+v", got, tt.want)
		}
	}
}
