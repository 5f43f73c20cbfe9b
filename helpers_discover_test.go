// kwcomplete/helpers_discover_test.go
package kwcomplete

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiscoverSuiteFiles(t *testing.T) {
	dir := writeArchive(t, `
-- .gitignore --
ignored/
*.txt
-- a.robot --
-- b.resource --
-- c.txt --
-- d.py --
-- .hidden.robot --
-- node_modules/x.robot --
-- .git/y.robot --
-- ignored/y.robot --
-- sub/z.robot --
`)
	got, err := DiscoverSuiteFiles(dir)
	if err != nil {
		t.Fatalf("DiscoverSuiteFiles failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.robot"),
		filepath.Join(dir, "b.resource"),
		filepath.Join(dir, "sub", "z.robot"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	single, err := DiscoverSuiteFiles(filepath.Join(dir, "d.py"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{filepath.Join(dir, "d.py")}, single); diff != "" {
		t.Errorf("file root mismatch (-want +got):\n%s", diff)
	}

	if _, err := DiscoverSuiteFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing root")
	}
}

func TestIsSuiteFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.robot":    true,
		"A.ROBOT":    true,
		"x.resource": true,
		"notes.txt":  true,
		"lib.py":     false,
		"robot":      false,
	} {
		if got := IsSuiteFile(path); got != want {
			t.Errorf("IsSuiteFile(%q) = %v, want %v", path, got, want)
		}
	}
}
