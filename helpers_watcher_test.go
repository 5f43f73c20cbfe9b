// kwcomplete/helpers_watcher_test.go
package kwcomplete

import (
	"path/filepath"
	"testing"
	"time"
)

func TestResourceWatcher_Debounces(t *testing.T) {
	dir := t.TempDir()
	specDir := filepath.Join(dir, "specs")
	writeFile(t, filepath.Join(specDir, "keep.txt"), "")

	suites := make(chan []string, 4)
	specs := make(chan []string, 4)
	w, err := NewResourceWatcher(50*time.Millisecond,
		func(changed []string) { suites <- changed },
		func(changed []string) { specs <- changed },
		discardLogger())
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer w.Close()

	w.WatchFiles([]string{filepath.Join(dir, "suite.robot"), "library:BuiltIn"})
	w.WatchSpecDir(specDir)

	writeFile(t, filepath.Join(dir, "suite.robot"), "*** Test Cases ***\n")
	writeFile(t, filepath.Join(dir, "suite.robot"), "*** Test Cases ***\nT\n")
	writeFile(t, filepath.Join(dir, "notes.md"), "ignored")
	writeFile(t, filepath.Join(specDir, "mailer.yaml"), libdocYAMLDoc)

	select {
	case got := <-suites:
		if len(got) != 1 || got[0] != filepath.Join(dir, "suite.robot") {
			t.Errorf("suite changes = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no suite change reported")
	}
	select {
	case got := <-specs:
		if len(got) != 1 || got[0] != filepath.Join(specDir, "mailer.yaml") {
			t.Errorf("spec changes = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no spec change reported")
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestIsSpecFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.json": true, "a.YAML": true, "a.yml": true, "a.xml": false, "a.robot": false,
	} {
		if got := isSpecFile(path); got != want {
			t.Errorf("isSpecFile(%q) = %v, want %v", path, got, want)
		}
	}
}
