// kwcomplete/helpers_catalog_test.go
package kwcomplete

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const libdocJSONDoc = `{
  "name": "Browserish",
  "version": "2.1",
  "keywords": [
    {"name": "Open Page", "doc": "Opens a page.", "args": ["url", "timeout=10s"]},
    {"name": "Close Page", "args": [{"name": "force", "repr": "force=False"}]}
  ]
}`

const libdocYAMLDoc = `name: Mailer
version: "0.3"
keywords:
  - name: Send Mail
    doc: Sends one mail.
    args: [to, subject]
  - name: Read Inbox
`

func TestParseLibrarySpec(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		want    LibrarySpec
		wantErr bool
	}{
		{
			name: "libdoc json",
			file: "/specs/browserish.json",
			data: libdocJSONDoc,
			want: LibrarySpec{Name: "Browserish", Version: "2.1", Source: "/specs/browserish.json", Keywords: []LibraryKeyword{
				{Name: "Open Page", Doc: "Opens a page.", Args: []string{"url", "timeout=10s"}},
				{Name: "Close Page", Args: []string{"force=False"}},
			}},
		},
		{
			name: "yaml",
			file: "/specs/mailer.yaml",
			data: libdocYAMLDoc,
			want: LibrarySpec{Name: "Mailer", Version: "0.3", Source: "/specs/mailer.yaml", Keywords: []LibraryKeyword{
				{Name: "Send Mail", Doc: "Sends one mail.", Args: []string{"to", "subject"}},
				{Name: "Read Inbox"},
			}},
		},
		{name: "unsupported extension", file: "/specs/x.xml", data: "<x/>", wantErr: true},
		{name: "missing name", file: "/specs/x.json", data: `{"keywords": []}`, wantErr: true},
		{name: "broken json", file: "/specs/x.json", data: `{"name":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLibrarySpec(tt.file, []byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrLibrarySpec) {
					t.Errorf("error = %v, want ErrLibrarySpec", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLibrarySpec failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("spec mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLibraryCatalog_Bundled(t *testing.T) {
	c := NewLibraryCatalog("", discardLogger())
	defer c.Close()

	for _, name := range []string{"BuiltIn", "builtin", "Built_In", "Collections", "String", "OperatingSystem"} {
		if !c.Has(name) {
			t.Errorf("bundled library %q missing", name)
		}
	}
	if _, ok := c.Keyword("BuiltIn", "Log"); !ok {
		t.Error("BuiltIn should define Log")
	}
	if _, ok := c.Keyword("BuiltIn", "log"); ok {
		t.Error("keyword lookup should be exact")
	}
}

func TestLibraryCatalog_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	spec := LibrarySpec{Name: "Mailer", Version: "0.3", Keywords: []LibraryKeyword{{Name: "Send Mail"}}}

	c := NewLibraryCatalog(dbPath, discardLogger())
	if err := c.Put(spec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewLibraryCatalog(dbPath, discardLogger())
	defer reopened.Close()
	got, ok := reopened.Get("mailer")
	if !ok {
		t.Fatal("library not found after reopen")
	}
	if diff := cmp.Diff(spec, got); diff != "" {
		t.Errorf("stored spec mismatch (-want +got):\n%s", diff)
	}

	if err := reopened.Delete("Mailer"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if reopened.Has("Mailer") {
		t.Error("library still present after Delete")
	}
}

func TestLibraryCatalog_UserSpecOverridesBundled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	c := NewLibraryCatalog(dbPath, discardLogger())
	custom := LibrarySpec{Name: "BuiltIn", Version: "custom", Keywords: []LibraryKeyword{{Name: "Only This"}}}
	if err := c.Put(custom); err != nil {
		t.Fatal(err)
	}
	c.Close()

	reopened := NewLibraryCatalog(dbPath, discardLogger())
	defer reopened.Close()
	got, _ := reopened.Get("BuiltIn")
	if got.Version != "custom" {
		t.Errorf("bundled library replaced the stored one: version %q", got.Version)
	}
}

func TestLibraryCatalog_ImportDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "browserish.json"), libdocJSONDoc)
	writeFile(t, filepath.Join(dir, "mailer.yml"), libdocYAMLDoc)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"name": `)
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a spec")

	c := NewLibraryCatalog("", discardLogger())
	defer c.Close()
	n, err := c.ImportDir(context.Background(), dir)
	if n != 2 {
		t.Errorf("imported %d libraries, want 2", n)
	}
	if !errors.Is(err, ErrLibrarySpec) {
		t.Errorf("error = %v, want the broken file reported as ErrLibrarySpec", err)
	}
	for _, name := range []string{"Browserish", "Mailer"} {
		if !c.Has(name) {
			t.Errorf("%s not imported", name)
		}
	}
}

func TestLibraryCatalog_Lines(t *testing.T) {
	c := NewLibraryCatalog("", discardLogger())
	defer c.Close()
	if err := c.Put(LibrarySpec{Name: "Mailer", Keywords: []LibraryKeyword{{Name: "Send Mail"}, {Name: "Read Inbox"}}}); err != nil {
		t.Fatal(err)
	}

	lines, ok := c.Lines("mailer")
	if !ok {
		t.Fatal("Lines did not find the library")
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	seen := map[TokenID]bool{}
	for i, l := range lines {
		if l.Type != LineKeywordBegin || l.File != "library:Mailer" {
			t.Errorf("line %d = %+v", i, l)
		}
		tok := l.Tokens[0]
		if tok.Type != ArgNewKeyword {
			t.Errorf("token %q type = %v", tok.Value, tok.Type)
		}
		if seen[tok.ID()] {
			t.Errorf("duplicate token identity %+v", tok.ID())
		}
		seen[tok.ID()] = true
	}
	if _, ok := c.Lines("Nope"); ok {
		t.Error("Lines found an unknown library")
	}
}

func TestLibraryFileID(t *testing.T) {
	id := libraryFileID("BuiltIn")
	if id != "library:BuiltIn" {
		t.Errorf("libraryFileID = %q", id)
	}
	if name, ok := libraryFromFileID(id); !ok || name != "BuiltIn" {
		t.Errorf("libraryFromFileID(%q) = %q, %v", id, name, ok)
	}
	if _, ok := libraryFromFileID("/tmp/x.robot"); ok {
		t.Error("a path is not a library identity")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
