// kwcomplete/lsp_server_test.go
package kwcomplete

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sourcegraph/jsonrpc2"
)

// lspClient drives a Server over an in-memory pipe.
type lspClient struct {
	conn        *jsonrpc2.Conn
	diagnostics chan PublishDiagnosticsParams
	done        chan struct{}
}

func startLSP(t *testing.T, kc *KeywordCompleter) *lspClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	srv := NewServer(kc, discardLogger(), "test")

	c := &lspClient{
		diagnostics: make(chan PublishDiagnosticsParams, 16),
		done:        make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		srv.Run(serverSide, serverSide)
	}()

	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Method == "textDocument/publishDiagnostics" && req.Params != nil {
			var p PublishDiagnosticsParams
			if err := json.Unmarshal(*req.Params, &p); err == nil {
				c.diagnostics <- p
			}
		}
		return nil, nil
	})
	c.conn = jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}), handler)
	t.Cleanup(func() {
		c.conn.Close()
		serverSide.Close()
		<-c.done
	})
	return c
}

func (c *lspClient) call(t *testing.T, method string, params, result any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.conn.Call(ctx, method, params, result); err != nil {
		t.Fatalf("%s failed: %v", method, err)
	}
}

func (c *lspClient) notify(t *testing.T, method string, params any) {
	t.Helper()
	if err := c.conn.Notify(context.Background(), method, params); err != nil {
		t.Fatalf("%s notification failed: %v", method, err)
	}
}

func (c *lspClient) waitDiagnostics(t *testing.T, uri DocumentURI) PublishDiagnosticsParams {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case p := <-c.diagnostics:
			if p.URI == uri {
				return p
			}
		case <-timeout:
			t.Fatalf("no diagnostics published for %s", uri)
		}
	}
}

func TestServer_EditorSession(t *testing.T) {
	dir := writeArchive(t, projectArchive)
	suitePath := filepath.Join(dir, "suite.robot")
	resourcePath := filepath.Join(dir, "resources", "common.resource")
	kc := newTestCompleter(t, nil)
	client := startLSP(t, kc)

	var initResult InitializeResult
	client.call(t, "initialize", InitializeParams{
		RootURI:    DocumentURI(PathToURI(dir)),
		ClientInfo: &ClientInfo{Name: "test-client"},
	}, &initResult)
	if !initResult.Capabilities.HoverProvider || !initResult.Capabilities.DefinitionProvider || initResult.Capabilities.CompletionProvider == nil {
		t.Errorf("capabilities = %+v", initResult.Capabilities)
	}
	if initResult.ServerInfo == nil || initResult.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", initResult.ServerInfo)
	}
	client.notify(t, "initialized", struct{}{})

	uri := DocumentURI(PathToURI(suitePath))
	text := strings.TrimPrefix(strings.SplitN(projectArchive, "-- resources/common.resource --", 2)[0], "\n-- suite.robot --\n")
	client.notify(t, "textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: TextDocumentItem{
		URI: uri, LanguageID: "robotframework", Version: 1, Text: text,
	}})

	published := client.waitDiagnostics(t, uri)
	var messages []string
	for _, d := range published.Diagnostics {
		messages = append(messages, d.Message)
	}
	wantMessages := []string{
		"Keyword 'Click Button' is not defined in this file or its imports",
		"Keyword 'Log Message' is not defined in this file or its imports",
	}
	if diff := cmp.Diff(wantMessages, messages); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if len(published.Diagnostics) > 0 {
		want := LSPRange{Start: LSPPosition{6, 4}, End: LSPPosition{6, 16}}
		if published.Diagnostics[0].Range != want {
			t.Errorf("first diagnostic range = %+v, want %+v", published.Diagnostics[0].Range, want)
		}
	}

	var list CompletionList
	client.call(t, "textDocument/completion", CompletionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     LSPPosition{Line: 13, Character: 2},
	}, &list)
	if len(list.Items) != 1 {
		t.Fatalf("completion items = %+v, want one", list.Items)
	}
	item := list.Items[0]
	if item.Label != "Log Message" || item.TextEdit == nil || item.TextEdit.NewText != "Log Message" {
		t.Errorf("completion item = %+v", item)
	}
	if item.TextEdit != nil && item.TextEdit.Range != (LSPRange{Start: LSPPosition{13, 0}, End: LSPPosition{13, 2}}) {
		t.Errorf("edit range = %+v", item.TextEdit.Range)
	}
	if item.Documentation == nil || !strings.Contains(item.Documentation.Value, "**TEST CASE** Login Test") {
		t.Errorf("documentation = %+v", item.Documentation)
	}

	var hover HoverResult
	client.call(t, "textDocument/hover", HoverParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     LSPPosition{Line: 6, Character: 6},
	}, &hover)
	if !strings.HasPrefix(hover.Contents.Value, "**KEYWORD** Click Button") ||
		!strings.Contains(hover.Contents.Value, "Called from the following testcases/keywords:") {
		t.Errorf("hover = %q", hover.Contents.Value)
	}

	var locations []Location
	client.call(t, "textDocument/definition", DefinitionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     LSPPosition{Line: 10, Character: 6},
	}, &locations)
	wantLocations := []Location{{
		URI:   DocumentURI(PathToURI(resourcePath)),
		Range: LSPRange{Start: LSPPosition{1, 0}, End: LSPPosition{1, 11}},
	}}
	if diff := cmp.Diff(wantLocations, locations); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}

	client.notify(t, "textDocument/didClose", DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})
	if cleared := client.waitDiagnostics(t, uri); len(cleared.Diagnostics) != 0 {
		t.Errorf("diagnostics after close = %+v", cleared.Diagnostics)
	}

	client.call(t, "shutdown", nil, nil)
	client.notify(t, "exit", nil)
	select {
	case <-client.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after exit")
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	client := startLSP(t, newTestCompleter(t, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.conn.Call(ctx, "textDocument/rename", struct{}{}, nil)
	rpcErr, ok := err.(*jsonrpc2.Error)
	if !ok || rpcErr.Code != int64(JsonRpcMethodNotFound) {
		t.Errorf("error = %v, want method not found", err)
	}
}

func TestRequestTracker(t *testing.T) {
	rt := NewRequestTracker()
	id := jsonrpc2.ID{Num: 7}
	ctx := rt.Add(id, context.Background())
	if rt.Count() != 1 {
		t.Fatalf("Count = %d", rt.Count())
	}
	rt.Cancel(id)
	if ctx.Err() == nil {
		t.Error("context not cancelled")
	}
	if rt.Count() != 0 {
		t.Errorf("Count after cancel = %d", rt.Count())
	}
	rt.Cancel(jsonrpc2.ID{Num: 99})
	rt.Remove(id)
}

// lastDiagnostics returns the final publish for uri once the server has been quiet for a while.
func (c *lspClient) lastDiagnostics(t *testing.T, uri DocumentURI) (PublishDiagnosticsParams, int) {
	t.Helper()
	var last PublishDiagnosticsParams
	count := 0
	for {
		select {
		case p := <-c.diagnostics:
			if p.URI == uri {
				last = p
				count++
			}
		case <-time.After(500 * time.Millisecond):
			if count == 0 {
				t.Fatalf("no diagnostics published for %s", uri)
			}
			return last, count
		}
	}
}

func TestServer_DiagnosticsFollowLatestVersion(t *testing.T) {
	dir := writeArchive(t, "-- suite.robot --\n")
	uri := DocumentURI(PathToURI(filepath.Join(dir, "suite.robot")))
	client := startLSP(t, newTestCompleter(t, nil))
	client.call(t, "initialize", InitializeParams{RootURI: DocumentURI(PathToURI(dir))}, &InitializeResult{})

	body := func(call string) string { return "*** Test Cases ***\nT\n    " + call + "\n" }
	client.notify(t, "textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: TextDocumentItem{
		URI: uri, Version: 1, Text: body("Click Button"),
	}})
	for v, call := range []string{"Press Key", "Log Message"} {
		client.notify(t, "textDocument/didChange", DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: uri}, v + 2},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: body(call)}},
		})
	}

	last, _ := client.lastDiagnostics(t, uri)
	if last.Version == nil || *last.Version != 3 {
		t.Fatalf("last published version = %v, want 3", last.Version)
	}
	if len(last.Diagnostics) != 1 || !strings.Contains(last.Diagnostics[0].Message, "'Log Message'") {
		t.Errorf("last diagnostics = %+v", last.Diagnostics)
	}

	client.notify(t, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: uri}, 4},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: body("Click Button")}},
	})
	client.notify(t, "textDocument/didClose", DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})
	last, _ = client.lastDiagnostics(t, uri)
	if len(last.Diagnostics) != 0 || last.Version != nil {
		t.Errorf("diagnostics after close = %+v (version %v), want an empty clear", last.Diagnostics, last.Version)
	}
}

func TestServer_IsCurrent(t *testing.T) {
	srv := NewServer(newTestCompleter(t, nil), discardLogger(), "test")
	open := OpenFile{URI: "file:///a.robot", Path: "/a.robot", Version: 2}
	srv.files[open.URI] = &open

	if !srv.isCurrent(open) {
		t.Error("open document at the same version should be current")
	}
	stale := open
	stale.Version = 1
	if srv.isCurrent(stale) {
		t.Error("older version should not be current")
	}
	delete(srv.files, open.URI)
	if srv.isCurrent(open) {
		t.Error("closed document should not be current")
	}
}
