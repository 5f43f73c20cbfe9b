// kwcomplete/lsp_handlers_textdocument.go
// LSP handlers for document synchronisation and language features
// (didOpen, didChange, didSave, didClose, completion, hover, definition).
package kwcomplete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sourcegraph/jsonrpc2"
)

func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	content := []byte(params.TextDocument.Text)
	openLogger := logger.With("uri", uri, "version", params.TextDocument.Version, "size", len(content))
	openLogger.Info("Handling textDocument/didOpen")

	absPath, err := ValidateAndGetFilePath(string(uri), openLogger)
	if err != nil {
		openLogger.Error("Invalid URI in didOpen", "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Invalid document URI: %v", err))
		return nil, nil
	}

	file := OpenFile{URI: uri, Path: absPath, Content: content, Version: params.TextDocument.Version}
	s.filesMu.Lock()
	s.files[uri] = &file
	s.filesMu.Unlock()
	s.completer.SetOverlay(absPath, content)

	s.triggerDiagnostics(file)
	return nil, nil
}

// handleDidChange applies a full-sync change. Out-of-order versions are ignored.
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	newContent := []byte(params.ContentChanges[len(params.ContentChanges)-1].Text)

	absPath, err := ValidateAndGetFilePath(string(uri), changeLogger)
	if err != nil {
		changeLogger.Error("Invalid URI in didChange", "error", err)
		return nil, nil
	}

	s.filesMu.Lock()
	current, exists := s.files[uri]
	if exists && version <= current.Version {
		s.filesMu.Unlock()
		changeLogger.Warn("Ignoring out-of-order didChange notification", "current_version", current.Version)
		return nil, nil
	}
	file := OpenFile{URI: uri, Path: absPath, Content: newContent, Version: version}
	s.files[uri] = &file
	s.filesMu.Unlock()
	s.completer.SetOverlay(absPath, newContent)

	changeLogger.Debug("Updated open file", "new_size", len(newContent))
	s.triggerDiagnostics(file)
	return nil, nil
}

func (s *Server) handleDidSave(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidSaveTextDocumentParams, logger *slog.Logger) (any, error) {
	logger.Debug("Handling textDocument/didSave", "uri", params.TextDocument.URI)
	// Files that import the saved one may have gained or lost definitions.
	s.refreshDiagnostics()
	return nil, nil
}

func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	logger.Info("Handling textDocument/didClose", "uri", uri)

	s.filesMu.Lock()
	file, ok := s.files[uri]
	delete(s.files, uri)
	s.filesMu.Unlock()
	if ok {
		s.completer.ClearOverlay(file.Path)
	}
	s.publishMu.Lock()
	s.publishDiagnostics(uri, nil, []LspDiagnostic{})
	s.publishMu.Unlock()
	return nil, nil
}

// cursorOffset converts an LSP position in an open document to a byte offset.
func (s *Server) cursorOffset(uri DocumentURI, pos LSPPosition, logger *slog.Logger) (*OpenFile, int, bool) {
	file, ok := s.openFile(uri)
	if !ok {
		logger.Warn("Request for a document that is not open", "uri", uri)
		return nil, 0, false
	}
	_, _, offset, err := LspPositionToBytePosition(file.Content, pos)
	if err != nil {
		logger.Warn("Cannot convert cursor position", "error", err)
		return nil, 0, false
	}
	return file, offset, true
}

// handleCompletion proposes definitions for undefined keywords when the cursor is at a
// keyword definition name.
func (s *Server) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CompletionParams, logger *slog.Logger) (any, error) {
	completionLogger := logger.With("uri", params.TextDocument.URI, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)
	empty := CompletionList{Items: []CompletionItem{}}

	file, offset, ok := s.cursorOffset(params.TextDocument.URI, params.Position, completionLogger)
	if !ok {
		return empty, nil
	}
	lines, err := s.completer.Lines(ctx, file.Path)
	if err != nil {
		completionLogger.Warn("Cannot tokenize document", "error", err)
		return empty, nil
	}
	request, ok := KeywordContextAt(lines, offset)
	if !ok {
		completionLogger.Debug("Cursor is not at a keyword definition name")
		return empty, nil
	}
	request.File = file.Path

	candidates, err := s.completer.ProposeKeywordDefinitions(ctx, request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, cancelledError()
		}
		completionLogger.Error("Proposal generation failed", "error", err)
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestFailed), Message: err.Error()}
	}

	editRange, err := byteRangeToLSPRange(file.Content, request.Span.Start, request.Span.Start+request.Span.Length)
	if err != nil {
		completionLogger.Warn("Cannot convert replacement span", "error", err)
		return empty, nil
	}
	list := CompletionList{Items: make([]CompletionItem, 0, len(candidates))}
	for i, c := range candidates {
		list.Items = append(list.Items, CompletionItem{
			Label:            c.Text,
			Kind:             CompletionItemKindFunction,
			Detail:           "Undefined keyword",
			Documentation:    &MarkupContent{Kind: MarkupKindMarkdown, Value: c.ProvenanceMarkdown()},
			SortText:         fmt.Sprintf("%05d", i),
			FilterText:       c.Text,
			InsertTextFormat: PlainTextFormat,
			TextEdit:         &TextEdit{Range: editRange, NewText: c.Text},
		})
	}
	completionLogger.Info("Completion handled", "candidates", len(list.Items))
	return list, nil
}

// keywordCallAt returns the keyword call token under the cursor.
func (s *Server) keywordCallAt(ctx context.Context, uri DocumentURI, pos LSPPosition, logger *slog.Logger) (*OpenFile, Token, bool) {
	file, offset, ok := s.cursorOffset(uri, pos, logger)
	if !ok {
		return nil, Token{}, false
	}
	lines, err := s.completer.Lines(ctx, file.Path)
	if err != nil {
		logger.Warn("Cannot tokenize document", "error", err)
		return nil, Token{}, false
	}
	tok, ok := TokenAt(lines, offset)
	if !ok || (tok.Type != ArgKeywordCall && tok.Type != ArgKeywordCallDynamic) {
		return nil, Token{}, false
	}
	return file, tok, true
}

func (s *Server) handleHover(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params HoverParams, logger *slog.Logger) (any, error) {
	hoverLogger := logger.With("uri", params.TextDocument.URI, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)

	file, tok, ok := s.keywordCallAt(ctx, params.TextDocument.URI, params.Position, hoverLogger)
	if !ok {
		return nil, nil
	}
	def, found, err := s.completer.FindKeywordDefinition(ctx, file.Path, tok.Value)
	if err != nil {
		hoverLogger.Warn("Definition lookup failed", "error", err)
		return nil, nil
	}
	var index *UndefinedKeywords
	if !found {
		index, err = s.completer.UndefinedKeywords(ctx, file.Path, nil)
		if err != nil {
			hoverLogger.Warn("Undefined keyword lookup failed", "error", err)
			return nil, nil
		}
	}

	result := HoverResult{Contents: MarkupContent{
		Kind:  MarkupKindMarkdown,
		Value: formatKeywordHover(tok.Value, def, s.completer.Catalog(), index, hoverLogger),
	}}
	if r, err := byteRangeToLSPRange(file.Content, tok.Offset, tok.End()); err == nil {
		result.Range = &r
	}
	return result, nil
}

func (s *Server) handleDefinition(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DefinitionParams, logger *slog.Logger) (any, error) {
	defLogger := logger.With("uri", params.TextDocument.URI, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)

	file, tok, ok := s.keywordCallAt(ctx, params.TextDocument.URI, params.Position, defLogger)
	if !ok {
		return nil, nil
	}
	def, found, err := s.completer.FindKeywordDefinition(ctx, file.Path, tok.Value)
	if err != nil || !found {
		defLogger.Debug("No definition", "keyword", tok.Value, "error", err)
		return nil, nil
	}
	if _, isLib := libraryFromFileID(def.File); isLib {
		defLogger.Debug("Keyword is defined by a library", "keyword", tok.Value, "library", def.File)
		return nil, nil
	}

	content, err := s.completer.Content(def.File)
	if err != nil {
		defLogger.Error("Failed to read definition file", "path", def.File, "error", err)
		if !errors.Is(err, os.ErrNotExist) {
			s.sendShowMessage(MessageTypeWarning, fmt.Sprintf("Could not read definition file: %s", def.File))
		}
		return nil, nil
	}
	r, err := byteRangeToLSPRange(content, def.Offset, def.End())
	if err != nil {
		defLogger.Error("Failed to convert definition position", "error", err)
		return nil, nil
	}
	defLogger.Info("Definition found", "keyword", tok.Value, "path", def.File, "line", r.Start.Line)
	return []Location{{URI: DocumentURI(PathToURI(def.File)), Range: r}}, nil
}
