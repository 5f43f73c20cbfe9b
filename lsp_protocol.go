// kwcomplete/lsp_protocol.go
// LSP data structures used by the server.
package kwcomplete

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// LSP Specific Structures
// ============================================================================

// DocumentURI represents the URI for a text document.
type DocumentURI string

// LSPPosition represents a 0-based line/character offset (LSP standard: UTF-16).
type LSPPosition struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// LSPRange represents a range in a text document using LSP Positions (UTF-16).
type LSPRange struct {
	Start LSPPosition `json:"start"`
	End   LSPPosition `json:"end"`
}

// Location represents a location inside a resource, such as a line inside a text file.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range LSPRange    `json:"range"`
}

type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// InitializeParams parameters for the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId,omitempty"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions json.RawMessage    `json:"initializationOptions,omitempty"`
}

type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type ClientCapabilities struct {
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

type WorkspaceClientCapabilities struct {
	Configuration bool `json:"configuration,omitempty"`
}

type TextDocumentClientCapabilities struct {
	Completion *CompletionClientCapabilities `json:"completion,omitempty"`
	Hover      *HoverClientCapabilities      `json:"hover,omitempty"`
}

type CompletionClientCapabilities struct {
	CompletionItem *CompletionItemClientCapabilities `json:"completionItem,omitempty"`
}

type CompletionItemClientCapabilities struct {
	DocumentationFormat []MarkupKind `json:"documentationFormat,omitempty"`
}

type HoverClientCapabilities struct {
	ContentFormat []MarkupKind `json:"contentFormat,omitempty"`
}

// InitializeResult result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type ServerCapabilities struct {
	TextDocumentSync   *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	CompletionProvider *CompletionOptions       `json:"completionProvider,omitempty"`
	HoverProvider      bool                     `json:"hoverProvider,omitempty"`
	DefinitionProvider bool                     `json:"definitionProvider,omitempty"`
}

type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose,omitempty"`
	Change    TextDocumentSyncKind `json:"change,omitempty"`
	Save      *SaveOptions         `json:"save,omitempty"`
}

type SaveOptions struct {
	IncludeText bool `json:"includeText,omitempty"`
}

type TextDocumentSyncKind int

const (
	TextDocumentSyncKindNone TextDocumentSyncKind = 0
	TextDocumentSyncKindFull TextDocumentSyncKind = 1 // Only full sync is supported.
)

type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentContentChangeEvent carries the full new text (full sync).
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

type CompletionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     LSPPosition            `json:"position"`
	Context      *CompletionContext     `json:"context,omitempty"`
}

type CompletionContext struct {
	TriggerKind      CompletionTriggerKind `json:"triggerKind"`
	TriggerCharacter string                `json:"triggerCharacter,omitempty"`
}

type CompletionTriggerKind int

const (
	CompletionTriggerKindInvoked              CompletionTriggerKind = 1
	CompletionTriggerKindTriggerChar          CompletionTriggerKind = 2
	CompletionTriggerKindTriggerForIncomplete CompletionTriggerKind = 3
)

type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

type CompletionItem struct {
	Label            string             `json:"label"`
	Kind             CompletionItemKind `json:"kind,omitempty"`
	Detail           string             `json:"detail,omitempty"`
	Documentation    *MarkupContent     `json:"documentation,omitempty"`
	SortText         string             `json:"sortText,omitempty"`
	FilterText       string             `json:"filterText,omitempty"`
	InsertTextFormat InsertTextFormat   `json:"insertTextFormat,omitempty"`
	TextEdit         *TextEdit          `json:"textEdit,omitempty"`
}

type TextEdit struct {
	Range   LSPRange `json:"range"`
	NewText string   `json:"newText"`
}

// CompletionItemKind is the LSP completion item kind. Only the kinds used here are named.
type CompletionItemKind int

const (
	CompletionItemKindText     CompletionItemKind = 1
	CompletionItemKindFunction CompletionItemKind = 3
	CompletionItemKindKeyword  CompletionItemKind = 14
)

type InsertTextFormat int

const (
	PlainTextFormat InsertTextFormat = 1
	SnippetFormat   InsertTextFormat = 2
)

// CancelParams parameters for $/cancelRequest. ID is a number or a string.
type CancelParams struct {
	ID any `json:"id"`
}

type HoverParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     LSPPosition            `json:"position"`
}

type HoverResult struct {
	Contents MarkupContent `json:"contents"`
	Range    *LSPRange     `json:"range,omitempty"`
}

type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

type MarkupKind string

const (
	MarkupKindPlainText MarkupKind = "plaintext"
	MarkupKindMarkdown  MarkupKind = "markdown"
)

type DefinitionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     LSPPosition            `json:"position"`
}

type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// ShowMessageParams parameters for the window/showMessage notification.
type ShowMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type LspDiagnosticSeverity int

const (
	LspSeverityError   LspDiagnosticSeverity = 1
	LspSeverityWarning LspDiagnosticSeverity = 2
	LspSeverityInfo    LspDiagnosticSeverity = 3
	LspSeverityHint    LspDiagnosticSeverity = 4
)

type LspDiagnostic struct {
	Range    LSPRange              `json:"range"`
	Severity LspDiagnosticSeverity `json:"severity"`
	Code     any                   `json:"code,omitempty"`
	Source   string                `json:"source,omitempty"`
	Message  string                `json:"message"`
}

type PublishDiagnosticsParams struct {
	URI         DocumentURI     `json:"uri"`
	Version     *int            `json:"version,omitempty"`
	Diagnostics []LspDiagnostic `json:"diagnostics"`
}

// JSON-RPC error codes.
const (
	JsonRpcParseError           int = -32700
	JsonRpcInvalidRequest       int = -32600
	JsonRpcMethodNotFound       int = -32601
	JsonRpcInvalidParams        int = -32602
	JsonRpcInternalError        int = -32603
	JsonRpcServerNotInitialized int = -32002
	JsonRpcRequestCancelled     int = -32800
	JsonRpcRequestFailed        int = -32803
)

// ============================================================================
// Conversion Helpers
// ============================================================================

// byteRangeToLSPRange converts a byte range of content to an LSP range.
func byteRangeToLSPRange(content []byte, start, end int) (LSPRange, error) {
	if start < 0 || end < start || end > len(content) {
		return LSPRange{}, fmt.Errorf("%w: byte range [%d,%d) outside content of %d bytes", ErrPositionOutOfRange, start, end, len(content))
	}
	startPos, err := byteOffsetToLSPPosition(content, start)
	if err != nil {
		return LSPRange{}, fmt.Errorf("start offset %d: %w", start, err)
	}
	endPos, err := byteOffsetToLSPPosition(content, end)
	if err != nil {
		return LSPRange{}, fmt.Errorf("end offset %d: %w", end, err)
	}
	return LSPRange{Start: startPos, End: endPos}, nil
}

func mapInternalSeverityToLSP(s DiagnosticSeverity) LspDiagnosticSeverity {
	switch s {
	case SeverityError:
		return LspSeverityError
	case SeverityWarning:
		return LspSeverityWarning
	case SeverityInfo:
		return LspSeverityInfo
	case SeverityHint:
		return LspSeverityHint
	}
	return LspSeverityError
}
