// kwcomplete/lsp_handlers_lifecycle.go
// LSP handlers for the server lifecycle (initialize, shutdown, exit).
package kwcomplete

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// handleInitialize stores client capabilities, starts file watching and returns the
// server capabilities.
func (s *Server) handleInitialize(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params InitializeParams, logger *slog.Logger) (any, error) {
	clientName := ""
	if params.ClientInfo != nil {
		clientName = params.ClientInfo.Name
	}
	logger.Info("Handling initialize request", "client_name", clientName, "root_uri", params.RootURI)

	s.clientCaps = params.Capabilities
	s.initParams = &params
	s.startWatcher(logger)

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
				Save:      &SaveOptions{},
			},
			CompletionProvider: &CompletionOptions{},
			HoverProvider:      true,
			DefinitionProvider: true,
		},
		ServerInfo: s.serverInfo,
	}
	return result, nil
}

func (s *Server) handleShutdown(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling shutdown request")
	s.shutdownWatcher()
	return nil, nil
}

// handleExit closes the connection, which ends Run.
func (s *Server) handleExit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling exit notification")
	if s.conn != nil {
		s.conn.Close()
	}
	return nil, nil
}
