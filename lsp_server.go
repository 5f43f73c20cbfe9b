// kwcomplete/lsp_server.go
// Language Server Protocol server: connection handling, dispatch and notifications.
package kwcomplete

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	conn           *jsonrpc2.Conn
	logger         *slog.Logger
	levelVar       *slog.LevelVar
	completer      *KeywordCompleter
	files          map[DocumentURI]*OpenFile
	filesMu        sync.RWMutex
	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	initParams     *InitializeParams
	requestTracker *RequestTracker
	registry       *prometheus.Registry

	watcherMu sync.Mutex
	watcher   *ResourceWatcher

	diagWG sync.WaitGroup
	// publishMu orders diagnostics publishes against document state changes.
	publishMu sync.Mutex
}

// OpenFile represents a file currently open in the client editor.
type OpenFile struct {
	URI     DocumentURI
	Path    string
	Content []byte
	Version int
}

// NewServer creates a new LSP server instance.
func NewServer(completer *KeywordCompleter, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		logger:    logger.With("component", "LSPServer"),
		completer: completer,
		files:     make(map[DocumentURI]*OpenFile),
		serverInfo: &ServerInfo{
			Name:    "kwcomplete LSP",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
		registry:       prometheus.NewRegistry(),
	}
	s.registerGauges()
	return s
}

// SetLogLevelVar lets configuration changes adjust the level of the server's log handler.
func (s *Server) SetLogLevelVar(v *slog.LevelVar) { s.levelVar = v }

// Registry returns the per-server registry holding open-file, pending-request and cache gauges.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

func (s *Server) registerGauges() {
	s.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kwcomplete", Subsystem: "lsp", Name: "open_files",
			Help: "Documents currently open in the client",
		}, func() float64 {
			s.filesMu.RLock()
			defer s.filesMu.RUnlock()
			return float64(len(s.files))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kwcomplete", Subsystem: "lsp", Name: "pending_requests",
			Help: "Requests currently being handled",
		}, func() float64 { return float64(s.requestTracker.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kwcomplete", Subsystem: "cache", Name: "memory_hits",
			Help: "Tokenized-file memo hits",
		}, func() float64 {
			hits, _ := s.completer.CacheStats()
			return float64(hits)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kwcomplete", Subsystem: "cache", Name: "memory_misses",
			Help: "Tokenized-file memo misses",
		}, func() float64 {
			_, misses := s.completer.CacheStats()
			return float64(misses)
		}),
	)
}

// Run serves LSP over r and w using Content-Length framing until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := jsonrpc2.NewBufferedStream(&stdrwc{r: r, w: w}, jsonrpc2.VSCodeObjectCodec{})
	s.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(s.handle))
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify()
	s.logger.Info("JSON-RPC connection closed")
	s.shutdownWatcher()
	s.diagWG.Wait()
}

// stdrwc wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	isRequest := !req.Notif
	if isRequest {
		methodLogger = methodLogger.With("req_id", req.ID.String())
	}
	methodLogger.Debug("Received request/notification")

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", string(debug.Stack()))
			panicData := json.RawMessage(fmt.Sprintf("%q", fmt.Sprintf("Panic: %v", r)))
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &panicData,
			}
			result = nil
		} else if err != nil && status == "ok" {
			status = "error"
			var rpcErr *jsonrpc2.Error
			if errors.As(err, &rpcErr) && rpcErr.Code == int64(JsonRpcRequestCancelled) {
				status = "cancelled"
			}
		}
		lspRequestsTotal.WithLabelValues(req.Method, status).Inc()
	}()

	if isRequest {
		ctx = s.requestTracker.Add(req.ID, ctx)
		defer s.requestTracker.Remove(req.ID)
	}
	if ctx.Err() != nil {
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, cancelledError()
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(err error) error {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		if req.Notif {
			return nil
		}
		return &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", req.Method, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		return s.handleShutdown(ctx, conn, req, methodLogger)

	case "exit":
		return s.handleExit(ctx, conn, req, methodLogger)

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didSave":
		var params DidSaveTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidSave(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/completion":
		var params CompletionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleCompletion(ctx, conn, req, params, methodLogger)

	case "textDocument/hover":
		var params HoverParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleHover(ctx, conn, req, params, methodLogger)

	case "textDocument/definition":
		var params DefinitionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDefinition(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			cancelID = jsonrpc2.ID{Num: uint64(idVal)}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Debug("Cancellation request processed", "cancelled_id", cancelID.String())
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unhandled notification")
			return nil, nil
		}
		methodLogger.Warn("Unhandled LSP method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

func cancelledError() *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
}

// ============================================================================
// Open Files
// ============================================================================

func (s *Server) openFile(uri DocumentURI) (*OpenFile, bool) {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	f, ok := s.files[uri]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

func (s *Server) openFiles() []OpenFile {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	out := make([]OpenFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *f)
	}
	return out
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

func (s *Server) sendShowMessage(msgType MessageType, message string) {
	if s.conn == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil")
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := s.conn.Notify(context.Background(), "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	}
}

func (s *Server) publishDiagnostics(uri DocumentURI, version *int, diagnostics []LspDiagnostic) {
	if s.conn == nil {
		s.logger.Warn("Cannot publish diagnostics: connection is nil", "uri", uri)
		return
	}
	params := PublishDiagnosticsParams{URI: uri, Version: version, Diagnostics: diagnostics}
	if err := s.conn.Notify(context.Background(), "textDocument/publishDiagnostics", params); err != nil {
		s.logger.Error("Failed to send textDocument/publishDiagnostics notification", "error", err, "uri", uri)
		return
	}
	s.logger.Debug("Published diagnostics", "uri", uri, "diagnostic_count", len(diagnostics), "version", version)
}

// triggerDiagnostics walks the document in the background and publishes its undefined
// keyword warnings. The directories of every file reached are added to the watcher.
func (s *Server) triggerDiagnostics(file OpenFile) {
	s.diagWG.Add(1)
	go func() {
		defer s.diagWG.Done()
		diagLogger := s.logger.With("uri", file.URI, "version", file.Version, "operation", "triggerDiagnostics")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		analysis, err := s.completer.Analyze(ctx, file.Path, nil)
		if err != nil {
			diagLogger.Warn("Diagnostics walk failed", "error", err)
			return
		}
		s.watchFiles(analysis.Files)

		lspDiagnostics := []LspDiagnostic{}
		if s.completer.GetCurrentConfig().DiagnosticsEnabled {
			for _, diag := range UndefinedKeywordDiagnostics(analysis.Undefined, file.Path, diagLogger) {
				lspRange, err := byteRangeToLSPRange(file.Content, diag.Range.Start, diag.Range.End)
				if err != nil {
					diagLogger.Warn("Failed to convert diagnostic range, skipping diagnostic", "error", err, "message", diag.Message)
					continue
				}
				lspDiagnostics = append(lspDiagnostics, LspDiagnostic{
					Range:    lspRange,
					Severity: mapInternalSeverityToLSP(diag.Severity),
					Code:     diag.Code,
					Source:   diag.Source,
					Message:  diag.Message,
				})
			}
		}
		s.publishMu.Lock()
		defer s.publishMu.Unlock()
		if !s.isCurrent(file) {
			diagLogger.Debug("Document closed or changed during analysis, dropping diagnostics")
			return
		}
		version := file.Version
		s.publishDiagnostics(file.URI, &version, lspDiagnostics)
	}()
}

// isCurrent reports whether file is still open at the same version.
func (s *Server) isCurrent(file OpenFile) bool {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	open, ok := s.files[file.URI]
	return ok && open.Version == file.Version
}

// refreshDiagnostics re-runs diagnostics for every open document.
func (s *Server) refreshDiagnostics() {
	for _, f := range s.openFiles() {
		s.triggerDiagnostics(f)
	}
}

// ============================================================================
// Resource Watching
// ============================================================================

func (s *Server) startWatcher(logger *slog.Logger) {
	cfg := s.completer.GetCurrentConfig()
	w, err := NewResourceWatcher(
		time.Duration(cfg.WatchDebounceMs)*time.Millisecond,
		func(changed []string) {
			s.logger.Debug("Suite files changed on disk", "files", changed)
			s.refreshDiagnostics()
		},
		func(changed []string) {
			reimportSpecs(context.Background(), s.completer.Catalog(), changed, s.logger)
			s.refreshDiagnostics()
		},
		s.logger,
	)
	if err != nil {
		logger.Warn("File watching unavailable, diagnostics refresh only on edits", "error", err)
		return
	}
	for _, dir := range cfg.LibrarySpecDirs {
		w.WatchSpecDir(dir)
	}
	s.watcherMu.Lock()
	s.watcher = w
	s.watcherMu.Unlock()
}

func (s *Server) watchFiles(files []string) {
	s.watcherMu.Lock()
	w := s.watcher
	s.watcherMu.Unlock()
	if w != nil {
		w.WatchFiles(files)
	}
}

func (s *Server) shutdownWatcher() {
	s.watcherMu.Lock()
	w := s.watcher
	s.watcher = nil
	s.watcherMu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			s.logger.Warn("Error closing file watcher", "error", err)
		}
	}
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

func NewRequestTracker() *RequestTracker {
	return &RequestTracker{requests: make(map[jsonrpc2.ID]context.CancelFunc)}
}

// Add registers id and returns the context the handler must use; Cancel(id) cancels it.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) context.Context {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if prev, ok := rt.requests[id]; ok {
		prev()
	}
	rt.requests[id] = cancel
	return reqCtx
}

// Remove deregisters id and releases its context.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, ok := rt.requests[id]
	delete(rt.requests, id)
	rt.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel cancels the context of a tracked request. Unknown ids are ignored.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()
	if found {
		cancel()
	}
}

// Count returns the number of currently tracked requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
