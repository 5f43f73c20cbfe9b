// kwcomplete/lsp_handlers_workspace.go
// LSP handlers for workspace notifications.
package kwcomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// handleDidChangeConfiguration merges client settings under the "kwcomplete" key (or a
// bare settings object) into the current configuration.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	logger.Info("Handling workspace/didChangeConfiguration")

	var wrapped struct {
		KwComplete *FileConfig `json:"kwcomplete"`
	}
	var fileCfg FileConfig
	if err := json.Unmarshal(params.Settings, &wrapped); err == nil && wrapped.KwComplete != nil {
		fileCfg = *wrapped.KwComplete
	} else if err := json.Unmarshal(params.Settings, &fileCfg); err != nil {
		logger.Error("Failed to unmarshal configuration settings", "error", err, "raw_settings", string(params.Settings))
		return nil, nil
	}

	newConfig := s.completer.GetCurrentConfig()
	if merged := fileCfg.apply(&newConfig); merged == 0 {
		logger.Debug("No relevant configuration changes in didChangeConfiguration")
		return nil, nil
	}

	if err := s.completer.UpdateConfig(newConfig); err != nil {
		logger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return nil, nil
	}
	applied := s.completer.GetCurrentConfig()

	if s.levelVar != nil {
		if level, err := ParseLogLevel(applied.LogLevel); err == nil {
			s.levelVar.Set(level)
			logger.Info("Log level updated", "level", level.String())
		}
	}

	s.watcherMu.Lock()
	w := s.watcher
	s.watcherMu.Unlock()
	if w != nil {
		w.SetDebounce(time.Duration(applied.WatchDebounceMs) * time.Millisecond)
		for _, dir := range applied.LibrarySpecDirs {
			w.WatchSpecDir(dir)
		}
	}

	s.refreshDiagnostics()
	return nil, nil
}
