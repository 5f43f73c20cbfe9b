package main

import (
	"errors"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Registers /debug/pprof handlers on DefaultServeMux.
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shehackedyou/kwcomplete"
)

// Set via -ldflags="-X main.appVersion=..."
var appVersion = "dev"

var (
	debugAddr   string
	logFilePath string
)

var rootCmd = &cobra.Command{
	Use:     "kwcomplete-lsp",
	Short:   "Language server proposing definitions for undefined keywords",
	Long:    "Speaks LSP over stdin/stdout. Proposes undefined keywords when a new keyword definition is started and reports calls to keywords nothing defines.",
	Version: appVersion,
	Args:    cobra.NoArgs,
	Run:     runServer,
}

func init() {
	rootCmd.Flags().StringVar(&debugAddr, "debug-addr", "localhost:6061", "Listen address for pprof and /metrics (empty disables)")
	rootCmd.Flags().StringVar(&logFilePath, "log-file", "kwcomplete-lsp.log", "Log file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	// stdout carries the protocol; logs go to stderr and the file only.
	logWriter := io.MultiWriter(os.Stderr, logFile)
	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	completer, initErr := kwcomplete.NewKeywordCompleter(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize keyword completer", "error", initErr)
		if !errors.Is(initErr, kwcomplete.ErrConfig) || completer == nil {
			os.Exit(1)
		}
	}
	defer func() {
		slog.Info("Closing keyword completer...")
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	}()

	initialConfig := completer.GetCurrentConfig()
	logLevel, parseLevelErr := kwcomplete.ParseLogLevel(initialConfig.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", initialConfig.LogLevel, "error", parseLevelErr)
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: levelVar, AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("kwcomplete LSP server starting...", "version", appVersion, "log_level", logLevel.String())
	if initErr != nil {
		slog.Warn("Keyword completer initialized with configuration warnings", "error", initErr)
	}

	lspServer := kwcomplete.NewServer(completer, logger, appVersion)
	lspServer.SetLogLevelVar(levelVar)

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	startDebugServer(debugAddr, lspServer.Registry())

	lspServer.Run(os.Stdin, os.Stdout)
	slog.Info("LSP server has shut down gracefully.")
}

// startDebugServer serves pprof and the Prometheus metrics of both the package-level
// collectors and the server's own registry.
func startDebugServer(addr string, serverRegistry *prometheus.Registry) {
	if addr == "" {
		return
	}
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, serverRegistry}
	go func() {
		slog.Info("Starting debug server for pprof/metrics", "addr", addr)
		mux := http.NewServeMux()
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
