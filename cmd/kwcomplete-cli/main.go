package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/shehackedyou/kwcomplete"
)

// Set at build time
var version = "dev"

var (
	logLevelFlag string
	configPath   string

	completer *kwcomplete.KeywordCompleter
)

var rootCmd = &cobra.Command{
	Use:           "kwcomplete-cli",
	Short:         "Find and propose undefined keywords in test suite files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if completer == nil {
			return
		}
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error) - overrides config")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Extra JSON config file merged over the standard locations")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError ends the process with code without printing anything further.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// setup loads configuration, builds the final logger and opens the completer.
func setup() error {
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, configErr := kwcomplete.LoadConfig(tempLogger)
	if configErr != nil && !errors.Is(configErr, kwcomplete.ErrConfig) {
		return configErr
	}
	if configPath != "" {
		loaded, err := kwcomplete.LoadAndMergeConfig(configPath, &cfg, tempLogger)
		if err != nil {
			return err
		}
		if !loaded {
			return fmt.Errorf("config file %s not found", configPath)
		}
	}

	chosenLevel := cfg.LogLevel
	if logLevelFlag != "" {
		chosenLevel = logLevelFlag
	}
	level, err := kwcomplete.ParseLogLevel(chosenLevel)
	if err != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosenLevel, "error", err)
		level = slog.LevelInfo
	}
	cfg.LogLevel = level.String()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if configErr != nil {
		logger.Warn("Configuration loaded with warnings", "error", configErr)
	}

	completer, err = kwcomplete.NewKeywordCompleterWithConfig(cfg, logger)
	if err != nil {
		return err
	}
	logger.Debug("Keyword completer initialized", "catalog_libraries", len(completer.Catalog().Libraries()))
	return nil
}

func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
