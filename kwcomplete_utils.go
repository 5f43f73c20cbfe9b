// kwcomplete/kwcomplete_utils.go
// Config file helpers, log levels, URI and position conversion.
package kwcomplete

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"
)

// canonicalFile returns the identity the resolver would give file: absolute and cleaned.
// Library identities are returned unchanged.
func canonicalFile(file string) string {
	if _, isLib := libraryFromFileID(file); isLib || file == "" {
		return file
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return filepath.Clean(file)
	}
	return abs
}

// ============================================================================
// Configuration Files
// ============================================================================

// GetConfigPaths returns the primary (os.UserConfigDir) and secondary (~/.config) config
// file locations. Either may be empty when the directory cannot be determined.
func GetConfigPaths(logger *slog.Logger) (primary, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	if dir, cfgErr := os.UserConfigDir(); cfgErr == nil {
		primary = filepath.Join(dir, configDirName, defaultConfigFileName)
	} else {
		logger.Debug("User config dir unavailable", "error", cfgErr)
		errs = append(errs, fmt.Errorf("user config dir: %w", cfgErr))
	}
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		secondary = filepath.Join(home, ".config", configDirName, defaultConfigFileName)
	} else {
		logger.Debug("User home dir unavailable", "error", homeErr)
		errs = append(errs, fmt.Errorf("user home dir: %w", homeErr))
	}
	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig merges the config file at path into cfg. It reports false with a
// nil error when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file %q: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		logger.Warn("Config file is empty, ignoring", "path", path)
		return false, nil
	}
	var fileCfg FileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return false, fmt.Errorf("parsing config file JSON %q: %w", path, err)
	}
	merged := fileCfg.apply(cfg)
	logger.Debug("Merged config file", "path", path, "fields", merged)
	return true, nil
}

// WriteDefaultConfig writes cfg as indented JSON, creating parent directories.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0640); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	logger.Info("Wrote default config", "path", path)
	return nil
}

// ParseLogLevel maps debug, info, warn(ing) and error to slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// ============================================================================
// Document URIs
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI to a clean absolute path.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uri == "" {
		return "", fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, parsed.Scheme)
	}
	path := parsed.Path
	if runtime.GOOS == "windows" {
		// file:///C:/x parses to /C:/x
		if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
		path = filepath.FromSlash(path)
	}
	if path == "" || !filepath.IsAbs(path) {
		logger.Debug("URI does not name an absolute path", "uri", uri, "path", path)
		return "", fmt.Errorf("%w: %q is not an absolute file path", ErrInvalidURI, uri)
	}
	return filepath.Clean(path), nil
}

// PathToURI converts an absolute path to a file:// URI.
func PathToURI(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// ============================================================================
// Position Conversion
// ============================================================================

// LspPositionToBytePosition converts a 0-based LSP line/character (UTF-16) position to a
// 1-based line and byte column plus a 0-based byte offset. A character past the end of
// its line is clamped to the line end.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition) (line, col, byteOffset int, err error) {
	if content == nil {
		return 0, 0, -1, fmt.Errorf("%w: file content is nil", ErrPositionConversion)
	}
	targetLine := int(lspPos.Line)
	targetChar := int(lspPos.Character)

	lineStart := 0
	for current := 0; ; current++ {
		end := bytes.IndexByte(content[lineStart:], '\n')
		lineEnd := len(content)
		if end >= 0 {
			lineEnd = lineStart + end
		}
		if current == targetLine {
			text := content[lineStart:lineEnd]
			text = trimCR(text)
			inLine, convErr := Utf16OffsetToBytes(text, targetChar)
			if convErr != nil {
				if !errors.Is(convErr, ErrPositionOutOfRange) {
					return 0, 0, -1, fmt.Errorf("%w: line %d: %w", ErrPositionConversion, targetLine, convErr)
				}
				slog.Debug("UTF16 offset out of range, clamping to line end", "line", targetLine, "char", targetChar)
				inLine = len(text)
			}
			return current + 1, inLine + 1, lineStart + inLine, nil
		}
		if end < 0 {
			return 0, 0, -1, fmt.Errorf("%w: line %d not found (file has %d lines)", ErrPositionOutOfRange, targetLine, current+1)
		}
		lineStart = lineEnd + 1
	}
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	byteOffset := 0
	units := 0
	for byteOffset < len(line) && units < utf16Offset {
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		width := 1
		if r > 0xFFFF {
			width = 2
		}
		if units+width > utf16Offset {
			break
		}
		units += width
		byteOffset += size
	}
	if units < utf16Offset && byteOffset >= len(line) {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, units)
	}
	return byteOffset, nil
}

// byteOffsetToLSPPosition converts a byte offset to a 0-based LSP line and UTF-16 character.
func byteOffsetToLSPPosition(content []byte, offset int) (LSPPosition, error) {
	if offset < 0 {
		return LSPPosition{}, fmt.Errorf("%w: negative byte offset %d", ErrInvalidPositionInput, offset)
	}
	if offset > len(content) {
		offset = len(content)
	}
	line := 0
	lineStart := 0
	for i := 0; i < offset; i++ {
		if content[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	chars, err := bytesToUTF16Offset(content[lineStart:offset])
	if err != nil {
		return LSPPosition{}, err
	}
	return LSPPosition{Line: uint32(line), Character: uint32(chars)}, nil
}

// bytesToUTF16Offset counts the UTF-16 code units in b.
func bytesToUTF16Offset(b []byte) (int, error) {
	units := 0
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			return units, fmt.Errorf("%w: invalid UTF-8 sequence", ErrInvalidUTF8)
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		b = b[size:]
	}
	return units, nil
}
