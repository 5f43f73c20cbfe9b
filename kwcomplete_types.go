// kwcomplete/kwcomplete_types.go
// Core type definitions used throughout the kwcomplete package.
package kwcomplete

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultLogLevel           = "info"
	defaultMemoryCacheTTLSecs = 300
	defaultMaxFileSizeBytes   = 4 << 20
	defaultWatchDebounceMs    = 300
	defaultConfigFileName     = "config.json"
	configDirName             = "kwcomplete"
	catalogSchemaVersion      = 1 // Bump to start from a fresh catalog database.
)

// Config holds the active configuration for the completion service.
type Config struct {
	LogLevel              string        `json:"log_level"`
	MemoryCacheTTLSeconds int           `json:"memory_cache_ttl_seconds"`
	MemoryCacheTTL        time.Duration `json:"-"` // Derived from MemoryCacheTTLSeconds.
	MaxFileSizeBytes      int64         `json:"max_file_size_bytes" validate:"gte=0"`
	ResourceSearchPaths   []string      `json:"resource_search_paths" validate:"dive,required"` // Extra roots for Resource imports.
	LibrarySpecDirs       []string      `json:"library_spec_dirs" validate:"dive,required"`     // Directories of libdoc JSON/YAML specs.
	ImplicitLibraries     []string      `json:"implicit_libraries" validate:"dive,required"`    // Libraries available without an import.
	CatalogPath           string        `json:"catalog_path"`                                   // Empty means the user cache dir.
	DiagnosticsEnabled    bool          `json:"diagnostics_enabled"`
	WatchDebounceMs       int           `json:"watch_debounce_ms" validate:"gte=0,lte=60000"`
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	LogLevel              *string   `json:"log_level"`
	MemoryCacheTTLSeconds *int      `json:"memory_cache_ttl_seconds"`
	MaxFileSizeBytes      *int64    `json:"max_file_size_bytes"`
	ResourceSearchPaths   *[]string `json:"resource_search_paths"`
	LibrarySpecDirs       *[]string `json:"library_spec_dirs"`
	ImplicitLibraries     *[]string `json:"implicit_libraries"`
	CatalogPath           *string   `json:"catalog_path"`
	DiagnosticsEnabled    *bool     `json:"diagnostics_enabled"`
	WatchDebounceMs       *int      `json:"watch_debounce_ms"`
}

// apply merges every non-nil field into cfg and returns how many fields were set.
func (fc FileConfig) apply(cfg *Config) int {
	merged := 0
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
		merged++
	}
	if fc.MemoryCacheTTLSeconds != nil {
		cfg.MemoryCacheTTLSeconds = *fc.MemoryCacheTTLSeconds
		merged++
	}
	if fc.MaxFileSizeBytes != nil {
		cfg.MaxFileSizeBytes = *fc.MaxFileSizeBytes
		merged++
	}
	if fc.ResourceSearchPaths != nil {
		cfg.ResourceSearchPaths = append([]string(nil), (*fc.ResourceSearchPaths)...)
		merged++
	}
	if fc.LibrarySpecDirs != nil {
		cfg.LibrarySpecDirs = append([]string(nil), (*fc.LibrarySpecDirs)...)
		merged++
	}
	if fc.ImplicitLibraries != nil {
		cfg.ImplicitLibraries = append([]string(nil), (*fc.ImplicitLibraries)...)
		merged++
	}
	if fc.CatalogPath != nil {
		cfg.CatalogPath = *fc.CatalogPath
		merged++
	}
	if fc.DiagnosticsEnabled != nil {
		cfg.DiagnosticsEnabled = *fc.DiagnosticsEnabled
		merged++
	}
	if fc.WatchDebounceMs != nil {
		cfg.WatchDebounceMs = *fc.WatchDebounceMs
		merged++
	}
	return merged
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		LogLevel:              defaultLogLevel,
		MemoryCacheTTLSeconds: defaultMemoryCacheTTLSecs,
		MemoryCacheTTL:        time.Duration(defaultMemoryCacheTTLSecs) * time.Second,
		MaxFileSizeBytes:      defaultMaxFileSizeBytes,
		ResourceSearchPaths:   []string{},
		LibrarySpecDirs:       []string{},
		ImplicitLibraries:     []string{"BuiltIn"},
		DiagnosticsEnabled:    true,
		WatchDebounceMs:       defaultWatchDebounceMs,
	}
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so messages match what users write in config.json.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				validationErrors = append(validationErrors, fmt.Errorf("%s: value %v fails '%s' rule", fe.Namespace(), fe.Value(), fe.Tag()))
			}
		} else {
			validationErrors = append(validationErrors, err)
		}
	}

	if c.MemoryCacheTTLSeconds <= 0 {
		logger.Warn("Config validation: memory_cache_ttl_seconds is not positive, applying default.", "configured_value", c.MemoryCacheTTLSeconds, "default", tempDefault.MemoryCacheTTLSeconds)
		c.MemoryCacheTTLSeconds = tempDefault.MemoryCacheTTLSeconds
	}
	c.MemoryCacheTTL = time.Duration(c.MemoryCacheTTLSeconds) * time.Second

	if c.MaxFileSizeBytes == 0 {
		logger.Warn("Config validation: max_file_size_bytes is zero, applying default.", "default", tempDefault.MaxFileSizeBytes)
		c.MaxFileSizeBytes = tempDefault.MaxFileSizeBytes
	}

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
		c.LogLevel = defaultLogLevel
	}

	if c.ResourceSearchPaths == nil {
		c.ResourceSearchPaths = []string{}
	}
	if c.LibrarySpecDirs == nil {
		c.LibrarySpecDirs = []string{}
	}
	if c.ImplicitLibraries == nil {
		logger.Warn("Config validation: implicit_libraries is nil, applying default.", "default", tempDefault.ImplicitLibraries)
		c.ImplicitLibraries = tempDefault.ImplicitLibraries
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// clone returns a deep copy; slices are not shared with the receiver.
func (c Config) clone() Config {
	out := c
	out.ResourceSearchPaths = append([]string(nil), c.ResourceSearchPaths...)
	out.LibrarySpecDirs = append([]string(nil), c.LibrarySpecDirs...)
	out.ImplicitLibraries = append([]string(nil), c.ImplicitLibraries...)
	return out
}

// =============================================================================
// Line Model
// =============================================================================

// LineType is the syntactic role of one physical line.
type LineType int

const (
	LineIgnored LineType = iota
	LineComment
	LineTableHeader
	LineSetting
	LineVariable
	LineTestCaseBegin
	LineTestCase
	LineKeywordBegin
	LineKeyword
	LineContinuation
	lineTypeCount
)

var lineTypeNames = [...]string{
	LineIgnored:       "IGNORE",
	LineComment:       "COMMENT_LINE",
	LineTableHeader:   "TABLE",
	LineSetting:       "SETTING_TABLE_LINE",
	LineVariable:      "VARIABLE_TABLE_LINE",
	LineTestCaseBegin: "TESTCASE_TABLE_TESTCASE_BEGIN",
	LineTestCase:      "TESTCASE_TABLE_TESTCASE_LINE",
	LineKeywordBegin:  "KEYWORD_TABLE_KEYWORD_BEGIN",
	LineKeyword:       "KEYWORD_TABLE_KEYWORD_LINE",
	LineContinuation:  "CONTINUATION_LINE",
}

func (t LineType) String() string {
	if t >= 0 && t < lineTypeCount {
		return lineTypeNames[t]
	}
	return fmt.Sprintf("LineType(%d)", int(t))
}

// LineTypeSet is a small bit set of line roles.
type LineTypeSet uint32

// NewLineTypeSet returns a set holding the given roles.
func NewLineTypeSet(types ...LineType) LineTypeSet {
	var s LineTypeSet
	for _, t := range types {
		s |= 1 << uint(t)
	}
	return s
}

// Has reports whether t is in the set.
func (s LineTypeSet) Has(t LineType) bool {
	return t >= 0 && t < 32 && s&(1<<uint(t)) != 0
}

// KeywordUseLineTypes are the roles that can hold a keyword call or a test case/keyword definition.
var KeywordUseLineTypes = NewLineTypeSet(
	LineTestCaseBegin,
	LineTestCase,
	LineKeywordBegin,
	LineKeyword,
	LineContinuation,
	LineSetting,
)

// ArgumentType is the semantic kind of one token.
type ArgumentType int

const (
	ArgOther ArgumentType = iota
	ArgNewTestCase
	ArgNewKeyword
	ArgKeywordCall
	ArgKeywordCallDynamic
	ArgSettingKey
	ArgSettingValue
	ArgSettingFile
	ArgSettingFileArg
	ArgVariable
)

var argumentTypeNames = [...]string{
	ArgOther:              "REGULAR_ARG",
	ArgNewTestCase:        "NEW_TESTCASE",
	ArgNewKeyword:         "NEW_KEYWORD",
	ArgKeywordCall:        "KEYWORD_CALL",
	ArgKeywordCallDynamic: "KEYWORD_CALL_DYNAMIC",
	ArgSettingKey:         "SETTING_KEY",
	ArgSettingValue:       "SETTING_VAL",
	ArgSettingFile:        "SETTING_FILE",
	ArgSettingFileArg:     "SETTING_FILE_ARG",
	ArgVariable:           "VARIABLE_KEY",
}

func (t ArgumentType) String() string {
	if t >= 0 && int(t) < len(argumentTypeNames) {
		return argumentTypeNames[t]
	}
	return fmt.Sprintf("ArgumentType(%d)", int(t))
}

// TokenID identifies a token by file identity and byte offset within that file.
type TokenID struct {
	File   string
	Offset int
}

// Token is one cell of a line.
type Token struct {
	Value  string
	Type   ArgumentType
	File   string // File identity: absolute path, or library:<Name> for catalog libraries.
	Line   int    // 0-based line number.
	Offset int    // Byte offset of the first character in File.
}

// ID returns the token's identity.
func (t Token) ID() TokenID {
	return TokenID{File: t.File, Offset: t.Offset}
}

// End returns the byte offset just past the token's value.
func (t Token) End() int {
	return t.Offset + len(t.Value)
}

// Line is one classified physical line.
type Line struct {
	Type   LineType
	File   string
	Number int // 0-based.
	Offset int // Byte offset of the line start.
	Tokens []Token
}

// FirstToken returns the first token or false for an empty line.
func (l Line) FirstToken() (Token, bool) {
	if len(l.Tokens) == 0 {
		return Token{}, false
	}
	return l.Tokens[0], true
}

// FileLocation is a file reached during traversal and whether it is the file under edit.
type FileLocation struct {
	File string
	Root bool
}

// WalkFlags are the capabilities a traversal asks the import side to unlock.
type WalkFlags struct {
	LibraryKeywords  bool
	LibraryVariables bool
}

// keywordWalkFlags are fixed for keyword resolution: keywords wanted, variables never.
var keywordWalkFlags = WalkFlags{LibraryKeywords: true, LibraryVariables: false}

// CallSite ties a keyword-call token to the test case or keyword that contains it.
// Context is nil when the call appeared before any definition in the file.
type CallSite struct {
	Context *Token
	Call    Token
}

// Span is a replacement range in the file under edit, in bytes.
type Span struct {
	Start  int
	Length int
}

// CompletionRequest carries one editor completion request.
type CompletionRequest struct {
	File        string
	Prefix      string
	Span        Span
	CursorToken *Token // Definition token to treat as undefined, or nil.
}

// =============================================================================
// Diagnostics
// =============================================================================

type DiagnosticSeverity int

const (
	SeverityError   DiagnosticSeverity = 1
	SeverityWarning DiagnosticSeverity = 2
	SeverityInfo    DiagnosticSeverity = 3
	SeverityHint    DiagnosticSeverity = 4
)

// Range is a half-open byte range within one file.
type Range struct {
	Start int
	End   int
}

type Diagnostic struct {
	Range    Range
	Severity DiagnosticSeverity
	Code     string
	Source   string
	Message  string
}
