// kwcomplete/kwcomplete_errors.go
// Exported error definitions for the kwcomplete package.
package kwcomplete

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrRootUnreadable indicates the file under edit could not be read or tokenized.
	// Unreadable imported files never produce an error; they are skipped.
	ErrRootUnreadable = errors.New("root file unreadable")

	// ErrFileTooLarge indicates a suite file exceeds the configured max_file_size_bytes.
	ErrFileTooLarge = errors.New("file too large")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCatalog indicates a general library catalog failure.
	ErrCatalog = errors.New("library catalog operation failed")

	// ErrCatalogRead indicates failure reading from the catalog database.
	ErrCatalogRead = errors.New("library catalog read failed")

	// ErrCatalogWrite indicates failure writing to the catalog database.
	ErrCatalogWrite = errors.New("library catalog write failed")

	// ErrCatalogDecode indicates failure decoding a stored library entry.
	ErrCatalogDecode = errors.New("library catalog decode failed")

	// ErrCatalogEncode indicates failure encoding a library entry for storage.
	ErrCatalogEncode = errors.New("library catalog encode failed")

	// ErrLibrarySpec indicates a library spec file (libdoc JSON or YAML) could not be parsed.
	ErrLibrarySpec = errors.New("invalid library spec")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)
