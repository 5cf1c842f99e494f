package ingest

import (
	"fmt"
)

// Error code constants for ingestion.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeScanError  = "E002" // Directory scan error
	ErrCodeNoFiles    = "E003" // No input files found
	ErrCodeReadFailed = "E004" // File could not be read
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeDecode     = "E006" // Record passed schema but failed to decode
	ErrCodeSchema     = "E007" // Record failed schema validation
	ErrCodeCSVHeader  = "E008" // Task metadata header invalid
	ErrCodeCSVRow     = "E009" // Task metadata row invalid
)

// LoadError represents an error that occurred while reading input files.
type LoadError struct {
	Code    string
	Message string
	File    string
	Line    int
}

func (e *LoadError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}
