// Package export renders project reports as HTML or PDF.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request contains parameters for an export operation
type Request struct {
	ProjectID      string
	Format         Format
	IncludeHistory bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
