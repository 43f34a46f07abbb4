// Package export renders a stored policy version as HTML, PDF, or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Document is the version snapshot being exported.
type Document struct {
	ID          string
	Title       string
	TemplateKey string
	Version     int
	HTML        string
	OwnerEmail  string
	CreatedAt   time.Time
}

// ApprovalEntry is one approval row in the export appendix.
type ApprovalEntry struct {
	Reviewer  string
	Status    string
	Note      string
	DecidedAt *time.Time
}

// CommentEntry is one comment row in the export appendix.
type CommentEntry struct {
	Author    string
	Body      string
	CreatedAt time.Time
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
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
