package domain

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// PageStatus tracks the lifecycle of a single page through the pipeline.
type PageStatus string

const (
	StatusPending   PageStatus = "pending"
	StatusSucceeded PageStatus = "succeeded"
	StatusFailed    PageStatus = "failed"
	StatusSkipped   PageStatus = "skipped" // blank page, never extracted
)

// Terminal reports whether a page has finished processing. Skipped pages are
// terminal: they will never produce an artifact.
func (s PageStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// RunState tracks the whole run through its stages. Per-page failures during
// Extracting do not move the run out of its normal progression; only fatal
// stage errors transition to Aborted.
type RunState string

const (
	RunInitialized RunState = "initialized"
	RunStaging     RunState = "staging"
	RunExtracting  RunState = "extracting"
	RunFinalizing  RunState = "finalizing"
	RunCompleted   RunState = "completed"
	RunAborted     RunState = "aborted"
)

// Document represents the source PDF being processed.
type Document struct {
	Path      string
	BaseName  string // sanitized stem, used as directory prefix
	PageCount int    // discovered at validation time, not known in advance
}

// NewDocument derives the sanitized base name from the file path. The
// extension is stripped first, then everything outside [a-zA-Z0-9] is
// dropped, so "W2 Form (2024).pdf" becomes "W2Form2024".
func NewDocument(path string) Document {
	return Document{
		Path:     path,
		BaseName: SanitizeBaseName(path),
	}
}

// SanitizeBaseName returns the directory-safe stem for a document path.
func SanitizeBaseName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	for _, r := range stem {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}

// Page is the unit of work: one rasterized PDF page. Indexes are 1-based and
// equal the PDF page order. Exactly one image file exists per page; at most
// one artifact is produced per page.
type Page struct {
	Index        int
	ImagePath    string
	Status       PageStatus
	Err          error  // set iff Status == StatusFailed
	ArtifactPath string // set iff Status == StatusSucceeded
}

// ImageStem returns the image filename without extension, e.g. "page_003".
// Artifacts are named after this stem so page order survives a plain
// directory listing.
func (p Page) ImageStem() string {
	base := filepath.Base(p.ImagePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExtractionRequest combines one page image with the prompt and schema
// guidance for a single model call. Built per call, never persisted.
type ExtractionRequest struct {
	ImagePath string
	Prompt    string
	Schema    string
}

// ExtractionResult is the model's reply for one page. Data holds the decoded
// JSON payload exactly as the model produced it; Raw keeps the reply text
// before JSON extraction for diagnostics.
type ExtractionResult struct {
	Data     json.RawMessage
	Raw      string
	Model    string
	Duration time.Duration
}

// Valid reports whether the result carries a well-formed JSON payload.
func (r *ExtractionResult) Valid() bool {
	return r != nil && len(r.Data) > 0 && json.Valid(r.Data)
}
