package domain

import "context"

// Rasterizer defines the interface for decomposing a PDF into page images
type Rasterizer interface {
	// Rasterize writes exactly one image per PDF page into stagingDir,
	// named with a zero-padded 1-based page index so lexicographic order
	// equals document order. A PDF that cannot be opened returns a
	// DomainError of type ErrorTypeDocument.
	Rasterize(ctx context.Context, doc Document, stagingDir string) ([]Page, error)
}

// Extractor defines the interface for extracting structured data from one
// page image. Implementations perform a single blocking call; failures are
// returned as *ExtractionError so callers can classify them. Retry policy,
// if any, wraps this interface without changing the signature.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error)
}
