package pdf

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/imaging"
	"github.com/spherical/form-extractor/internal/observability"
)

// Rasterizer decomposes a PDF into one JPEG per page using go-fitz. Images
// land in the run's staging directory named page_NNN.jpg with a 1-based,
// zero-padded index, so a plain directory listing reproduces document order.
type Rasterizer struct {
	quality  int
	maxWidth int
	logger   *observability.Logger
}

// Options configures page image encoding.
type Options struct {
	JPEGQuality int // passed to the JPEG encoder
	MaxWidth    int // wider pages are downscaled; 0 disables
}

// NewRasterizer creates a rasterizer with the given encoding options.
func NewRasterizer(opts Options, logger *observability.Logger) *Rasterizer {
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Rasterizer{
		quality:  opts.JPEGQuality,
		maxWidth: opts.MaxWidth,
		logger:   logger.WithComponent("rasterizer"),
	}
}

// Rasterize writes exactly one image per PDF page into stagingDir and
// returns the pages in document order, all pending. An unopenable document
// returns DocumentError; the caller must abort the run. The source PDF is
// never modified.
func (r *Rasterizer) Rasterize(ctx context.Context, doc domain.Document, stagingDir string) ([]domain.Page, error) {
	fdoc, err := fitz.New(doc.Path)
	if err != nil {
		return nil, domain.DocumentError(fmt.Sprintf("failed to open PDF: %s", doc.Path), err)
	}
	defer fdoc.Close()

	pageCount := fdoc.NumPage()
	if pageCount == 0 {
		return nil, domain.DocumentError("PDF has no pages", nil)
	}

	r.logger.Info().Str("document", doc.Path).Int("pages", pageCount).Msg("rasterizing document")

	pages := make([]domain.Page, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := fdoc.Image(pageNum)
		if err != nil {
			return nil, domain.DocumentError(fmt.Sprintf("failed to rasterize page %d", pageNum+1), err)
		}

		scaled := imaging.Downscale(img, r.maxWidth)

		outputPath := filepath.Join(stagingDir, fmt.Sprintf("page_%03d.jpg", pageNum+1))
		outputFile, err := os.Create(outputPath)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create image file for page %d", pageNum+1), err)
		}

		err = jpeg.Encode(outputFile, scaled, &jpeg.Options{Quality: r.quality})
		outputFile.Close()
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to encode page %d as JPG", pageNum+1), err)
		}

		r.logger.Debug().Int("page", pageNum+1).
			Int("width", scaled.Bounds().Dx()).
			Int("height", scaled.Bounds().Dy()).
			Msg("page written")

		pages = append(pages, domain.Page{
			Index:     pageNum + 1,
			ImagePath: outputPath,
			Status:    domain.StatusPending,
		})
	}

	return pages, nil
}
