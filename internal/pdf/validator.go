package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
)

// Validator checks that an input document is a readable PDF before the run
// commits to staging anything.
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Validator{logger: logger.WithComponent("validator")}
}

// Validate runs path checks plus a relaxed structural check, and returns the
// document's page count. Structural failures are DocumentError: the run must
// abort, no pages can be derived from an unreadable document.
func (v *Validator) Validate(path string) (int, error) {
	if err := v.ValidatePath(path); err != nil {
		return 0, err
	}

	// Scanned forms come from many generators; relaxed mode accepts the
	// mildly out-of-spec files strict mode rejects.
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, domain.DocumentError(fmt.Sprintf("document failed validation: %s", path), err)
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return 0, domain.DocumentError(fmt.Sprintf("cannot determine page count: %s", path), err)
	}
	if pageCount == 0 {
		return 0, domain.DocumentError(fmt.Sprintf("document has no pages: %s", path), nil)
	}

	v.logger.Debug().Str("document", path).Int("pages", pageCount).Msg("document validated")
	return pageCount, nil
}

// ValidatePath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	// Check file size (warn if very large, but don't reject)
	const maxSize = 100 * 1024 * 1024 // 100MB
	if info.Size() > maxSize {
		v.logger.Warn().Str("document", path).
			Int("size_mb", int(info.Size()/(1024*1024))).
			Msg("PDF file is very large, processing may take a while")
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return nil
}
