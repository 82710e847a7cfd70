package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
	"github.com/spherical/form-extractor/internal/workspace"
)

// LedgerFileName is the ledger's file name inside the output directory.
const LedgerFileName = "failure_ledger.json"

// Finalizer promotes staged artifacts into the output directory once
// every page has reached a terminal status, and owns staging cleanup.
type Finalizer struct {
	manager *workspace.Manager
	logger  *observability.Logger
}

// NewFinalizer creates a finalizer bound to a workspace manager.
func NewFinalizer(manager *workspace.Manager, logger *observability.Logger) *Finalizer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Finalizer{
		manager: manager,
		logger:  logger.WithComponent("finalizer"),
	}
}

// Finalize moves each succeeded page's artifact from staging into the
// output directory, in page order, and writes the failure ledger next to
// them when any page failed. It refuses to run while any page is still
// pending: finalizing mid-extraction would publish an incomplete run as
// if it were done.
func (f *Finalizer) Finalize(ws *workspace.Workspace, pages []domain.Page, ledger *Ledger) error {
	for i := range pages {
		if !pages[i].Status.Terminal() {
			return domain.FinalizeError(fmt.Sprintf("page %d has not reached a terminal status", pages[i].Index), nil)
		}
	}

	moved := 0
	for i := range pages {
		page := &pages[i]
		if page.Status != domain.StatusSucceeded {
			continue
		}
		dest := filepath.Join(ws.OutputDir, filepath.Base(page.ArtifactPath))
		if err := os.Rename(page.ArtifactPath, dest); err != nil {
			return domain.FinalizeError(fmt.Sprintf("failed to move artifact for page %d", page.Index), err)
		}
		page.ArtifactPath = dest
		moved++
	}

	if !ledger.Empty() {
		ledgerPath := filepath.Join(ws.OutputDir, LedgerFileName)
		if err := ledger.WriteFile(ledgerPath); err != nil {
			f.logger.Warn().Err(err).Msg("Could not write failure ledger to output directory")
		} else {
			f.logger.Info().Str("path", ledgerPath).Int("failures", ledger.Len()).Msg("Failure ledger written")
		}
	}

	f.logger.Info().Int("artifacts", moved).Str("output_dir", ws.OutputDir).Msg("Artifacts finalized")
	return nil
}

// Cleanup removes the staging directory. A run with failed pages keeps
// its staging so the page images and raw responses stay available for
// inspection; force overrides that.
func (f *Finalizer) Cleanup(ws *workspace.Workspace, ledger *Ledger, force bool) (bool, error) {
	if !ledger.Empty() && !force {
		f.logger.Warn().Int("failures", ledger.Len()).Str("staging_dir", ws.StagingDir).Msg("Pages failed, staging retained for inspection")
		return false, nil
	}
	if err := f.manager.Teardown(ws.StagingDir, false); err != nil {
		return false, err
	}
	f.logger.Info().Str("staging_dir", ws.StagingDir).Msg("Staging directory removed")
	return true, nil
}
