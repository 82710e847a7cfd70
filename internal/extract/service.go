package extract

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/imaging"
	"github.com/spherical/form-extractor/internal/observability"
	"github.com/spherical/form-extractor/internal/workspace"
)

// Validator checks a source document before any staging work begins.
type Validator interface {
	Validate(path string) (int, error)
}

// RunOptions carries the per-run knobs the orchestrator honors.
type RunOptions struct {
	// Prompt is the extraction instruction sent with every page image.
	Prompt string
	// Schema describes the required response structure, sent alongside
	// the prompt.
	Schema string
	// RequestInterval paces consecutive model calls in sequential mode.
	// Ignored when Parallelism > 1.
	RequestInterval time.Duration
	// Parallelism bounds concurrent model calls. Values <= 1 mean
	// strictly sequential page order.
	Parallelism int
	// SkipBlankPages marks solid-color page renders skipped instead of
	// spending a model call on them.
	SkipBlankPages bool
	// Resume reuses artifacts already present in the staging directory
	// instead of re-extracting those pages.
	Resume bool
	// Cleanup removes the staging directory after a fully clean run.
	Cleanup bool
	// ForceCleanup removes staging even when pages failed.
	ForceCleanup bool

	// OnStage, when set, is invoked as the run enters each stage. pageCount
	// is zero until staging has rendered the pages.
	OnStage func(state domain.RunState, pageCount int)
	// OnPageDone, when set, is invoked after each page commits, strictly in
	// page order.
	OnPageDone func(page domain.Page, completed, total int)
}

// Report is the caller-facing record of a run: what was attempted, what
// each page produced, and where the results live.
type Report struct {
	RunID           string          `json:"run_id"`
	Document        domain.Document `json:"document"`
	State           domain.RunState `json:"state"`
	Pages           []domain.Page   `json:"pages"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Skipped         int             `json:"skipped"`
	Ledger          *Ledger         `json:"-"`
	StagingDir      string          `json:"staging_dir"`
	OutputDir       string          `json:"output_dir"`
	RenamedPrevious string          `json:"renamed_previous,omitempty"`
	CleanedUp       bool            `json:"cleaned_up"`
	Duration        time.Duration   `json:"duration"`
}

// Service orchestrates a document run: validate, stage, extract page by
// page, finalize. Page failures are isolated; only document-level faults
// abort the run.
type Service struct {
	validator  Validator
	rasterizer domain.Rasterizer
	extractor  domain.Extractor
	workspace  *workspace.Manager
	finalizer  *Finalizer
	logger     *observability.Logger
	opts       RunOptions

	madeCall bool
}

// NewService wires an orchestrator from its collaborators.
func NewService(validator Validator, rasterizer domain.Rasterizer, extractor domain.Extractor, ws *workspace.Manager, logger *observability.Logger, opts RunOptions) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		validator:  validator,
		rasterizer: rasterizer,
		extractor:  extractor,
		workspace:  ws,
		finalizer:  NewFinalizer(ws, logger),
		logger:     logger.WithComponent("orchestrator"),
		opts:       opts,
	}
}

// Run executes the complete workflow for one document. The returned
// Report is non-nil even on error so callers can render partial results;
// a non-nil error always means the run aborted.
func (s *Service) Run(ctx context.Context, pdfPath string) (*Report, error) {
	start := time.Now()
	s.madeCall = false

	report := &Report{
		RunID:  uuid.New().String(),
		State:  domain.RunInitialized,
		Ledger: NewLedger(),
	}
	logger := s.logger.WithRun(report.RunID)

	fail := func(err error) (*Report, error) {
		report.State = domain.RunAborted
		report.Duration = time.Since(start)
		logger.Error().Err(err).Msg("Run aborted")
		s.notifyStage(domain.RunAborted, len(report.Pages))
		return report, err
	}

	// Validate the document before touching the filesystem.
	doc := domain.NewDocument(pdfPath)
	pageCount, err := s.validator.Validate(pdfPath)
	if err != nil {
		return fail(err)
	}
	doc.PageCount = pageCount
	report.Document = doc
	logger.Info().Str("document", doc.Path).Str("base_name", doc.BaseName).Int("pages", pageCount).Msg("Document validated")

	// Stage: prepare directories, render every page to an image.
	report.State = domain.RunStaging
	s.notifyStage(domain.RunStaging, 0)
	ws, err := s.workspace.Prepare(doc.BaseName)
	if err != nil {
		return fail(err)
	}
	report.StagingDir = ws.StagingDir
	report.OutputDir = ws.OutputDir
	report.RenamedPrevious = ws.RenamedPrevious

	pages, err := s.rasterizer.Rasterize(ctx, doc, ws.StagingDir)
	if err != nil {
		return fail(err)
	}
	if len(pages) != pageCount {
		logger.Warn().Int("validated", pageCount).Int("rendered", len(pages)).Msg("Page count mismatch, trusting rendered pages")
		report.Document.PageCount = len(pages)
	}
	report.Pages = pages
	logger.Info().Int("pages", len(pages)).Str("staging_dir", ws.StagingDir).Msg("Staging complete")

	// Extract each page. Page errors land in the ledger; the loop goes on.
	report.State = domain.RunExtracting
	s.notifyStage(domain.RunExtracting, len(pages))
	if err := s.processPages(ctx, ws, pages, report); err != nil {
		return fail(err)
	}

	// Finalize: move artifacts to the output directory, surface the ledger.
	report.State = domain.RunFinalizing
	s.notifyStage(domain.RunFinalizing, len(pages))
	if err := s.finalizer.Finalize(ws, pages, report.Ledger); err != nil {
		return fail(err)
	}

	if s.opts.Cleanup || s.opts.ForceCleanup {
		cleaned, err := s.finalizer.Cleanup(ws, report.Ledger, s.opts.ForceCleanup)
		if err != nil {
			logger.Warn().Err(err).Msg("Staging cleanup failed, directory left in place")
		}
		report.CleanedUp = cleaned
	}

	report.State = domain.RunCompleted
	report.Duration = time.Since(start)
	s.notifyStage(domain.RunCompleted, len(pages))
	logger.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Run complete")

	return report, nil
}

// pageOutcome is the result of working one page, produced by extractPage
// and applied to the run by commitPage.
type pageOutcome struct {
	resumed bool
	blank   bool
	result  *domain.ExtractionResult
	err     error
}

func (s *Service) processPages(ctx context.Context, ws *workspace.Workspace, pages []domain.Page, report *Report) error {
	if s.opts.Parallelism > 1 {
		return s.processParallel(ctx, ws, pages, report)
	}

	for i := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := s.extractPage(ctx, ws, &pages[i])
		if err := s.commitPage(ws, &pages[i], out, report); err != nil {
			return err
		}
		s.notifyPageDone(pages[i], i+1, len(pages))
	}
	return nil
}

// processParallel extracts pages concurrently but commits outcomes
// strictly in page order, so artifacts appear exactly as they would in a
// sequential run.
func (s *Service) processParallel(ctx context.Context, ws *workspace.Workspace, pages []domain.Page, report *Report) error {
	outcomes := make([]pageOutcome, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = pageOutcome{err: err}
				return nil
			}
			outcomes[i] = s.extractPage(gctx, ws, &pages[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range pages {
		if err := s.commitPage(ws, &pages[i], outcomes[i], report); err != nil {
			return err
		}
		s.notifyPageDone(pages[i], i+1, len(pages))
	}
	return nil
}

// extractPage works a single page up to, but not including, any writes:
// resume and blank checks first, then the model call. File mutations
// belong to commitPage so they stay ordered.
func (s *Service) extractPage(ctx context.Context, ws *workspace.Workspace, page *domain.Page) pageOutcome {
	if s.opts.Resume {
		if _, err := os.Stat(artifactPathFor(ws, page)); err == nil {
			return pageOutcome{resumed: true}
		}
	}

	if s.opts.SkipBlankPages && isBlankPage(page.ImagePath) {
		return pageOutcome{blank: true}
	}

	// Pacing is sequential-only; madeCall is never touched by the parallel
	// workers.
	sequential := s.opts.Parallelism <= 1
	if sequential && s.opts.RequestInterval > 0 && s.madeCall {
		if err := sleepCtx(ctx, s.opts.RequestInterval); err != nil {
			return pageOutcome{err: err}
		}
	}

	result, err := s.extractor.Extract(ctx, domain.ExtractionRequest{
		ImagePath: page.ImagePath,
		Prompt:    s.opts.Prompt,
		Schema:    s.opts.Schema,
	})
	if sequential {
		s.madeCall = true
	}
	if err != nil {
		return pageOutcome{err: err}
	}
	return pageOutcome{result: result}
}

// commitPage applies one outcome: writes the artifact or raw-response
// dump, sets the page status, and updates counters and the ledger.
// Returning an error aborts the run.
func (s *Service) commitPage(ws *workspace.Workspace, page *domain.Page, out pageOutcome, report *Report) error {
	plog := s.logger.WithRun(report.RunID).WithPage(page.Index)

	switch {
	case out.resumed:
		page.Status = domain.StatusSucceeded
		page.ArtifactPath = artifactPathFor(ws, page)
		report.Succeeded++
		plog.Info().Str("artifact", page.ArtifactPath).Msg("Existing artifact found, page resumed")
		return nil

	case out.blank:
		page.Status = domain.StatusSkipped
		report.Skipped++
		plog.Info().Msg("Blank page skipped")
		return nil

	case out.err != nil:
		// Typed extraction errors are always page-local, even when their
		// chain contains a deadline from the per-request timeout. Only a
		// bare context error means the run itself was cancelled.
		ee, ok := domain.AsExtractionError(out.err)
		if !ok {
			if errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded) {
				return out.err
			}
			ee = domain.NewExtractionError(domain.TransportFailure, out.err.Error(), out.err)
		}
		page.Status = domain.StatusFailed
		page.Err = ee
		report.Failed++
		report.Ledger.Record(page.Index, ee)
		if ee.Kind == domain.MalformedResponse && ee.Raw != "" {
			rawPath := rawResponsePathFor(ws, page)
			if werr := os.WriteFile(rawPath, []byte(ee.Raw), 0644); werr != nil {
				plog.Warn().Err(werr).Msg("Could not save raw model response")
			} else {
				plog.Info().Str("path", rawPath).Msg("Raw model response saved for inspection")
			}
		}
		plog.Error().Str("kind", string(ee.Kind)).Str("detail", ee.Detail).Msg("Page extraction failed")
		return nil

	default:
		artifactPath := artifactPathFor(ws, page)
		if err := os.WriteFile(artifactPath, out.result.Data, 0644); err != nil {
			return domain.IOError(fmt.Sprintf("failed to write artifact for page %d", page.Index), err)
		}
		page.Status = domain.StatusSucceeded
		page.ArtifactPath = artifactPath
		report.Succeeded++
		plog.Info().Str("model", out.result.Model).Dur("duration", out.result.Duration).Msg("Page extracted")
		return nil
	}
}

func (s *Service) notifyStage(state domain.RunState, pageCount int) {
	if s.opts.OnStage != nil {
		s.opts.OnStage(state, pageCount)
	}
}

func (s *Service) notifyPageDone(page domain.Page, completed, total int) {
	if s.opts.OnPageDone != nil {
		s.opts.OnPageDone(page, completed, total)
	}
}

func artifactPathFor(ws *workspace.Workspace, page *domain.Page) string {
	return filepath.Join(ws.StagingDir, page.ImageStem()+".json")
}

func rawResponsePathFor(ws *workspace.Workspace, page *domain.Page) string {
	return filepath.Join(ws.StagingDir, page.ImageStem()+".response.json")
}

// isBlankPage reports whether a rendered page is a single solid color.
// Unreadable images are treated as content so they still reach the model.
func isBlankPage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return false
	}
	return imaging.IsSolidColor(img)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
