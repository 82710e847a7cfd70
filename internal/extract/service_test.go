package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
	"github.com/spherical/form-extractor/internal/workspace"
)

type fakeValidator struct {
	pages int
	err   error
}

func (v *fakeValidator) Validate(path string) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	return v.pages, nil
}

// fakeRasterizer writes real JPEG files so blank detection and artifact
// naming behave exactly as they do against rendered pages.
type fakeRasterizer struct {
	pages      int
	blankPages map[int]bool
	err        error
}

func (r *fakeRasterizer) Rasterize(ctx context.Context, doc domain.Document, stagingDir string) ([]domain.Page, error) {
	if r.err != nil {
		return nil, r.err
	}
	pages := make([]domain.Page, 0, r.pages)
	for i := 1; i <= r.pages; i++ {
		imagePath := filepath.Join(stagingDir, fmt.Sprintf("page_%03d.jpg", i))
		writePageImage(imagePath, r.blankPages[i])
		pages = append(pages, domain.Page{
			Index:     i,
			ImagePath: imagePath,
			Status:    domain.StatusPending,
		})
	}
	return pages, nil
}

func writePageImage(path string, blank bool) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	if !blank {
		for y := 20; y < 28; y++ {
			for x := 20; x < 28; x++ {
				img.Set(x, y, color.RGBA{A: 255})
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
}

// fakeExtractor replies per page index, parsed from the image file name.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   []int
	failOn  map[int]error
	payload func(page int) string
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		failOn: map[int]error{},
		payload: func(page int) string {
			return fmt.Sprintf(`{"page": %d, "field": "value-%d"}`, page, page)
		},
	}
}

func (e *fakeExtractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	page := pageIndexFromPath(req.ImagePath)

	e.mu.Lock()
	e.calls = append(e.calls, page)
	e.mu.Unlock()

	if err, ok := e.failOn[page]; ok {
		return nil, err
	}
	body := e.payload(page)
	return &domain.ExtractionResult{
		Data:  json.RawMessage(body),
		Raw:   body,
		Model: "test-model",
	}, nil
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeExtractor) calledPages() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.calls))
	copy(out, e.calls)
	return out
}

func pageIndexFromPath(imagePath string) int {
	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	n, err := strconv.Atoi(strings.TrimPrefix(stem, "page_"))
	if err != nil {
		panic("unexpected page image name: " + imagePath)
	}
	return n
}

type serviceFixture struct {
	workDir    string
	validator  *fakeValidator
	rasterizer *fakeRasterizer
	extractor  *fakeExtractor
	manager    *workspace.Manager
}

func newServiceFixture(t *testing.T, pages int) *serviceFixture {
	t.Helper()
	workDir := t.TempDir()
	return &serviceFixture{
		workDir:    workDir,
		validator:  &fakeValidator{pages: pages},
		rasterizer: &fakeRasterizer{pages: pages},
		extractor:  newFakeExtractor(),
		manager:    workspace.NewManager(workDir, false, observability.Nop()),
	}
}

func (f *serviceFixture) service(opts RunOptions) *Service {
	if opts.Prompt == "" {
		opts.Prompt = "extract the form"
	}
	return NewService(f.validator, f.rasterizer, f.extractor, f.manager, observability.Nop(), opts)
}

func TestServiceRunAllPagesSucceed(t *testing.T) {
	f := newServiceFixture(t, 3)
	svc := f.service(RunOptions{})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.State)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.True(t, report.Ledger.Empty())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "sample", report.Document.BaseName)

	outputDir := filepath.Join(f.workDir, "sample_final_folders")
	assert.Equal(t, outputDir, report.OutputDir)
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("page_%03d.json", i)
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		require.NoError(t, err, "artifact %s should exist in output", name)
		assert.JSONEq(t, fmt.Sprintf(`{"page": %d, "field": "value-%d"}`, i, i), string(data))
	}

	// No cleanup requested, staging stays.
	assert.DirExists(t, filepath.Join(f.workDir, "sample_staging"))
	assert.False(t, report.CleanedUp)
}

func TestServiceRunPageFailureIsIsolated(t *testing.T) {
	f := newServiceFixture(t, 5)
	rawReply := "I cannot read this page, sorry."
	f.extractor.failOn[3] = domain.MalformedResponseError("no JSON object in reply", rawReply, nil)
	svc := f.service(RunOptions{})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err, "a page failure must not abort the run")

	assert.Equal(t, domain.RunCompleted, report.State)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.extractor.calledPages(), "every page should be attempted")

	outputDir := report.OutputDir
	for _, i := range []int{1, 2, 4, 5} {
		assert.FileExists(t, filepath.Join(outputDir, fmt.Sprintf("page_%03d.json", i)))
	}
	assert.NoFileExists(t, filepath.Join(outputDir, "page_003.json"))

	entries := report.Ledger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Page)
	assert.Equal(t, domain.MalformedResponse, entries[0].Kind)

	// The unparseable reply is kept in staging for inspection.
	raw, err := os.ReadFile(filepath.Join(report.StagingDir, "page_003.response.json"))
	require.NoError(t, err)
	assert.Equal(t, rawReply, string(raw))

	// The ledger is also surfaced next to the artifacts.
	ledgerData, err := os.ReadFile(filepath.Join(outputDir, LedgerFileName))
	require.NoError(t, err)
	var persisted []LedgerEntry
	require.NoError(t, json.Unmarshal(ledgerData, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, 3, persisted[0].Page)

	page3 := report.Pages[2]
	assert.Equal(t, domain.StatusFailed, page3.Status)
	assert.Error(t, page3.Err)
	assert.Empty(t, page3.ArtifactPath)
}

func TestServiceRunArtifactRoundTrip(t *testing.T) {
	f := newServiceFixture(t, 1)
	payload := `{"employer": {"name": "ACME Corp", "ein": "12-3456789"}, "wages": 51234.50}`
	f.extractor.payload = func(page int) string { return payload }
	svc := f.service(RunOptions{})

	report, err := svc.Run(context.Background(), "w2.pdf")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(report.OutputDir, "page_001.json"))
	require.NoError(t, err)
	assert.Equal(t, payload, string(data), "artifact bytes must be exactly what the extractor returned")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ACME Corp", decoded["employer"].(map[string]any)["name"])
}

func TestServiceRunValidatorFailureAborts(t *testing.T) {
	f := newServiceFixture(t, 3)
	f.validator.err = domain.ValidationError("file does not exist", nil)
	svc := f.service(RunOptions{})

	report, err := svc.Run(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.Equal(t, domain.RunAborted, report.State)
	assert.Equal(t, 0, f.extractor.callCount())
	assert.True(t, domain.IsFatal(err))
}

func TestServiceRunRasterizerFailureAborts(t *testing.T) {
	f := newServiceFixture(t, 3)
	f.rasterizer.err = domain.DocumentError("cannot open document", nil)
	svc := f.service(RunOptions{})

	report, err := svc.Run(context.Background(), "corrupt.pdf")
	require.Error(t, err)
	assert.Equal(t, domain.RunAborted, report.State)
	assert.Equal(t, 0, f.extractor.callCount())
}

func TestServiceRunCleanupAfterCleanRun(t *testing.T) {
	f := newServiceFixture(t, 2)
	svc := f.service(RunOptions{Cleanup: true})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.True(t, report.CleanedUp)
	assert.NoDirExists(t, filepath.Join(f.workDir, "sample_staging"))
	assert.FileExists(t, filepath.Join(report.OutputDir, "page_001.json"))
}

func TestServiceRunCleanupBlockedByFailure(t *testing.T) {
	f := newServiceFixture(t, 2)
	f.extractor.failOn[2] = domain.NewExtractionError(domain.AuthFailure, "invalid key", nil)
	svc := f.service(RunOptions{Cleanup: true})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.False(t, report.CleanedUp, "cleanup must not run while pages failed")
	assert.DirExists(t, report.StagingDir)
}

func TestServiceRunForceCleanupOverridesFailure(t *testing.T) {
	f := newServiceFixture(t, 2)
	f.extractor.failOn[2] = domain.NewExtractionError(domain.AuthFailure, "invalid key", nil)
	svc := f.service(RunOptions{Cleanup: true, ForceCleanup: true})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.True(t, report.CleanedUp)
	assert.NoDirExists(t, report.StagingDir)
}

func TestServiceRunResumeSkipsExistingArtifacts(t *testing.T) {
	workDir := t.TempDir()
	stagingDir := filepath.Join(workDir, "sample_staging")
	require.NoError(t, os.MkdirAll(stagingDir, 0755))
	seeded := `{"page": 2, "resumed": true}`
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "page_002.json"), []byte(seeded), 0644))

	f := &serviceFixture{
		workDir:    workDir,
		validator:  &fakeValidator{pages: 3},
		rasterizer: &fakeRasterizer{pages: 3},
		extractor:  newFakeExtractor(),
		manager:    workspace.NewManager(workDir, true, observability.Nop()),
	}
	svc := f.service(RunOptions{Resume: true})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, f.extractor.calledPages(), "page 2 already has an artifact")
	assert.Equal(t, 3, report.Succeeded)

	data, err := os.ReadFile(filepath.Join(report.OutputDir, "page_002.json"))
	require.NoError(t, err)
	assert.Equal(t, seeded, string(data), "resumed artifact must be carried over untouched")
}

func TestServiceRunSkipsBlankPages(t *testing.T) {
	f := newServiceFixture(t, 3)
	f.rasterizer.blankPages = map[int]bool{2: true}
	svc := f.service(RunOptions{SkipBlankPages: true})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, f.extractor.calledPages())
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, domain.StatusSkipped, report.Pages[1].Status)
	assert.True(t, report.Ledger.Empty(), "a skipped page is not a failure")
	assert.NoFileExists(t, filepath.Join(report.OutputDir, "page_002.json"))
}

func TestServiceRunParallel(t *testing.T) {
	f := newServiceFixture(t, 5)
	svc := f.service(RunOptions{Parallelism: 3})

	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 5, f.extractor.callCount())
	for i := 1; i <= 5; i++ {
		data, err := os.ReadFile(filepath.Join(report.OutputDir, fmt.Sprintf("page_%03d.json", i)))
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"page": %d, "field": "value-%d"}`, i, i), string(data))
	}
}

func TestServiceRunCancelledContextAborts(t *testing.T) {
	f := newServiceFixture(t, 3)
	svc := f.service(RunOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx, "sample.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunAborted, report.State)
}

func TestServiceRunPacesSequentialCalls(t *testing.T) {
	f := newServiceFixture(t, 3)
	svc := f.service(RunOptions{RequestInterval: 50 * time.Millisecond})

	start := time.Now()
	report, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"three calls should be separated by two pacing intervals")
}

func TestServiceRunProgressHooks(t *testing.T) {
	f := newServiceFixture(t, 3)

	var states []domain.RunState
	var ticks []int
	svc := f.service(RunOptions{
		OnStage: func(state domain.RunState, pageCount int) {
			states = append(states, state)
		},
		OnPageDone: func(page domain.Page, completed, total int) {
			ticks = append(ticks, completed)
			assert.Equal(t, 3, total)
		},
	})

	_, err := svc.Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, []domain.RunState{
		domain.RunStaging,
		domain.RunExtracting,
		domain.RunFinalizing,
		domain.RunCompleted,
	}, states)
	assert.Equal(t, []int{1, 2, 3}, ticks, "pages must commit in order")
}

func TestServiceRunSecondRunRenamesPreviousOutput(t *testing.T) {
	f := newServiceFixture(t, 2)

	first, err := f.service(RunOptions{}).Run(context.Background(), "sample.pdf")
	require.NoError(t, err)
	assert.Empty(t, first.RenamedPrevious)

	second, err := f.service(RunOptions{}).Run(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.workDir, "sample_final_folders_prev"), second.RenamedPrevious)
	assert.FileExists(t, filepath.Join(second.RenamedPrevious, "page_001.json"),
		"first run's artifacts must survive the second run")
	assert.FileExists(t, filepath.Join(second.OutputDir, "page_001.json"))
}
