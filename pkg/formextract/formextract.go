// Package formextract is the public entry point for embedding the form
// extraction pipeline in other programs. It wires the same components the
// CLI uses and exposes one synchronous Process call per document.
package formextract

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spherical/form-extractor/internal/config"
	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/extract"
	"github.com/spherical/form-extractor/internal/llm"
	"github.com/spherical/form-extractor/internal/observability"
	"github.com/spherical/form-extractor/internal/pdf"
	"github.com/spherical/form-extractor/internal/workspace"
)

// Re-export run types for the public API.
type (
	Report      = extract.Report
	Ledger      = extract.Ledger
	LedgerEntry = extract.LedgerEntry
	Page        = domain.Page
	PageStatus  = domain.PageStatus
	RunState    = domain.RunState
)

// LedgerFileName is the failure ledger's file name inside the output
// directory.
const LedgerFileName = extract.LedgerFileName

// Page status constants.
const (
	StatusPending   = domain.StatusPending
	StatusSucceeded = domain.StatusSucceeded
	StatusFailed    = domain.StatusFailed
	StatusSkipped   = domain.StatusSkipped
)

// Run state constants.
const (
	RunCompleted = domain.RunCompleted
	RunAborted   = domain.RunAborted
)

// Config holds client options. Zero values fall back to the same defaults
// the CLI uses.
type Config struct {
	APIKey   string // default: OPENAI_API_KEY or GEMINI_API_KEY
	Model    string // default: gpt-4o
	Provider string // openai or gemini; inferred from Model when empty
	BaseURL  string // override for OpenAI-compatible endpoints

	PromptFile string // default: built-in prompt
	SchemaFile string // default: built-in guidance

	WorkDir         string // default: the document's directory
	RequestInterval time.Duration
	Parallelism     int
	MaxRetries      int
	SkipBlankPages  bool
	Resume          bool
	Cleanup         bool
	ForceCleanup    bool

	// OnStage and OnPageDone receive progress callbacks; see extract.RunOptions.
	OnStage    func(state RunState, pageCount int)
	OnPageDone func(page Page, completed, total int)

	// Logger defaults to a silent logger so library users opt in to output.
	Logger *observability.Logger
}

// Client runs the extraction pipeline for PDF documents.
type Client struct {
	validator  *pdf.Validator
	rasterizer *pdf.Rasterizer
	extractor  domain.Extractor
	logger     *observability.Logger
	opts       extract.RunOptions
	workDir    string
	resume     bool
	gemini     *llm.GeminiExtractor
}

// NewClient creates a client from environment configuration: .env is
// honored, the API key comes from OPENAI_API_KEY or GEMINI_API_KEY, and
// FORM_EXTRACTOR_* variables override the defaults.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	apiKey, err := cfg.GetAPIKey()
	if err != nil {
		return nil, domain.ConfigError("no API key configured", err)
	}
	return NewClientWithConfig(ctx, &Config{
		APIKey:          apiKey,
		Model:           cfg.GetModel(),
		Provider:        cfg.Extraction.Provider,
		BaseURL:         cfg.Extraction.BaseURL,
		PromptFile:      cfg.Extraction.PromptFile,
		SchemaFile:      cfg.Extraction.SchemaFile,
		WorkDir:         cfg.Workspace.WorkDir,
		RequestInterval: cfg.Extraction.RequestInterval,
		Parallelism:     cfg.Extraction.Parallelism,
		MaxRetries:      cfg.Extraction.MaxRetries,
		SkipBlankPages:  cfg.Imaging.SkipBlankPages,
		Resume:          cfg.Workspace.Resume,
		Cleanup:         cfg.Workspace.Cleanup,
		ForceCleanup:    cfg.Workspace.ForceCleanup,
	})
}

// NewClientWithConfig creates a client with explicit configuration.
func NewClientWithConfig(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("API key is required", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	provider := resolveProvider(cfg.Provider, model)

	prompt, err := llm.LoadText(cfg.PromptFile, llm.DefaultPrompt)
	if err != nil {
		return nil, err
	}
	schema, err := llm.LoadText(cfg.SchemaFile, llm.DefaultSchemaGuidance)
	if err != nil {
		return nil, err
	}

	imagingDefaults := config.DefaultConfig().Imaging
	c := &Client{
		validator: pdf.NewValidator(logger),
		rasterizer: pdf.NewRasterizer(pdf.Options{
			JPEGQuality: imagingDefaults.JPEGQuality,
			MaxWidth:    imagingDefaults.MaxWidth,
		}, logger),
		logger: logger,
		workDir:    cfg.WorkDir,
		resume:     cfg.Resume,
		opts: extract.RunOptions{
			Prompt:          prompt,
			Schema:          schema,
			RequestInterval: cfg.RequestInterval,
			Parallelism:     cfg.Parallelism,
			SkipBlankPages:  cfg.SkipBlankPages,
			Resume:          cfg.Resume,
			Cleanup:         cfg.Cleanup,
			ForceCleanup:    cfg.ForceCleanup,
			OnStage:         cfg.OnStage,
			OnPageDone:      cfg.OnPageDone,
		},
	}

	var inner domain.Extractor
	if provider == config.ProviderGemini {
		gemini, err := llm.NewGeminiExtractor(ctx, cfg.APIKey, model, logger)
		if err != nil {
			return nil, err
		}
		c.gemini = gemini
		inner = gemini
	} else {
		inner = llm.NewClient(cfg.APIKey, model, cfg.BaseURL, logger)
	}

	retryCfg := llm.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	c.extractor = llm.NewRetryingExtractor(inner, retryCfg, logger)

	return c, nil
}

// Process runs the full pipeline for one document and returns its report.
// The report is non-nil even on error so partial results stay inspectable.
func (c *Client) Process(ctx context.Context, pdfPath string) (*Report, error) {
	workDir := c.workDir
	if workDir == "" {
		workDir = filepath.Dir(pdfPath)
	}

	manager := workspace.NewManager(workDir, c.resume, c.logger)
	svc := extract.NewService(c.validator, c.rasterizer, c.extractor, manager, c.logger, c.opts)
	return svc.Run(ctx, pdfPath)
}

// Close releases backend resources. Safe to call for every backend.
func (c *Client) Close() error {
	if c.gemini != nil {
		return c.gemini.Close()
	}
	return nil
}

func resolveProvider(provider, model string) string {
	cfg := config.Config{Extraction: config.ExtractionConfig{Provider: provider, Model: model}}
	return cfg.ResolveProvider()
}
