package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/form-extractor/cmd/form-extractor/ui"
	"github.com/spherical/form-extractor/internal/config"
	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/extract"
	"github.com/spherical/form-extractor/internal/llm"
	"github.com/spherical/form-extractor/internal/observability"
	"github.com/spherical/form-extractor/internal/pdf"
	"github.com/spherical/form-extractor/internal/workspace"
)

var (
	extractPromptFile   string
	extractSchemaFile   string
	extractProvider     string
	extractModel        string
	extractAPIKey       string
	extractBaseURL      string
	extractWorkDir      string
	extractInterval     time.Duration
	extractParallel     int
	extractRetries      int
	extractCleanup      bool
	extractForceCleanup bool
	extractKeepStaging  bool
	extractResume       bool
	extractKeepBlank    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf-file>",
	Short: "Extract one JSON artifact per page of a scanned form PDF",
	Long: `Extract renders every page of the given PDF to an image, sends each image
to the configured vision model, and writes the model's JSON reply to
page_NNN.json in a <name>_final_folders directory next to the document.

Pages that fail are listed in a failure ledger; the rest of the document is
still processed. The command exits non-zero only when the whole run aborts.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractPromptFile, "prompt-file", "", "file containing the extraction prompt (default: built-in prompt)")
	extractCmd.Flags().StringVar(&extractSchemaFile, "schema-file", "", "file describing the required JSON shape (default: built-in guidance)")
	extractCmd.Flags().StringVar(&extractProvider, "provider", "", "model backend: openai or gemini (default: inferred from model name)")
	extractCmd.Flags().StringVarP(&extractModel, "model", "m", "", "model identifier, e.g. gpt-4o or gemini-1.5-pro")
	extractCmd.Flags().StringVar(&extractAPIKey, "api-key", "", "API key (default: OPENAI_API_KEY or GEMINI_API_KEY)")
	extractCmd.Flags().StringVar(&extractBaseURL, "base-url", "", "override the OpenAI-compatible endpoint")
	extractCmd.Flags().StringVarP(&extractWorkDir, "work-dir", "w", "", "directory for staging and output (default: the document's directory)")
	extractCmd.Flags().DurationVar(&extractInterval, "interval", 0, "pause between model calls, e.g. 2s (sequential mode only)")
	extractCmd.Flags().IntVar(&extractParallel, "parallel", 0, "number of concurrent model calls (default 1)")
	extractCmd.Flags().IntVar(&extractRetries, "retries", -1, "retry attempts for transient model failures")
	extractCmd.Flags().BoolVar(&extractCleanup, "cleanup", false, "remove the staging directory after a clean run")
	extractCmd.Flags().BoolVar(&extractForceCleanup, "force-cleanup", false, "remove the staging directory even when pages failed")
	extractCmd.Flags().BoolVar(&extractKeepStaging, "keep-staging", false, "never remove the staging directory, overriding config")
	extractCmd.Flags().BoolVar(&extractResume, "resume", false, "reuse an existing staging directory, skipping pages that already have artifacts")
	extractCmd.Flags().BoolVar(&extractKeepBlank, "include-blank-pages", false, "send blank pages to the model instead of skipping them")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyExtractFlags(cmd, cfg)

	ui.InitUI(noColor, verbose)

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       logLevel,
		Format:      cfg.Log.Format,
		ServiceName: "form-extractor",
	})

	provider := cfg.ResolveProvider()
	model := cfg.GetModel()
	apiKey, err := cfg.GetAPIKey()
	if err != nil {
		return fmt.Errorf("resolve API key: %w", err)
	}

	prompt, err := llm.LoadText(cfg.Extraction.PromptFile, llm.DefaultPrompt)
	if err != nil {
		return fmt.Errorf("load prompt: %w", err)
	}
	schema, err := llm.LoadText(cfg.Extraction.SchemaFile, llm.DefaultSchemaGuidance)
	if err != nil {
		return fmt.Errorf("load schema guidance: %w", err)
	}

	workDir := cfg.Workspace.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(pdfPath)
	}

	// Interrupts cancel the run; the workspace keeps whatever was staged.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	var inner domain.Extractor
	switch provider {
	case config.ProviderGemini:
		gemini, err := llm.NewGeminiExtractor(ctx, apiKey, model, logger)
		if err != nil {
			return fmt.Errorf("initialize gemini backend: %w", err)
		}
		defer gemini.Close()
		inner = gemini
	default:
		inner = llm.NewClient(apiKey, model, cfg.Extraction.BaseURL, logger)
	}

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Extraction.MaxRetries
	extractor := llm.NewRetryingExtractor(inner, retryCfg, logger)

	validator := pdf.NewValidator(logger)
	rasterizer := pdf.NewRasterizer(pdf.Options{
		JPEGQuality: cfg.Imaging.JPEGQuality,
		MaxWidth:    cfg.Imaging.MaxWidth,
	}, logger)
	manager := workspace.NewManager(workDir, cfg.Workspace.Resume, logger)

	ui.Section("Form Extraction")
	ui.Info("Document: %s", pdfPath)
	ui.Info("Backend: %s (%s)", provider, model)
	ui.Info("Work directory: %s", workDir)
	ui.Newline()

	cleanup := cfg.Workspace.Cleanup && !cfg.Workspace.KeepStaging

	var spin *ui.Spinner
	var bar *ui.ProgressBar
	showProgress := !verbose

	svc := extract.NewService(validator, rasterizer, extractor, manager, logger, extract.RunOptions{
		Prompt:          prompt,
		Schema:          schema,
		RequestInterval: cfg.Extraction.RequestInterval,
		Parallelism:     cfg.Extraction.Parallelism,
		SkipBlankPages:  cfg.Imaging.SkipBlankPages,
		Resume:          cfg.Workspace.Resume,
		Cleanup:         cleanup,
		ForceCleanup:    cfg.Workspace.ForceCleanup && !cfg.Workspace.KeepStaging,
		OnStage: func(state domain.RunState, pageCount int) {
			if !showProgress {
				return
			}
			switch state {
			case domain.RunStaging:
				spin = ui.NewSpinner("Validating document and rendering pages...")
				spin.Start()
			case domain.RunExtracting:
				spin.Stop()
				bar = ui.NewProgressBar(int64(pageCount), "extracting")
			case domain.RunFinalizing:
				if bar != nil {
					bar.Finish()
				}
			case domain.RunAborted:
				if spin != nil {
					spin.Stop()
				}
				if bar != nil {
					bar.Stop()
				}
			}
		},
		OnPageDone: func(page domain.Page, completed, total int) {
			if bar != nil {
				bar.Add(1)
			}
		},
	})

	report, err := svc.Run(ctx, pdfPath)
	if err != nil {
		ui.Error("Extraction aborted: %v", err)
		return err
	}

	renderReport(report)
	return nil
}

// applyExtractFlags layers explicitly set flags over the loaded config.
func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("prompt-file") {
		cfg.Extraction.PromptFile = extractPromptFile
	}
	if flags.Changed("schema-file") {
		cfg.Extraction.SchemaFile = extractSchemaFile
	}
	if flags.Changed("provider") {
		cfg.Extraction.Provider = extractProvider
	}
	if flags.Changed("model") {
		cfg.Extraction.Model = extractModel
	}
	if flags.Changed("api-key") {
		cfg.Extraction.APIKey = extractAPIKey
	}
	if flags.Changed("base-url") {
		cfg.Extraction.BaseURL = extractBaseURL
	}
	if flags.Changed("work-dir") {
		cfg.Workspace.WorkDir = extractWorkDir
	}
	if flags.Changed("interval") {
		cfg.Extraction.RequestInterval = extractInterval
	}
	if flags.Changed("parallel") && extractParallel > 0 {
		cfg.Extraction.Parallelism = extractParallel
	}
	if flags.Changed("retries") && extractRetries >= 0 {
		cfg.Extraction.MaxRetries = extractRetries
	}
	if flags.Changed("cleanup") {
		cfg.Workspace.Cleanup = extractCleanup
	}
	if flags.Changed("force-cleanup") {
		cfg.Workspace.ForceCleanup = extractForceCleanup
	}
	if flags.Changed("keep-staging") {
		cfg.Workspace.KeepStaging = extractKeepStaging
	}
	if flags.Changed("resume") {
		cfg.Workspace.Resume = extractResume
	}
	if flags.Changed("include-blank-pages") {
		cfg.Imaging.SkipBlankPages = !extractKeepBlank
	}
}

func renderReport(report *extract.Report) {
	ui.Section("Extraction Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Run ID", report.RunID},
		{"Document", report.Document.Path},
		{"Pages", strconv.Itoa(len(report.Pages))},
		{"Succeeded", strconv.Itoa(report.Succeeded)},
		{"Failed", strconv.Itoa(report.Failed)},
		{"Skipped", strconv.Itoa(report.Skipped)},
		{"Output directory", report.OutputDir},
		{"Duration", ui.FormatDuration(report.Duration)},
	})
	ui.Newline()

	if report.RenamedPrevious != "" {
		ui.Warning("Previous output moved aside: %s", report.RenamedPrevious)
	}

	if !report.Ledger.Empty() {
		ui.Warning("%s", report.Ledger.Summary())
		if !report.CleanedUp {
			ui.Info("Staging retained for inspection: %s", report.StagingDir)
		}
		ui.Newline()
	}

	ui.Success("Artifacts written to: %s", report.OutputDir)
}
