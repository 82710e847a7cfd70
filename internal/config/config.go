// Package config provides unified configuration loading for the form
// extractor. Supports YAML files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Providers selectable for the extraction backend.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all configuration for a pipeline run.
type Config struct {
	Extraction ExtractionConfig `yaml:"extraction"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Imaging    ImagingConfig    `yaml:"imaging"`
	Log        LogConfig        `yaml:"log"`
}

// ExtractionConfig holds model-call settings.
type ExtractionConfig struct {
	Provider        string        `yaml:"provider"` // openai or gemini; inferred from model when empty
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	PromptFile      string        `yaml:"prompt_file"`
	SchemaFile      string        `yaml:"schema_file"`
	MaxRetries      int           `yaml:"max_retries"`
	RequestInterval time.Duration `yaml:"request_interval"` // pause between page calls
	Parallelism     int           `yaml:"parallelism"`      // 1 = strictly sequential
}

// WorkspaceConfig holds staging/output directory behavior.
type WorkspaceConfig struct {
	WorkDir      string `yaml:"work_dir"` // defaults to the document's directory
	Cleanup      bool   `yaml:"cleanup"`
	ForceCleanup bool   `yaml:"force_cleanup"` // cleanup even when pages failed
	KeepStaging  bool   `yaml:"keep_staging"`
	Resume       bool   `yaml:"resume"` // reuse staging, skip pages with artifacts
}

// ImagingConfig holds page-image settings.
type ImagingConfig struct {
	MaxWidth       int  `yaml:"max_width"`
	JPEGQuality    int  `yaml:"jpeg_quality"`
	SkipBlankPages bool `yaml:"skip_blank_pages"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			Model:       "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			MaxRetries:  3,
			Parallelism: 1,
		},
		Imaging: ImagingConfig{
			MaxWidth:       1024,
			JPEGQuality:    85,
			SkipBlankPages: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from an optional YAML file, with environment
// variable overrides applied on top. A missing explicit path is an error; a
// missing default-location file is not.
func Load(path string) (*Config, error) {
	// Load .env if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	} else {
		for _, candidate := range []string{"form-extractor.yaml", "configs/form-extractor.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				if err := loadFile(cfg, candidate); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Extraction.Provider {
	case "", ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q (expected %s or %s)",
			c.Extraction.Provider, ProviderOpenAI, ProviderGemini)
	}

	if c.Extraction.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Extraction.Parallelism < 1 {
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Extraction.Parallelism)
	}

	if c.Extraction.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.Extraction.MaxRetries)
	}

	if c.Extraction.RequestInterval < 0 {
		return fmt.Errorf("request_interval must be >= 0")
	}

	if c.Imaging.JPEGQuality < 1 || c.Imaging.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.Imaging.JPEGQuality)
	}

	if c.Imaging.MaxWidth < 1 {
		return fmt.Errorf("max_width must be >= 1, got %d", c.Imaging.MaxWidth)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// ResolveProvider returns the effective backend, inferring from the model
// name when not set explicitly.
func (c *Config) ResolveProvider() string {
	if c.Extraction.Provider != "" {
		return c.Extraction.Provider
	}
	if strings.HasPrefix(strings.ToLower(c.Extraction.Model), "gemini") {
		return ProviderGemini
	}
	return ProviderOpenAI
}

// GetAPIKey returns the extraction credential, with fallback priority:
// 1. api_key from config/flags
// 2. provider-specific environment variable (OPENAI_API_KEY or GEMINI_API_KEY)
func (c *Config) GetAPIKey() (string, error) {
	if c.Extraction.APIKey != "" {
		return c.Extraction.APIKey, nil
	}

	envVar := "OPENAI_API_KEY"
	if c.ResolveProvider() == ProviderGemini {
		envVar = "GEMINI_API_KEY"
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key configured and %s is not set", envVar)
}

// GetModel returns the model identifier, with fallback priority:
// 1. FORM_EXTRACTOR_MODEL environment variable
// 2. configured model
func (c *Config) GetModel() string {
	if model := os.Getenv("FORM_EXTRACTOR_MODEL"); model != "" {
		return model
	}
	return c.Extraction.Model
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORM_EXTRACTOR_PROVIDER"); v != "" {
		cfg.Extraction.Provider = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_MODEL"); v != "" {
		cfg.Extraction.Model = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_BASE_URL"); v != "" {
		cfg.Extraction.BaseURL = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_PROMPT_FILE"); v != "" {
		cfg.Extraction.PromptFile = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_SCHEMA_FILE"); v != "" {
		cfg.Extraction.SchemaFile = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_PARALLELISM"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Extraction.Parallelism = n
		}
	}

	if v := os.Getenv("FORM_EXTRACTOR_REQUEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Extraction.RequestInterval = d
		}
	}

	if v := os.Getenv("FORM_EXTRACTOR_WORK_DIR"); v != "" {
		cfg.Workspace.WorkDir = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("FORM_EXTRACTOR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
