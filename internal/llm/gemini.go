package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
)

// GeminiExtractor implements the extraction contract against the Gemini API.
// It is selected when the configured model is a Gemini variant; orchestration
// code only ever sees the Extractor interface.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	logger *observability.Logger
}

// NewGeminiExtractor creates a Gemini-backed extractor.
func NewGeminiExtractor(ctx context.Context, apiKey, model string, logger *observability.Logger) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, domain.ConfigError("Gemini API key is required", nil)
	}
	if logger == nil {
		logger = observability.Nop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, domain.ConfigError("failed to create Gemini client", err)
	}

	return &GeminiExtractor{
		client: client,
		model:  model,
		logger: logger.WithComponent("gemini"),
	}, nil
}

// Extract sends one page image and returns the validated JSON payload,
// using the same error taxonomy as the OpenAI-compatible client.
func (g *GeminiExtractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	start := time.Now()

	imageData, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return nil, domain.NewExtractionError(domain.TransportFailure, "failed to read image", err)
	}

	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx,
		genai.Text(req.Prompt+"\n\n"+req.Schema),
		genai.ImageData("jpeg", imageData),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyGeminiError(err)
	}

	content := collectText(resp)
	if strings.TrimSpace(content) == "" {
		return nil, domain.MalformedResponseError("model reply is empty", "", nil)
	}

	data, err := ExtractJSON(content)
	if err != nil {
		return nil, domain.MalformedResponseError(err.Error(), content, err)
	}

	g.logger.Debug().Str("image", req.ImagePath).Dur("elapsed", time.Since(start)).Msg("extraction call complete")

	return &domain.ExtractionResult{
		Data:     data,
		Raw:      content,
		Model:    g.model,
		Duration: time.Since(start),
	}, nil
}

// Close releases the underlying API client.
func (g *GeminiExtractor) Close() error {
	return g.client.Close()
}

func classifyGeminiError(err error) *domain.ExtractionError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		detail := fmt.Sprintf("Gemini API returned status %d: %s", gerr.Code, truncate(gerr.Message, 512))
		switch gerr.Code {
		case 401, 403:
			return domain.NewExtractionError(domain.AuthFailure, detail, err)
		case 429:
			return domain.NewExtractionError(domain.RateLimited, detail, err)
		default:
			return domain.NewExtractionError(domain.TransportFailure, detail, err)
		}
	}
	return domain.NewExtractionError(domain.TransportFailure, "request failed", err)
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String()
}
