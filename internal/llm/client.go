package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	completionsPath = "/chat/completions"

	defaultModel   = "gpt-4o"
	maxTokens      = 4096
	requestTimeout = 120 * time.Second
)

// Client calls an OpenAI-compatible vision chat-completions endpoint. One
// Extract call is one blocking request; retry policy lives in the decorator,
// not here.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat requests a JSON-object reply from the endpoint.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage carries the assistant reply content.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient creates an extraction client for an OpenAI-compatible endpoint.
func NewClient(apiKey, model, baseURL string, logger *observability.Logger) *Client {
	if model == "" {
		model = defaultModel
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.WithComponent("llm"),
	}
}

// Extract sends one page image with the prompt and schema guidance and
// returns the validated JSON payload. All failures come back as
// *domain.ExtractionError so the orchestrator can record them without
// aborting the run; context cancellation is surfaced as ctx.Err().
func (c *Client) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	start := time.Now()

	body, err := c.buildRequest(req)
	if err != nil {
		return nil, domain.NewExtractionError(domain.TransportFailure, "failed to build request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewExtractionError(domain.TransportFailure, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewExtractionError(domain.TransportFailure, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewExtractionError(domain.TransportFailure, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.MalformedResponseError("response body is not valid JSON", string(respBody), err)
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.MalformedResponseError("response contains no choices", string(respBody), nil)
	}

	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, domain.MalformedResponseError("model reply is empty", string(respBody), nil)
	}

	data, err := ExtractJSON(content)
	if err != nil {
		return nil, domain.MalformedResponseError(err.Error(), content, err)
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}

	c.logger.Debug().Str("image", req.ImagePath).Dur("elapsed", time.Since(start)).Msg("extraction call complete")

	return &domain.ExtractionResult{
		Data:     data,
		Raw:      content,
		Model:    model,
		Duration: time.Since(start),
	}, nil
}

// buildRequest constructs the API request with the image attached as a
// base64 data URL.
func (c *Client) buildRequest(req domain.ExtractionRequest) ([]byte, error) {
	imageData, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "text", Text: req.Schema},
			{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
		},
	}

	return json.Marshal(&Request{
		Model:          c.model,
		Messages:       []Message{msg},
		MaxTokens:      maxTokens,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
}

// classifyStatus maps a non-200 status to the extraction error taxonomy.
func classifyStatus(status int, body []byte) *domain.ExtractionError {
	detail := fmt.Sprintf("API returned status %d: %s", status, truncate(string(body), 512))

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewExtractionError(domain.AuthFailure, detail, nil)
	case http.StatusTooManyRequests:
		return domain.NewExtractionError(domain.RateLimited, detail, nil)
	default:
		return domain.NewExtractionError(domain.TransportFailure, detail, nil)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
