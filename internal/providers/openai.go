package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackzampolin/folio/internal/prompts"
)

// OpenAIBaseURL is the default API base.
const OpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	RateLimit       float64 // requests per second
	MaxOutputTokens int
	Logger          *slog.Logger
}

// OpenAIClient calls the chat completions endpoint with vision inputs and a
// structured output contract.
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	client          *http.Client
	limiter         *RateLimiter
	maxOutputTokens int
	logger          *slog.Logger
}

// NewOpenAIClient creates a new client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenAIBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 4000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAIClient{
		apiKey:          cfg.APIKey,
		baseURL:         cfg.BaseURL,
		client:          &http.Client{Timeout: cfg.Timeout},
		limiter:         NewRateLimiter(cfg.RateLimit),
		maxOutputTokens: cfg.MaxOutputTokens,
		logger:          cfg.Logger,
	}
}

// Transcribe runs the literal OCR pass on a page image.
func (c *OpenAIClient) Transcribe(ctx context.Context, model string, image []byte) (*OCRResult, error) {
	return c.callStructured(ctx, model, prompts.Pass1Instructions, prompts.Pass1Prompt, image)
}

// Review runs the QA correction pass over a pass-1 draft.
func (c *OpenAIClient) Review(ctx context.Context, model string, image []byte, draft string) (*OCRResult, error) {
	return c.callStructured(ctx, model, prompts.Pass2Instructions, prompts.Pass2Prompt(draft), image)
}

func (c *OpenAIClient) callStructured(ctx context.Context, model, instructions, prompt string, image []byte) (*OCRResult, error) {
	req := &chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    encodeImageDataURL(image),
					Detail: "high",
				}},
			}},
		},
		MaxCompletionTokens: c.maxOutputTokens,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   "ocr_page",
				Strict: true,
				Schema: json.RawMessage(ocrOutputSchema),
			},
		},
	}

	resp, err := c.doRequest(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	return parseOCRResult(resp.Choices[0].Message.Content)
}

func encodeImageDataURL(image []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}
