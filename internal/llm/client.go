package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/jonathan/viral-agents/internal/throttle"
)

// ServiceName identifies the generation provider in throttling errors and metrics.
const ServiceName = "gemini"

// Throttling delays. The provider's suggested delay is padded; without one the default applies.
const (
	RetryPadding      = 5 * time.Second
	DefaultRetryAfter = 60*time.Second + RetryPadding
)

// Response is a generation result.
type Response struct {
	Text       string
	TokensUsed int
}

// Client is an abstraction over LLM providers
type Client interface {
	// Generate generates text for prompt. systemPrompt may be empty.
	Generate(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error)
	// GenerateJSON generates a JSON document; markdown fences are already stripped from Text.
	GenerateJSON(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Generate generates text content using the specified model tier
func (c *GeminiClient) Generate(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error) {
	return c.generate(ctx, prompt, systemPrompt, tier, false)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error) {
	resp, err := c.generate(ctx, prompt, systemPrompt, tier, true)
	if err != nil {
		return nil, err
	}
	resp.Text = CleanJSONBlock(resp.Text)
	return resp, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt, systemPrompt string, tier ModelTier, jsonMode bool) (*Response, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for tier %s", tier)
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.Temperature)
	if c.config.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.config.MaxOutputTokens)
	}
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if jsonMode {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, classifyError(modelName, err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, &APIError{Model: modelName, Message: "unusable response", Cause: err}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &Response{Text: text, TokensUsed: tokens}, nil
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// classifyError turns a provider error into *throttle.Error or *APIError.
func classifyError(model string, err error) error {
	if delay, ok := throttleDelay(err); ok {
		if delay > 0 {
			delay += RetryPadding
		}
		return throttle.New(ServiceName, delay, DefaultRetryAfter, err)
	}
	return &APIError{Model: model, Message: "request failed", Cause: err}
}

// throttleDelay reports whether err is a quota error and the delay the provider suggested.
// A zero delay means none was given.
func throttleDelay(err error) (time.Duration, bool) {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		apiErr, _ = apierror.FromError(err)
	}
	if apiErr != nil {
		throttled := apiErr.HTTPCode() == http.StatusTooManyRequests
		if st := apiErr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
			throttled = true
		}
		if throttled {
			if info := apiErr.Details().RetryInfo; info != nil && info.GetRetryDelay() != nil {
				return info.GetRetryDelay().AsDuration(), true
			}
			var gErr *googleapi.Error
			if errors.As(err, &gErr) {
				return retryDelayFromBody(gErr.Body), true
			}
			return 0, true
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return retryDelayFromBody(gErr.Body), true
	}
	return 0, false
}

// retryDelayFromBody reads error.details[].retryDelay (e.g. "37s") from a REST error body.
func retryDelayFromBody(body string) time.Duration {
	var payload struct {
		Error struct {
			Details []struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if body == "" || json.Unmarshal([]byte(body), &payload) != nil {
		return 0
	}
	for _, d := range payload.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if parsed, err := time.ParseDuration(d.RetryDelay); err == nil {
			return parsed
		}
	}
	return 0
}
