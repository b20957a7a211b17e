package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/iago/analytics-audio-reports/internal/retry"
)

var ErrOpenAIUnavailable = errors.New("openai client unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient generates text through the chat completions API. Any
// OpenAI-compatible endpoint works through BaseURL.
type OpenAIClient struct {
	client  openai.Client
	apiKey  string
	timeout time.Duration
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	apiKey := strings.TrimSpace(config.APIKey)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(config.MaxRetries),
		option.WithRequestTimeout(config.Timeout),
	}
	if baseURL := strings.TrimSpace(config.BaseURL); baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}
	if org := strings.TrimSpace(config.Organization); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		apiKey:  apiKey,
		timeout: config.Timeout,
	}
}

func (c *OpenAIClient) Available() bool {
	return c != nil && c.apiKey != ""
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrOpenAIUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, openai.SystemMessage(request.Instructions))
	}
	messages = append(messages, openai.UserMessage(request.Input))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(request.Model),
		Messages:    messages,
		Temperature: openai.Float(request.Temperature),
	}
	if request.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxOutputTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return GenerateResult{}, retry.FromStatus(apiErr.StatusCode, fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return GenerateResult{}, retry.Transient(fmt.Errorf("openai timeout: %w", err))
		}
		return GenerateResult{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return GenerateResult{}, errors.New("openai response without choices")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return GenerateResult{}, errors.New("openai response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(string(completion.Model), request.Model),
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
