package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderGroq     Provider = "groq"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// ErrRateLimited is returned when the provider keeps answering 429 after all retries
var ErrRateLimited = errors.New("llm rate limited")

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Provider       Provider      `json:"provider"`
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	Timeout        time.Duration `json:"timeout"`
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Provider:       ProviderGroq,
		Model:          "llama-3.1-8b-instant",
		MaxTokens:      800,
		Temperature:    0.2,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

func defaultBaseURL(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	}
	return "https://api.groq.com/openai/v1"
}

// Client is an OpenAI-compatible chat completions client
type Client struct {
	config *ClientConfig
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a new LLM client
func NewClient(config *ClientConfig, logger zerolog.Logger) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(config.Provider)
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(config.Timeout)
	client.SetAuthToken(config.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		config: config,
		http:   client,
		logger: logger.With().Str("component", "llm").Str("provider", string(config.Provider)).Logger(),
	}
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is the chat completions response body
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int     `json:"index"`
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one completion request. Only HTTP 429 is retried, with exponential
// backoff bounded by MaxRetries; other failures return immediately.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := ChatRequest{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	var out ChatResponse
	op := func() error {
		out = ChatResponse{}
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/chat/completions")
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to send request: %w", err))
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRateLimited, resp.Status())
		}
		if resp.IsError() {
			return backoff.Permanent(fmt.Errorf("API error %d: %s", resp.StatusCode(), truncate(resp.String(), 200)))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.InitialBackoff
	policy.MaxInterval = 8 * c.config.InitialBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.config.MaxRetries, 0))), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("LLM request throttled")
	})
	if err != nil {
		return "", err
	}

	if out.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", out.Error.Type, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty response from LLM")
	}
	return out.Choices[0].Message.Content, nil
}

// GetProvider returns the configured provider
func (c *Client) GetProvider() Provider {
	return c.config.Provider
}

// IsConfigured checks if the client is properly configured
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
