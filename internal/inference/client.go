package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
)

const (
	// DefaultBaseURL is the chat-completions API root.
	DefaultBaseURL = "https://api.deepseek.com/v1"

	// DefaultModel is the model requested.
	DefaultModel = "deepseek-chat"

	// DefaultTemperature is the sampling temperature.
	DefaultTemperature = 0.3

	// DefaultMaxTokens bounds the completion length.
	DefaultMaxTokens = 8192

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 600 * time.Second

	// maxResponseSize limits how much of a response body is read.
	maxResponseSize = 32 * 1024 * 1024

	// maxErrorBody limits how much of an error body is kept in StatusError.
	maxErrorBody = 512
)

// Completer sends one prompt and returns the raw message content.
// A single call makes a single attempt; retrying is the caller's job.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatMessage is one message of a chat-completions request or response.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// chatResponse is the subset of the response envelope we read.
type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// ChatClient is a Completer for OpenAI-compatible chat-completions APIs.
type ChatClient struct {
	client       *http.Client
	endpoint     string
	apiKey       string
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	limiter      *rate.Limiter
}

// ChatOption configures a ChatClient.
type ChatOption func(*ChatClient)

// WithHTTPClient sets the HTTP client. It should not inject browser
// headers; see transport.Client.APIClient.
func WithHTTPClient(c *http.Client) ChatOption {
	return func(cc *ChatClient) {
		if c != nil {
			cc.client = c
		}
	}
}

// WithModel sets the model name.
func WithModel(model string) ChatOption {
	return func(cc *ChatClient) {
		if model != "" {
			cc.model = model
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) ChatOption {
	return func(cc *ChatClient) {
		if prompt != "" {
			cc.systemPrompt = prompt
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(cc *ChatClient) {
		cc.temperature = t
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) ChatOption {
	return func(cc *ChatClient) {
		if n > 0 {
			cc.maxTokens = n
		}
	}
}

// WithRateLimit paces requests. Nil disables pacing.
func WithRateLimit(l *rate.Limiter) ChatOption {
	return func(cc *ChatClient) {
		cc.limiter = l
	}
}

// NewChatClient creates a client for the API rooted at baseURL
// (e.g. "https://api.deepseek.com/v1").
func NewChatClient(baseURL, apiKey string, opts ...ChatOption) *ChatClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cc := &ChatClient{
		client:       &http.Client{Timeout: DefaultTimeout},
		endpoint:     strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:       apiKey,
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// Complete implements Completer. Transport failures, non-2xx statuses and
// malformed envelopes are all returned as retryable errors.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body, err := jsonutil.Marshal(ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", &StatusError{Code: resp.StatusCode, Body: snippet}
	}

	var envelope chatResponse
	if err := jsonutil.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode inference response: %w", err)
	}
	if len(envelope.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return envelope.Choices[0].Message.Content, nil
}

// LooksLikeAPIKey reports whether key has the usual "sk-" prefix.
func LooksLikeAPIKey(key string) bool {
	return strings.HasPrefix(key, "sk-")
}
