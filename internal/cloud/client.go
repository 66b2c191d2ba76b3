// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/logging"
)

// Configuration constants for the completions API.
const (
	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = config.DefaultOpenAIBaseURL

	// DefaultAzureAPIVersion is used when an Azure deployment has no explicit version.
	DefaultAzureAPIVersion = "2024-06-01"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "ragchat/1.0"
)

// tlsConfig is shared by both transports.
var tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("completion API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model or deployment does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrContentFiltered indicates the provider refused the prompt or the completion.
	ErrContentFiltered = errors.New("content filtered")
)

// APIError is a non-2xx response from the completions API. Err holds the
// matching sentinel (ErrAuthFailed, ErrRateLimited, ...) when there is one.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("completion API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("completion API error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap returns the sentinel for the status code, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status < 600)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
}

// NewChatRequest builds a request from the sampling parameters of a model entry.
func NewChatRequest(params config.Params, messages []ChatMessage, stream bool) ChatRequest {
	return ChatRequest{
		Model:            params.Model,
		Messages:         messages,
		Stream:           stream,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		Stop:             params.Stop,
	}
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a response from the chat completions endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// GetFinishReason returns the finish reason of the first choice.
func (r *ChatResponse) GetFinishReason() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].FinishReason
	}
	return ""
}

// apiErrorBody is the error envelope shared by OpenAI and Azure.
type apiErrorBody struct {
	Error *struct {
		Code    any    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the API root. For OpenAI-compatible servers it ends in /v1;
	// for Azure it is the resource endpoint (https://<name>.openai.azure.com).
	BaseURL string
	APIKey  string

	// AzureDeployment switches the client to Azure OpenAI routing and auth.
	AzureDeployment string
	AzureAPIVersion string

	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// ConfigFromProvider maps the [provider] settings section onto a client Config.
func ConfigFromProvider(p config.ProviderConfig) Config {
	c := Config{
		BaseURL:    p.BaseURL,
		APIKey:     p.APIKey,
		Timeout:    time.Duration(p.TimeoutSecs) * time.Second,
		MaxRetries: p.MaxRetries,
	}
	if p.Kind == config.ProviderAzure {
		c.AzureDeployment = p.AzureDeployment
		c.AzureAPIVersion = p.AzureAPIVersion
	}
	return c
}

// Client talks to an OpenAI-compatible /chat/completions endpoint or to an
// Azure OpenAI deployment. It is safe for concurrent use.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a client. Zero values in cfg take the package defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.AzureDeployment != "" && cfg.AzureAPIVersion == "" {
		cfg.AzureAPIVersion = DefaultAzureAPIVersion
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: newTransport(), Timeout: cfg.Timeout},
		// Streams are bounded by the request context only.
		streamClient: &http.Client{Transport: newTransport()},
		logger:       logging.OrDiscard(cfg.Logger),
	}
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// IsAzure reports whether requests are routed to an Azure deployment.
func (c *Client) IsAzure() bool {
	return c.cfg.AzureDeployment != ""
}

// KeyFingerprint returns a short, non-reversible identifier of the API key
// suitable for logs.
func (c *Client) KeyFingerprint() string {
	if !c.IsConfigured() {
		return "none"
	}
	sum := sha256.Sum256([]byte(c.cfg.APIKey))
	return hex.EncodeToString(sum[:4])
}

// CompletionsURL returns the endpoint the client posts to.
func (c *Client) CompletionsURL() string {
	if c.IsAzure() {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.cfg.BaseURL, url.PathEscape(c.cfg.AzureDeployment), url.QueryEscape(c.cfg.AzureAPIVersion))
	}
	return c.cfg.BaseURL + "/chat/completions"
}

// setHeaders sets auth and content headers.
func (c *Client) setHeaders(req *http.Request) {
	if c.IsAzure() {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// =============================================================================
// CHAT
// =============================================================================

// Chat performs a non-streaming chat completion.
//
// Rate limiting and 5xx responses are retried with exponential backoff
// (500ms, 1s, 2s, ... capped at 10s).
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, params config.Params) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	resp, err := c.send(ctx, c.httpClient, NewChatRequest(params, messages, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.GetFinishReason() == "content_filter" {
		return &chatResp, ErrContentFiltered
	}
	return &chatResp, nil
}

// send posts reqBody and returns a 200 response. Retryable failures are
// repeated up to MaxRetries times; the caller closes the body.
func (c *Client) send(ctx context.Context, hc *http.Client, reqBody ChatRequest) (*http.Response, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt - 1)
			c.logger.Debug("retrying completion request",
				"attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.doRequest(ctx, hc, bodyBytes, reqBody.Stream)
		if err == nil {
			return resp, nil
		}
		if !c.isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request to the completions endpoint.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("completion response",
		"status", resp.StatusCode, "duration", time.Since(start), "key", c.KeyFingerprint())

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := readResponse(resp)
		return nil, c.handleErrorResponse(resp.StatusCode, errBody)
	}
	return resp, nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts an HTTP error response into an *APIError.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode}

	var envelope apiErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		if envelope.Error.Code != nil {
			apiErr.Code = fmt.Sprint(envelope.Error.Code)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(statusCode)
		}
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Err = ErrAuthFailed
	case http.StatusNotFound:
		apiErr.Err = ErrModelNotFound
	case http.StatusTooManyRequests:
		apiErr.Err = ErrRateLimited
	case http.StatusBadRequest:
		if apiErr.Code == "content_filter" {
			apiErr.Err = ErrContentFiltered
		}
	}
	return apiErr
}

// isRetryable determines if an error should trigger a retry.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// 500ms, 1000ms, 2000ms, ...
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}
