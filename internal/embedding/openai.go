// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/logging"
)

const (
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultEmbedTimeout  = 30 * time.Second
	defaultEmbedAttempts = 5
	defaultAzureVersion  = "2024-06-01"
	maxEmbedResponseSize = 64 * 1024 * 1024

	// maxRetryDelay caps both the backoff and a server's Retry-After.
	maxRetryDelay = 5 * time.Second
)

// knownDimensions lets the index be created before the first request.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// AzureDeployment switches to /openai/deployments/{d}/embeddings with an api-key header.
	AzureDeployment string
	AzureAPIVersion string

	Timeout     time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// OpenAI embeds text through /embeddings. It is safe for concurrent use.
type OpenAI struct {
	cfg       OpenAIConfig
	client    *http.Client
	dimension atomic.Int64
	logger    *slog.Logger
}

// NewOpenAI creates a new embeddings client using the provided configuration.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai embedder: %w", config.ErrMissingAPIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultEmbedTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultEmbedAttempts
	}
	if cfg.AzureDeployment != "" && cfg.AzureAPIVersion == "" {
		cfg.AzureAPIVersion = defaultAzureVersion
	}

	e := &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrDiscard(cfg.Logger),
	}
	e.dimension.Store(int64(knownDimensions[cfg.Model]))
	return e, nil
}

// Name returns "openai:<model>".
func (e *OpenAI) Name() string { return qualifiedName("openai", e.cfg.Model) }

// Dimension returns the vector size, or 0 before the first call for unknown models.
func (e *OpenAI) Dimension() int { return int(e.dimension.Load()) }

func (e *OpenAI) endpoint() string {
	if e.cfg.AzureDeployment != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			e.cfg.BaseURL, url.PathEscape(e.cfg.AzureDeployment), url.QueryEscape(e.cfg.AzureAPIVersion))
	}
	return e.cfg.BaseURL + "/embeddings"
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order. 429 and 5xx responses
// and transport errors are retried, honouring Retry-After.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embedRequest{Input: texts}
	if e.cfg.AzureDeployment == "" {
		body.Model = e.cfg.Model
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		payload, wait, err := e.do(ctx, data)
		if err == nil {
			return e.decode(payload, len(texts))
		}
		if wait < 0 || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt == e.cfg.MaxAttempts-1 {
			break
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		e.logger.Debug("retrying embeddings request", "attempt", attempt+1, "delay", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("openai embeddings failed after %d attempts: %w", e.cfg.MaxAttempts, lastErr)
}

// do performs one request. wait is negative for permanent failures, positive
// when the server asked for a specific delay, zero for default backoff.
func (e *OpenAI) do(ctx context.Context, data []byte) (payload []byte, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(data))
	if err != nil {
		return nil, -1, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.AzureDeployment != "" {
		req.Header.Set("api-key", e.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err = io.ReadAll(io.LimitReader(resp.Body, maxEmbedResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("openai embeddings failed: %s", resp.Status)
	case resp.StatusCode >= 300:
		msg := strings.TrimSpace(string(payload))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, -1, fmt.Errorf("openai embeddings failed: %s: %s", resp.Status, msg)
	}
	return payload, 0, nil
}

func (e *OpenAI) decode(payload []byte, want int) ([][]float32, error) {
	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(out.Data) != want {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, want, len(out.Data))
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, ErrEmptyResponse
		}
		vecs[i] = toFloat32(d.Embedding)
	}
	e.dimension.CompareAndSwap(0, int64(len(vecs[0])))
	return vecs, nil
}

// retryAfter parses a Retry-After header given in seconds, capped at
// maxRetryDelay.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	if secs >= int(maxRetryDelay/time.Second) {
		return maxRetryDelay
	}
	return time.Duration(secs) * time.Second
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at maxRetryDelay
	d := base << attempt
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d
}
