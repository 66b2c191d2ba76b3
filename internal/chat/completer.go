// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeranaias/ragchat/internal/cloud"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/ollama"
)

// =============================================================================
// COMPLETER INTERFACE
// =============================================================================

// TokenFunc receives each piece of streamed content in order.
type TokenFunc func(token string)

// Completion is the result of one streamed generation.
type Completion struct {
	Content      string
	FinishReason string
	Stats        *model.Statistics
}

// Completer streams a chat completion for a message list.
type Completer interface {
	// Name identifies the provider and model, e.g. "openai:gpt-4o-mini".
	Name() string

	// Stream generates a reply, calling onToken for every content delta.
	// On failure the returned Completion holds whatever arrived.
	Stream(ctx context.Context, messages []model.Message, onToken TokenFunc) (Completion, error)
}

// NewCompleter builds the completer selected by the provider settings.
func NewCompleter(cfg *config.Config, logger *slog.Logger) (Completer, error) {
	params := cfg.Chat.ChatModel.Params()

	switch cfg.Provider.Kind {
	case config.ProviderOllama:
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:    cfg.Provider.BaseURL,
			Timeout:    time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Provider.MaxRetries,
		})
		return NewOllamaCompleter(client, params), nil

	case config.ProviderOpenAI, config.ProviderAzure:
		cc := cloud.ConfigFromProvider(cfg.Provider)
		cc.Logger = logger
		client := cloud.NewClient(cc)
		if !client.IsConfigured() {
			return nil, fmt.Errorf("%s provider: %w", cfg.Provider.Kind, cloud.ErrNotConfigured)
		}
		return NewCloudCompleter(client, params), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Kind)
	}
}

// =============================================================================
// HOSTED (OPENAI / AZURE)
// =============================================================================

// CloudCompleter adapts cloud.Client to Completer.
type CloudCompleter struct {
	client *cloud.Client
	params config.Params
}

// NewCloudCompleter creates a completer that sends params with every request.
func NewCloudCompleter(client *cloud.Client, params config.Params) *CloudCompleter {
	return &CloudCompleter{client: client, params: params}
}

// Name returns "openai:<model>" or "azure:<model>".
func (c *CloudCompleter) Name() string {
	if c.client.IsAzure() {
		return "azure:" + c.params.Model
	}
	return "openai:" + c.params.Model
}

// Stream implements Completer.
func (c *CloudCompleter) Stream(ctx context.Context, messages []model.Message, onToken TokenFunc) (Completion, error) {
	wire := make([]cloud.ChatMessage, len(messages))
	for i, m := range messages {
		wire[i] = cloud.ChatMessage{Role: m.Role.WireRole(), Content: m.Content}
	}

	stats := model.NewStatistics()
	acc := cloud.NewStreamAccumulator()
	streamStats, err := c.client.ChatStream(ctx, wire, c.params, acc.Callback(func(chunk cloud.StreamChunk) {
		token := chunk.GetContent()
		if token == "" {
			return
		}
		stats.RecordFirstToken()
		if onToken != nil {
			onToken(token)
		}
	}))

	out := Completion{Content: acc.GetContent(), Stats: stats}
	if streamStats != nil {
		out.FinishReason = streamStats.FinishReason
		stats.Finalize(streamStats.TokenCount)
	} else {
		stats.Finalize(acc.Chunks())
	}
	return out, err
}

// =============================================================================
// LOCAL (OLLAMA)
// =============================================================================

// OllamaCompleter adapts ollama.Client to Completer.
type OllamaCompleter struct {
	client *ollama.Client
	model  string
	opts   *ollama.Options
}

// NewOllamaCompleter maps the sampling parameters onto Ollama options.
func NewOllamaCompleter(client *ollama.Client, params config.Params) *OllamaCompleter {
	return &OllamaCompleter{
		client: client,
		model:  params.Model,
		opts: &ollama.Options{
			Temperature:      params.Temperature,
			TopP:             params.TopP,
			PresencePenalty:  params.PresencePenalty,
			FrequencyPenalty: params.FrequencyPenalty,
			NumPredict:       params.MaxTokens,
			Stop:             params.Stop,
		},
	}
}

// Name returns "ollama:<model>".
func (c *OllamaCompleter) Name() string {
	return "ollama:" + c.model
}

// Stream implements Completer.
func (c *OllamaCompleter) Stream(ctx context.Context, messages []model.Message, onToken TokenFunc) (Completion, error) {
	wire := make([]ollama.Message, len(messages))
	for i, m := range messages {
		wire[i] = ollama.Message{Role: m.Role.WireRole(), Content: m.Content}
	}

	stats := model.NewStatistics()
	var sb strings.Builder
	var out Completion
	tokens := 0
	err := c.client.ChatStream(ctx, c.model, wire, c.opts, func(chunk ollama.StreamChunk) {
		if chunk.Content != "" {
			stats.RecordFirstToken()
			sb.WriteString(chunk.Content)
			tokens++
			if onToken != nil {
				onToken(chunk.Content)
			}
		}
		if chunk.Done {
			out.FinishReason = chunk.DoneReason
			if chunk.CompletionTokens > 0 {
				tokens = chunk.CompletionTokens
			}
		}
	})
	stats.Finalize(tokens)
	out.Content = sb.String()
	out.Stats = stats
	return out, err
}
