// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/ollama"
)

// Embedder converts text into vectors. Dimension may be zero until the first
// successful Embed call for remote backends that do not advertise it.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrEmptyResponse is returned when a backend answers without vectors.
	ErrEmptyResponse = errors.New("no embedding returned")

	// ErrCountMismatch is returned when a backend returns a different number
	// of vectors than texts sent.
	ErrCountMismatch = errors.New("embedding count mismatch")
)

// DefaultBatchSize is the number of texts sent per request by EmbedAll.
const DefaultBatchSize = 64

// New builds the embedder selected by the [embedding] settings. The
// provider section supplies the API key and, when embedding.base_url is
// empty, the base URL.
func New(cfg *config.Config, logger *slog.Logger) (Embedder, error) {
	e := cfg.Embedding
	switch e.Kind {
	case config.EmbedderHashing:
		return NewHashing(e.Dimension), nil

	case config.EmbedderOllama:
		base := e.BaseURL
		if base == "" && cfg.Provider.Kind == config.ProviderOllama {
			base = cfg.Provider.BaseURL
		}
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: base})
		return NewOllama(client, e.Model), nil

	case config.EmbedderOpenAI:
		oc := OpenAIConfig{
			BaseURL: e.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Model:   e.Model,
			Logger:  logger,
		}
		if cfg.Provider.Kind == config.ProviderAzure {
			if oc.BaseURL == "" {
				oc.BaseURL = cfg.Provider.BaseURL
			}
			oc.AzureDeployment = e.AzureDeployment
			if oc.AzureDeployment == "" {
				oc.AzureDeployment = e.Model
			}
			oc.AzureAPIVersion = cfg.Provider.AzureAPIVersion
		} else if oc.BaseURL == "" && cfg.Provider.Kind == config.ProviderOpenAI {
			oc.BaseURL = cfg.Provider.BaseURL
		}
		return NewOpenAI(oc)

	default:
		return nil, fmt.Errorf("unknown embedder %q", e.Kind)
	}
}

// EmbedAll embeds texts in batches of batchSize and checks that every text
// got a vector.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// qualifiedName joins a backend and model as "backend:model".
func qualifiedName(backend, model string) string {
	if model == "" {
		return backend
	}
	return backend + ":" + strings.TrimSpace(model)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
