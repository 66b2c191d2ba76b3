// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jeranaias/ragchat/internal/ollama"
)

// DefaultOllamaModel is used when embedding.model is empty.
const DefaultOllamaModel = "nomic-embed-text"

// Ollama embeds text with a local Ollama server, one request per text.
type Ollama struct {
	client    *ollama.Client
	model     string
	dimension atomic.Int64
}

// NewOllama wraps client. An empty model selects DefaultOllamaModel.
func NewOllama(client *ollama.Client, model string) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{client: client, model: model}
}

// Name returns "ollama:<model>".
func (o *Ollama) Name() string { return qualifiedName("ollama", o.model) }

// Dimension is known after the first successful Embed.
func (o *Ollama) Dimension() int { return int(o.dimension.Load()) }

// Embed calls /api/embeddings for each text in order.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		v, err := o.client.GenerateEmbedding(ctx, o.model, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embedding %d: %w", i, err)
		}
		if len(v) == 0 {
			return nil, ErrEmptyResponse
		}
		out = append(out, toFloat32(v))
	}
	if len(out) > 0 {
		o.dimension.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}
