// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxMessageLen bounds chat_model.max_tokens (exclusive).
const MaxMessageLen = 4095

// MaxContextLen bounds the chatbot context budgets (exclusive).
const MaxContextLen = 500000

// MaxDescriptionLen bounds chatbot.description.
const MaxDescriptionLen = 250

// MaxStopSequences bounds chat_model.stop.
const MaxStopSequences = 4

// ErrModelFileNotFound is returned when the YAML model file does not exist.
var ErrModelFileNotFound = errors.New("model configuration file not found")

// =============================================================================
// MODEL FILE STRUCTURES
// =============================================================================

// ModelConfig holds the sampling parameters sent with every completion.
// Optional parameters are pointers; nil means "let the provider decide".
type ModelConfig struct {
	Model            string   `yaml:"model"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `yaml:"presence_penalty,omitempty"`
	MaxTokens        int      `yaml:"max_tokens"`
	Temperature      *float64 `yaml:"temperature,omitempty"`
	TopP             *float64 `yaml:"top_p,omitempty"`
	Stop             []string `yaml:"stop,omitempty"`
}

// ChatbotConfig describes the assistant and its context budgets (in tokens).
type ChatbotConfig struct {
	Description string `yaml:"description"`
	// MaxContextLen caps the chat history sent with a question.
	MaxContextLen int `yaml:"max_context_len"`
	// MaxFreeContextLen caps the retrieved document context.
	MaxFreeContextLen int `yaml:"max_free_context_len"`
}

// AiChatModel is one entry under "models:" in the YAML model file.
type AiChatModel struct {
	ChatModel ModelConfig   `yaml:"chat_model"`
	Chatbot   ChatbotConfig `yaml:"chatbot"`
}

type modelFile struct {
	Models map[string]AiChatModel `yaml:"models"`
}

// DefaultChatModel is used when the model file has no entry for the requested name.
func DefaultChatModel() AiChatModel {
	temperature := 0.2
	return AiChatModel{
		ChatModel: ModelConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: &temperature,
		},
		Chatbot: ChatbotConfig{
			Description:       "Ask questions about the indexed documents.",
			MaxContextLen:     4000,
			MaxFreeContextLen: 3000,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadModelFile reads the entry called name from the YAML file at path.
// A missing file is an error wrapping ErrModelFileNotFound. A missing entry
// is not: the default model is returned with found=false so the caller can
// warn about it.
func LoadModelFile(path, name string) (model AiChatModel, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AiChatModel{}, false, fmt.Errorf("%w: %s", ErrModelFileNotFound, path)
		}
		return AiChatModel{}, false, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	return DecodeModelFile(f, name)
}

// DecodeModelFile is LoadModelFile over an already opened reader.
func DecodeModelFile(r io.Reader, name string) (AiChatModel, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return AiChatModel{}, false, fmt.Errorf("failed to read model file: %w", err)
	}

	var file modelFile
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return AiChatModel{}, false, fmt.Errorf("failed to decode model file: %w", err)
		}
	}

	entry, ok := file.Models[name]
	if !ok {
		return DefaultChatModel(), false, nil
	}
	return entry, true, nil
}

// =============================================================================
// PROVIDER PARAMETERS
// =============================================================================

// Params is the provider-neutral view of ModelConfig used by completion clients.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// Params returns the sampling parameters for completion requests.
func (m ModelConfig) Params() Params {
	return Params{
		Model:            m.Model,
		MaxTokens:        m.MaxTokens,
		Temperature:      m.Temperature,
		TopP:             m.TopP,
		FrequencyPenalty: m.FrequencyPenalty,
		PresencePenalty:  m.PresencePenalty,
		Stop:             append([]string(nil), m.Stop...),
	}
}

// Float is a helper for building optional parameters in code and tests.
func Float(v float64) *float64 {
	return &v
}
