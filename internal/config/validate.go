// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrMissingAPIKey is wrapped by the validation error for an empty API key.
var ErrMissingAPIKey = errors.New("API key is required")

// ErrOutOfRange is wrapped by validation errors for numeric limits.
var ErrOutOfRange = errors.New("value out of range")

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e ValidateErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, v := range e {
		errs[i] = v
	}
	return errs
}

// Fields returns the names of the offending fields.
func (e ValidateErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, v := range e {
		fields[i] = v.Field
	}
	return fields
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the whole configuration and returns ValidateErrors or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.UsesHostedAPI() && strings.TrimSpace(c.Provider.APIKey) == "" {
		errs = append(errs, ValidationError{
			Field:   "provider.api_key",
			Message: "cannot be empty (set AZURE_OPENAI_API_KEY or OPENAI_API_KEY)",
			Err:     ErrMissingAPIKey,
		})
	}

	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderOllama:
	case ProviderAzure:
		if c.Provider.BaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "provider.base_url",
				Message: "is required for the azure provider",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "provider.kind",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, azure, ollama", c.Provider.Kind),
		})
	}
	errs = append(errs, validateURL("provider.base_url", c.Provider.BaseURL)...)
	errs = append(errs, validateURL("embedding.base_url", c.Embedding.BaseURL)...)

	switch c.Embedding.Kind {
	case EmbedderOpenAI, EmbedderOllama, EmbedderHashing:
	default:
		errs = append(errs, ValidationError{
			Field:   "embedding.kind",
			Message: fmt.Sprintf("invalid embedder '%s', must be one of: openai, ollama, hashing", c.Embedding.Kind),
		})
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, rangeError("embedding.dimension", "must be positive"))
	}

	if c.Index.TopK < 1 {
		errs = append(errs, rangeError("index.top_k", "must be at least 1"))
	}
	if c.Index.ChunkSize < 1 {
		errs = append(errs, rangeError("index.chunk_size", "must be at least 1"))
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, rangeError("index.chunk_overlap", "must be >= 0 and smaller than chunk_size"))
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, rangeError("server.rate_limit", "cannot be negative"))
	}

	errs = append(errs, c.Chat.Validate()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the model entry's parameter ranges.
func (m AiChatModel) Validate() ValidateErrors {
	var errs ValidateErrors
	cm := m.ChatModel

	if strings.TrimSpace(cm.Model) == "" {
		errs = append(errs, ValidationError{Field: "chat_model.model", Message: "cannot be empty"})
	}
	errs = append(errs, optionalRange("chat_model.frequency_penalty", cm.FrequencyPenalty, -2, 2)...)
	errs = append(errs, optionalRange("chat_model.presence_penalty", cm.PresencePenalty, -2, 2)...)
	if cm.MaxTokens <= 0 || cm.MaxTokens >= MaxMessageLen {
		errs = append(errs, rangeError("chat_model.max_tokens",
			fmt.Sprintf("must be greater than 0 and less than %d, got %d", MaxMessageLen, cm.MaxTokens)))
	}
	errs = append(errs, optionalRange("chat_model.temperature", cm.Temperature, 0, 2)...)
	errs = append(errs, optionalRange("chat_model.top_p", cm.TopP, 0, 1)...)
	if len(cm.Stop) > MaxStopSequences {
		errs = append(errs, rangeError("chat_model.stop",
			fmt.Sprintf("at most %d stop sequences allowed, got %d", MaxStopSequences, len(cm.Stop))))
	}

	cb := m.Chatbot
	if n := utf8.RuneCountInString(cb.Description); n > MaxDescriptionLen {
		errs = append(errs, rangeError("chatbot.description",
			fmt.Sprintf("at most %d characters allowed, got %d", MaxDescriptionLen, n)))
	}
	if cb.MaxContextLen <= 0 || cb.MaxContextLen >= MaxContextLen {
		errs = append(errs, rangeError("chatbot.max_context_len",
			fmt.Sprintf("must be greater than 0 and less than %d, got %d", MaxContextLen, cb.MaxContextLen)))
	}
	if cb.MaxFreeContextLen <= 0 || cb.MaxFreeContextLen >= MaxContextLen {
		errs = append(errs, rangeError("chatbot.max_free_context_len",
			fmt.Sprintf("must be greater than 0 and less than %d, got %d", MaxContextLen, cb.MaxFreeContextLen)))
	}

	return errs
}

func optionalRange(field string, v *float64, lo, hi float64) ValidateErrors {
	if v == nil || (*v >= lo && *v <= hi) {
		return nil
	}
	return ValidateErrors{rangeError(field, fmt.Sprintf("must be between %g and %g, got %g", lo, hi, *v))}
}

func rangeError(field, msg string) ValidationError {
	return ValidationError{Field: field, Message: msg, Err: ErrOutOfRange}
}

func validateURL(field, raw string) ValidateErrors {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ValidateErrors{{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidateErrors{{Field: field, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}}
	}
	return nil
}
