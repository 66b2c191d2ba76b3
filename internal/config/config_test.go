// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelYAML = `
models:
  small:
    chat_model:
      model: gpt4-small
      max_tokens: 512
      temperature: 0.5
      top_p: 0.9
      frequency_penalty: 0.1
      presence_penalty: -0.1
      stop: ["END"]
    chatbot:
      description: Answers questions about the handbook.
      max_context_len: 2000
      max_free_context_len: 1500
`

// clearEnv isolates a test from variables set on the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AZURE_OPENAI_API_KEY", "OPENAI_API_KEY", "MODEL_CONFIG_PATH", "MODEL_CONFIG_NAME",
		"DEBUG", "RAGCHAT_CONFIG", "RAGCHAT_ADDR", "RAGCHAT_PROVIDER", "RAGCHAT_BASE_URL",
		"RAGCHAT_EMBEDDER", "RAGCHAT_INDEX_DIR", "RAGCHAT_DOCS_DIR", "RAGCHAT_LOG_DIR",
		"RAGCHAT_AUTH_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Provider.APIKey = "sk-test"
	return cfg
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsEmptyAPIKey(t *testing.T) {
	for _, key := range []string{"", "   ", "\t\n"} {
		cfg := validConfig()
		cfg.Provider.APIKey = key

		err := cfg.Validate()
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.Is(err, ErrMissingAPIKey), "errors.Is(ErrMissingAPIKey) for %q", key)

		var verrs ValidateErrors
		require.True(t, errors.As(err, &verrs))
		assert.Contains(t, verrs.Fields(), "provider.api_key")
	}
}

func TestValidate_APIKeyNotNeededForLocalBackends(t *testing.T) {
	cfg := Default()
	cfg.Provider.Kind = ProviderOllama
	cfg.Embedding.Kind = EmbedderHashing

	assert.NoError(t, cfg.Validate())

	cfg.Embedding.Kind = EmbedderOpenAI
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestValidate_ModelParameterRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *AiChatModel)
		field  string
	}{
		{"frequency penalty high", func(m *AiChatModel) { m.ChatModel.FrequencyPenalty = Float(2.1) }, "chat_model.frequency_penalty"},
		{"frequency penalty low", func(m *AiChatModel) { m.ChatModel.FrequencyPenalty = Float(-2.1) }, "chat_model.frequency_penalty"},
		{"presence penalty high", func(m *AiChatModel) { m.ChatModel.PresencePenalty = Float(3) }, "chat_model.presence_penalty"},
		{"presence penalty low", func(m *AiChatModel) { m.ChatModel.PresencePenalty = Float(-2.5) }, "chat_model.presence_penalty"},
		{"max tokens zero", func(m *AiChatModel) { m.ChatModel.MaxTokens = 0 }, "chat_model.max_tokens"},
		{"max tokens negative", func(m *AiChatModel) { m.ChatModel.MaxTokens = -1 }, "chat_model.max_tokens"},
		{"max tokens at limit", func(m *AiChatModel) { m.ChatModel.MaxTokens = MaxMessageLen }, "chat_model.max_tokens"},
		{"temperature high", func(m *AiChatModel) { m.ChatModel.Temperature = Float(2.01) }, "chat_model.temperature"},
		{"temperature negative", func(m *AiChatModel) { m.ChatModel.Temperature = Float(-0.1) }, "chat_model.temperature"},
		{"top_p high", func(m *AiChatModel) { m.ChatModel.TopP = Float(1.5) }, "chat_model.top_p"},
		{"top_p negative", func(m *AiChatModel) { m.ChatModel.TopP = Float(-0.5) }, "chat_model.top_p"},
		{"too many stops", func(m *AiChatModel) { m.ChatModel.Stop = []string{"a", "b", "c", "d", "e"} }, "chat_model.stop"},
		{"empty model", func(m *AiChatModel) { m.ChatModel.Model = " " }, "chat_model.model"},
		{"description too long", func(m *AiChatModel) { m.Chatbot.Description = strings.Repeat("x", 251) }, "chatbot.description"},
		{"context zero", func(m *AiChatModel) { m.Chatbot.MaxContextLen = 0 }, "chatbot.max_context_len"},
		{"context too big", func(m *AiChatModel) { m.Chatbot.MaxContextLen = MaxContextLen }, "chatbot.max_context_len"},
		{"free context zero", func(m *AiChatModel) { m.Chatbot.MaxFreeContextLen = 0 }, "chatbot.max_free_context_len"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Chat)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, []string{tt.field}, verrs.Fields())
		})
	}
}

func TestValidate_BoundaryValuesAccepted(t *testing.T) {
	cfg := validConfig()
	cfg.Chat.ChatModel.FrequencyPenalty = Float(-2)
	cfg.Chat.ChatModel.PresencePenalty = Float(2)
	cfg.Chat.ChatModel.Temperature = Float(0)
	cfg.Chat.ChatModel.TopP = Float(1)
	cfg.Chat.ChatModel.MaxTokens = MaxMessageLen - 1
	cfg.Chat.ChatModel.Stop = []string{"a", "b", "c", "d"}
	cfg.Chat.Chatbot.Description = strings.Repeat("x", MaxDescriptionLen)

	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProviderAndEmbedder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.Provider.Kind = "bard" }, "provider.kind"},
		{"azure needs base url", func(c *Config) { c.Provider.Kind = ProviderAzure; c.Provider.BaseURL = "" }, "provider.base_url"},
		{"bad scheme", func(c *Config) { c.Provider.BaseURL = "ftp://example.com" }, "provider.base_url"},
		{"unknown embedder", func(c *Config) { c.Embedding.Kind = "word2vec" }, "embedding.kind"},
		{"overlap too large", func(c *Config) { c.Index.ChunkOverlap = c.Index.ChunkSize }, "index.chunk_overlap"},
		{"top k zero", func(c *Config) { c.Index.TopK = 0 }, "index.top_k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			var verrs ValidateErrors
			require.True(t, errors.As(cfg.Validate(), &verrs))
			assert.Contains(t, verrs.Fields(), tt.field)
		})
	}
}

// =============================================================================
// MODEL FILE TESTS
// =============================================================================

func TestLoadModelFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "models.yaml", testModelYAML)

	model, found, err := LoadModelFile(path, "small")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "gpt4-small", model.ChatModel.Model)
	assert.Equal(t, 512, model.ChatModel.MaxTokens)
	require.NotNil(t, model.ChatModel.Temperature)
	assert.Equal(t, 0.5, *model.ChatModel.Temperature)
	assert.Equal(t, []string{"END"}, model.ChatModel.Stop)
	assert.Equal(t, 2000, model.Chatbot.MaxContextLen)

	params := model.ChatModel.Params()
	assert.Equal(t, "gpt4-small", params.Model)
	assert.Equal(t, 0.9, *params.TopP)
}

func TestLoadModelFile_MissingEntryFallsBack(t *testing.T) {
	path := writeFile(t, t.TempDir(), "models.yaml", testModelYAML)

	model, found, err := LoadModelFile(path, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultChatModel().ChatModel.Model, model.ChatModel.Model)
}

func TestLoadModelFile_MissingFile(t *testing.T) {
	_, _, err := LoadModelFile(filepath.Join(t.TempDir(), "nope.yaml"), "default")
	assert.ErrorIs(t, err, ErrModelFileNotFound)
}

func TestLoadModelFile_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "models.yaml", "models: [unclosed")
	_, _, err := LoadModelFile(path, "default")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelFileNotFound)
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_TOMLWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "models.yaml", testModelYAML)
	settings := writeFile(t, dir, "ragchat.toml", `
[server]
addr = "0.0.0.0:9000"

[provider]
kind = "azure"
base_url = "https://example.openai.azure.com"
azure_deployment = "gpt4-small"

[embedding]
kind = "hashing"
dimension = 128

[index]
dir = "idx"
top_k = 6
`)

	t.Setenv("RAGCHAT_CONFIG", settings)
	t.Setenv("MODEL_CONFIG_PATH", modelPath)
	t.Setenv("MODEL_CONFIG_NAME", "small")
	t.Setenv("AZURE_OPENAI_API_KEY", "azure-key")
	t.Setenv("DEBUG", "true")
	t.Setenv("RAGCHAT_INDEX_DIR", "override-idx")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, ProviderAzure, cfg.Provider.Kind)
	assert.Equal(t, "azure-key", cfg.Provider.APIKey)
	assert.Equal(t, EmbedderHashing, cfg.Embedding.Kind)
	assert.Equal(t, 128, cfg.Embedding.Dimension)
	assert.Equal(t, "override-idx", cfg.Index.Dir)
	assert.Equal(t, 6, cfg.Index.TopK)
	assert.Equal(t, 200, cfg.Index.ChunkOverlap, "unset fields keep defaults")
	assert.True(t, cfg.Logging.Debug)
	assert.False(t, cfg.ModelFallback)
	assert.Equal(t, "gpt4-small", cfg.Chat.ChatModel.Model)
	assert.NotContains(t, cfg.String(), "azure-key")
}

func TestLoad_MissingSettingsUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "models.yaml", testModelYAML)

	t.Setenv("RAGCHAT_CONFIG", filepath.Join(dir, "absent.toml"))
	t.Setenv("MODEL_CONFIG_PATH", modelPath)
	t.Setenv("MODEL_CONFIG_NAME", "missing")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8501", cfg.Server.Addr)
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
	assert.True(t, cfg.ModelFallback)
}

func TestLoad_FailsWithoutAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("RAGCHAT_CONFIG", filepath.Join(dir, "absent.toml"))
	t.Setenv("MODEL_CONFIG_PATH", writeFile(t, dir, "models.yaml", testModelYAML))
	t.Setenv("MODEL_CONFIG_NAME", "small")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestLoad_FailsWithoutModelFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("RAGCHAT_CONFIG", filepath.Join(dir, "absent.toml"))
	t.Setenv("MODEL_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("OPENAI_API_KEY", "sk")

	_, err := Load()
	assert.ErrorIs(t, err, ErrModelFileNotFound)
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("MODEL_CONFIG_PATH", writeFile(t, dir, "models.yaml", testModelYAML))
	path := writeFile(t, dir, "settings.json", `{"provider": {"kind": "ollama"}, "embedding": {"kind": "ollama"}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.Provider.Kind)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Provider.BaseURL)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
}

func TestSaveTOML_RoundTripWithoutSecrets(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("MODEL_CONFIG_PATH", writeFile(t, dir, "models.yaml", testModelYAML))
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := validConfig()
	cfg.Server.Addr = "127.0.0.1:7777"
	cfg.Server.AuthToken = "secret-token"
	path := filepath.Join(dir, "out", "ragchat.toml")
	require.NoError(t, SaveTOML(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-test")
	assert.NotContains(t, string(data), "secret-token")

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", loaded.Server.Addr)
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{
		"1": true, "true": true, "TRUE": true, "yes": true, "on": true,
		"0": false, "false": false, "no": false, "": false, "garbage": false,
	} {
		assert.Equal(t, want, parseBool(in), "parseBool(%q)", in)
	}
}
