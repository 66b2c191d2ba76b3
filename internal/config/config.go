// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for ragchat.
//
// Settings come from a TOML (or JSON) file, the chat model from a YAML
// model file, and secrets and switches from the environment (optionally
// seeded from a .env file).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
)

// Embedder kinds.
const (
	EmbedderOpenAI  = "openai"
	EmbedderOllama  = "ollama"
	EmbedderHashing = "hashing"
)

// Config represents the complete ragchat configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Provider  ProviderConfig  `toml:"provider" json:"provider"`
	Embedding EmbeddingConfig `toml:"embedding" json:"embedding"`
	Index     IndexConfig     `toml:"index" json:"index"`
	Session   SessionConfig   `toml:"session" json:"session"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Model     ModelFileConfig `toml:"model" json:"model"`

	// Chat is read from the YAML model file, not from the settings file.
	Chat AiChatModel `toml:"-" json:"-"`

	// ModelFallback is set when the named model entry was missing from the
	// model file and the built-in default was used instead.
	ModelFallback bool `toml:"-" json:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8501)
	Addr string `toml:"addr" json:"addr"`
	// Title is shown in the page header and browser tab
	Title string `toml:"title" json:"title"`
	// CORSOrigins enables CORS for the listed origins (empty = same-origin only)
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
	// RateLimit is the sustained request rate per client IP (requests/second)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the burst size per client IP
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
	// AuthToken, when set, is required as a Bearer token on /api routes
	AuthToken string `toml:"auth_token" json:"-"`
	// ShutdownTimeoutSecs bounds graceful shutdown
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
}

// ProviderConfig selects and configures the completion backend.
type ProviderConfig struct {
	// Kind is "openai", "azure" or "ollama"
	Kind string `toml:"kind" json:"kind"`
	// BaseURL of the API (OpenAI: https://api.openai.com/v1, Azure: https://<res>.openai.azure.com)
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey for hosted providers. Usually supplied via AZURE_OPENAI_API_KEY or OPENAI_API_KEY.
	APIKey string `toml:"api_key" json:"-"`
	// AzureDeployment is the deployment name (defaults to chat_model.model)
	AzureDeployment string `toml:"azure_deployment" json:"azure_deployment"`
	// AzureAPIVersion is the api-version query parameter
	AzureAPIVersion string `toml:"azure_api_version" json:"azure_api_version"`
	// TimeoutSecs for non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries for transient failures
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Kind is "openai", "ollama" or "hashing"
	Kind string `toml:"kind" json:"kind"`
	// Model is the embedding model (e.g. text-embedding-3-small, nomic-embed-text)
	Model string `toml:"model" json:"model"`
	// BaseURL overrides the provider base URL for embeddings
	BaseURL string `toml:"base_url" json:"base_url"`
	// AzureDeployment is the embeddings deployment name on Azure
	AzureDeployment string `toml:"azure_deployment" json:"azure_deployment"`
	// Dimension is used by the hashing embedder
	Dimension int `toml:"dimension" json:"dimension"`
	// BatchSize is the number of chunks embedded per request
	BatchSize int `toml:"batch_size" json:"batch_size"`
}

// IndexConfig configures the vector index and its source documents.
type IndexConfig struct {
	// Dir holds index.db
	Dir string `toml:"dir" json:"dir"`
	// DocsDir is the directory ingested by "ragchat ingest" and the watcher
	DocsDir string `toml:"docs_dir" json:"docs_dir"`
	// Watch re-ingests DocsDir on change while serving
	Watch bool `toml:"watch" json:"watch"`
	// TopK is the number of chunks retrieved per question
	TopK int `toml:"top_k" json:"top_k"`
	// ChunkSize and ChunkOverlap are in characters
	ChunkSize    int `toml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap" json:"chunk_overlap"`
}

// SessionConfig configures chat session lifetime and persistence.
type SessionConfig struct {
	// Dir persists session histories as JSON (empty = in-memory only)
	Dir string `toml:"dir" json:"dir"`
	// IdleTimeoutSecs evicts sessions idle longer than this
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
	// MaxStored caps the number of persisted sessions
	MaxStored int `toml:"max_stored" json:"max_stored"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Dir receives app.log
	Dir string `toml:"dir" json:"dir"`
	// Debug enables DEBUG level (also set by the DEBUG env var)
	Debug bool `toml:"debug" json:"debug"`
}

// ModelFileConfig locates the YAML model file.
type ModelFileConfig struct {
	// Path of the YAML file (MODEL_CONFIG_PATH)
	Path string `toml:"path" json:"path"`
	// Name of the entry under "models:" (MODEL_CONFIG_NAME)
	Name string `toml:"name" json:"name"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// DefaultOpenAIBaseURL is the base URL of the public OpenAI API.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// DefaultSettingsPath is used when RAGCHAT_CONFIG is unset.
const DefaultSettingsPath = "ragchat.toml"

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                "127.0.0.1:8501",
			Title:               "RAG-powered Chat Assistant",
			RateLimit:           2,
			RateBurst:           10,
			ShutdownTimeoutSecs: 10,
		},
		Provider: ProviderConfig{
			Kind:            ProviderOpenAI,
			AzureAPIVersion: "2024-06-01",
			TimeoutSecs:     60,
			MaxRetries:      3,
		},
		Embedding: EmbeddingConfig{
			Kind:      EmbedderOpenAI,
			Dimension: 384,
			BatchSize: 64,
		},
		Index: IndexConfig{
			Dir:          "vectorstore",
			DocsDir:      "docs",
			TopK:         4,
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Session: SessionConfig{
			IdleTimeoutSecs: 3600,
			MaxStored:       500,
		},
		Logging: LoggingConfig{
			Dir: "logs",
		},
		Model: ModelFileConfig{
			Path: "models.yaml",
			Name: "default",
		},
		Chat: DefaultChatModel(),
	}
}

// SettingsPath returns the settings file path from RAGCHAT_CONFIG or the default.
func SettingsPath() string {
	if p := os.Getenv("RAGCHAT_CONFIG"); p != "" {
		return p
	}
	return DefaultSettingsPath
}

// ensureSecurePermissions tightens a settings file to 0600 since it may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads .env (if present), the settings file named by RAGCHAT_CONFIG
// (missing file = defaults), environment overrides and the YAML model file,
// then validates the result.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return LoadFromPath(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat settings file %s: %w", path, err)
	}

	return finish(Default())
}

// LoadFromPath loads settings from a specific TOML or JSON file, then
// applies env overrides, the model file and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	chat, found, err := LoadModelFile(cfg.Model.Path, cfg.Model.Name)
	if err != nil {
		return nil, err
	}
	cfg.Chat = chat
	cfg.ModelFallback = !found
	if cfg.Provider.Kind == ProviderAzure && cfg.Provider.AzureDeployment == "" {
		cfg.Provider.AzureDeployment = chat.ChatModel.Model
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML settings file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON settings file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SaveTOML writes the settings (without secrets) to path atomically.
func SaveTOML(cfg *Config, path string) error {
	clone := *cfg
	clone.Provider.APIKey = ""
	clone.Server.AuthToken = ""

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(clone); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return util.AtomicWriteFile(path, []byte(buf.String()), 0600)
}

// =============================================================================
// DEFAULTS AND ENVIRONMENT
// =============================================================================

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.Title == "" {
		c.Server.Title = d.Server.Title
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = d.Server.RateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}

	if c.Provider.Kind == "" {
		c.Provider.Kind = d.Provider.Kind
	}
	c.Provider.Kind = strings.ToLower(c.Provider.Kind)
	if c.Provider.BaseURL == "" {
		switch c.Provider.Kind {
		case ProviderOllama:
			c.Provider.BaseURL = "http://127.0.0.1:11434"
		case ProviderOpenAI:
			c.Provider.BaseURL = DefaultOpenAIBaseURL
		}
	}
	if c.Provider.AzureAPIVersion == "" {
		c.Provider.AzureAPIVersion = d.Provider.AzureAPIVersion
	}
	if c.Provider.TimeoutSecs == 0 {
		c.Provider.TimeoutSecs = d.Provider.TimeoutSecs
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = d.Provider.MaxRetries
	}

	if c.Embedding.Kind == "" {
		c.Embedding.Kind = d.Embedding.Kind
	}
	c.Embedding.Kind = strings.ToLower(c.Embedding.Kind)
	if c.Embedding.Model == "" {
		if c.Embedding.Kind == EmbedderOllama {
			c.Embedding.Model = "nomic-embed-text"
		} else {
			c.Embedding.Model = "text-embedding-3-small"
		}
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = d.Embedding.Dimension
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = d.Embedding.BatchSize
	}

	if c.Index.Dir == "" {
		c.Index.Dir = d.Index.Dir
	}
	if c.Index.DocsDir == "" {
		c.Index.DocsDir = d.Index.DocsDir
	}
	if c.Index.TopK == 0 {
		c.Index.TopK = d.Index.TopK
	}
	if c.Index.ChunkSize == 0 {
		c.Index.ChunkSize = d.Index.ChunkSize
	}
	if c.Index.ChunkOverlap == 0 {
		c.Index.ChunkOverlap = d.Index.ChunkOverlap
	}

	if c.Session.IdleTimeoutSecs == 0 {
		c.Session.IdleTimeoutSecs = d.Session.IdleTimeoutSecs
	}
	if c.Session.MaxStored == 0 {
		c.Session.MaxStored = d.Session.MaxStored
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = d.Logging.Dir
	}
	if c.Model.Path == "" {
		c.Model.Path = d.Model.Path
	}
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - AZURE_OPENAI_API_KEY, OPENAI_API_KEY: provider.api_key (first non-empty wins)
//   - MODEL_CONFIG_PATH, MODEL_CONFIG_NAME: model.path, model.name
//   - DEBUG: logging.debug ("1", "true", "yes", "on")
//   - RAGCHAT_ADDR: server.addr
//   - RAGCHAT_PROVIDER: provider.kind
//   - RAGCHAT_BASE_URL: provider.base_url
//   - RAGCHAT_EMBEDDER: embedding.kind
//   - RAGCHAT_INDEX_DIR: index.dir
//   - RAGCHAT_DOCS_DIR: index.docs_dir
//   - RAGCHAT_LOG_DIR: logging.dir
//   - RAGCHAT_AUTH_TOKEN: server.auth_token
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		c.Provider.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}

	if p := os.Getenv("MODEL_CONFIG_PATH"); p != "" {
		c.Model.Path = p
	}
	if n := os.Getenv("MODEL_CONFIG_NAME"); n != "" {
		c.Model.Name = n
	}

	if debug := os.Getenv("DEBUG"); debug != "" {
		c.Logging.Debug = parseBool(debug)
	}

	if addr := os.Getenv("RAGCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if kind := os.Getenv("RAGCHAT_PROVIDER"); kind != "" {
		c.Provider.Kind = kind
	}
	if u := os.Getenv("RAGCHAT_BASE_URL"); u != "" {
		c.Provider.BaseURL = u
	}
	if kind := os.Getenv("RAGCHAT_EMBEDDER"); kind != "" {
		c.Embedding.Kind = kind
	}
	if dir := os.Getenv("RAGCHAT_INDEX_DIR"); dir != "" {
		c.Index.Dir = dir
	}
	if dir := os.Getenv("RAGCHAT_DOCS_DIR"); dir != "" {
		c.Index.DocsDir = dir
	}
	if dir := os.Getenv("RAGCHAT_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}
	if tok := os.Getenv("RAGCHAT_AUTH_TOKEN"); tok != "" {
		c.Server.AuthToken = tok
	}
}

// UsesHostedAPI reports whether any configured backend needs an API key.
func (c *Config) UsesHostedAPI() bool {
	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderAzure:
		return true
	}
	return c.Embedding.Kind == EmbedderOpenAI
}

// String returns the config with secrets redacted, for logging.
func (c *Config) String() string {
	key := "<unset>"
	if c.Provider.APIKey != "" {
		key = "<redacted>"
	}
	return fmt.Sprintf("provider=%s base_url=%s model=%s api_key=%s embedder=%s/%s index=%s docs=%s addr=%s debug=%v",
		c.Provider.Kind, c.Provider.BaseURL, c.Chat.ChatModel.Model, key,
		c.Embedding.Kind, c.Embedding.Model, c.Index.Dir, c.Index.DocsDir, c.Server.Addr, c.Logging.Debug)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s == "yes" || s == "y" || s == "on"
}
