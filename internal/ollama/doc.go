// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// It is used both as a completion provider (/api/chat, streamed as NDJSON)
// and as an embedding backend (/api/embeddings).
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - StreamReader: NDJSON stream parser
//   - ClientError: typed error with an ErrorType for handling
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"})
//	err := client.ChatStream(ctx, "llama3.1:8b", messages, nil, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Content)
//	})
//
//	vec, err := client.GenerateEmbedding(ctx, "nomic-embed-text", "some text")
package ollama
