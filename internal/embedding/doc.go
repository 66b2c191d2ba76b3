// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package embedding turns document chunks and questions into vectors.
//
// Three backends implement Embedder:
//
//   - OpenAI: an OpenAI-compatible or Azure /embeddings endpoint
//   - Ollama: a local Ollama server
//   - Hashing: an offline feature-hashing embedder for tests and air-gapped use
//
// New picks the backend from the [embedding] settings. The embedder's Name
// is stored in the index so that vectors from different backends are never
// mixed.
package embedding
