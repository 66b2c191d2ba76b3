// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retriever ingests documents into the vector index and turns a
// question into a grounded prompt.
//
// Ingest splits each document with the character splitter, embeds the
// chunks in batches and stores them, skipping documents whose content hash
// is unchanged. GetRelevantDocuments embeds the query and returns the top-k
// chunks by cosine similarity; with no index it warns and returns nothing.
// PromptMessages formats PromptTemplate with the retrieved context.
package retriever
