// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides the vector store used for document retrieval.
//
// Chunks and their embeddings are kept in a single SQLite database
// (index.db) inside the index directory. Search is a flat cosine scan over
// every stored vector.
//
// # Key Types
//
//   - Store: the SQLite-backed vector store
//   - Document: a source file loaded by LoadDocuments
//   - Chunk, Result: stored pieces and search hits
//   - Watcher: re-ingests the documents directory on change
//
// # Usage
//
// Build an index:
//
//	store, err := index.Create(dir, index.Meta{Embedder: "hashing:384", Dimension: 384})
//	err = store.ReplaceDocument(ctx, doc, chunks, vectors)
//
// Search it:
//
//	store, err := index.Open(dir)
//	if errors.Is(err, index.ErrNotIndexed) {
//	    // nothing ingested yet
//	}
//	results, err := store.Search(ctx, queryVector, 4)
package index
