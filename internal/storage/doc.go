// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat sessions as JSON files.
//
// Each session is written atomically to <dir>/<session-id>.json. When more
// than MaxSessions files exist, the least recently updated are removed.
//
// # Key Types
//
//   - Store: directory-backed session store
//   - StoredSession: serializable chat history with metadata
//   - SessionMeta: lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.NewStore(dir, 500)
//	err = store.Save(storage.FromConversation(id, modelName, conv))
//	sess, err := store.Load(id)
//	if errors.Is(err, storage.ErrNotFound) { ... }
package storage
