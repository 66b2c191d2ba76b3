// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Role: sender of a message (human, ai, system)
//   - Message: single chat turn with ID, role, content and timestamp
//   - Conversation: ordered list of messages with token estimates
//   - Statistics: timing of one generation (TTFT, tokens/sec)
//
// Roles are stored in the vocabulary of the chat memory (human/ai). Use
// Role.Avatar for what the browser shows and Role.WireRole for what a
// completion API expects.
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddMessage(model.NewMessage(model.RoleAI, "How can I help you?"))
//	conv.AddMessage(model.NewMessage(model.RoleHuman, "What is RAG?"))
//	recent := conv.Tail(2000)
package model
