// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the ragchat commands.
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	err := cli.Run(ctx, cmd, args)
//
// Main wraps both with signal handling and exit-code mapping.
//
// # Commands
//
//   - serve: Web chat UI and JSON/SSE API (default)
//   - ingest: Build or update the vector index from a documents directory
//   - ask: One question, answered with retrieved context
//   - chat: Interactive terminal conversation
//   - sessions: List, show, export and delete stored conversations
//   - doctor: Configuration, provider and index health checks
//   - version: Version information
//
// Commands that print results support --json.
package cli
