// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by ragchat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - Preview: display-width truncation for log lines
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//
// # Usage
//
//	logger.Info("Received user prompt: " + util.Preview(prompt, 50))
//
//	err := util.AtomicWriteFile(path, data, 0600)
package util
