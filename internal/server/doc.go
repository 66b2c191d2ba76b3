// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the browser chat interface.
//
// Endpoints:
//   - GET  /             - Chat page (embedded HTML, CSS and JS)
//   - GET  /api/history  - Messages of the cookie session
//   - POST /api/chat     - Ask a question; the answer streams as SSE
//   - POST /api/reset    - Clear the session's history
//   - GET  /api/info     - Title, model and index statistics
//   - GET  /health       - Liveness
//
// Each browser is tracked by the ragchat_session cookie. Requests pass
// through recovery, security headers, logging, per-IP rate limiting and,
// when configured, CORS and bearer-token authentication.
//
// # SSE Format
//
//	data: {"token":"Hel"}
//	data: {"token":"lo"}
//	data: {"done":true,"message_id":"msg_..."}
//
// A failed generation ends with
//
//	data: {"error":"An error occurred while generating the response."}
package server
