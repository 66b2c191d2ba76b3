// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the hosted completion client.
//
// The client speaks the OpenAI /chat/completions protocol and can be
// pointed at OpenAI, any compatible server, or an Azure OpenAI deployment.
// Azure mode routes to /openai/deployments/{deployment}/chat/completions
// and authenticates with an api-key header instead of a bearer token.
//
// # Key Types
//
//   - Client: HTTP client with retry and backoff for transient errors
//   - ChatMessage: chat message in the wire format
//   - ChatRequest: request body built from config.Params
//   - SSEReader: Server-Sent Events parser used by ChatStream
//   - APIError, StreamError: typed errors wrapping the package sentinels
//
// # Usage
//
//	client := cloud.NewClient(cloud.Config{APIKey: key})
//	stats, err := client.ChatStream(ctx, msgs, model.ChatModel.Params(),
//	    func(c cloud.StreamChunk) { fmt.Print(c.GetContent()) })
//
// API keys are never logged; KeyFingerprint gives a short hash for
// correlating log lines.
package cloud
