// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs the question/answer exchange.
//
// A Service records the user's prompt in the session memory, asks the
// retriever for a context-stuffed prompt, streams the answer from a
// Completer and records the reply. Completers exist for hosted
// OpenAI-compatible endpoints (including Azure deployments) and for a local
// Ollama server.
//
// # Usage
//
//	completer, err := chat.NewCompleter(cfg, logger)
//	svc := chat.NewService(chat.Options{
//	    Sessions:  sessions,
//	    Prompts:   retriever,
//	    Completer: completer,
//	})
//	reply, err := svc.Respond(ctx, sessionID, "What is in the docs?", func(tok string) {
//	    fmt.Print(tok)
//	})
//	if errors.Is(err, chat.ErrGeneration) {
//	    fmt.Println(chat.GenericErrorMessage)
//	}
package chat
