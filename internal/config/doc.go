// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for ragchat.
//
// # Key Types
//
//   - Config: settings for server, provider, embedding, index, sessions, logging
//   - AiChatModel: one entry of the YAML model file (chat_model + chatbot)
//   - ModelConfig: sampling parameters with their allowed ranges
//   - ValidateErrors: every problem found by Validate, field by field
//
// # Configuration Precedence
//
//   - Environment variables (AZURE_OPENAI_API_KEY, DEBUG, RAGCHAT_*, ...)
//   - .env file in the working directory
//   - Settings file (RAGCHAT_CONFIG, default ragchat.toml; .json also accepted)
//   - Built-in defaults
//
// The chat model always comes from the YAML file named by MODEL_CONFIG_PATH,
// entry MODEL_CONFIG_NAME:
//
//	models:
//	  default:
//	    chat_model:
//	      model: gpt-4o-mini
//	      max_tokens: 1024
//	      temperature: 0.2
//	    chatbot:
//	      description: Ask questions about the handbook.
//	      max_context_len: 4000
//	      max_free_context_len: 3000
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err) // validation failures stop startup
//	}
package config
