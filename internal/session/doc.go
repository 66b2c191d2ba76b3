// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks the chat memory of each browser session.
//
// A Manager hands out one memory.ChatMemory per session ID. Sessions idle
// longer than the configured timeout are evicted by a sweeper goroutine;
// with a storage.Store configured, histories are saved after each exchange
// and restored on the next access.
//
// # Usage
//
//	mgr := session.NewManager(session.Config{IdleTimeout: time.Hour, Store: store})
//	go mgr.Run(ctx)
//
//	mem := mgr.GetOrCreate(id)
//	// ... append messages ...
//	err := mgr.Save(id)
package session
