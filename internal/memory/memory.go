// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory holds the per-session chat history.
//
// ChatMemory is a conversation buffer seeded with a greeting from the
// assistant. Messages keep their insertion order and role tags; Window
// returns the most recent part of the history that fits a token budget.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/model"
)

// Greeting is the first assistant message of every fresh memory.
const Greeting = "How can I help you?"

// ErrInvalidRole is returned for roles other than human and ai.
var ErrInvalidRole = errors.New("invalid role")

// Options configures a ChatMemory.
type Options struct {
	// Greeting overrides the seeded assistant message. Empty uses Greeting.
	Greeting string
	Logger   *slog.Logger
}

// ChatMemory is a mutex-guarded conversation buffer.
type ChatMemory struct {
	mu       sync.RWMutex
	conv     *model.Conversation
	greeting string
	logger   *slog.Logger
}

// New creates a memory holding only the greeting.
func New(opts Options) *ChatMemory {
	m := &ChatMemory{
		conv:     model.NewConversation(),
		greeting: opts.Greeting,
		logger:   logging.OrDiscard(opts.Logger),
	}
	if m.greeting == "" {
		m.greeting = Greeting
	}
	m.seed()
	return m
}

func (m *ChatMemory) seed() {
	m.conv.AddMessage(model.NewMessage(model.RoleAI, m.greeting))
}

// Clear drops the history and re-seeds the greeting.
func (m *ChatMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conv.ClearHistory()
	m.seed()
	m.logger.Debug("memory cleared", "conversation", m.conv.ID)
}

// AddMessage appends content under role. Only human and ai are accepted.
func (m *ChatMemory) AddMessage(content string, role model.Role) (*model.Message, error) {
	if role != model.RoleHuman && role != model.RoleAI {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	msg := model.NewMessage(role, content)

	m.mu.Lock()
	m.conv.AddMessage(msg)
	m.mu.Unlock()

	m.logger.Debug("message added", "role", role, "tokens", msg.EstimateTokens())
	return msg, nil
}

// Append stores an already built message, keeping its ID and statistics.
func (m *ChatMemory) Append(msg *model.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.Role != model.RoleHuman && msg.Role != model.RoleAI {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv.AddMessage(msg)
	return nil
}

// Messages returns a copy of the history in insertion order.
func (m *ChatMemory) Messages() []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMessages(m.conv.Messages)
}

// Window returns the most recent messages whose estimated size fits budget
// tokens, oldest first. A budget <= 0 returns everything.
func (m *ChatMemory) Window(budget int) []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMessages(m.conv.Tail(budget))
}

// Len returns the number of stored messages, greeting included.
func (m *ChatMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conv.MessageCount()
}

// IsGreeting reports whether msg is the seeded greeting.
func (m *ChatMemory) IsGreeting(msg model.Message) bool {
	return msg.Role == model.RoleAI && msg.Content == m.greeting
}

// UpdatedAt returns the time of the last change.
func (m *ChatMemory) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conv.UpdatedAt
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Snapshot returns a deep copy of the underlying conversation.
func (m *ChatMemory) Snapshot() *model.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conv.Clone()
}

// Restore replaces the history with conv. Messages with roles other than
// human and ai are rejected. An empty conversation is re-seeded.
func (m *ChatMemory) Restore(conv *model.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	for i, msg := range conv.Messages {
		if msg == nil {
			return fmt.Errorf("message %d is nil", i)
		}
		if msg.Role != model.RoleHuman && msg.Role != model.RoleAI {
			return fmt.Errorf("message %d: %w: %q", i, ErrInvalidRole, msg.Role)
		}
	}

	clone := conv.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv = clone
	if m.conv.IsEmpty() {
		m.seed()
	}
	return nil
}

func copyMessages(msgs []*model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = *msg
	}
	return out
}
