// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/memory"
	"github.com/jeranaias/ragchat/internal/storage"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager maps session IDs to chat memories. Idle sessions are evicted by
// Run; when a Store is configured, histories survive eviction and restarts.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	cfg    Config
	logger *slog.Logger

	// now is replaced in tests.
	now func() time.Time
}

type entry struct {
	mem          *memory.ChatMemory
	startTime    time.Time
	lastActivity time.Time
}

// Config holds configuration for the session manager.
type Config struct {
	// IdleTimeout evicts sessions without activity for this long (default: 1 hour)
	IdleTimeout time.Duration

	// SweepInterval is how often Run checks for idle sessions (default: 1 minute)
	SweepInterval time.Duration

	// Store persists histories. Nil keeps them in memory only.
	Store *storage.Store

	// Model is recorded in stored sessions.
	Model string

	// Greeting overrides the first assistant message.
	Greeting string

	Logger *slog.Logger

	// MemoryLogger is handed to every chat memory. Nil uses Logger.
	MemoryLogger *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   time.Hour,
		SweepInterval: time.Minute,
	}
}

// NewManager creates a new session manager.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Manager{
		sessions: make(map[string]*entry),
		cfg:      cfg,
		logger:   logging.OrDiscard(cfg.Logger),
		now:      time.Now,
	}
}

func (m *Manager) memoryLogger() *slog.Logger {
	if m.cfg.MemoryLogger != nil {
		return m.cfg.MemoryLogger
	}
	return m.logger
}

// =============================================================================
// LOOKUP
// =============================================================================

// Get returns the memory of an active session without creating one.
func (m *Manager) Get(id string) (*memory.ChatMemory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastActivity = m.now()
	return e.mem, true
}

// GetOrCreate returns the memory for id, restoring it from the store on
// first access. A stored history that cannot be read is logged and replaced
// by a fresh one.
func (m *Manager) GetOrCreate(id string) *memory.ChatMemory {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.sessions[id]; ok {
		e.lastActivity = now
		return e.mem
	}

	mem := memory.New(memory.Options{Greeting: m.cfg.Greeting, Logger: m.memoryLogger()})
	if m.cfg.Store != nil {
		if err := m.restore(id, mem); err != nil {
			m.logger.Warn("failed to restore session", "session", id, "error", err)
		}
	}
	m.sessions[id] = &entry{mem: mem, startTime: now, lastActivity: now}
	m.logger.Debug("session created", "session", id, "active", len(m.sessions))
	return mem
}

func (m *Manager) restore(id string, mem *memory.ChatMemory) error {
	sess, err := m.cfg.Store.Load(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	conv, err := sess.Conversation()
	if err != nil {
		return err
	}
	if err := mem.Restore(conv); err != nil {
		return err
	}
	m.logger.Debug("session restored", "session", id, "messages", mem.Len())
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save writes the session's history to the store. It is a no-op without a
// store or for unknown sessions.
func (m *Manager) Save(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.SaveMemory(id, e.mem)
}

// SaveMemory writes mem to the store as session id. It succeeds even when
// the session was evicted after the caller obtained mem; the next
// GetOrCreate then restores what was written here.
func (m *Manager) SaveMemory(id string, mem *memory.ChatMemory) error {
	if mem == nil {
		return nil
	}

	m.mu.Lock()
	if e, ok := m.sessions[id]; ok && e.mem == mem {
		e.lastActivity = m.now()
	}
	m.mu.Unlock()

	if m.cfg.Store == nil {
		return nil
	}
	if err := m.cfg.Store.Save(storage.FromConversation(id, m.cfg.Model, mem.Snapshot())); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

// Reset clears the session's history and removes its stored copy.
func (m *Manager) Reset(id string) {
	m.GetOrCreate(id).Clear()
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to delete stored session", "session", id, "error", err)
	}
}

// Delete drops the session from memory and from the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	if m.cfg.Store == nil {
		return nil
	}
	if err := m.cfg.Store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// =============================================================================
// EVICTION
// =============================================================================

// Sweep evicts sessions idle for at least IdleTimeout and returns how many
// were removed. Stored copies are kept.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, e := range m.sessions {
		if now.Sub(e.lastActivity) >= m.cfg.IdleTimeout {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("evicted idle sessions", "count", evicted, "active", len(m.sessions))
	}
	return evicted
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the state of one active session.
type Status struct {
	SessionID     string
	StartTime     time.Time
	IdleTime      time.Duration
	RemainingTime time.Duration
	Messages      int
}

// GetStatus returns the status of an active session.
func (m *Manager) GetStatus(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return Status{}, false
	}
	idle := m.now().Sub(e.lastActivity)
	remaining := m.cfg.IdleTimeout - idle
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		SessionID:     id,
		StartTime:     e.startTime,
		IdleTime:      idle,
		RemainingTime: remaining,
		Messages:      e.mem.Len(),
	}, true
}
