// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/memory"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/storage"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newManager(t *testing.T, cfg Config) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(cfg)
	m.now = clock.Now
	return m, clock
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	return s
}

// =============================================================================
// CONFIG
// =============================================================================

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, time.Hour, m.cfg.IdleTimeout)
	assert.Equal(t, time.Minute, m.cfg.SweepInterval)
	assert.Zero(t, m.Len())
}

// =============================================================================
// LOOKUP
// =============================================================================

func TestGetOrCreate(t *testing.T) {
	m, _ := newManager(t, Config{})

	_, ok := m.Get("a")
	assert.False(t, ok)

	mem := m.GetOrCreate("a")
	require.NotNil(t, mem)
	assert.Equal(t, 1, mem.Len(), "fresh memory holds the greeting")
	assert.Same(t, mem, m.GetOrCreate("a"))

	got, ok := m.Get("a")
	assert.True(t, ok)
	assert.Same(t, mem, got)

	assert.NotSame(t, mem, m.GetOrCreate("b"))
	assert.Equal(t, 2, m.Len())
}

func TestGetOrCreate_CustomGreeting(t *testing.T) {
	m, _ := newManager(t, Config{Greeting: "Ask about the docs."})
	msgs := m.GetOrCreate("a").Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ask about the docs.", msgs[0].Content)
}

// =============================================================================
// EVICTION
// =============================================================================

func TestSweep_EvictsIdleSessions(t *testing.T) {
	m, clock := newManager(t, Config{IdleTimeout: 10 * time.Minute})

	m.GetOrCreate("idle")
	clock.Advance(6 * time.Minute)
	m.GetOrCreate("busy")
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	_, ok := m.Get("idle")
	assert.False(t, ok)
	_, ok = m.Get("busy")
	assert.True(t, ok)
}

func TestSweep_ActivityExtendsLifetime(t *testing.T) {
	m, clock := newManager(t, Config{IdleTimeout: 10 * time.Minute})

	m.GetOrCreate("a")
	for range 5 {
		clock.Advance(9 * time.Minute)
		_, ok := m.Get("a")
		require.True(t, ok)
		assert.Zero(t, m.Sweep())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m := NewManager(Config{IdleTimeout: time.Nanosecond, SweepInterval: time.Millisecond})
	m.GetOrCreate("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGetStatus(t *testing.T) {
	m, clock := newManager(t, Config{IdleTimeout: 10 * time.Minute})
	_, ok := m.GetStatus("a")
	assert.False(t, ok)

	m.GetOrCreate("a")
	clock.Advance(4 * time.Minute)

	st, ok := m.GetStatus("a")
	require.True(t, ok)
	assert.Equal(t, "a", st.SessionID)
	assert.Equal(t, 4*time.Minute, st.IdleTime)
	assert.Equal(t, 6*time.Minute, st.RemainingTime)
	assert.Equal(t, 1, st.Messages)

	clock.Advance(time.Hour)
	st, _ = m.GetStatus("a")
	assert.Zero(t, st.RemainingTime)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestSave_RestoresAfterEviction(t *testing.T) {
	store := newStore(t)
	m, clock := newManager(t, Config{IdleTimeout: time.Minute, Store: store, Model: "gpt-4o-mini"})

	mem := m.GetOrCreate("s1")
	_, err := mem.AddMessage("hello", model.RoleHuman)
	require.NoError(t, err)
	_, err = mem.AddMessage("hi there", model.RoleAI)
	require.NoError(t, err)
	require.NoError(t, m.Save("s1"))

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, m.Sweep())

	restored := m.GetOrCreate("s1")
	assert.NotSame(t, mem, restored)
	msgs := restored.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, memory.Greeting, msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, model.RoleHuman, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[2].Content)
	assert.Equal(t, model.RoleAI, msgs[2].Role)

	stored, err := store.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", stored.Model)
}

func TestSave_WithoutStore(t *testing.T) {
	m, _ := newManager(t, Config{})
	m.GetOrCreate("a")
	assert.NoError(t, m.Save("a"))
	assert.NoError(t, m.Save("unknown"))
}

func TestSaveMemory_AfterEviction(t *testing.T) {
	tests := []struct {
		name  string
		evict bool
	}{
		{"active", false},
		{"evicted mid exchange", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			m, clock := newManager(t, Config{IdleTimeout: time.Minute, Store: store})

			mem := m.GetOrCreate("s1")
			_, err := mem.AddMessage("what is RAG?", model.RoleHuman)
			require.NoError(t, err)

			if tt.evict {
				clock.Advance(2 * time.Minute)
				require.Equal(t, 1, m.Sweep())
				// Save by ID no longer finds the session.
				require.NoError(t, m.Save("s1"))
				_, err = store.Load("s1")
				require.ErrorIs(t, err, storage.ErrNotFound)
			}

			_, err = mem.AddMessage("retrieval augmented generation", model.RoleAI)
			require.NoError(t, err)
			require.NoError(t, m.SaveMemory("s1", mem))

			stored, err := store.Load("s1")
			require.NoError(t, err)
			require.Len(t, stored.Messages, 3)
			assert.Equal(t, "retrieval augmented generation", stored.Messages[2].Content)

			msgs := m.GetOrCreate("s1").Messages()
			require.Len(t, msgs, 3)
			assert.Equal(t, model.RoleAI, msgs[2].Role)
		})
	}
}

func TestSaveMemory_TouchesActivity(t *testing.T) {
	m, clock := newManager(t, Config{IdleTimeout: time.Minute})
	mem := m.GetOrCreate("s1")

	clock.Advance(50 * time.Second)
	require.NoError(t, m.SaveMemory("s1", mem))
	clock.Advance(50 * time.Second)
	assert.Zero(t, m.Sweep())

	assert.NoError(t, m.SaveMemory("s1", nil))
}

func TestGetOrCreate_MemoryLogger(t *testing.T) {
	var sessionLog, memoryLog bytes.Buffer
	newLogger := func(buf *bytes.Buffer) *slog.Logger {
		return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	tests := []struct {
		name       string
		withMemory bool
	}{
		{"dedicated", true},
		{"falls back to session logger", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionLog.Reset()
			memoryLog.Reset()
			cfg := Config{Logger: newLogger(&sessionLog)}
			if tt.withMemory {
				cfg.MemoryLogger = newLogger(&memoryLog)
			}
			m, _ := newManager(t, cfg)

			_, err := m.GetOrCreate("s1").AddMessage("hello", model.RoleHuman)
			require.NoError(t, err)

			assert.Contains(t, sessionLog.String(), "session created")
			if tt.withMemory {
				assert.Contains(t, memoryLog.String(), "message added")
				assert.NotContains(t, sessionLog.String(), "message added")
			} else {
				assert.Contains(t, sessionLog.String(), "message added")
			}
		})
	}
}

func TestReset_ClearsMemoryAndStore(t *testing.T) {
	store := newStore(t)
	m, _ := newManager(t, Config{Store: store})

	mem := m.GetOrCreate("s1")
	_, err := mem.AddMessage("hello", model.RoleHuman)
	require.NoError(t, err)
	require.NoError(t, m.Save("s1"))

	m.Reset("s1")
	assert.Equal(t, 1, mem.Len())
	_, err = store.Load("s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Resetting a session that was never saved is fine.
	m.Reset("fresh")
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	m, _ := newManager(t, Config{Store: store})

	m.GetOrCreate("s1")
	require.NoError(t, m.Save("s1"))
	require.NoError(t, m.Delete("s1"))
	assert.Zero(t, m.Len())
	_, err := store.Load("s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, m.Delete("never-existed"))
}

func TestGetOrCreate_CorruptStoredSession(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(&storage.StoredSession{
		ID:       "bad",
		Messages: []storage.StoredMessage{{Role: "system", Content: "x"}},
	}))

	m, _ := newManager(t, Config{Store: store})
	mem := m.GetOrCreate("bad")
	assert.Equal(t, 1, mem.Len())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestManager_Concurrent(t *testing.T) {
	m := NewManager(Config{Store: newStore(t)})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%5)
			mem := m.GetOrCreate(id)
			_, _ = mem.AddMessage("q", model.RoleHuman)
			_ = m.Save(id)
			m.Sweep()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, m.Len())
}
