// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/model"
)

func TestNew_SeedsGreeting(t *testing.T) {
	m := New(Options{})

	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAI, msgs[0].Role)
	assert.Equal(t, Greeting, msgs[0].Content)
	assert.True(t, m.IsGreeting(msgs[0]))
}

func TestAddMessage_PreservesOrderAndRoles(t *testing.T) {
	m := New(Options{})

	turns := []struct {
		role    model.Role
		content string
	}{
		{model.RoleHuman, "What is RAG?"},
		{model.RoleAI, "Retrieval-augmented generation."},
		{model.RoleHuman, "Thanks"},
		{model.RoleAI, "You're welcome, thanks for asking!"},
	}
	for _, turn := range turns {
		_, err := m.AddMessage(turn.content, turn.role)
		require.NoError(t, err)
	}

	msgs := m.Messages()
	require.Len(t, msgs, len(turns)+1)
	for i, turn := range turns {
		got := msgs[i+1]
		assert.Equal(t, turn.role, got.Role, "message %d role", i)
		assert.Equal(t, turn.content, got.Content, "message %d content", i)
	}
}

func TestAddMessage_InvalidRole(t *testing.T) {
	m := New(Options{})

	for _, role := range []model.Role{model.RoleSystem, "tool", ""} {
		t.Run(string(role), func(t *testing.T) {
			_, err := m.AddMessage("x", role)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRole))
		})
	}
	assert.Equal(t, 1, m.Len())
}

func TestMessages_ReturnsCopy(t *testing.T) {
	m := New(Options{})
	msgs := m.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, Greeting, m.Messages()[0].Content)
}

func TestClear_ReseedsGreeting(t *testing.T) {
	m := New(Options{Greeting: "Hi there"})
	_, err := m.AddMessage("hello", model.RoleHuman)
	require.NoError(t, err)

	m.Clear()

	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there", msgs[0].Content)
}

func TestWindow(t *testing.T) {
	m := New(Options{})
	for i := 0; i < 6; i++ {
		role := model.RoleHuman
		if i%2 == 1 {
			role = model.RoleAI
		}
		_, err := m.AddMessage(fmt.Sprintf("%d%s", i, strings.Repeat("x", 39)), role)
		require.NoError(t, err)
	}

	// 40 chars = 10 tokens + 4 overhead
	w := m.Window(3 * 14)
	require.Len(t, w, 3)
	assert.True(t, strings.HasPrefix(w[0].Content, "3"))
	assert.True(t, strings.HasPrefix(w[2].Content, "5"))
	assert.Equal(t, model.RoleAI, w[2].Role)

	assert.Len(t, m.Window(0), 7)
}

func TestWindow_NewestOverBudget(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		budget int
		want   int
	}{
		// 400 chars = 100 tokens + 4 overhead
		{"far over", 400, 10, 0},
		{"one short", 400, 103, 0},
		{"exact fit", 400, 104, 1},
		{"greeting joins", 400, 104 + 9, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Options{})
			_, err := m.AddMessage(strings.Repeat("x", tt.size), model.RoleHuman)
			require.NoError(t, err)

			w := m.Window(tt.budget)
			require.Len(t, w, tt.want)
			if tt.want > 0 {
				assert.Equal(t, model.RoleHuman, w[len(w)-1].Role)
			}
		})
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := New(Options{})
	_, err := m.AddMessage("question", model.RoleHuman)
	require.NoError(t, err)
	snap := m.Snapshot()

	other := New(Options{})
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, m.Messages(), other.Messages())

	bad := snap.Clone()
	bad.Messages = append(bad.Messages, model.NewMessage(model.RoleSystem, "nope"))
	assert.ErrorIs(t, other.Restore(bad), ErrInvalidRole)

	empty := model.NewConversation()
	require.NoError(t, other.Restore(empty))
	assert.Equal(t, 1, other.Len())
}

func TestConcurrentAdds(t *testing.T) {
	m := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.AddMessage("q", model.RoleHuman)
			_ = m.Window(100)
		}()
	}
	wg.Wait()
	assert.Equal(t, 21, m.Len())
}
