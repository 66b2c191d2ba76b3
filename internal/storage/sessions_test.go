// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/memory"
	"github.com/jeranaias/ragchat/internal/model"
)

func newStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions"), max)
	require.NoError(t, err)
	return s
}

func sampleConversation() *model.Conversation {
	conv := model.NewConversation()
	conv.AddMessage(model.NewMessage(model.RoleAI, "How can I help you?"))
	conv.AddMessage(model.NewMessage(model.RoleHuman, "What is a vector store?"))
	reply := model.NewMessage(model.RoleAI, "An index over embeddings. thanks for asking!")
	reply.TTFT = 120 * time.Millisecond
	reply.TotalDuration = 2 * time.Second
	conv.AddMessage(reply)
	return conv
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newStore(t, 0)
	conv := sampleConversation()

	require.NoError(t, s.Save(FromConversation("abc-123", "gpt-4o-mini", conv)))

	loaded, err := s.Load("abc-123")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", loaded.Model)
	assert.Equal(t, "What is a vector store?", loaded.Summary)
	assert.Equal(t, 3, loaded.MessageCount())

	back, err := loaded.Conversation()
	require.NoError(t, err)
	require.Len(t, back.Messages, 3)
	for i, m := range conv.Messages {
		assert.Equal(t, m.Role, back.Messages[i].Role)
		assert.Equal(t, m.Content, back.Messages[i].Content)
		assert.Equal(t, m.ID, back.Messages[i].ID)
	}
	assert.Equal(t, 2*time.Second, back.Messages[2].TotalDuration)
	assert.Equal(t, 120*time.Millisecond, back.Messages[2].TTFT)
}

func TestSave_Overwrites(t *testing.T) {
	s := newStore(t, 0)
	conv := sampleConversation()
	require.NoError(t, s.Save(FromConversation("sess", "m", conv)))

	conv.AddMessage(model.NewMessage(model.RoleHuman, "follow-up"))
	require.NoError(t, s.Save(FromConversation("sess", "m", conv)))

	loaded, err := s.Load("sess")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.MessageCount())

	metas, err := s.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestLoad_NotFound(t *testing.T) {
	s := newStore(t, 0)
	_, err := s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrInvalidID))
}

func TestInvalidIDs(t *testing.T) {
	s := newStore(t, 0)
	for _, id := range []string{"", "../etc/passwd", "a/b", "with space", strings.Repeat("x", 200)} {
		t.Run(id, func(t *testing.T) {
			_, err := s.Load(id)
			assert.ErrorIs(t, err, ErrInvalidID)
			assert.ErrorIs(t, s.Save(&StoredSession{ID: id}), ErrInvalidID)
			assert.ErrorIs(t, s.Delete(id), ErrInvalidID)
		})
	}
}

func TestLoad_Corrupt(t *testing.T) {
	s := newStore(t, 0)
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir, "bad.json"), []byte("{not json"), 0600))

	_, err := s.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt session file")

	// List skips it.
	metas, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestConversation_RejectsUnknownRole(t *testing.T) {
	tests := []struct {
		role        string
		wantErr     bool
		wantInvalid bool
	}{
		{"human", false, false},
		{"ai", false, false},
		{"user", false, false},
		{"assistant", false, false},
		{"system", true, true},
		{"tool", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			sess := &StoredSession{ID: "x", Messages: []StoredMessage{
				{Role: "ai", Content: "How can I help you?"},
				{Role: tt.role, Content: "hi"},
			}}
			conv, err := sess.Conversation()
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, conv.Messages, 2)
				return
			}
			require.Error(t, err)
			assert.Nil(t, conv)
			assert.Contains(t, err.Error(), "message 1")
			assert.Equal(t, tt.wantInvalid, errors.Is(err, memory.ErrInvalidRole))
		})
	}
}

func TestLoad_SystemMessageIsRejected(t *testing.T) {
	s := newStore(t, 0)
	stored := FromConversation("sys", "m", sampleConversation())
	stored.Messages = append(stored.Messages, StoredMessage{Role: "system", Content: "be terse"})
	require.NoError(t, s.Save(stored))

	loaded, err := s.Load("sys")
	require.NoError(t, err)
	_, err = loaded.Conversation()
	assert.ErrorIs(t, err, memory.ErrInvalidRole)
}

// =============================================================================
// LIST / DELETE / LIMIT
// =============================================================================

func TestList_MostRecentFirst(t *testing.T) {
	s := newStore(t, 0)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		sess := FromConversation(id, "m", sampleConversation())
		sess.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(sess))
	}

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "new", metas[0].ID)
	assert.Equal(t, "old", metas[2].ID)
	assert.Equal(t, "What is a vector store?", metas[0].Preview)
	assert.Equal(t, 3, metas[0].MessageCount)
}

func TestDelete(t *testing.T) {
	s := newStore(t, 0)
	require.NoError(t, s.Save(FromConversation("gone", "m", sampleConversation())))

	require.NoError(t, s.Delete("gone"))
	_, err := s.Load("gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("gone"), ErrNotFound)
}

func TestEnforceLimit(t *testing.T) {
	s := newStore(t, 2)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"s1", "s2", "s3"} {
		sess := FromConversation(id, "m", sampleConversation())
		sess.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(sess))
	}

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "s3", metas[0].ID)
	assert.Equal(t, "s2", metas[1].ID)

	_, err = s.Load("s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStore_DefaultLimit(t *testing.T) {
	s, err := NewStore(t.TempDir(), -1)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSessions, s.MaxSessions)
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestSummary_Unicode(t *testing.T) {
	conv := model.NewConversation()
	conv.AddMessage(model.NewMessage(model.RoleHuman, strings.Repeat("日本語", 30)+"\nsecond line"))
	sess := FromConversation("u", "m", conv)

	s := newStore(t, 0)
	require.NoError(t, s.Save(sess))
	assert.LessOrEqual(t, len([]rune(sess.Summary)), 53)
	assert.NotContains(t, sess.Summary, "\n")
}

func TestSummary_NoHumanMessage(t *testing.T) {
	sess := &StoredSession{ID: "empty"}
	assert.Equal(t, "New conversation", generateSummary(sess))
	assert.Empty(t, sess.GetPreview())
}

func TestExportMarkdown(t *testing.T) {
	sess := FromConversation("md", "m", sampleConversation())
	out := sess.ExportMarkdown()
	assert.True(t, strings.HasPrefix(out, "# Session md\n"))
	assert.Contains(t, out, "**User**")
	assert.Contains(t, out, "**Assistant**")
	assert.Contains(t, out, "What is a vector store?")
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No sessions found.", FormatSessionList(nil))

	out := FormatSessionList([]SessionMeta{{
		ID:           "0123456789abcdef",
		UpdatedAt:    time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		MessageCount: 4,
		Preview:      "hello",
	}})
	assert.Contains(t, out, "0123456789ab ")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "2025-03-01 09:30")
	assert.Contains(t, out, "hello")
}
