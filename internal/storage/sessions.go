// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ragchat/internal/memory"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/util"
)

// DefaultMaxSessions is the number of session files kept when no limit is configured.
const DefaultMaxSessions = 500

// validID restricts session IDs to names that are safe as file names.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// =============================================================================
// STORED SESSION TYPE
// =============================================================================

// StoredSession is the on-disk form of one browser session's chat history.
type StoredSession struct {
	// Identity
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []StoredMessage `json:"messages"`

	TokensUsed int `json:"tokens_used,omitempty"`
}

// StoredMessage represents a persisted message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "human" or "ai"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Statistics (for ai messages)
	DurationMs int64 `json:"duration_ms,omitempty"`
	TTFTMs     int64 `json:"ttft_ms,omitempty"`
}

// SessionMeta contains metadata for listing sessions.
type SessionMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First human message truncated
}

// FromConversation converts a chat history into its stored form.
func FromConversation(id, modelName string, conv *model.Conversation) *StoredSession {
	s := &StoredSession{
		ID:         id,
		Model:      modelName,
		CreatedAt:  conv.CreatedAt,
		UpdatedAt:  conv.UpdatedAt,
		TokensUsed: conv.TokensUsed,
		Messages:   make([]StoredMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		s.Messages = append(s.Messages, StoredMessage{
			ID:         m.ID,
			Role:       string(m.Role),
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			DurationMs: m.TotalDuration.Milliseconds(),
			TTFTMs:     m.TTFT.Milliseconds(),
		})
	}
	return s
}

// Conversation converts the stored form back into a chat history. Only
// human and ai messages are accepted; anything else fails with
// memory.ErrInvalidRole.
func (s *StoredSession) Conversation() (*model.Conversation, error) {
	conv := model.NewConversation()
	conv.CreatedAt = s.CreatedAt
	for i, sm := range s.Messages {
		role, err := model.ParseRole(sm.Role)
		if err != nil {
			return nil, fmt.Errorf("session %s message %d: %w", s.ID, i, err)
		}
		if role != model.RoleHuman && role != model.RoleAI {
			return nil, fmt.Errorf("session %s message %d: %w: %q", s.ID, i, memory.ErrInvalidRole, sm.Role)
		}
		conv.Messages = append(conv.Messages, &model.Message{
			ID:            sm.ID,
			Role:          role,
			Content:       sm.Content,
			Timestamp:     sm.Timestamp,
			TotalDuration: time.Duration(sm.DurationMs) * time.Millisecond,
			TTFT:          time.Duration(sm.TTFTMs) * time.Millisecond,
		})
	}
	conv.TokensUsed = conv.EstimateTokens()
	conv.UpdatedAt = s.UpdatedAt
	return conv, nil
}

// GetPreview returns a preview string from the first human message.
func (s *StoredSession) GetPreview() string {
	for _, msg := range s.Messages {
		if msg.Role == string(model.RoleHuman) && msg.Content != "" {
			return util.TruncateRunes(msg.Content, 80)
		}
	}
	return ""
}

// MessageCount returns the number of messages in the session.
func (s *StoredSession) MessageCount() int {
	return len(s.Messages)
}

// ExportMarkdown renders the session as Markdown with role labels.
func (s *StoredSession) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Session " + s.ID + "\n\n")
	sb.WriteString("Created: " + s.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range s.Messages {
		role := "**User**"
		if msg.Role == string(model.RoleAI) {
			role = "**Assistant**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// =============================================================================
// SESSION STORE
// =============================================================================

// Store keeps one JSON file per session in BaseDir.
type Store struct {
	// BaseDir is the directory for session files
	BaseDir string

	// MaxSessions limits stored sessions (0 = unlimited)
	MaxSessions int

	mu sync.Mutex
}

// NewStore creates the directory if needed. maxSessions < 0 selects
// DefaultMaxSessions; 0 disables the limit.
func NewStore(baseDir string, maxSessions int) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	if maxSessions < 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{BaseDir: baseDir, MaxSessions: maxSessions}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a session, replacing any earlier version.
func (s *Store) Save(sess *StoredSession) error {
	if !validID.MatchString(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, sess.ID)
	}
	if sess.Summary == "" {
		sess.Summary = generateSummary(sess)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Atomic write with fsync prevents a torn file on crash
	if err := util.AtomicWriteFile(s.filePath(sess.ID), data, 0600); err != nil {
		return err
	}
	if s.MaxSessions > 0 {
		s.enforceLimit()
	}
	return nil
}

// generateSummary creates a summary from the first human message.
func generateSummary(sess *StoredSession) string {
	for _, msg := range sess.Messages {
		if msg.Role == string(model.RoleHuman) && msg.Content != "" {
			content := util.TruncateRunes(msg.Content, 50)
			content = strings.ReplaceAll(content, "\n", " ")
			content = strings.ReplaceAll(content, "\r", "")
			return content
		}
	}
	return "New conversation"
}

// enforceLimit removes the oldest sessions beyond MaxSessions. The caller
// holds s.mu.
func (s *Store) enforceLimit() {
	metas, err := s.list()
	if err != nil || len(metas) <= s.MaxSessions {
		return
	}

	// list is most recent first; drop the tail
	for _, m := range metas[s.MaxSessions:] {
		os.Remove(s.filePath(m.ID))
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a session by ID.
func (s *Store) Load(id string) (*StoredSession, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *Store) load(id string) (*StoredSession, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var sess StoredSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", id, err)
	}
	return &sess, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved sessions (most recent first).
func (s *Store) List() ([]SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *Store) list() ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, err
	}

	metas := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		sess, err := s.load(id)
		if err != nil {
			continue // Skip corrupted files
		}

		metas = append(metas, SessionMeta{
			ID:           sess.ID,
			Summary:      sess.Summary,
			Model:        sess.Model,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			MessageCount: sess.MessageCount(),
			Preview:      sess.GetPreview(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a session by ID.
func (s *Store) Delete(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// filePath returns the file path for a session ID.
func (s *Store) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a session file doesn't exist.
	// Use errors.Is(err, ErrNotFound) to check for this error.
	ErrNotFound = &StorageError{Message: "session not found"}

	// ErrInvalidID is returned for IDs that are not safe file names.
	ErrInvalidID = &StorageError{Message: "invalid session id"}
)

// StorageError represents a storage-related error.
type StorageError struct {
	Message string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats sessions as a plain-text table.
func FormatSessionList(sessions []SessionMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString("Sessions:\n")
	sb.WriteString("-----------------------------------------------------\n")
	sb.WriteString(formatPadded("ID", 12) + " " + formatPadded("Updated", 20) + " " + formatPadded("Messages", 8) + " Preview\n")
	sb.WriteString("-----------------------------------------------------\n")

	for _, s := range sessions {
		idStr := s.ID
		if len(idStr) > 12 {
			idStr = idStr[:12]
		}
		sb.WriteString(formatPadded(idStr, 12) + " " +
			formatPadded(s.UpdatedAt.Format("2006-01-02 15:04"), 20) + " " +
			formatPadded(strconv.Itoa(s.MessageCount), 8) + " " +
			util.TruncateRunes(s.Preview, 30) + "\n")
	}
	return sb.String()
}

// formatPadded pads a string to the specified width with spaces.
func formatPadded(s string, width int) string {
	n := util.RuneLen(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
