// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/ragchat/internal/config"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB).
const MaxChunkSize = 64 * 1024

// doneMarker terminates an OpenAI event stream.
var doneMarker = []byte("[DONE]")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from a streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// IsDone returns true if the chunk carries a finish reason.
func (c *StreamChunk) IsDone() bool {
	return c.GetFinishReason() != ""
}

// StreamCallback is called for every chunk that carries content.
type StreamCallback func(chunk StreamChunk)

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	FirstTokenTime time.Duration
	TotalTime      time.Duration
	TokenCount     int
	Model          string
	FinishReason   string
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxChunkSize)
	return &SSEReader{scanner: scanner}
}

// ReadEvent reads the next SSE event and returns its event type and data.
// Multiple data lines are joined with "\n". Returns io.EOF when the stream
// ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimPrefix(line[5:], []byte(" "))
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion. callback receives every
// chunk with content. Opening the stream is retried like Chat; once tokens
// have started, a failure is returned as *StreamError carrying the text
// received so far.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, params config.Params, callback StreamCallback) (*StreamStats, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	resp, err := c.send(ctx, c.streamClient, NewChatRequest(params, messages, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	stats := &StreamStats{}
	err = c.processStream(ctx, resp.Body, stats, start, callback)
	stats.TotalTime = time.Since(start)
	return stats, err
}

// processStream reads the SSE body until [DONE].
func (c *Client) processStream(ctx context.Context, body io.Reader, stats *StreamStats, start time.Time, callback StreamCallback) error {
	reader := NewSSEReader(body)
	var partial strings.Builder

	fail := func(err error) error {
		return &StreamError{Partial: partial.String(), Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Some compatible servers close after the final finish_reason without [DONE].
				if stats.FinishReason != "" {
					return nil
				}
				return fail(io.ErrUnexpectedEOF)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			return fail(err)
		}

		if bytes.Equal(bytes.TrimSpace(data), doneMarker) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return fail(fmt.Errorf("provider error: %s", chunk.Error.Message))
		}
		if chunk.Model != "" {
			stats.Model = chunk.Model
		}
		if reason := chunk.GetFinishReason(); reason != "" {
			stats.FinishReason = reason
			if reason == "content_filter" {
				return fail(ErrContentFiltered)
			}
		}

		content := chunk.GetContent()
		if content == "" {
			continue
		}
		if stats.TokenCount == 0 {
			stats.FirstTokenTime = time.Since(start)
		}
		stats.TokenCount++
		partial.WriteString(content)
		if callback != nil {
			callback(chunk)
		}
	}
}

// =============================================================================
// ACCUMULATION
// =============================================================================

// StreamAccumulator collects streamed content.
type StreamAccumulator struct {
	content strings.Builder
	chunks  int
}

// NewStreamAccumulator creates an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add appends a chunk's content.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	a.content.WriteString(chunk.GetContent())
	a.chunks++
}

// GetContent returns everything received so far.
func (a *StreamAccumulator) GetContent() string {
	return a.content.String()
}

// Chunks returns the number of chunks added.
func (a *StreamAccumulator) Chunks() int {
	return a.chunks
}

// Callback returns a StreamCallback that feeds the accumulator before
// forwarding to next (which may be nil).
func (a *StreamAccumulator) Callback(next StreamCallback) StreamCallback {
	return func(chunk StreamChunk) {
		a.Add(chunk)
		if next != nil {
			next(chunk)
		}
	}
}
