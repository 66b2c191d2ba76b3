// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/memory"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/util"
)

// GenericErrorMessage is the only failure text shown to users.
const GenericErrorMessage = "An error occurred while generating the response."

// promptPreviewWidth is the number of display cells of a prompt kept in logs.
const promptPreviewWidth = 50

var (
	// ErrGeneration wraps every failure of Respond. Callers show
	// GenericErrorMessage instead of the cause.
	ErrGeneration = errors.New("response generation failed")

	// ErrEmptyPrompt is returned for blank prompts.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// PromptBuilder turns a question into the messages that carry retrieved
// context. *retriever.Retriever implements it.
type PromptBuilder interface {
	PromptMessages(ctx context.Context, question string) ([]*model.Message, error)
}

// Options configures a Service.
type Options struct {
	Sessions  *session.Manager
	Prompts   PromptBuilder
	Completer Completer

	// HistoryBudget caps, in estimated tokens, the earlier turns sent with a
	// question (0 = all).
	HistoryBudget int

	Logger *slog.Logger
}

// Service runs one question/answer exchange per call. It is safe for
// concurrent use across sessions.
type Service struct {
	sessions      *session.Manager
	prompts       PromptBuilder
	completer     Completer
	historyBudget int
	logger        *slog.Logger
}

// NewService creates a chat service.
func NewService(opts Options) *Service {
	return &Service{
		sessions:      opts.Sessions,
		prompts:       opts.Prompts,
		completer:     opts.Completer,
		historyBudget: opts.HistoryBudget,
		logger:        logging.OrDiscard(opts.Logger),
	}
}

// Completer returns the completion provider.
func (s *Service) Completer() Completer {
	return s.completer
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Respond records prompt in the session, streams the answer through onToken
// and records the answer. Every failure is logged with its cause and
// returned wrapped in ErrGeneration.
func (s *Service) Respond(ctx context.Context, sessionID, prompt string, onToken TokenFunc) (*model.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	s.logger.Info("Received user prompt: " + util.Preview(prompt, promptPreviewWidth))

	mem := s.sessions.GetOrCreate(sessionID)
	question, err := mem.AddMessage(prompt, model.RoleHuman)
	if err != nil {
		return nil, s.fail(sessionID, mem, err)
	}

	reply, err := s.generate(ctx, mem, question, onToken)
	if err != nil {
		return nil, s.fail(sessionID, mem, err)
	}

	if err := mem.Append(reply); err != nil {
		return nil, s.fail(sessionID, mem, err)
	}
	s.save(sessionID, mem)
	s.logger.Info("Successfully generated and displayed response",
		"session", sessionID, "provider", s.completer.Name(),
		"ttft_ms", reply.TTFT.Milliseconds(), "duration_ms", reply.TotalDuration.Milliseconds())
	return reply, nil
}

func (s *Service) generate(ctx context.Context, mem *memory.ChatMemory, question *model.Message, onToken TokenFunc) (*model.Message, error) {
	messages := s.history(mem, question.ID)

	promptMsgs, err := s.prompts.PromptMessages(ctx, question.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	for _, m := range promptMsgs {
		messages = append(messages, *m)
	}

	completion, err := s.completer.Stream(ctx, messages, onToken)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	if strings.TrimSpace(completion.Content) == "" {
		return nil, errors.New("completion returned no content")
	}

	reply := model.NewMessage(model.RoleAI, completion.Content)
	reply.ApplyStats(completion.Stats)
	return reply, nil
}

// history returns the earlier turns that fit the budget, without the
// greeting and without the question just recorded.
func (s *Service) history(mem *memory.ChatMemory, questionID string) []model.Message {
	window := mem.Window(s.historyBudget)
	out := make([]model.Message, 0, len(window))
	for _, m := range window {
		if m.ID == questionID || mem.IsGreeting(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Service) fail(sessionID string, mem *memory.ChatMemory, err error) error {
	s.logger.Error(fmt.Sprintf("Error generating response: %v", err), "session", sessionID)
	s.save(sessionID, mem)
	return fmt.Errorf("%w: %w", ErrGeneration, err)
}

// save persists the memory this exchange used, which may have been evicted
// while the answer was streaming.
func (s *Service) save(sessionID string, mem *memory.ChatMemory) {
	if err := s.sessions.SaveMemory(sessionID, mem); err != nil {
		s.logger.Warn("failed to persist session", "session", sessionID, "error", err)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the session's messages, greeting first.
func (s *Service) History(sessionID string) []model.Message {
	return s.sessions.GetOrCreate(sessionID).Messages()
}

// Reset clears the session's history back to the greeting.
func (s *Service) Reset(sessionID string) {
	s.logger.Info("Clearing chat history", "session", sessionID)
	s.sessions.Reset(sessionID)
}
