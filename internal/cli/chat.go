// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat in the terminal.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/peterh/liner"

	"github.com/jeranaias/ragchat/internal/chat"
	"github.com/jeranaias/ragchat/internal/model"
)

// historyFileName holds the REPL input history.
const historyFileName = "chat_history"

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in historyFile ("" keeps
// history in memory only).
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// historyPath returns the REPL history file: next to stored sessions when
// persistence is on, else in the user config directory.
func historyPath(sessionsDir string) string {
	if sessionsDir != "" {
		return filepath.Join(sessionsDir, historyFileName)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ragchat", historyFileName)
}

// =============================================================================
// REPL
// =============================================================================

// ChatSession holds the state for an interactive chat session.
type ChatSession struct {
	ID      string
	Service *chat.Service
	Input   LineReader
	Out     io.Writer
	Quiet   bool
}

// HandleChat runs the interactive chat until /quit, EOF or Ctrl+C.
func HandleChat(ctx context.Context, args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	app, err := newApp(args, appOptions{withChat: true})
	if err != nil {
		return err
	}
	defer app.Close()

	id := args.Session
	if id == "" {
		id = "cli-" + uuid.NewString()
	}
	input := NewChatCLI(historyPath(app.Config.Session.Dir))
	defer input.Close()

	s := &ChatSession{ID: id, Service: app.Chat, Input: input, Out: os.Stdout, Quiet: args.Quiet}
	if !args.Quiet {
		fmt.Fprintln(s.Out, TitleStyle.Render(app.Config.Server.Title))
		fmt.Fprintln(s.Out, DimStyle.Render("Session "+id+" | /help for commands"))
	}
	return s.Loop(ctx)
}

// Loop reads prompts and answers them until the user leaves or ctx ends.
func (s *ChatSession) Loop(ctx context.Context) error {
	s.printLast()

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := s.Input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted), Ctrl+D (io.EOF) or a closed terminal.
			fmt.Fprintln(s.Out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !s.handleSlashCommand(input) {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := s.processMessage(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(s.Out, "%s %s\n", ErrorStyle.Render("[Error]"), chat.GenericErrorMessage)
		}
	}
}

// processMessage streams the answer to one prompt.
func (s *ChatSession) processMessage(ctx context.Context, input string) error {
	fmt.Fprint(s.Out, assistantStyle.Render("assistant> "))
	reply, err := s.Service.Respond(ctx, s.ID, input, func(token string) {
		fmt.Fprint(s.Out, token)
	})
	fmt.Fprintln(s.Out)
	if err != nil {
		return err
	}
	if !s.Quiet {
		fmt.Fprintln(s.Out, DimStyle.Render(replySummary(s.Service.Completer().Name(), reply)))
	}
	return nil
}

// handleSlashCommand runs a /command. It returns false when the REPL should end.
func (s *ChatSession) handleSlashCommand(input string) bool {
	cmd, _, _ := strings.Cut(input, " ")
	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return false
	case "/reset", "/clear":
		s.Service.Reset(s.ID)
		fmt.Fprintln(s.Out, SuccessStyle.Render("Chat history cleared."))
		s.printLast()
	case "/history":
		s.printHistory()
	case "/help", "/?":
		fmt.Fprintln(s.Out, "  /reset    clear the chat history")
		fmt.Fprintln(s.Out, "  /history  show the conversation so far")
		fmt.Fprintln(s.Out, "  /quit     leave")
	default:
		fmt.Fprintf(s.Out, "%s unknown command %s (try /help)\n", WarningStyle.Render("[!]"), cmd)
	}
	return true
}

// printLast shows the latest message, which for a new session is the greeting.
func (s *ChatSession) printLast() {
	msgs := s.Service.History(s.ID)
	if len(msgs) == 0 {
		return
	}
	printMessage(s.Out, msgs[len(msgs)-1])
}

func (s *ChatSession) printHistory() {
	for _, m := range s.Service.History(s.ID) {
		printMessage(s.Out, m)
	}
}

func printMessage(w io.Writer, m model.Message) {
	label := assistantStyle.Render("assistant> ")
	if m.Role == model.RoleHuman {
		label = userStyle.Render("you> ")
	}
	fmt.Fprintln(w, label+m.Content)
}
