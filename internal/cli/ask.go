// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - The ask command: one question, one answer.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"github.com/jeranaias/ragchat/internal/chat"
	"github.com/jeranaias/ragchat/internal/model"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// newMarkdownRenderer returns a glamour renderer sized to the terminal, or
// nil if it cannot be created.
func newMarkdownRenderer() *glamour.TermRenderer {
	width := GetTerminalWidth()
	if width > 100 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ASK
// =============================================================================

// AskData is the JSON shape of the ask command.
type AskData struct {
	Session  string `json:"session"`
	Answer   string `json:"answer"`
	Model    string `json:"model"`
	TTFTMs   int64  `json:"ttft_ms"`
	TotalMs  int64  `json:"total_ms"`
	Messages int    `json:"messages"`
}

// HandleAsk answers args.Query. On a terminal the answer is rendered as
// markdown once complete; otherwise tokens are streamed as plain text.
func HandleAsk(ctx context.Context, args Args, w io.Writer) error {
	if strings.TrimSpace(args.Query) == "" {
		return ErrMissingArgument("question", `ragchat ask "How do I install it?"`)
	}

	app, err := newApp(args, appOptions{withChat: true})
	if err != nil {
		return err
	}
	defer app.Close()

	return runAsk(ctx, app.Chat, args, w, !args.Raw && !args.JSON && IsStdoutTTY())
}

func runAsk(ctx context.Context, svc *chat.Service, args Args, w io.Writer, render bool) error {
	id := args.Session
	if id == "" {
		id = "cli-" + uuid.NewString()
	}

	var onToken chat.TokenFunc
	switch {
	case args.JSON:
		onToken = func(string) {}
	case render:
		if !args.Quiet {
			fmt.Fprintln(w, DimStyle.Render("Thinking..."))
		}
		onToken = func(string) {}
	default:
		onToken = func(token string) { fmt.Fprint(w, token) }
	}

	reply, err := svc.Respond(ctx, id, args.Query, onToken)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("ask", AskData{
			Session:  id,
			Answer:   reply.Content,
			Model:    svc.Completer().Name(),
			TTFTMs:   reply.TTFT.Milliseconds(),
			TotalMs:  reply.TotalDuration.Milliseconds(),
			Messages: len(svc.History(id)),
		}).Fprint(w)
	}

	if render {
		fmt.Fprint(w, renderMarkdown(newMarkdownRenderer(), reply.Content))
	} else {
		fmt.Fprintln(w)
	}
	if !args.Quiet {
		fmt.Fprintln(w, DimStyle.Render(replySummary(svc.Completer().Name(), reply)))
	}
	return nil
}

// replySummary is the dim footer printed after an answer.
func replySummary(modelName string, reply *model.Message) string {
	parts := []string{modelName}
	if reply.TTFT > 0 {
		parts = append(parts, "first token "+formatDuration(reply.TTFT))
	}
	if reply.TotalDuration > 0 {
		parts = append(parts, "total "+formatDuration(reply.TotalDuration.Round(time.Millisecond)))
	}
	return strings.Join(parts, " | ")
}
