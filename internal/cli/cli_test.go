// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/chat"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/storage"
)

// =============================================================================
// PARSE
// =============================================================================

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantCmd  Command
		validate func(*testing.T, Args)
	}{
		{name: "no args serves", argv: nil, wantCmd: CmdServe},
		{name: "serve alias", argv: []string{"web"}, wantCmd: CmdServe},
		{
			name:    "ingest with dir and rebuild",
			argv:    []string{"ingest", "--rebuild", "./docs"},
			wantCmd: CmdIngest,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "./docs", a.Dir)
				assert.True(t, a.Rebuild)
			},
		},
		{
			name:    "ask joins the question",
			argv:    []string{"ask", "--raw", "how", "do", "I", "install?"},
			wantCmd: CmdAsk,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "how do I install?", a.Query)
				assert.True(t, a.Raw)
			},
		},
		{
			name:    "ask with session",
			argv:    []string{"ask", "--session", "abc", "hi"},
			wantCmd: CmdAsk,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "abc", a.Session)
				assert.Equal(t, "hi", a.Query)
			},
		},
		{
			name:    "global flags anywhere",
			argv:    []string{"--debug", "sessions", "list", "--json", "-c", "alt.toml"},
			wantCmd: CmdSessions,
			validate: func(t *testing.T, a Args) {
				assert.True(t, a.Debug)
				assert.True(t, a.JSON)
				assert.Equal(t, "alt.toml", a.ConfigPath)
				assert.Equal(t, "list", a.Subcommand)
				assert.Equal(t, []string{"list"}, a.Rest)
			},
		},
		{
			name:    "config with equals",
			argv:    []string{"--config=x.json", "doctor"},
			wantCmd: CmdDoctor,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "x.json", a.ConfigPath)
			},
		},
		{name: "diag alias", argv: []string{"diag"}, wantCmd: CmdDoctor},
		{name: "version flag", argv: []string{"--version"}, wantCmd: CmdVersion},
		{name: "help flag", argv: []string{"-h"}, wantCmd: CmdHelp},
		{
			name:    "unknown",
			argv:    []string{"Ingets"},
			wantCmd: CmdUnknown,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "ingets", a.Unknown)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			assert.Equal(t, tt.wantCmd, cmd)
			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

func TestUnknownCommand_Suggests(t *testing.T) {
	err := unknownCommand("ingets")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Contains(t, err.Error(), `did you mean "ingest"?`)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	assert.NotContains(t, unknownCommand("zzzzzz").Error(), "did you mean")
}

// =============================================================================
// ARG PARSER
// =============================================================================

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"export", "abc", "--output", "out.md", "--confirm", "extra", "--n=3"}, "confirm")

	assert.Equal(t, "export", p.Subcommand())
	assert.Equal(t, "out.md", p.Flag("output"))
	assert.True(t, p.BoolFlag("confirm"))
	assert.True(t, p.HasFlag("output"))
	assert.False(t, p.HasFlag("missing"))
	assert.Equal(t, "fallback", p.FlagOrDefault("missing", "fallback"))
	assert.Equal(t, 3, p.FlagIntOrDefault("n", 0))
	assert.Equal(t, 7, p.FlagIntOrDefault("missing", 7))
	assert.Equal(t, []string{"export", "abc", "extra"}, p.PositionalFrom(0))
	assert.Equal(t, "abc extra", JoinPositionalArgs(p, 1))
	assert.Equal(t, "", p.Positional(9))
}

func TestArgParser_DoubleDashEndsFlags(t *testing.T) {
	p := NewArgParser([]string{"--raw", "--", "--not-a-flag", "text"}, "raw")
	assert.True(t, p.BoolFlag("raw"))
	assert.Equal(t, "--not-a-flag text", JoinPositionalArgs(p, 0))
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--limit", "abc"})
	_, err := p.FlagInt("limit")
	assert.Error(t, err)
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

func TestSuggestCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"ingets", "ingest"},
		{"sesions", "sessions"},
		{"docter", "doctor"},
		{"ak", "ask"},
		{"xyz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestCommand(tt.input))
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("chat", "chat"))
	assert.Equal(t, 1, levenshteinDistance("chat", "cat"))
	assert.Equal(t, 3, levenshteinDistance("", "ask"))
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
}

// =============================================================================
// ERRORS AND EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Message: "bad"}, ExitUsageError},
		{"missing argument", ErrMissingArgument("question", "ragchat ask hi"), ExitUsageError},
		{"tty", &TTYRequiredError{Operation: "chat"}, ExitUsageError},
		{"api key", fmt.Errorf("load: %w", config.ErrMissingAPIKey), ExitConfigError},
		{"embedder mismatch", fmt.Errorf("open: %w", index.ErrEmbedderMismatch), ExitConfigError},
		{"not found", &NotFoundError{Resource: "session", ID: "x", Err: storage.ErrNotFound}, ExitNotFoundError},
		{"deadline", fmt.Errorf("ask: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"general", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestCommandError(t *testing.T) {
	cause := errors.New("disk full")
	err := &CommandError{Command: "sessions", Action: "export", Reason: "write failed", Err: cause}
	assert.Equal(t, "sessions export failed: write failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

// =============================================================================
// CONFIRMATION
// =============================================================================

func TestRequireConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		opts    ConfirmationOptions
		want    bool
		wantErr bool
	}{
		{name: "flag", opts: ConfirmationOptions{ConfirmFlag: true}, want: true},
		{name: "json without flag", opts: ConfirmationOptions{JSONMode: true}, wantErr: true},
		{name: "yes", opts: ConfirmationOptions{In: strings.NewReader("yes\n")}, want: true},
		{name: "y without newline", opts: ConfirmationOptions{In: strings.NewReader("Y")}, want: true},
		{name: "no", opts: ConfirmationOptions{In: strings.NewReader("n\n")}, want: false},
		{name: "empty", opts: ConfirmationOptions{In: strings.NewReader("\n")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tt.opts.Out = &out
			got, err := RequireConfirmation(tt.opts, "delete session x")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.opts.In != nil {
				assert.Contains(t, out.String(), "delete session x? [y/N]")
			}
		})
	}
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "850ms", formatDuration(850*time.Millisecond))
	assert.Equal(t, "2.4s", formatDuration(2400*time.Millisecond))
	assert.Equal(t, "3m05s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "1h02m", formatDuration(time.Hour+2*time.Minute))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}

func TestReplySummary(t *testing.T) {
	reply := model.NewMessage(model.RoleAI, "x")
	reply.TTFT = 300 * time.Millisecond
	reply.TotalDuration = 2400 * time.Millisecond
	assert.Equal(t, "fake:model | first token 300ms | total 2.4s", replySummary("fake:model", reply))
	assert.Equal(t, "fake:model", replySummary("fake:model", model.NewMessage(model.RoleAI, "x")))
}

func TestHandleVersion_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HandleVersion(Args{JSON: true}, &buf))

	var resp struct {
		Success bool        `json:"success"`
		Command string      `json:"command"`
		Data    VersionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "version", resp.Command)
	assert.Equal(t, Version, resp.Data.Version)
}

// =============================================================================
// ASK AND CHAT
// =============================================================================

type fakeCompleter struct {
	tokens []string
	err    error
}

func (f *fakeCompleter) Name() string { return "fake:model" }

func (f *fakeCompleter) Stream(_ context.Context, _ []model.Message, onToken chat.TokenFunc) (chat.Completion, error) {
	var sb strings.Builder
	for _, tok := range f.tokens {
		sb.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	return chat.Completion{Content: sb.String()}, f.err
}

type fakePrompts struct{}

func (fakePrompts) PromptMessages(_ context.Context, q string) ([]*model.Message, error) {
	return []*model.Message{model.NewMessage(model.RoleHuman, "Question: "+q)}, nil
}

func newChatService(t *testing.T, c chat.Completer) *chat.Service {
	t.Helper()
	sessions := session.NewManager(session.Config{})
	return chat.NewService(chat.Options{Sessions: sessions, Prompts: fakePrompts{}, Completer: c})
}

func TestRunAsk_Streams(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{tokens: []string{"Run ", "go install. ", "thanks for asking!"}})

	var buf bytes.Buffer
	err := runAsk(context.Background(), svc, Args{Query: "How do I install?", Session: "s1"}, &buf, false)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Run go install. thanks for asking!\n"))
	assert.Contains(t, out, "fake:model")
	assert.Len(t, svc.History("s1"), 3)
}

func TestRunAsk_QuietOmitsSummary(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{tokens: []string{"ok"}})

	var buf bytes.Buffer
	require.NoError(t, runAsk(context.Background(), svc, Args{Query: "q", Quiet: true}, &buf, false))
	assert.Equal(t, "ok\n", buf.String())
}

func TestRunAsk_JSON(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{tokens: []string{"An ", "answer."}})

	var buf bytes.Buffer
	require.NoError(t, runAsk(context.Background(), svc, Args{Query: "q", JSON: true}, &buf, false))

	var resp struct {
		Success bool    `json:"success"`
		Data    AskData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "An answer.", resp.Data.Answer)
	assert.Equal(t, "fake:model", resp.Data.Model)
	assert.True(t, strings.HasPrefix(resp.Data.Session, "cli-"))
	assert.Equal(t, 3, resp.Data.Messages)
}

func TestRunAsk_Error(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{err: errors.New("upstream 500")})

	err := runAsk(context.Background(), svc, Args{Query: "q"}, io.Discard, false)
	assert.ErrorIs(t, err, chat.ErrGeneration)
}

// scriptedInput replays lines, then reports EOF.
type scriptedInput struct{ lines []string }

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() {}

func TestChatSession_Loop(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{tokens: []string{"Hello back."}})

	var out bytes.Buffer
	s := &ChatSession{
		ID:      "repl",
		Service: svc,
		Input:   &scriptedInput{lines: []string{"", "hello", "/history", "/bogus", "/reset", "/quit", "never read"}},
		Out:     &out,
		Quiet:   true,
	}
	require.NoError(t, s.Loop(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Hello back.")
	assert.Contains(t, text, "hello\n")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "Chat history cleared.")
	assert.Len(t, svc.History("repl"), 1)
}

func TestChatSession_ErrorKeepsGoing(t *testing.T) {
	svc := newChatService(t, &fakeCompleter{err: errors.New("secret upstream detail")})

	var out bytes.Buffer
	s := &ChatSession{ID: "repl", Service: svc, Input: &scriptedInput{lines: []string{"hi", "exit"}}, Out: &out, Quiet: true}
	require.NoError(t, s.Loop(context.Background()))

	assert.Contains(t, out.String(), chat.GenericErrorMessage)
	assert.NotContains(t, out.String(), "secret upstream detail")
}

func TestHistoryPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "chat_history"), historyPath(dir))
}

// =============================================================================
// SESSIONS
// =============================================================================

func seedStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "sessions"), 0)
	require.NoError(t, err)

	for _, id := range []string{"abc-123", "abd-456"} {
		conv := model.NewConversation()
		conv.AddMessage(model.NewMessage(model.RoleAI, "How can I help you?"))
		conv.AddMessage(model.NewMessage(model.RoleHuman, "question for "+id))
		conv.AddMessage(model.NewMessage(model.RoleAI, "answer for "+id))
		require.NoError(t, store.Save(storage.FromConversation(id, "fake:model", conv)))
	}
	return store
}

func TestResolveSessionID(t *testing.T) {
	store := seedStore(t)

	id, err := resolveSessionID(store, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)

	id, err = resolveSessionID(store, "abd-456")
	require.NoError(t, err)
	assert.Equal(t, "abd-456", id)

	_, err = resolveSessionID(store, "ab")
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)

	_, err = resolveSessionID(store, "zzz")
	assert.True(t, isNotFound(err))
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestRunSessions_List(t *testing.T) {
	store := seedStore(t)

	var buf bytes.Buffer
	require.NoError(t, runSessions(store, Args{JSON: true, Rest: []string{"list"}}, nil, &buf))

	var resp struct {
		Data []storage.SessionMeta `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestRunSessions_ShowAndExport(t *testing.T) {
	store := seedStore(t)

	var buf bytes.Buffer
	require.NoError(t, runSessions(store, Args{Rest: []string{"show", "abc"}}, nil, &buf))
	assert.Contains(t, buf.String(), "question for abc-123")

	out := filepath.Join(t.TempDir(), "chat.md")
	buf.Reset()
	require.NoError(t, runSessions(store, Args{Rest: []string{"export", "abd", "--output", out}}, nil, &buf))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "answer for abd-456")

	err = runSessions(store, Args{Rest: []string{"export", "abd"}}, nil, io.Discard)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestRunSessions_Delete(t *testing.T) {
	store := seedStore(t)

	// Declined
	require.NoError(t, runSessions(store, Args{Rest: []string{"delete", "abc"}}, strings.NewReader("n\n"), io.Discard))
	_, err := store.Load("abc-123")
	require.NoError(t, err)

	// JSON mode needs --confirm
	err = runSessions(store, Args{JSON: true, Rest: []string{"rm", "abc"}}, nil, io.Discard)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	require.NoError(t, runSessions(store, Args{Rest: []string{"delete", "abc", "--confirm"}}, nil, io.Discard))
	_, err = store.Load("abc-123")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunSessions_Usage(t *testing.T) {
	store := seedStore(t)

	err := runSessions(store, Args{Rest: []string{"show"}}, nil, io.Discard)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	err = runSessions(store, Args{Rest: []string{"frobnicate"}}, nil, io.Discard)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

// =============================================================================
// DOCTOR
// =============================================================================

func doctorConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Kind = config.EmbedderHashing
	cfg.Embedding.Dimension = 64
	cfg.Index.Dir = filepath.Join(t.TempDir(), "vectorstore")
	cfg.Index.DocsDir = t.TempDir()
	cfg.Logging.Dir = filepath.Join(t.TempDir(), "logs")
	cfg.Session.Dir = ""
	cfg.Chat.ChatModel.Model = "llama3.2"
	return cfg
}

func TestRunAllChecks_ConfigError(t *testing.T) {
	checks := runAllChecks(context.Background(), nil, "ragchat.toml", config.ErrMissingAPIKey)
	require.Len(t, checks, 1)
	assert.Equal(t, CheckFail, checks[0].Status)
	assert.Contains(t, checks[0].Fix, "OPENAI_API_KEY")
}

func TestCheckIndex(t *testing.T) {
	cfg := doctorConfig(t)

	check := checkIndex(context.Background(), cfg)
	assert.Equal(t, CheckWarn, check.Status)
	assert.Equal(t, "Run: ragchat ingest", check.Fix)
}

func TestCheckProvider_Ollama(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"}]}`)
			return
		}
		fmt.Fprint(w, "Ollama is running")
	}))
	defer ts.Close()

	cfg := doctorConfig(t)
	cfg.Provider.Kind = config.ProviderOllama
	cfg.Provider.BaseURL = ts.URL

	check := checkProvider(context.Background(), cfg)
	assert.Equal(t, CheckPass, check.Status, check.Message)

	cfg.Chat.ChatModel.Model = "mistral"
	check = checkProvider(context.Background(), cfg)
	assert.Equal(t, CheckWarn, check.Status)
	assert.Equal(t, "Run: ollama pull mistral", check.Fix)
}

func TestCheckProvider_OllamaDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	cfg := doctorConfig(t)
	cfg.Provider.Kind = config.ProviderOllama
	cfg.Provider.BaseURL = url

	check := checkProvider(context.Background(), cfg)
	assert.Equal(t, CheckFail, check.Status)
	assert.Equal(t, "Run: ollama serve", check.Fix)
}

func TestCheckDirs(t *testing.T) {
	cfg := doctorConfig(t)

	assert.Equal(t, CheckPass, checkDocsDir(cfg).Status)
	cfg.Index.DocsDir = filepath.Join(t.TempDir(), "missing")
	assert.Equal(t, CheckWarn, checkDocsDir(cfg).Status)

	assert.Equal(t, CheckPass, checkWritableDir("Log Directory", cfg.Logging.Dir).Status)

	check := checkSessions(cfg)
	assert.Equal(t, CheckPass, check.Status)
	assert.Equal(t, "in memory only", check.Message)

	cfg.Session.Dir = filepath.Join(t.TempDir(), "sessions")
	check = checkSessions(cfg)
	assert.Equal(t, CheckPass, check.Status)
	assert.Contains(t, check.Message, "(0 stored)")
}

func TestCheckModelEntry(t *testing.T) {
	cfg := doctorConfig(t)
	assert.Equal(t, CheckPass, checkModelEntry(cfg).Status)

	cfg.ModelFallback = true
	check := checkModelEntry(cfg)
	assert.Equal(t, CheckWarn, check.Status)
	assert.Contains(t, check.Fix, "MODEL_CONFIG_NAME")
}

func TestReportChecks(t *testing.T) {
	checks := []*HealthCheck{
		{Name: "Config Valid", Status: CheckPass, Message: "ragchat.toml (openai)"},
		{Name: "Index", Status: CheckWarn, Message: "no index", Fix: "Run: ragchat ingest"},
	}

	var buf bytes.Buffer
	require.NoError(t, reportChecks(checks, Args{}, &buf))
	assert.Contains(t, buf.String(), "ragchat.toml (openai)")
	assert.Contains(t, buf.String(), "-> Run: ragchat ingest")
	assert.Contains(t, buf.String(), "1 passed")

	checks = append(checks, &HealthCheck{Name: "Provider", Status: CheckFail, Message: "down"})
	buf.Reset()
	err := reportChecks(checks, Args{JSON: true}, &buf)
	require.Error(t, err)

	var resp struct {
		Success bool       `json:"success"`
		Data    DoctorData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.Len(t, resp.Data.Checks, 3)
	assert.Equal(t, "warn", resp.Data.Checks[1].Status)
	assert.Equal(t, DoctorSummary{Passed: 1, Warned: 1, Failed: 1}, resp.Data.Summary)
}
