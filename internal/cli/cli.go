// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for ragchat.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
)

// Version information (can be overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdIngest
	CmdAsk
	CmdChat
	CmdSessions
	CmdDoctor
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config, overrides RAGCHAT_CONFIG
	Debug      bool
	Quiet      bool
	JSON       bool // Output in JSON format

	// Command-specific
	Query      string
	Dir        string
	Session    string // --session, resumes a stored conversation
	Rebuild    bool
	Raw        bool // --raw, ask prints the answer without markdown rendering
	Subcommand string

	// Unknown holds the unrecognised command name for CmdUnknown.
	Unknown string

	// Rest holds the arguments after the command name.
	Rest []string
}

const usageText = `ragchat - chat with your documents

ragchat answers questions about a folder of documents. It indexes the
documents into a local vector store, retrieves the passages closest to each
question and asks a chat model (OpenAI, Azure OpenAI or Ollama) to answer
from them.

Usage:
  ragchat [serve]              Start the web chat (default)
  ragchat ingest [dir]         Build or update the index from dir
  ragchat ask "question"       Ask a single question
  ragchat chat                 Interactive chat in the terminal
  ragchat sessions [cmd]       Stored conversations
  ragchat doctor               Check configuration, provider and index
  ragchat version              Show version

Ingest:
  ragchat ingest               Index the configured docs directory
  ragchat ingest ./manuals     Index another directory
    --rebuild                  Clear the index first (needed after changing embedder)

Ask / Chat:
  ragchat ask "How do I install it?"
    --session ID               Continue a stored conversation
    --raw                      Print plain text instead of rendered markdown
  ragchat chat --session ID
    In chat: /reset clears the history, /history shows it, /quit exits.

Sessions:
  ragchat sessions list        List stored conversations
  ragchat sessions show <id>   Print a conversation as markdown
  ragchat sessions export <id> --output FILE
  ragchat sessions delete <id> [--confirm]

Global flags:
  --config FILE                Settings file (default ragchat.toml, or RAGCHAT_CONFIG)
  --debug                      Debug logging
  -q, --quiet                  Less output
  --json                       JSON output (ingest, ask, sessions, doctor, version)

Environment:
  OPENAI_API_KEY, AZURE_OPENAI_API_KEY   Provider API key
  MODEL_CONFIG_PATH, MODEL_CONFIG_NAME   Model file and entry (default models.yaml, "default")
  DEBUG                                  Debug logging
  RAGCHAT_ADDR, RAGCHAT_PROVIDER, RAGCHAT_BASE_URL, RAGCHAT_EMBEDDER,
  RAGCHAT_INDEX_DIR, RAGCHAT_DOCS_DIR, RAGCHAT_LOG_DIR, RAGCHAT_AUTH_TOKEN

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// VersionData is the JSON shape of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "ragchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s\n", runtime.Version())
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command-line arguments (without the program name) and
// returns the command and its args.
func Parse(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdServe, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Rest = remaining
	p := NewArgParser(remaining, "rebuild", "raw", "confirm")

	switch cmd {
	case "serve", "server", "web":
		return CmdServe, parsedArgs

	case "ingest", "index":
		parsedArgs.Dir = p.Positional(0)
		parsedArgs.Rebuild = p.BoolFlag("rebuild")
		return CmdIngest, parsedArgs

	case "ask":
		parsedArgs.Query = JoinPositionalArgs(p, 0)
		parsedArgs.Session = p.Flag("session")
		parsedArgs.Raw = p.BoolFlag("raw")
		return CmdAsk, parsedArgs

	case "chat":
		parsedArgs.Session = p.Flag("session")
		return CmdChat, parsedArgs

	case "sessions", "session":
		parsedArgs.Subcommand = p.Subcommand()
		return CmdSessions, parsedArgs

	case "doctor", "diag":
		return CmdDoctor, parsedArgs

	case "version", "-v", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		parsedArgs.Unknown = cmd
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--debug":
			parsedArgs.Debug = true
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "--json":
			parsedArgs.JSON = true
		case "--config", "-c":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd.
func Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdServe:
		return HandleServe(ctx, args)
	case CmdIngest:
		return HandleIngest(ctx, args, os.Stdout)
	case CmdAsk:
		return HandleAsk(ctx, args, os.Stdout)
	case CmdChat:
		return HandleChat(ctx, args)
	case CmdSessions:
		return HandleSessions(args, os.Stdout)
	case CmdDoctor:
		return HandleDoctor(ctx, args, os.Stdout)
	case CmdVersion:
		return HandleVersion(args, os.Stdout)
	case CmdHelp:
		PrintUsage(os.Stdout)
		return nil
	default:
		return unknownCommand(args.Unknown)
	}
}

func unknownCommand(name string) error {
	msg := fmt.Sprintf("unknown command %q", name)
	if s := SuggestCommand(name); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return &UsageError{Message: msg + "; run 'ragchat help' for usage"}
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args, w io.Writer) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Fprint(w)
	}
	PrintVersion(w)
	return nil
}

// Main parses os.Args, runs the command until it finishes or the process
// receives SIGINT/SIGTERM, and returns the exit code.
func Main() int {
	cmd, args := Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Run(ctx, cmd, args)
	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return ExitSuccess
	}
	DisplayError(err, args.JSON)
	return GetExitCode(err)
}
