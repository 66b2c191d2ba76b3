// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - The sessions command: stored conversations.
//
// Subcommands:
//   list (default)          List stored conversations, newest first
//   show <id>               Print a conversation as markdown
//   export <id> --output F  Write a conversation to a markdown file
//   delete <id> [--confirm] Delete a conversation
//
// IDs may be given as any unique prefix, as printed by list.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/ragchat/internal/storage"
	"github.com/jeranaias/ragchat/internal/util"
)

// HandleSessions handles the "sessions" command.
func HandleSessions(args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if cfg.Session.Dir == "" {
		return &CommandError{
			Command: "sessions",
			Action:  "open",
			Reason:  "session persistence is disabled (set [session] dir in the settings file)",
		}
	}
	store, err := storage.NewStore(cfg.Session.Dir, cfg.Session.MaxStored)
	if err != nil {
		return err
	}
	return runSessions(store, args, os.Stdin, w)
}

func runSessions(store *storage.Store, args Args, in io.Reader, w io.Writer) error {
	p := NewArgParser(args.Rest, "confirm")

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return sessionsList(store, args, w)

	case "show", "export", "delete", "rm":
		prefix := p.Positional(1)
		if prefix == "" {
			return ErrMissingArgument("session id", "ragchat sessions "+sub+" <id>")
		}
		id, err := resolveSessionID(store, prefix)
		if err != nil {
			return err
		}
		switch sub {
		case "show":
			return sessionsShow(store, id, args, w)
		case "export":
			return sessionsExport(store, id, p.Flag("output"), args, w)
		default:
			return sessionsDelete(store, id, p.BoolFlag("confirm"), args, in, w)
		}

	default:
		return &UsageError{Message: fmt.Sprintf("unknown sessions subcommand %q (list, show, export, delete)", sub)}
	}
}

func sessionsList(store *storage.Store, args Args, w io.Writer) error {
	metas, err := store.List()
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("sessions list", metas).Fprint(w)
	}
	fmt.Fprint(w, storage.FormatSessionList(metas))
	if len(metas) == 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func sessionsShow(store *storage.Store, id string, args Args, w io.Writer) error {
	sess, err := store.Load(id)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("sessions show", sess).Fprint(w)
	}
	fmt.Fprint(w, sess.ExportMarkdown())
	return nil
}

func sessionsExport(store *storage.Store, id, output string, args Args, w io.Writer) error {
	if output == "" {
		return ErrMissingArgument("--output", "ragchat sessions export <id> --output chat.md")
	}
	sess, err := store.Load(id)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(output, []byte(sess.ExportMarkdown()), 0600); err != nil {
		return &CommandError{Command: "sessions", Action: "export", Reason: "write failed", Err: err}
	}
	if args.JSON {
		return NewJSONResponse("sessions export", map[string]string{"id": id, "output": output}).Fprint(w)
	}
	fmt.Fprintf(w, "%s exported %s to %s\n", SuccessStyle.Render("[OK]"), id, output)
	return nil
}

func sessionsDelete(store *storage.Store, id string, confirm bool, args Args, in io.Reader, w io.Writer) error {
	ok, err := RequireConfirmation(ConfirmationOptions{ConfirmFlag: confirm, JSONMode: args.JSON, In: in, Out: w},
		"delete session "+id)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "Cancelled.")
		return nil
	}
	if err := store.Delete(id); err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("sessions delete", map[string]string{"id": id}).Fprint(w)
	}
	fmt.Fprintf(w, "%s deleted %s\n", SuccessStyle.Render("[OK]"), id)
	return nil
}

// resolveSessionID expands a unique ID prefix to the full session ID.
func resolveSessionID(store *storage.Store, prefix string) (string, error) {
	metas, err := store.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, m := range metas {
		if m.ID == prefix {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, prefix) {
			matches = append(matches, m.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Resource: "session", ID: prefix, Err: storage.ErrNotFound}
	case 1:
		return matches[0], nil
	default:
		return "", &UsageError{Message: fmt.Sprintf("session id %q is ambiguous (%d matches)", prefix, len(matches))}
	}
}

// isNotFound reports whether err means a missing session or file.
func isNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, storage.ErrNotFound)
}
