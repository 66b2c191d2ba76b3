// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation of destructive actions.
//
// One pattern for every command:
//  1. --confirm proceeds without prompting
//  2. --json requires --confirm (no interactive prompts in JSON mode)
//  3. a non-terminal stdin requires --confirm
//  4. otherwise the user is asked [y/N]

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ConfirmationOptions configures RequireConfirmation.
type ConfirmationOptions struct {
	// ConfirmFlag indicates --confirm was passed
	ConfirmFlag bool
	// JSONMode indicates --json was passed
	JSONMode bool

	// In and Out default to os.Stdin and os.Stdout. When In is set it is
	// treated as interactive.
	In  io.Reader
	Out io.Writer
}

// RequireConfirmation reports whether the user confirmed action. It returns
// an error when confirmation is needed but cannot be asked for.
func RequireConfirmation(opts ConfirmationOptions, action string) (bool, error) {
	if opts.ConfirmFlag {
		return true, nil
	}
	if opts.JSONMode {
		return false, &UsageError{Message: "confirmation required: use --confirm for destructive actions in JSON mode"}
	}

	in, out := opts.In, opts.Out
	if in == nil || in == os.Stdin {
		if !IsTTY() {
			return false, &UsageError{Message: "confirmation required but stdin is not a terminal; use --confirm"}
		}
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
