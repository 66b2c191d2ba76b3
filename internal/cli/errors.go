// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, display and exit codes for ragchat commands.
//
// Commands always return errors; Main decides how to display them and which
// exit code to use.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/ragchat/internal/cloud"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/ollama"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the provider could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "ingest")
	Action  string // Action being performed (e.g., "export")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid arguments.
type UsageError struct {
	Message string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\n  Example: %s", e.Message, e.Example)
	}
	return e.Message
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(argName, example string) error {
	return &UsageError{Message: "missing required argument: " + argName, Example: example}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to stderr, as JSON when jsonMode is set.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		DisplayErrorJSON(err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, DimStyle.Render("  "+hint))
	}
}

// DisplayErrorJSON prints err as a JSON object on stderr.
func DisplayErrorJSON(err error) {
	out := struct {
		Error    string `json:"error"`
		ExitCode int    `json:"exit_code"`
	}{err.Error(), GetExitCode(err)}
	data, _ := json.Marshal(out)
	fmt.Fprintln(os.Stderr, string(data))
}

// errorHint suggests a fix for well-known failures.
func errorHint(err error) string {
	switch {
	case errors.Is(err, config.ErrMissingAPIKey), errors.Is(err, cloud.ErrNotConfigured):
		return "Set OPENAI_API_KEY or AZURE_OPENAI_API_KEY, or use provider kind \"ollama\"."
	case errors.Is(err, index.ErrEmbedderMismatch):
		return "Re-run: ragchat ingest --rebuild"
	case ollama.IsNotRunning(err):
		return "Start Ollama with: ollama serve"
	}
	return ""
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	var validateErrs config.ValidateErrors
	var ttyErr *TTYRequiredError
	switch {
	case errors.As(err, &usageErr), errors.As(err, &ttyErr):
		return ExitUsageError
	case errors.As(err, &validateErrs),
		errors.Is(err, config.ErrMissingAPIKey),
		errors.Is(err, config.ErrModelFileNotFound),
		errors.Is(err, cloud.ErrNotConfigured),
		errors.Is(err, index.ErrEmbedderMismatch):
		return ExitConfigError
	case isNotFound(err):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return ExitTimeoutError
	case ollama.IsNotRunning(err):
		return ExitNetworkError
	}
	return ExitGeneralError
}
