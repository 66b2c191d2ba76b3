// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the application's structured logger.
//
// Records go to <dir>/app.log and to stdout through a single slog text
// handler. Components take a named child logger from Named.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Root is the name of the top-level logger.
const Root = "rag_chat"

// Component logger names.
const (
	Retriever = Root + ".retriever"
	Memory    = Root + ".memory"
	Server    = Root + ".server"
	Index     = Root + ".index"
	Session   = Root + ".session"
)

// LogFileName is the file created in the log directory.
const LogFileName = "app.log"

// Options configures Setup.
type Options struct {
	// Dir receives app.log. Empty disables the file sink.
	Dir string
	// Debug lowers the level to DEBUG.
	Debug bool
	// Stdout overrides the console sink (default os.Stdout). Use io.Discard to silence it.
	Stdout io.Writer
}

// Logger owns the open log file and the root slog logger.
type Logger struct {
	*slog.Logger

	base  *slog.Logger
	level *slog.LevelVar
	file  *os.File
	once  sync.Once
}

// Setup opens the log file and builds the root logger. It also installs the
// logger as slog's default so packages without an injected logger still
// land in app.log.
func Setup(opts Options) (*Logger, error) {
	level := new(slog.LevelVar)
	if opts.Debug {
		level.Set(slog.LevelDebug)
	}

	console := opts.Stdout
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{level: level}
	out := console
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		out = io.MultiWriter(f, console)
	}

	l.base = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	l.Logger = l.base.With("logger", Root)
	slog.SetDefault(l.Logger)
	return l, nil
}

// Named returns a child logger tagged with name.
func (l *Logger) Named(name string) *slog.Logger {
	return l.base.With("logger", name)
}

// SetDebug switches the level at runtime.
func (l *Logger) SetDebug(on bool) {
	if on {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	var err error
	l.once.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
