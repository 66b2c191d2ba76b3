// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring of config, logging, index, sessions and chat for the
// commands that need them.

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/ragchat/internal/chat"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/embedding"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/retriever"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/storage"
)

// App bundles the components built from the configuration.
type App struct {
	Config    *config.Config
	Logs      *logging.Logger
	Retriever *retriever.Retriever
	Store     *storage.Store // nil when session.dir is unset
	Sessions  *session.Manager
	Chat      *chat.Service // nil unless requested
}

type appOptions struct {
	// withChat builds the completer and chat service.
	withChat bool
	// console receives log lines besides app.log (nil = discard).
	console io.Writer
}

// loadConfig reads the settings file from --config or the default location.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if args.Debug {
		cfg.Logging.Debug = true
	}
	return cfg, nil
}

// newApp builds the application from configuration. The caller must Close it.
func newApp(args Args, opts appOptions) (*App, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, opts)
}

func buildApp(cfg *config.Config, opts appOptions) (app *App, err error) {
	console := opts.console
	if console == nil {
		console = io.Discard
	}
	logs, err := logging.Setup(logging.Options{Dir: cfg.Logging.Dir, Debug: cfg.Logging.Debug, Stdout: console})
	if err != nil {
		return nil, err
	}
	app = &App{Config: cfg, Logs: logs}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	logs.Debug("configuration loaded", "config", cfg.String())
	if cfg.ModelFallback {
		logs.Warn("model entry not found, using built-in default", "path", cfg.Model.Path, "name", cfg.Model.Name)
	}

	embedder, err := embedding.New(cfg, logs.Named(logging.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	app.Retriever, err = retriever.New(embedder, retriever.Options{
		IndexDir:         cfg.Index.Dir,
		TopK:             cfg.Index.TopK,
		ChunkSize:        cfg.Index.ChunkSize,
		ChunkOverlap:     cfg.Index.ChunkOverlap,
		BatchSize:        cfg.Embedding.BatchSize,
		MaxContextTokens: cfg.Chat.Chatbot.MaxFreeContextLen,
		Logger:           logs.Named(logging.Retriever),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Session.Dir != "" {
		app.Store, err = storage.NewStore(cfg.Session.Dir, cfg.Session.MaxStored)
		if err != nil {
			return nil, err
		}
	}
	app.Sessions = session.NewManager(session.Config{
		IdleTimeout: time.Duration(cfg.Session.IdleTimeoutSecs) * time.Second,
		Store:       app.Store,
		Model:       cfg.Chat.ChatModel.Model,
		Logger:      logs.Named(logging.Session),

		MemoryLogger: logs.Named(logging.Memory),
	})

	if !opts.withChat {
		return app, nil
	}
	completer, err := chat.NewCompleter(cfg, logs.Named(logging.Root))
	if err != nil {
		return nil, err
	}
	app.Chat = chat.NewService(chat.Options{
		Sessions:      app.Sessions,
		Prompts:       app.Retriever,
		Completer:     completer,
		HistoryBudget: cfg.Chat.Chatbot.MaxContextLen,
		Logger:        logs.Logger,
	})
	return app, nil
}

// Close releases the index and the log file.
func (a *App) Close() {
	if a.Retriever != nil {
		if err := a.Retriever.Close(); err != nil {
			a.Logs.Warn("failed to close index", "error", err)
		}
	}
	a.Logs.Close()
}
