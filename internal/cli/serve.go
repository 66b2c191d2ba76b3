// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The serve command: web chat plus background index upkeep.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/retriever"
	"github.com/jeranaias/ragchat/internal/server"
)

// HandleServe starts the web chat and blocks until ctx is cancelled.
func HandleServe(ctx context.Context, args Args) error {
	app, err := newApp(args, appOptions{withChat: true, console: os.Stdout})
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	logger := app.Logs.Logger
	logger.Info("Starting app", "provider", cfg.Provider.Kind, "model", cfg.Chat.ChatModel.Model)

	srv := server.New(newServerOptions(app))

	if !app.Retriever.Ready() {
		logger.Warn(fmt.Sprintf("No index found in %s; run 'ragchat ingest' to index %s", cfg.Index.Dir, cfg.Index.DocsDir))
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Sessions.Run(bgCtx)
	}()

	if cfg.Index.Watch {
		watcher := index.NewWatcher(cfg.Index.DocsDir, reingest(app.Retriever, cfg.Index.DocsDir), app.Logs.Named(logging.Index))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("document watcher stopped", "error", err)
			}
		}()
	}

	if !args.Quiet {
		fmt.Fprintln(os.Stderr, TitleStyle.Render(cfg.Server.Title))
		fmt.Fprintf(os.Stderr, "%s http://%s\n", RenderLabel("Serving on"), srv.Addr())
		if cfg.Server.AuthToken != "" {
			fmt.Fprintf(os.Stderr, "%s http://%s/?token=<token>\n", RenderLabel("Open with"), srv.Addr())
		}
	}
	return srv.Run(ctx)
}

// newServerOptions maps the configuration onto server options.
func newServerOptions(app *App) server.Options {
	cfg := app.Config
	return server.Options{
		Addr:            cfg.Server.Addr,
		Title:           cfg.Server.Title,
		Description:     cfg.Chat.Chatbot.Description,
		Chat:            app.Chat,
		Index:           app.Retriever,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		Auth:            server.NewAuthConfig(cfg.Server.AuthToken),
		CORS:            server.NewCORSConfig(cfg.Server.CORSOrigins),
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
		Logger:          app.Logs.Named(logging.Server),
	}
}

// reingest returns the watcher callback that refreshes the index from dir.
func reingest(r *retriever.Retriever, dir string) index.ChangeFunc {
	return func(ctx context.Context) error {
		_, err := r.IngestDir(ctx, dir, retriever.IngestOptions{})
		return err
	}
}
