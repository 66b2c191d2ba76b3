// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ingest.go - The ingest command.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/ragchat/internal/retriever"
)

// IngestData is the JSON shape of the ingest command.
type IngestData struct {
	Dir      string           `json:"dir"`
	Report   retriever.Report `json:"report"`
	Duration string           `json:"duration"`
}

// HandleIngest indexes the documents directory (args.Dir or index.docs_dir).
func HandleIngest(ctx context.Context, args Args, w io.Writer) error {
	console := io.Writer(os.Stderr)
	if args.Quiet || args.JSON {
		console = nil
	}
	app, err := newApp(args, appOptions{console: console})
	if err != nil {
		return err
	}
	defer app.Close()
	return runIngest(ctx, app, args, w)
}

func runIngest(ctx context.Context, app *App, args Args, w io.Writer) error {
	dir := args.Dir
	if dir == "" {
		dir = app.Config.Index.DocsDir
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return &NotFoundError{Resource: "documents directory", ID: dir}
	}

	start := time.Now()
	rep, err := app.Retriever.IngestDir(ctx, dir, retriever.IngestOptions{Rebuild: args.Rebuild})
	if err != nil {
		return &CommandError{Command: "ingest", Action: dir, Reason: "indexing failed", Err: err}
	}
	elapsed := time.Since(start)

	if args.JSON {
		return NewJSONResponse("ingest", IngestData{Dir: dir, Report: rep, Duration: elapsed.Round(time.Millisecond).String()}).Fprint(w)
	}

	fmt.Fprintln(w, TitleStyle.Render("Ingest complete"))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Directory"), ValueStyle.Render(dir))
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Documents"), rep.Documents)
	fmt.Fprintf(w, "%s%d (%d chunks)\n", RenderLabel("Embedded"), rep.Ingested, rep.Chunks)
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Unchanged"), rep.Unchanged)
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Removed"), rep.Removed)
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Took"), formatDuration(elapsed))
	return nil
}
