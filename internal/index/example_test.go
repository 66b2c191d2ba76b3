// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/ragchat/internal/index"
)

// Example demonstrates storing and searching chunk vectors
func Example() {
	tmpDir, err := os.MkdirTemp("", "vector-index-test")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := index.Create(tmpDir, index.Meta{Embedder: "example", Dimension: 3})
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx := context.Background()
	doc := index.NewDocument("animals.md", "Cats purr.\n\nDogs bark.", time.Now())
	chunks := []index.Chunk{
		{ID: doc.ID + ":0", Index: 0, Text: "Cats purr."},
		{ID: doc.ID + ":1", Index: 1, Text: "Dogs bark."},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	if err := store.ReplaceDocument(ctx, doc, chunks, vectors); err != nil {
		panic(err)
	}

	results, err := store.Search(ctx, []float32{0.1, 0.9, 0}, 1)
	if err != nil {
		panic(err)
	}
	for _, r := range results {
		fmt.Printf("%s (%s)\n", r.Text, r.Source)
	}

	// Output:
	// Dogs bark. (animals.md)
}
