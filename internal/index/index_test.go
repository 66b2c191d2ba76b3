// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dim int) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vectorstore")
	s, err := Create(dir, Meta{Embedder: "test", Dimension: dim})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func storeDoc(t *testing.T, s *Store, path string, texts []string, vectors [][]float32) Document {
	t.Helper()
	doc := NewDocument(path, path+" content", time.Now())
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{ID: doc.ID + ":" + string(rune('0'+i)), Index: i, Text: text}
	}
	require.NoError(t, s.ReplaceDocument(context.Background(), doc, chunks, vectors))
	return doc
}

func TestOpen_NotIndexed(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestCreate_ReopenAndMetaChecks(t *testing.T) {
	s, dir := newTestStore(t, 3)
	storeDoc(t, s, "a.txt", []string{"alpha"}, [][]float32{{1, 0, 0}})
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, Meta{Embedder: "test", Dimension: 3}, reopened.Meta())
	require.NoError(t, reopened.Close())

	_, err = Create(dir, Meta{Embedder: "test", Dimension: 4})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Create(dir, Meta{Embedder: "other", Dimension: 3})
	assert.ErrorIs(t, err, ErrEmbedderMismatch)
}

func TestSearch_Ranking(t *testing.T) {
	s, _ := newTestStore(t, 2)
	storeDoc(t, s, "a.txt", []string{"east", "north"}, [][]float32{{1, 0}, {0, 1}})
	storeDoc(t, s, "b.txt", []string{"northeast"}, [][]float32{{1, 1}})

	results, err := s.Search(context.Background(), []float32{0.2, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "north", results[0].Text)
	assert.Equal(t, "northeast", results[1].Text)
	assert.Equal(t, "b.txt", results[1].Source)
	assert.Greater(t, results[0].Score, results[1].Score)

	all, err := s.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestReplaceDocument(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	storeDoc(t, s, "a.txt", []string{"one", "two"}, [][]float32{{1, 0}, {0, 1}})
	storeDoc(t, s, "a.txt", []string{"three"}, [][]float32{{1, 1}})

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 1, st.Chunks)
	assert.False(t, st.LastIngest.IsZero())

	hash, ok, err := s.DocumentHash(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, NewDocument("a.txt", "a.txt content", time.Time{}).Hash, hash)

	err = s.ReplaceDocument(ctx, NewDocument("b.txt", "x", time.Now()),
		[]Chunk{{ID: "b:0", Text: "x"}}, [][]float32{{1, 0, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRemoveAndClear(t *testing.T) {
	s, dir := newTestStore(t, 2)
	ctx := context.Background()
	storeDoc(t, s, "a.txt", []string{"one"}, [][]float32{{1, 0}})
	storeDoc(t, s, "b.txt", []string{"two"}, [][]float32{{0, 1}})

	require.NoError(t, s.RemoveDocument(ctx, "a.txt"))
	paths, err := s.DocumentPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, paths)

	require.NoError(t, s.Clear(ctx))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)
	require.NoError(t, s.Close())

	// A cleared index has no embedder and reads as not indexed.
	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestClosedStore(t *testing.T) {
	s, _ := newTestStore(t, 2)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"guide.md":          "# Guide\n\nRead me.",
		"notes/a.txt":       "plain text",
		"image.png":         "not text",
		".git/config":       "ignored",
		"node_modules/x.md": "ignored",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe}, 0644))

	docs, skipped, err := LoadDocuments(dir, DefaultLoadOptions())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "guide.md", docs[0].Path)
	assert.Equal(t, "notes/a.txt", docs[1].Path)
	assert.Len(t, skipped, 1)

	again := NewDocument("notes/a.txt", "plain text", time.Time{})
	assert.Equal(t, docs[1].ID, again.ID)
	assert.Equal(t, docs[1].Hash, again.Hash)

	_, _, err = LoadDocuments(filepath.Join(dir, "missing"), DefaultLoadOptions())
	assert.Error(t, err)
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w := NewWatcher(dir, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)
	w.Debounce = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte{byte('a' + i)}, 0644))
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 50*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestChanged(t *testing.T) {
	now := time.Now()
	old := map[string]time.Time{"a": now}
	assert.False(t, changed(old, map[string]time.Time{"a": now}))
	assert.True(t, changed(old, map[string]time.Time{"a": now.Add(time.Second)}))
	assert.True(t, changed(old, map[string]time.Time{"b": now}))
	assert.True(t, changed(old, map[string]time.Time{}))
}
