// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/ragchat/internal/chunker"
	"github.com/jeranaias/ragchat/internal/embedding"
	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/util"
)

// previewWidth is the number of display cells of a query kept in log lines.
const previewWidth = 50

// dimensionProbe is embedded once to learn the vector size of backends that
// do not advertise it.
const dimensionProbe = "dimension probe"

// Options configures a Retriever.
type Options struct {
	// IndexDir holds index.db
	IndexDir string
	// TopK is the default number of chunks returned (default index.DefaultTopK)
	TopK int
	// ChunkSize and ChunkOverlap configure the character splitter
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of chunks per embedding request
	BatchSize int
	// MaxContextTokens caps the retrieved context placed in the prompt (0 = unlimited)
	MaxContextTokens int
	Logger           *slog.Logger
}

// IngestOptions controls a single ingest run.
type IngestOptions struct {
	// Prune removes indexed documents that are not in the ingested set.
	Prune bool
	// Rebuild clears the index first, re-embedding everything. Required to
	// switch an existing index to another embedder.
	Rebuild bool
}

// Report summarises an ingest run.
type Report struct {
	Documents int `json:"documents"` // documents offered
	Ingested  int `json:"ingested"`  // documents (re)embedded
	Unchanged int `json:"unchanged"` // skipped because the content hash matched
	Removed   int `json:"removed"`   // pruned
	Chunks    int `json:"chunks"`    // chunks written
}

// Retriever combines an embedder with the vector index. It is safe for
// concurrent use: searches share a read lock, and the index handle is
// swapped under the write lock after every ingest.
type Retriever struct {
	embedder embedding.Embedder
	splitter *chunker.Splitter
	opts     Options
	logger   *slog.Logger

	mu    sync.RWMutex
	store *index.Store // nil until an index exists

	ingestMu sync.Mutex
}

// New creates a retriever and opens the index if one exists. A missing
// index is not an error; an index built with another embedder is.
func New(e embedding.Embedder, opts Options) (*Retriever, error) {
	if opts.TopK <= 0 {
		opts.TopK = index.DefaultTopK
	}
	r := &Retriever{
		embedder: e,
		splitter: chunker.New(opts.ChunkSize, opts.ChunkOverlap),
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger),
	}
	r.logger.Info("Initializing DocumentRetriever", "embedder", e.Name(), "index", opts.IndexDir)

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Embedder returns the embedder in use.
func (r *Retriever) Embedder() embedding.Embedder {
	return r.embedder
}

// Ready reports whether an index is loaded.
func (r *Retriever) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store != nil
}

// Reload closes the current index handle and reopens the index from disk.
func (r *Retriever) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("failed to close index", "error", err)
		}
		r.store = nil
	}

	s, err := index.Open(r.opts.IndexDir, index.WithLogger(r.logger))
	if errors.Is(err, index.ErrNotIndexed) {
		return nil
	}
	if err != nil {
		return err
	}
	if name := s.Meta().Embedder; name != r.embedder.Name() {
		s.Close()
		return fmt.Errorf("%w: index has %q, configured %q (re-run ingest with --rebuild)",
			index.ErrEmbedderMismatch, name, r.embedder.Name())
	}
	r.store = s
	return nil
}

// Close releases the index.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

// Stats returns index statistics. ok is false when no index exists.
func (r *Retriever) Stats(ctx context.Context) (stats index.Stats, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.store == nil {
		return index.Stats{}, false, nil
	}
	stats, err = r.store.Stats(ctx)
	return stats, err == nil, err
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// GetRelevantDocuments returns the k chunks most similar to query, best
// first. k <= 0 selects the configured default. Without an index it logs a
// warning and returns an empty slice and a nil error.
func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string, k int) ([]index.Result, error) {
	if k <= 0 {
		k = r.opts.TopK
	}
	if !r.Ready() {
		r.logger.Warn("Vector store is not initialized")
		return []index.Result{}, nil
	}
	r.logger.Debug(fmt.Sprintf("Retrieving %d relevant documents for query: %s", k, util.Preview(query, previewWidth)))

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", embedding.ErrCountMismatch, len(vecs))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.store == nil {
		r.logger.Warn("Vector store is not initialized")
		return []index.Result{}, nil
	}
	results, err := r.store.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return results, nil
}

// =============================================================================
// INGEST
// =============================================================================

// IngestDir loads the supported files under dir and ingests them, pruning
// documents that no longer exist.
func (r *Retriever) IngestDir(ctx context.Context, dir string, opts IngestOptions) (Report, error) {
	docs, skipped, err := index.LoadDocuments(dir, index.DefaultLoadOptions())
	if err != nil {
		return Report{}, err
	}
	for _, p := range skipped {
		r.logger.Warn("skipped document", "path", p)
	}
	opts.Prune = true
	return r.Ingest(ctx, docs, opts)
}

// Ingest chunks, embeds and stores docs. Documents whose content hash is
// already indexed are skipped. The index is created on first use and
// reloaded when the run finishes.
func (r *Retriever) Ingest(ctx context.Context, docs []index.Document, opts IngestOptions) (Report, error) {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	rep := Report{Documents: len(docs)}
	r.logger.Info(fmt.Sprintf("Ingesting %d documents", len(docs)))

	store, err := r.openForIngest(ctx, opts.Rebuild)
	if err != nil {
		return rep, err
	}

	runErr := r.ingest(ctx, store, docs, opts, &rep)
	if err := store.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if err := r.Reload(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return rep, runErr
	}

	r.logger.Info("Documents successfully ingested into vector store",
		"ingested", rep.Ingested, "unchanged", rep.Unchanged, "removed", rep.Removed, "chunks", rep.Chunks)
	return rep, nil
}

func (r *Retriever) ingest(ctx context.Context, store *index.Store, docs []index.Document, opts IngestOptions, rep *Report) error {
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		seen[doc.Path] = struct{}{}

		hash, ok, err := store.DocumentHash(ctx, doc.Path)
		if err != nil {
			return err
		}
		if ok && hash == doc.Hash {
			rep.Unchanged++
			continue
		}

		n, err := r.ingestDocument(ctx, store, doc)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", doc.Path, err)
		}
		rep.Ingested++
		rep.Chunks += n
	}

	if !opts.Prune {
		return nil
	}
	paths, err := store.DocumentPaths(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := store.RemoveDocument(ctx, p); err != nil {
			return err
		}
		r.logger.Info("removed document from index", "path", p)
		rep.Removed++
	}
	return nil
}

func (r *Retriever) ingestDocument(ctx context.Context, store *index.Store, doc index.Document) (int, error) {
	pieces := r.splitter.Chunk(doc.ID, doc.Content)
	texts := make([]string, len(pieces))
	chunks := make([]index.Chunk, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
		chunks[i] = index.Chunk{
			ID:         p.ID,
			DocumentID: p.DocumentID,
			Index:      p.Index,
			Text:       p.Text,
			Source:     doc.Path,
		}
	}

	vectors, err := embedding.EmbedAll(ctx, r.embedder, texts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if err := store.ReplaceDocument(ctx, doc, chunks, vectors); err != nil {
		return 0, err
	}
	r.logger.Debug("document ingested", "path", doc.Path, "chunks", len(chunks))
	return len(chunks), nil
}

// openForIngest returns a write handle on the index, creating it when
// absent. It is separate from the search handle so queries keep working
// during an ingest.
func (r *Retriever) openForIngest(ctx context.Context, rebuild bool) (*index.Store, error) {
	if index.Exists(r.opts.IndexDir) {
		s, err := index.Open(r.opts.IndexDir, index.WithLogger(r.logger))
		switch {
		case errors.Is(err, index.ErrNotIndexed):
			// Cleared earlier; fall through to Create.
		case err != nil:
			return nil, err
		default:
			sameEmbedder := s.Meta().Embedder == r.embedder.Name()
			if sameEmbedder && !rebuild {
				return s, nil
			}
			if !sameEmbedder && !rebuild {
				s.Close()
				return nil, fmt.Errorf("%w: index has %q, configured %q (re-run ingest with --rebuild)",
					index.ErrEmbedderMismatch, s.Meta().Embedder, r.embedder.Name())
			}
			r.logger.Info("rebuilding vector store", "from", s.Meta().Embedder, "to", r.embedder.Name())
			err := s.Clear(ctx)
			s.Close()
			if err != nil {
				return nil, err
			}
		}
	}

	dim, err := r.dimension(ctx)
	if err != nil {
		return nil, err
	}
	return index.Create(r.opts.IndexDir, index.Meta{Embedder: r.embedder.Name(), Dimension: dim},
		index.WithLogger(r.logger))
}

func (r *Retriever) dimension(ctx context.Context) (int, error) {
	if d := r.embedder.Dimension(); d > 0 {
		return d, nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{dimensionProbe})
	if err != nil {
		return 0, fmt.Errorf("failed to determine embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, embedding.ErrEmptyResponse
	}
	return len(vecs[0]), nil
}
