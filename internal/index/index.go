// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/ragchat/internal/logging"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotIndexed        = errors.New("vector store not initialized")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmbedderMismatch  = errors.New("index was built with a different embedder")
	ErrDatabaseError     = errors.New("database error")
	ErrClosed            = errors.New("index is closed")
)

// DBFileName is the database file inside the index directory.
const DBFileName = "index.db"

// =============================================================================
// TYPES
// =============================================================================

// Meta identifies the embedder an index was built with. Vectors from a
// different embedder are not comparable, so Open and Create check it.
type Meta struct {
	Embedder  string
	Dimension int
}

// Chunk is a stored piece of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Source     string // document path
}

// Result is a chunk returned by Search.
type Result struct {
	Chunk
	Score float64 // cosine similarity
}

// Stats returns index statistics
type Stats struct {
	Documents    int       `json:"documents"`
	Chunks       int       `json:"chunks"`
	Embedder     string    `json:"embedder"`
	Dimension    int       `json:"dimension"`
	LastIngest   time.Time `json:"last_ingest"`
	DatabaseSize int64     `json:"database_size"`
}

// Store is a vector store persisted in a single SQLite database.
// It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	meta   Meta
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Path returns the database path for an index directory.
func Path(dir string) string {
	return filepath.Join(dir, DBFileName)
}

// Exists reports whether dir holds an index database.
func Exists(dir string) bool {
	info, err := os.Stat(Path(dir))
	return err == nil && !info.IsDir()
}

// =============================================================================
// OPEN / CREATE
// =============================================================================

// Open opens an existing index. It returns ErrNotIndexed when dir holds no
// database or the database was never given an embedder.
func Open(dir string, opts ...Option) (*Store, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, Path(dir))
	}

	s, err := openStore(Path(dir), opts)
	if err != nil {
		return nil, err
	}

	meta, err := s.readMeta()
	if err != nil {
		s.db.Close()
		return nil, err
	}
	if meta.Dimension == 0 {
		s.db.Close()
		return nil, fmt.Errorf("%w: no embedder recorded in %s", ErrNotIndexed, s.path)
	}
	s.meta = meta
	return s, nil
}

// Create opens the index in dir, creating the directory and database if
// needed, and records meta. An existing index built with another embedder
// or dimension is rejected; call Clear first to rebuild it.
func Create(dir string, meta Meta, opts ...Option) (*Store, error) {
	if meta.Dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", ErrDimensionMismatch, meta.Dimension)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	s, err := openStore(Path(dir), opts)
	if err != nil {
		return nil, err
	}

	existing, err := s.readMeta()
	if err != nil {
		s.db.Close()
		return nil, err
	}
	if existing.Dimension != 0 {
		if existing.Dimension != meta.Dimension {
			s.db.Close()
			return nil, fmt.Errorf("%w: index has %d, embedder produces %d",
				ErrDimensionMismatch, existing.Dimension, meta.Dimension)
		}
		if existing.Embedder != meta.Embedder {
			s.db.Close()
			return nil, fmt.Errorf("%w: index has %q, configured %q",
				ErrEmbedderMismatch, existing.Embedder, meta.Embedder)
		}
	} else if err := s.writeMeta(meta); err != nil {
		s.db.Close()
		return nil, err
	}

	s.meta = meta
	s.logger.Info("vector store ready", "path", s.path, "embedder", meta.Embedder, "dimension", meta.Dimension)
	return s, nil
}

func openStore(path string, opts []Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	s := &Store{db: db, path: path}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s, nil
}

func (s *Store) readMeta() (Meta, error) {
	rows, err := s.db.Query("SELECT key, value FROM metadata WHERE key IN (?, ?)", metaEmbedder, metaDimension)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var m Meta
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Meta{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		switch key {
		case metaEmbedder:
			m.Embedder = value
		case metaDimension:
			m.Dimension, _ = strconv.Atoi(value)
		}
	}
	return m, rows.Err()
}

func (s *Store) writeMeta(m Meta) error {
	const upsert = "INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := s.db.Exec(upsert, metaEmbedder, m.Embedder); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if _, err := s.db.Exec(upsert, metaDimension, strconv.Itoa(m.Dimension)); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Meta returns the embedder identity recorded in the index.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// SetMeta records the embedder identity of a cleared index.
func (s *Store) SetMeta(m Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.writeMeta(m); err != nil {
		return err
	}
	s.meta = m
	return nil
}

// Close closes the index and releases resources
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// DocumentHash returns the stored content hash for path.
func (s *Store) DocumentHash(ctx context.Context, path string) (hash string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}

	err = s.db.QueryRowContext(ctx, "SELECT hash FROM documents WHERE path = ?", path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return hash, true, nil
}

// DocumentPaths lists the paths of all stored documents.
func (s *Store) DocumentPaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, "SELECT path FROM documents ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReplaceDocument atomically replaces everything stored for doc.Path with
// the given chunks and their vectors.
func (s *Store) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i, v := range vectors {
		if len(v) != s.meta.Dimension {
			return fmt.Errorf("%w: chunk %d has %d, index has %d", ErrDimensionMismatch, i, len(v), s.meta.Dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	// Cascade removes the old chunks.
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE path = ? OR id = ?", doc.Path, doc.ID); err != nil {
		return fmt.Errorf("failed to delete old document: %w", err)
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, path, hash, ingested_at)
		VALUES (?, ?, ?, ?)
	`, doc.ID, doc.Path, doc.Hash, now); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, idx, text, embedding)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, doc.ID, c.Index, c.Text, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = ?", now, metaLastIngest); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("document stored", "path", doc.Path, "chunks", len(chunks))
	return nil
}

// RemoveDocument deletes a document and its chunks. Unknown paths are ignored.
func (s *Store) RemoveDocument(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Clear removes all documents and the recorded embedder so the index can be
// rebuilt with a different one.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM chunks",
		"DELETE FROM documents",
		"DELETE FROM metadata WHERE key IN ('embedder', 'dimension')",
		"UPDATE metadata SET value = '0' WHERE key = 'last_ingest'",
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.meta = Meta{}
	s.logger.Info("vector store cleared", "path", s.path)
	return nil
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats returns current index statistics
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}

	st := Stats{Embedder: s.meta.Embedder, Dimension: s.meta.Dimension}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&st.Documents); err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&st.Chunks); err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	var last string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", metaLastIngest).Scan(&last); err == nil {
		if secs, err := strconv.ParseInt(last, 10, 64); err == nil && secs > 0 {
			st.LastIngest = time.Unix(secs, 0)
		}
	}

	if info, err := os.Stat(s.path); err == nil {
		st.DatabaseSize = info.Size()
	}
	return st, nil
}
