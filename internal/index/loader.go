// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxFileSize is the largest document LoadDocuments reads.
const DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB

// Document is a source text file.
type Document struct {
	ID      string // sha1 of the slash-separated relative path
	Path    string // relative to the documents directory
	Content string
	Hash    string // sha256 of Content
	ModTime time.Time
}

// LoadOptions configures LoadDocuments.
type LoadOptions struct {
	// Extensions to load (default .txt and .md)
	Extensions []string
	// MaxFileSize skips larger files (default DefaultMaxFileSize)
	MaxFileSize int64
	// IgnorePatterns are glob patterns matched against base names
	IgnorePatterns []string
}

// DefaultLoadOptions returns the options used by ingest and the watcher.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Extensions:  []string{".txt", ".md"},
		MaxFileSize: DefaultMaxFileSize,
		IgnorePatterns: []string{
			".git", ".svn", ".hg",
			"node_modules", "__pycache__", ".venv", "venv",
			".idea", ".vscode",
		},
	}
}

// Supports reports whether path has a loadable extension.
func (o LoadOptions) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range o.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (o LoadOptions) shouldIgnore(name string) bool {
	for _, pattern := range o.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// LoadDocuments reads every supported file under dir, sorted by path.
// Unreadable, oversized and non-UTF-8 files are skipped and reported in
// the returned skipped list.
func LoadDocuments(dir string, opts LoadOptions) (docs []Document, skipped []string, err error) {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultLoadOptions().Extensions
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("documents directory: %s is not a directory", dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			skipped = append(skipped, path)
			return nil
		}
		if d.IsDir() {
			if path != dir && opts.shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.shouldIgnore(d.Name()) || !opts.Supports(path) {
			return nil
		}

		doc, ok := loadDocument(dir, path, opts.MaxFileSize)
		if !ok {
			skipped = append(skipped, path)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to walk documents: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, skipped, nil
}

func loadDocument(root, path string, maxSize int64) (Document, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSize {
		return Document{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return Document{}, false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return NewDocument(rel, string(data), info.ModTime()), true
}

// NewDocument builds a Document with its ID and hash derived from relPath
// and content.
func NewDocument(relPath, content string, modTime time.Time) Document {
	relPath = filepath.ToSlash(relPath)
	id := sha1.Sum([]byte(relPath))
	sum := sha256.Sum256([]byte(content))
	return Document{
		ID:      hex.EncodeToString(id[:]),
		Path:    relPath,
		Content: content,
		Hash:    hex.EncodeToString(sum[:]),
		ModTime: modTime,
	}
}
