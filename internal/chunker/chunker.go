// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunker splits documents into overlapping text chunks for embedding.
package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Defaults used by the retriever.
const (
	DefaultSeparator    = "\n\n"
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is one piece of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
}

// Splitter is a character splitter: text is cut on Separator and the pieces
// are merged greedily into chunks of at most ChunkSize characters, with
// about ChunkOverlap characters repeated between neighbouring chunks.
// Sizes are counted in runes after NFC normalisation.
type Splitter struct {
	Separator    string
	ChunkSize    int
	ChunkOverlap int
}

// New returns a Splitter with the default separator. Non-positive sizes
// fall back to the defaults and an overlap that does not fit is clamped.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{Separator: DefaultSeparator, ChunkSize: size, ChunkOverlap: overlap}
}

// Chunk splits content and tags every chunk with documentID.
// Chunk IDs are "<documentID>:<index>".
func (s *Splitter) Chunk(documentID, content string) []Chunk {
	texts := s.Split(content)
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:         documentID + ":" + strconv.Itoa(i),
			DocumentID: documentID,
			Index:      i,
			Text:       text,
		}
	}
	return chunks
}

// Split returns the chunk texts for content. Empty input yields no chunks.
func (s *Splitter) Split(content string) []string {
	content = norm.NFC.String(content)

	sep := s.Separator
	var pieces []string
	if sep == "" {
		pieces = []string{content}
	} else {
		pieces = strings.Split(content, sep)
	}

	splits := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p == "" {
			continue
		}
		// A single piece longer than a chunk is cut into rune windows.
		if utf8.RuneCountInString(p) > s.ChunkSize {
			splits = append(splits, s.window(p)...)
			continue
		}
		splits = append(splits, p)
	}
	return s.merge(splits, sep)
}

func (s *Splitter) merge(splits []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var (
		docs    []string
		current []string
		total   int
	)

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, d := range splits {
		n := utf8.RuneCountInString(d)
		if total+n+joinLen() > s.ChunkSize && len(current) > 0 {
			if doc := join(current, sep); doc != "" {
				docs = append(docs, doc)
			}
			// Drop from the front until the remainder fits as overlap and
			// leaves room for d.
			for total > s.ChunkOverlap || (total+n+joinLen() > s.ChunkSize && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, d)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}

	if doc := join(current, sep); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// window cuts p into ChunkSize rune windows that overlap by ChunkOverlap.
func (s *Splitter) window(p string) []string {
	runes := []rune(p)
	step := s.ChunkSize - s.ChunkOverlap
	if step <= 0 {
		step = s.ChunkSize
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func join(parts []string, sep string) string {
	return strings.TrimSpace(strings.Join(parts, sep))
}
