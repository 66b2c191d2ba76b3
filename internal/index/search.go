// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
)

// DefaultTopK is the number of results returned when k <= 0.
const DefaultTopK = 4

// =============================================================================
// SEARCH METHODS
// =============================================================================

// Search returns the k chunks most similar to vec by cosine similarity,
// best first. It scans every stored vector.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(vec) != s.meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vec), s.meta.Dimension)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.idx, c.text, c.embedding, d.path
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	top := make(resultHeap, 0, k)
	for rows.Next() {
		var (
			r    Result
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Index, &r.Text, &blob, &r.Source); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt embedding", "chunk", r.ID, "error", err)
			continue
		}
		if len(stored) != len(vec) {
			s.logger.Warn("skipping embedding with wrong dimension", "chunk", r.ID, "dimension", len(stored))
			continue
		}
		r.Score = Cosine(vec, stored)

		if top.Len() < k {
			heap.Push(&top, r)
		} else if r.Score > top[0].Score {
			top[0] = r
			heap.Fix(&top, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	results := []Result(top)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// resultHeap is a min-heap on Score holding the current top k.
type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) { *h = append(*h, x.(Result)) }

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
