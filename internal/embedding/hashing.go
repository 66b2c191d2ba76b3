// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultHashingDimension is used when the configured dimension is not positive.
const DefaultHashingDimension = 384

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Hashing is an offline embedder: a feature-hashed bag of words and word
// bigrams with sublinear term frequency and L2 normalisation. The same text
// always yields the same vector.
type Hashing struct {
	dim       int
	stopwords map[string]struct{}
}

// NewHashing creates a hashing embedder producing vectors of size dim.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &Hashing{dim: dim, stopwords: defaultStopwords()}
}

// Name returns "hashing:<dim>".
func (h *Hashing) Name() string { return fmt.Sprintf("hashing:%d", h.dim) }

// Dimension returns the vector size.
func (h *Hashing) Dimension() int { return h.dim }

// Embed never fails unless ctx is done.
func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	tokens := h.tokenize(text)
	counts := make(map[int]float64)
	for i, tok := range tokens {
		h.add(counts, tok)
		if i > 0 {
			h.add(counts, tokens[i-1]+" "+tok)
		}
	}

	vec := make([]float32, h.dim)
	var sum float64
	for idx, c := range counts {
		if c == 0 {
			continue
		}
		// signed counts keep collisions from always adding up
		w := math.Copysign(1+math.Log(math.Abs(c)), c)
		vec[idx] = float32(w)
		sum += w * w
	}
	if sum == 0 {
		return vec
	}
	n := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / n)
	}
	return vec
}

func (h *Hashing) add(counts map[int]float64, feature string) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		counts[idx]--
	} else {
		counts[idx]++
	}
}

func (h *Hashing) tokenize(text string) []string {
	lower := strings.ToLower(norm.NFKC.String(text))
	raw := tokenPattern.FindAllString(lower, -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := h.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
