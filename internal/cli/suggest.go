// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - Command suggestion for typo correction.
package cli

// validCommands lists the commands and aliases accepted by Parse.
var validCommands = []string{
	"serve",
	"ingest",
	"ask",
	"chat",
	"sessions",
	"doctor",
	"version",
	"help",
	// Aliases
	"server",
	"web",
	"index",
	"session",
	"diag",
}

// SuggestCommand returns the command closest to input, or "" when nothing
// is close enough. The allowed edit distance grows with the input length.
func SuggestCommand(input string) string {
	if input == "" {
		return ""
	}
	maxDist := 2
	if len(input) <= 3 {
		maxDist = 1
	}

	best, bestDist := "", maxDist+1
	for _, cmd := range validCommands {
		if d := levenshteinDistance(input, cmd); d < bestDist {
			best, bestDist = cmd, d
		}
	}
	return best
}

// levenshteinDistance returns the edit distance between s1 and s2.
func levenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
