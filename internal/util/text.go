// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Preview returns s cut to at most maxWidth display cells with "..." appended,
// the form prompts take in log lines. Newlines are flattened to spaces so a
// preview never spans lines. Wide (CJK) runes count as two cells.
func Preview(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return "..."
	}
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, maxWidth, "") + "..."
}

// TruncateRunes truncates a string to maxRunes characters, appending "..."
// when it had to cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return len([]rune(s))
}

// DisplayWidth returns the number of terminal cells s occupies.
func DisplayWidth(s string) int {
	return runewidth.StringWidth(s)
}
