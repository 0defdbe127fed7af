// Package parser splits transcript segment text into embedding-sized chunks.
package parser

import (
	"strings"
	"unicode"
)

// breakRatio is how far into the window a whitespace break must fall before
// it is preferred over a hard cut at the limit.
const breakRatio = 0.6

// DefaultChunkLimit is the chunk size in runes used when none is configured.
const DefaultChunkLimit = 1000

// Chunk splits text into pieces of at most limit runes.
//
// Input is trimmed first; empty or whitespace-only text yields no chunks,
// which callers treat as "nothing to embed". Text that fits is returned as
// a single chunk. Longer text is cut at the last whitespace at or before
// limit, or hard-cut at exactly limit when that whitespace falls within the
// first 60% of the window. A limit <= 0 disables splitting.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := lastBreak(runes, limit)
		if float64(cut) <= float64(limit)*breakRatio {
			cut = limit
		}

		piece := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
		if piece != "" {
			chunks = append(chunks, piece)
		}
		runes = trimLeftSpace(runes[cut:])
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// lastBreak returns the index of the last whitespace rune in runes[1:limit+1],
// or 0 if there is none.
func lastBreak(runes []rune, limit int) int {
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return 0
}

func trimLeftSpace(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}
