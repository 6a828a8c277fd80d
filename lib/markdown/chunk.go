// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import "strings"

// chunkBreakWindow is how far back from a chunk boundary Chunk looks
// for a line break before giving up and cutting mid-line.
const chunkBreakWindow = 256

// Chunk splits text into pieces of at most size bytes, for posting as
// a sequence of messages. Cuts land on rune boundaries, and when a
// line break falls near the boundary the cut moves back to it so
// lines stay intact across messages. Chunks that would be empty after
// trimming trailing newlines are dropped, so input that is only
// whitespace yields no chunks.
func Chunk(s string, size int) []string {
	var chunks []string
	appendChunk := func(piece string) {
		if trimmed := strings.TrimRight(piece, "\n"); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	for len(s) > size {
		cut := size
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// size is smaller than the first rune; cut mid-rune
			// rather than loop forever.
			cut = size
		}
		if newline := strings.LastIndexByte(s[:cut], '\n'); newline > 0 && cut-newline <= chunkBreakWindow {
			cut = newline + 1
		}
		appendChunk(s[:cut])
		s = s[cut:]
	}
	appendChunk(s)
	return chunks
}
