package model

import (
	"strings"

	"ragkb/types"
)

// ChunkDraft is a chunk before IDs and embeddings are attached.
type ChunkDraft struct {
	Page    *int
	Index   int
	Content string
}

// ChunkPages slides a fixed-size character window over each page's
// normalized text. The index counter is shared across pages, so chunk
// indices are globally ordered within a document. Pages that normalize
// to empty text are skipped.
func ChunkPages(pages []types.Page, chunkChars, overlap int) []ChunkDraft {
	if chunkChars <= 0 {
		chunkChars = 1200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkChars {
		overlap = chunkChars - 1
	}

	var chunks []ChunkDraft
	globalIdx := 0

	for _, page := range pages {
		text := NormalizeWhitespace(page.Text)
		if text == "" {
			continue
		}

		start := 0
		for start < len(text) {
			end := start + chunkChars
			if end > len(text) {
				end = len(text)
			}
			content := strings.TrimSpace(text[start:end])
			if content != "" {
				chunks = append(chunks, ChunkDraft{
					Page:    page.Number,
					Index:   globalIdx,
					Content: content,
				})
				globalIdx++
			}
			if end >= len(text) {
				break
			}
			start = end - overlap
			if start < 0 {
				start = 0
			}
		}
	}
	return chunks
}

// NormalizeWhitespace collapses all whitespace runs (including newlines)
// to single spaces and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
