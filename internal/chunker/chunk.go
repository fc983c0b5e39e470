package chunker

import (
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded slice of document text with its heading context.
// ID is opaque; use Position for ordering.
type Chunk struct {
	ID            string   `json:"chunk_id"`
	Content       string   `json:"content"`
	HeadingPath   []string `json:"heading_path"` // Outermost heading first.
	Level         int      `json:"level"`
	Position      int      `json:"position"` // 1-based.
	TotalChunks   int      `json:"total_chunks"`
	ContentLength int      `json:"content_length"` // Characters.
	TokenEstimate int      `json:"token_estimate"`
	Overlap       int      `json:"overlap"` // Leading characters repeated from the previous chunk.
}

func newChunk(content string, path []string, overlap int) Chunk {
	return Chunk{
		Content:       content,
		HeadingPath:   path,
		Level:         len(path),
		ContentLength: utf8.RuneCountInString(content),
		TokenEstimate: EstimateTokens(content),
		Overlap:       overlap,
	}
}

// WholeText wraps an entire text in a single chunk, used when splitting is disabled.
func WholeText(text string) Chunk {
	c := newChunk(text, nil, 0)
	c.ID = "chunk_0001"
	c.Position = 1
	c.TotalChunks = 1
	return c
}

// ContextPath renders the heading path as "A > B > C".
func ContextPath(c Chunk) string {
	return strings.Join(c.HeadingPath, " > ")
}

// Rejoin reverses a split by dropping each chunk's overlap prefix.
func Rejoin(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		if c.Overlap <= 0 {
			sb.WriteString(c.Content)
			continue
		}
		runes := []rune(c.Content)
		if c.Overlap >= len(runes) {
			continue
		}
		sb.WriteString(string(runes[c.Overlap:]))
	}
	return sb.String()
}
