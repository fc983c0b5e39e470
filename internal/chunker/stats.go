package chunker

// Stats summarizes a chunk sequence.
type Stats struct {
	TotalChunks   int         `json:"total_chunks"`
	MinLength     int         `json:"min_length"`
	MaxLength     int         `json:"max_length"`
	AvgLength     float64     `json:"avg_length"`
	TotalLength   int         `json:"total_length"`
	MinTokens     int         `json:"min_tokens"`
	MaxTokens     int         `json:"max_tokens"`
	AvgTokens     float64     `json:"avg_tokens"`
	TotalTokens   int         `json:"total_tokens"`
	LevelCoverage map[int]int `json:"level_coverage"` // Chunks per heading level.
}

// Summarize computes length and token statistics over chunks.
func Summarize(chunks []Chunk) Stats {
	st := Stats{LevelCoverage: make(map[int]int)}
	if len(chunks) == 0 {
		return st
	}

	st.TotalChunks = len(chunks)
	st.MinLength, st.MaxLength = chunks[0].ContentLength, chunks[0].ContentLength
	st.MinTokens, st.MaxTokens = chunks[0].TokenEstimate, chunks[0].TokenEstimate
	for _, c := range chunks {
		st.MinLength = min(st.MinLength, c.ContentLength)
		st.MaxLength = max(st.MaxLength, c.ContentLength)
		st.TotalLength += c.ContentLength
		st.MinTokens = min(st.MinTokens, c.TokenEstimate)
		st.MaxTokens = max(st.MaxTokens, c.TokenEstimate)
		st.TotalTokens += c.TokenEstimate
		st.LevelCoverage[c.Level]++
	}
	st.AvgLength = float64(st.TotalLength) / float64(st.TotalChunks)
	st.AvgTokens = float64(st.TotalTokens) / float64(st.TotalChunks)
	return st
}
