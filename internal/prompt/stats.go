package prompt

// Stats summarizes a set of prompt records.
type Stats struct {
	TotalPrompts      int         `json:"total_prompts"`
	MinLength         int         `json:"min_length"`
	MaxLength         int         `json:"max_length"`
	AvgLength         float64     `json:"avg_length"`
	TotalLength       int         `json:"total_length"`
	MinTokens         int         `json:"min_tokens"`
	MaxTokens         int         `json:"max_tokens"`
	AvgTokens         float64     `json:"avg_tokens"`
	TotalTokens       int         `json:"total_tokens"`
	LevelDistribution map[int]int `json:"level_distribution"`
	WithContextPath   int         `json:"with_context_path"`
	AvgLevel          float64     `json:"avg_level"`
}

func Summarize(records []Record) Stats {
	st := Stats{LevelDistribution: make(map[int]int)}
	if len(records) == 0 {
		return st
	}

	st.TotalPrompts = len(records)
	st.MinLength, st.MaxLength = records[0].PromptLength, records[0].PromptLength
	st.MinTokens, st.MaxTokens = records[0].TokenEstimate, records[0].TokenEstimate
	levels := 0
	for _, r := range records {
		st.MinLength = min(st.MinLength, r.PromptLength)
		st.MaxLength = max(st.MaxLength, r.PromptLength)
		st.TotalLength += r.PromptLength
		st.MinTokens = min(st.MinTokens, r.TokenEstimate)
		st.MaxTokens = max(st.MaxTokens, r.TokenEstimate)
		st.TotalTokens += r.TokenEstimate
		st.LevelDistribution[r.Level]++
		levels += r.Level
		if r.ContextPath != "" {
			st.WithContextPath++
		}
	}
	n := float64(len(records))
	st.AvgLength = float64(st.TotalLength) / n
	st.AvgTokens = float64(st.TotalTokens) / n
	st.AvgLevel = float64(levels) / n
	return st
}
