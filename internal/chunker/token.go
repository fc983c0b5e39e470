package chunker

import "regexp"

var asciiWordRe = regexp.MustCompile(`\b[a-zA-Z]+\b`)

// EstimateTokens gives a rough token count: one token per CJK character plus
// 0.75 tokens per ASCII word, rounded down. Exact tokenization is not required.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	words := len(asciiWordRe.FindAllStringIndex(text, -1))
	return cjk + words*3/4
}
