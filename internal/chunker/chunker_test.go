package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Chapter 1 Foundations

Neural networks are computational models inspired by the brain. They learn from data.

## 1.1 Perceptrons

A perceptron computes a weighted sum of inputs. It then applies an activation function.
Training adjusts the weights to reduce error on labelled examples.

### 1.1.1 History

Early perceptrons were built in hardware. 神经网络的研究始于二十世纪中叶。后来发展迅速！

## 1.2 Multilayer networks

Stacking layers lets the network represent non-linear functions. Backpropagation computes gradients.

` + "```" + `
# this is code, not a heading
print("hello")
` + "```" + `

# Chapter 2 Practice

Practical systems combine many techniques.
`

func TestSplit_ScenarioTwoHeadings(t *testing.T) {
	text := "# Intro\nHello world.\n\n## Details\nMore text."

	chunks, err := Split(text, 30, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, []string{"Intro"}, chunks[0].HeadingPath)
	assert.Equal(t, "# Intro\nHello world.\n\n", chunks[0].Content)
	assert.Equal(t, []string{"Intro", "Details"}, chunks[1].HeadingPath)
	assert.Equal(t, "## Details\nMore text.", chunks[1].Content)

	assert.Equal(t, "chunk_0001", chunks[0].ID)
	assert.Equal(t, "chunk_0002", chunks[1].ID)
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_InvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split("# Heading\nbody", tc.size, tc.overlap)
			require.ErrorIs(t, err, ErrInvalidChunkConfig)

			_, err = NewHierarchicalSplitter(Config{ChunkSize: tc.size, ChunkOverlap: tc.overlap})
			require.ErrorIs(t, err, ErrInvalidChunkConfig)
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	chunks, err := Split("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_HeadingOnly(t *testing.T) {
	chunks, err := Split("# Only", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Only", chunks[0].Content)
	assert.Equal(t, []string{"Only"}, chunks[0].HeadingPath)
	assert.Equal(t, 1, chunks[0].Level)
	assert.Equal(t, 1, chunks[0].Position)
	assert.Equal(t, 1, chunks[0].TotalChunks)
}

func TestSplit_HeadingTransitionResetsDeeperLevels(t *testing.T) {
	body := strings.Repeat("z", 28) + "\n"
	text := "# A\n" + body + "## B\n" + body + "### C\n" + body + "## D\n" + body

	chunks, err := Split(text, 36, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	want := [][]string{
		{"A"},
		{"A", "B"},
		{"A", "B", "C"},
		{"A", "D"},
	}
	for i, c := range chunks {
		assert.Equal(t, want[i], c.HeadingPath, "chunk %d", i+1)
		assert.Equal(t, 0, c.Overlap, "heading boundaries carry no overlap")
	}
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_TrailingEmptyLevelsTrimmed(t *testing.T) {
	chunks, err := Split("### Deep\nbody", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"", "", "Deep"}, chunks[0].HeadingPath)
	assert.Equal(t, 3, chunks[0].Level)
}

func TestSplit_PrefersBlankLineBoundary(t *testing.T) {
	first := strings.Repeat("a", 34) + "\n\n"
	text := first + strings.Repeat("b", 40) + "\n"

	chunks, err := Split(text, 50, 20)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, first, chunks[0].Content)
	assert.Equal(t, 20, chunks[1].Overlap)
	assert.True(t, strings.HasPrefix(chunks[1].Content, strings.Repeat("a", 18)+"\n\n"))
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, c.ContentLength, 50)
	}
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_FallsBackToSentenceBoundary(t *testing.T) {
	first := "The first sentence is here. "
	text := first + "Second part goes on and on without stopping at all"

	chunks, err := Split(text, 40, 15)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, first, chunks[0].Content)
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_FullWidthSentenceBoundary(t *testing.T) {
	first := strings.Repeat("中", 20) + "。"
	text := first + strings.Repeat("文", 30)

	chunks, err := Split(text, 30, 15)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, first, chunks[0].Content)
	assert.Equal(t, 21, chunks[0].ContentLength)
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_ForcedSplitAtSizeMinusOverlap(t *testing.T) {
	text := strings.Repeat("x", 100)

	chunks, err := Split(text, 30, 10)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 20, chunks[0].ContentLength)
	assert.Equal(t, text, Rejoin(chunks))
}

func TestSplit_TrailingWhitespaceJoinsLastChunk(t *testing.T) {
	text := strings.Repeat("y", 20) + "\n"

	chunks, err := Split(text, 20, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, 21, chunks[0].ContentLength)
}

func TestSplit_IgnoresHeadingsInsideCodeFences(t *testing.T) {
	text := "# Title\n```\n# not a heading\n```\nbody"

	chunks, err := Split(text, 1000, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"Title"}, chunks[0].HeadingPath)
}

func TestSplit_Invariants(t *testing.T) {
	configs := []Config{
		{ChunkSize: 50, ChunkOverlap: 10},
		{ChunkSize: 100, ChunkOverlap: 0},
		{ChunkSize: 200, ChunkOverlap: 50},
		{ChunkSize: 30, ChunkOverlap: 29},
		DefaultConfig(),
	}
	for _, cfg := range configs {
		s, err := NewHierarchicalSplitter(cfg)
		require.NoError(t, err)

		chunks, err := s.Split(sampleDoc)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		for i, c := range chunks {
			assert.Equal(t, len(c.HeadingPath), c.Level, "cfg %+v chunk %d", cfg, i)
			assert.Equal(t, i+1, c.Position, "cfg %+v chunk %d", cfg, i)
			assert.Equal(t, len(chunks), c.TotalChunks, "cfg %+v chunk %d", cfg, i)
			assert.Equal(t, utf8.RuneCountInString(c.Content), c.ContentLength, "cfg %+v chunk %d", cfg, i)
			assert.Equal(t, EstimateTokens(c.Content), c.TokenEstimate, "cfg %+v chunk %d", cfg, i)
			assert.Less(t, c.Overlap, c.ContentLength, "cfg %+v chunk %d has no new text", cfg, i)
		}
		assert.Equal(t, 0, chunks[0].Overlap)
		assert.Equal(t, sampleDoc, Rejoin(chunks), "cfg %+v", cfg)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	a, err := Split(sampleDoc, 120, 30)
	require.NoError(t, err)
	b, err := Split(sampleDoc, 120, 30)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplit_SampleDocPaths(t *testing.T) {
	chunks, err := Split(sampleDoc, 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	// The fenced "# this is code" line must not reset the path.
	assert.Equal(t, []string{"Chapter 2 Practice"}, chunks[0].HeadingPath)
}

func TestWholeText(t *testing.T) {
	c := WholeText("# A\nbody")
	assert.Equal(t, "chunk_0001", c.ID)
	assert.Equal(t, 1, c.Position)
	assert.Equal(t, 1, c.TotalChunks)
	assert.Equal(t, 0, c.Level)
	assert.Empty(t, c.HeadingPath)
	assert.Equal(t, 8, c.ContentLength)
}

func TestContextPath(t *testing.T) {
	assert.Equal(t, "A > B", ContextPath(Chunk{HeadingPath: []string{"A", "B"}}))
	assert.Equal(t, "", ContextPath(Chunk{}))
}
