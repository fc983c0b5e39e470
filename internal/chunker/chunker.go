package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidChunkConfig is returned when the size/overlap pair cannot produce chunks.
var ErrInvalidChunkConfig = errors.New("invalid chunk config")

// maxDepth is the deepest heading level tracked in a heading path.
const maxDepth = 4

// Config controls chunking behavior. Sizes are measured in characters.
type Config struct {
	ChunkSize    int // Buffer length at which a chunk is closed.
	ChunkOverlap int // Characters of a split chunk repeated at the start of the next.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Validate rejects configurations that cannot make forward progress.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive (got %d)", ErrInvalidChunkConfig, c.ChunkSize)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("%w: chunk overlap must not be negative (got %d)", ErrInvalidChunkConfig, c.ChunkOverlap)
	case c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidChunkConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// TextSplitter turns cleaned document text into ordered chunks.
type TextSplitter interface {
	Split(text string) ([]Chunk, error)
}

// HierarchicalSplitter splits markdown-like text on size boundaries while
// tracking the enclosing headings of every chunk.
type HierarchicalSplitter struct {
	cfg Config
}

// NewHierarchicalSplitter validates cfg before any text is seen.
func NewHierarchicalSplitter(cfg Config) (*HierarchicalSplitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HierarchicalSplitter{cfg: cfg}, nil
}

// Config returns the splitter's configuration.
func (s *HierarchicalSplitter) Config() Config {
	return s.cfg
}

// Split splits text with a one-off hierarchical splitter.
func Split(text string, chunkSize, chunkOverlap int) ([]Chunk, error) {
	s, err := NewHierarchicalSplitter(Config{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap})
	if err != nil {
		return nil, err
	}
	return s.Split(text)
}

// Split scans text line by line. Output is deterministic for a given input and config.
func (s *HierarchicalSplitter) Split(text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}

	st := &scan{cfg: s.cfg}
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		st.feed(line)
	}
	st.finish()

	chunks := st.chunks
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("chunk_%04d", i+1)
		chunks[i].Position = i + 1
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks, nil
}

// scan is the per-call accumulator threaded through the line loop.
type scan struct {
	cfg      Config
	headings [maxDepth]string
	buf      []rune
	carried  int // leading runes of buf repeated from the previous chunk
	inFence  bool
	chunks   []Chunk
}

func (st *scan) fresh() int {
	return len(st.buf) - st.carried
}

func (st *scan) feed(line string) {
	bare := strings.TrimRight(line, "\r\n")

	switch {
	case isFence(bare):
		st.inFence = !st.inFence
	case !st.inFence:
		if depth, title, ok := parseHeading(bare); ok {
			// A heading that would push the buffer to the limit closes it
			// under the path that was active before the heading.
			if st.fresh() > 0 && len(st.buf)+utf8.RuneCountInString(line) >= st.cfg.ChunkSize {
				st.emit(len(st.buf), 0)
			}
			st.headings[depth-1] = title
			for d := depth; d < maxDepth; d++ {
				st.headings[d] = ""
			}
		}
	}

	st.buf = append(st.buf, []rune(line)...)
	for len(st.buf) >= st.cfg.ChunkSize {
		end := st.splitPoint()
		carry := min(st.cfg.ChunkOverlap, end-1)
		st.emit(end, carry)
	}
}

// splitPoint picks where a full buffer is cut: the latest blank line, then the
// latest sentence end, inside [size-overlap, size]; otherwise size-overlap.
// The cut always lies past the carried overlap so every chunk has new text.
func (st *scan) splitPoint() int {
	hi := st.cfg.ChunkSize
	lo := max(st.cfg.ChunkSize-st.cfg.ChunkOverlap, st.carried+1)
	if lo > hi {
		lo = hi
	}

	for p := hi; p >= lo; p-- {
		if p >= 2 && st.buf[p-1] == '\n' && st.buf[p-2] == '\n' {
			return p
		}
	}
	for p := hi; p >= lo; p-- {
		if endsSentence(st.buf[:p]) {
			return p
		}
	}
	return lo
}

// emit closes buf[:end] into a chunk and keeps the last carry runes of it,
// followed by the unconsumed remainder, as the next buffer.
func (st *scan) emit(end, carry int) {
	content := string(st.buf[:end])
	st.chunks = append(st.chunks, newChunk(content, st.path(), st.carried))

	rest := make([]rune, 0, len(st.buf)-end+carry)
	rest = append(rest, st.buf[end-carry:]...)
	st.buf = rest
	st.carried = carry
}

func (st *scan) finish() {
	if st.fresh() <= 0 {
		return
	}
	tail := string(st.buf[st.carried:])
	if strings.TrimSpace(tail) == "" && len(st.chunks) > 0 {
		// Trailing whitespace belongs to the last chunk rather than a chunk of its own.
		last := &st.chunks[len(st.chunks)-1]
		*last = newChunk(last.Content+tail, last.HeadingPath, last.Overlap)
		return
	}
	st.emit(len(st.buf), 0)
}

// path returns the current heading stack with trailing empty levels trimmed.
func (st *scan) path() []string {
	n := 0
	for i, h := range st.headings {
		if h != "" {
			n = i + 1
		}
	}
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	copy(out, st.headings[:n])
	return out
}

var headingRe = regexp.MustCompile(`^ {0,3}(#{1,4})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)

// parseHeading reports the depth and title of a heading line.
func parseHeading(line string) (int, string, bool) {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	title := strings.TrimSpace(m[2])
	if title == "" {
		return 0, "", false
	}
	return len(m[1]), title, true
}

func isFence(line string) bool {
	t := strings.TrimLeft(line, " ")
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// endsSentence reports whether text ends right after a sentence terminator.
func endsSentence(text []rune) bool {
	n := len(text)
	if n == 0 {
		return false
	}
	switch text[n-1] {
	case '。', '！', '？':
		return true
	case ' ':
		if n >= 2 {
			switch text[n-2] {
			case '.', '!', '?':
				return true
			}
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
