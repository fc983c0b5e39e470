package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docprompt/internal/chunker"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidChunk is returned for chunks whose fields contradict each other.
var ErrInvalidChunk = errors.New("invalid chunk")

// MaxContentChars is the longest chunk content placed in a prompt.
const MaxContentChars = 8000

const truncationMarker = "\n\n[Content truncated: see the source document for the full text]"

// Request carries the caller's task customisation.
type Request struct {
	TaskDescription string            `json:"task_description,omitempty"`
	ExtraContext    map[string]string `json:"extra_context,omitempty"`
}

// Record is one rendered prompt. ChunkID refers back to the source chunk.
type Record struct {
	ID            string `json:"prompt_id"`
	ChunkID       string `json:"chunk_id"`
	Text          string `json:"prompt"`
	Kind          Kind   `json:"template_kind"`
	TokenEstimate int    `json:"token_estimate"`
	PromptLength  int    `json:"prompt_length"`
	ContextPath   string `json:"context_path"`
	Level         int    `json:"level"`
	ContentLength int    `json:"content_length"`
}

// Assembler renders chunks into prompts. It holds no per-document state and
// is safe for concurrent use.
type Assembler struct {
	log     *slog.Logger
	workers int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithWorkers bounds RenderBatch concurrency.
func WithWorkers(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

func NewAssembler(log *slog.Logger, opts ...Option) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	a := &Assembler{log: log, workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Render builds the prompt for one chunk. An unknown kind falls back to
// knowledge extraction with a warning.
func (a *Assembler) Render(c chunker.Chunk, kind Kind, req Request) (Record, error) {
	return a.render(c, a.resolve(kind), req)
}

func (a *Assembler) resolve(kind Kind) Kind {
	if kind.HasTemplate() {
		return kind
	}
	a.log.Warn("unknown prompt template, using knowledge_extraction", "template", string(kind))
	return KnowledgeExtraction
}

func (a *Assembler) render(c chunker.Chunk, kind Kind, req Request) (Record, error) {
	if err := validate(c); err != nil {
		return Record{}, err
	}
	tt := templates[kind]
	content := contentBlock(c.Content)

	var sb strings.Builder
	err := layout.Execute(&sb, layoutData{
		Title:   tt.title,
		Context: contextBlock(c),
		Task:    taskBlock(tt.defaultTask, req),
		Fence:   fenceFor(content),
		Content: content,
		Output:  tt.output,
		Closing: tt.closing,
	})
	if err != nil {
		return Record{}, fmt.Errorf("render %s for %s: %w", kind, c.ID, err)
	}

	text := sb.String()
	return Record{
		ID:            fmt.Sprintf("prompt_%04d", c.Position),
		ChunkID:       c.ID,
		Text:          text,
		Kind:          kind,
		TokenEstimate: chunker.EstimateTokens(text),
		PromptLength:  utf8.RuneCountInString(text),
		ContextPath:   chunker.ContextPath(c),
		Level:         c.Level,
		ContentLength: c.ContentLength,
	}, nil
}

// RenderBatch renders chunks on a bounded worker pool. Chunks that fail are
// logged and skipped; the rest keep their input order. The only error is
// ctx's.
func (a *Assembler) RenderBatch(ctx context.Context, chunks []chunker.Chunk, kind Kind, req Request) ([]Record, error) {
	kind = a.resolve(kind)
	slots := make([]*Record, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := a.render(chunks[i], kind, req)
			if err != nil {
				a.log.Warn("skipping chunk", "chunk_id", chunks[i].ID, "position", chunks[i].Position, "error", err)
				return nil
			}
			slots[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(chunks))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	a.log.Info("prompts built", "template", string(kind), "built", len(out), "skipped", len(chunks)-len(out))
	return out, nil
}

// RawRecord wraps text as a single untemplated record.
func RawRecord(text, chunkID string) Record {
	return Record{
		ID:            "prompt_0001",
		ChunkID:       chunkID,
		Text:          text,
		Kind:          Raw,
		TokenEstimate: chunker.EstimateTokens(text),
		PromptLength:  utf8.RuneCountInString(text),
		ContentLength: utf8.RuneCountInString(text),
	}
}

func validate(c chunker.Chunk) error {
	switch {
	case c.Level != len(c.HeadingPath):
		return fmt.Errorf("%w: %s has level %d but %d headings", ErrInvalidChunk, c.ID, c.Level, len(c.HeadingPath))
	case c.TotalChunks < 1 || c.Position < 1 || c.Position > c.TotalChunks:
		return fmt.Errorf("%w: %s has position %d of %d", ErrInvalidChunk, c.ID, c.Position, c.TotalChunks)
	}
	return nil
}

func contextBlock(c chunker.Chunk) string {
	var sb strings.Builder
	path := chunker.ContextPath(c)
	if path == "" {
		path = "(document root)"
	}
	fmt.Fprintf(&sb, "Path: %s\n", path)
	fmt.Fprintf(&sb, "Level: %d\n", c.Level)
	fmt.Fprintf(&sb, "Position: %d of %d", c.Position, c.TotalChunks)
	if len(c.HeadingPath) > 0 {
		sb.WriteString("\nHeadings:")
		for i, h := range c.HeadingPath {
			if h == "" {
				h = "(untitled)"
			}
			fmt.Fprintf(&sb, "\n%s- %s", strings.Repeat("  ", i+1), h)
		}
	}
	return sb.String()
}

func taskBlock(defaultTask string, req Request) string {
	task := strings.TrimSpace(req.TaskDescription)
	if task == "" {
		task = defaultTask
	}
	if len(req.ExtraContext) == 0 {
		return task
	}

	keys := make([]string, 0, len(req.ExtraContext))
	for k := range req.ExtraContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n\nAdditional context:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s: %s", k, req.ExtraContext[k])
	}
	return sb.String()
}

func contentBlock(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "(no content)"
	}
	if utf8.RuneCountInString(content) <= MaxContentChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:MaxContentChars]) + truncationMarker
}
