// Package pipeline turns one document source into context-annotated prompts
// (Pipeline) and runs many such conversions on a worker pool (Orchestrator).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docprompt/internal/chunker"
	"github.com/dgallion1/docprompt/internal/clean"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/dgallion1/docprompt/internal/upload"
)

// Stage names a pipeline step.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageResolve   Stage = "resolve"
	StageExtract   Stage = "extract"
	StageClean     Stage = "clean"
	StageSplit     Stage = "split"
	StagePrompt    Stage = "prompt"
)

// StageError reports the first stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is everything one run produced.
type Result struct {
	Source      string          `json:"source"`
	DocumentURL string          `json:"document_url"`
	CleanedText string          `json:"cleaned_text"`
	Chunks      []chunker.Chunk `json:"chunks"`
	Prompts     []prompt.Record `json:"prompts"`
	Elapsed     time.Duration   `json:"elapsed_ns"`
	ContentHash string          `json:"content_hash"`
}

// Observer is told about stage transitions and extraction progress. Calls
// come from the goroutine running the pipeline.
type Observer interface {
	StageStarted(stage Stage)
	ExtractionProgress(st extract.Status)
}

type nopObserver struct{}

func (nopObserver) StageStarted(Stage)                {}
func (nopObserver) ExtractionProgress(extract.Status) {}

// Pipeline sequences resolve, extract, clean, split and prompt for one
// document per Run. It keeps no per-run state; one Pipeline serves
// concurrent runs.
type Pipeline struct {
	resolver  upload.Provider
	extractor Extractor
	cleaner   clean.Cleaner
	assembler *prompt.Assembler
	log       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithCleaner(c clean.Cleaner) Option {
	return func(p *Pipeline) { p.cleaner = c }
}

func WithAssembler(a *prompt.Assembler) Option {
	return func(p *Pipeline) { p.assembler = a }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New builds a Pipeline. resolver turns sources into URLs; extractor turns
// URLs into text.
func New(resolver upload.Provider, extractor Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:  resolver,
		extractor: extractor,
		cleaner:   clean.Markdown{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.assembler == nil {
		p.assembler = prompt.NewAssembler(p.log)
	}
	return p
}

// Run converts source with cfg.
func (p *Pipeline) Run(ctx context.Context, source string, cfg RunConfig) (*Result, error) {
	return p.RunObserved(ctx, source, cfg, nil)
}

// RunObserved is Run with an observer. The first failing stage ends the run
// with a *StageError; later stages are not started.
func (p *Pipeline) RunObserved(ctx context.Context, source string, cfg RunConfig, obs Observer) (*Result, error) {
	start := time.Now()
	if obs == nil {
		obs = nopObserver{}
	}
	log := p.log.With("source", source)

	fail := func(stage Stage, err error) (*Result, error) {
		log.Error("pipeline failed", "stage", stage, "error", err, "elapsed", time.Since(start))
		return nil, &StageError{Stage: stage, Err: err}
	}

	obs.StageStarted(StageConfigure)
	cfg = cfg.withDefaults()
	var splitter chunker.TextSplitter
	if cfg.EnableSplitting {
		s, err := chunker.NewHierarchicalSplitter(cfg.ChunkConfig())
		if err != nil {
			return fail(StageConfigure, err)
		}
		splitter = s
	}

	obs.StageStarted(StageResolve)
	docURL, err := p.resolver.URL(ctx, source)
	if err != nil {
		return fail(StageResolve, err)
	}

	obs.StageStarted(StageExtract)
	raw, err := p.extractor.Extract(ctx, docURL, cfg, obs.ExtractionProgress)
	if err != nil {
		return fail(StageExtract, err)
	}
	log.Info("text extracted", "url", docURL, "chars", len(raw))

	obs.StageStarted(StageClean)
	cleaned := raw
	if cfg.EnableCleaning {
		cleaned = p.cleaner.Clean(raw)
		st := clean.Compare(raw, cleaned)
		log.Info("text cleaned", "removed_bytes", st.SizeReduction, "removed_lines", st.LinesRemoved)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageClean, err)
	}

	obs.StageStarted(StageSplit)
	var chunks []chunker.Chunk
	if splitter != nil {
		chunks, err = splitter.Split(cleaned)
		if err != nil {
			return fail(StageSplit, err)
		}
	} else {
		chunks = []chunker.Chunk{chunker.WholeText(cleaned)}
	}
	log.Info("text split", "chunks", len(chunks))

	obs.StageStarted(StagePrompt)
	var prompts []prompt.Record
	if cfg.EnablePromptBuilding {
		prompts, err = p.assembler.RenderBatch(ctx, chunks, cfg.PromptTemplate, cfg.request())
		if err != nil {
			return fail(StagePrompt, err)
		}
	} else {
		chunkID := ""
		if len(chunks) == 1 {
			chunkID = chunks[0].ID
		}
		prompts = []prompt.Record{prompt.RawRecord(cleaned, chunkID)}
	}

	res := &Result{
		Source:      source,
		DocumentURL: docURL,
		CleanedText: cleaned,
		Chunks:      chunks,
		Prompts:     prompts,
		ContentHash: ContentHashHex([]byte(cleaned)),
		Elapsed:     time.Since(start),
	}
	log.Info("pipeline complete", "chunks", len(chunks), "prompts", len(prompts), "elapsed", res.Elapsed)
	return res, nil
}
