package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/dgallion1/docprompt/internal/pathstore"
	"github.com/dgallion1/docprompt/internal/prompt"
	"golang.org/x/sync/errgroup"
)

// Sink receives the result of every completed job.
type Sink interface {
	Publish(ctx context.Context, docID string, job JobSnapshot, res *Result) (int, error)
}

// DocumentsPrefix is the pathstore prefix all documents live under.
const DocumentsPrefix = "docprompt/documents"

// DocumentKey returns the pathstore prefix of one document.
func DocumentKey(docID string) string {
	return path.Join(DocumentsPrefix, docID)
}

// nodeStore is the part of the pathstore client the sink writes through.
type nodeStore interface {
	PutNode(ctx context.Context, key string, req pathstore.NodeRequest) error
	PutLink(ctx context.Context, req pathstore.LinkRequest) error
}

// PathstoreSink writes each prompt under
// docprompt/documents/<doc_id>/prompts/<prompt_id> and the document summary
// under docprompt/documents/<doc_id>/meta.
type PathstoreSink struct {
	store        nodeStore
	log          *slog.Logger
	concurrency  int
	linkSequence bool
}

// SinkOption configures a PathstoreSink.
type SinkOption func(*PathstoreSink)

// WithSinkConcurrency bounds parallel writes.
func WithSinkConcurrency(n int) SinkOption {
	return func(s *PathstoreSink) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSequenceLinks adds a "next" edge between consecutive prompts.
func WithSequenceLinks(on bool) SinkOption {
	return func(s *PathstoreSink) { s.linkSequence = on }
}

func NewPathstoreSink(store nodeStore, log *slog.Logger, opts ...SinkOption) *PathstoreSink {
	if log == nil {
		log = slog.Default()
	}
	s := &PathstoreSink{store: store, log: log, concurrency: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish writes the prompts, then the meta node. The meta node is only
// written when every prompt landed, so a listed document is complete.
func (s *PathstoreSink) Publish(ctx context.Context, docID string, job JobSnapshot, res *Result) (int, error) {
	docKey := DocumentKey(docID)
	source := "docprompt:" + docID

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range res.Prompts {
		g.Go(func() error {
			return withRetry(gctx, s.log, func() error {
				return s.store.PutNode(gctx, promptKey(docKey, rec), pathstore.NodeRequest{
					Value:      promptValue(rec),
					MemoryType: "document_prompt",
					Salience:   0.3,
					Source:     source,
				})
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("publish prompts: %w", err)
	}

	if s.linkSequence {
		for i := 1; i < len(res.Prompts); i++ {
			err := s.store.PutLink(ctx, pathstore.LinkRequest{
				From:    promptKey(docKey, res.Prompts[i-1]),
				To:      promptKey(docKey, res.Prompts[i]),
				Weight:  1,
				Summary: "next",
			})
			if err != nil {
				s.log.Warn("sequence link failed", "doc_id", docID, "error", err)
			}
		}
	}

	err := withRetry(ctx, s.log, func() error {
		return s.store.PutNode(ctx, docKey+"/meta", pathstore.NodeRequest{
			Value: map[string]any{
				"job_id":       job.ID,
				"source":       res.Source,
				"filename":     job.Filename,
				"document_url": res.DocumentURL,
				"content_hash": res.ContentHash,
				"chunks":       len(res.Chunks),
				"prompts":      len(res.Prompts),
				"created_at":   job.CreatedAt.Format(time.RFC3339),
			},
			MemoryType: "metacognitive",
			Salience:   0.5,
			Source:     source,
		})
	})
	if err != nil {
		return len(res.Prompts), fmt.Errorf("publish meta: %w", err)
	}
	s.log.Info("document published", "doc_id", docID, "prompts", len(res.Prompts))
	return len(res.Prompts), nil
}

func promptKey(docKey string, rec prompt.Record) string {
	return docKey + "/prompts/" + rec.ID
}

func promptValue(rec prompt.Record) map[string]any {
	return map[string]any{
		"chunk_id":       rec.ChunkID,
		"prompt":         rec.Text,
		"template_kind":  string(rec.Kind),
		"token_estimate": rec.TokenEstimate,
		"context_path":   rec.ContextPath,
		"level":          rec.Level,
	}
}
