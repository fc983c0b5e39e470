// Package app wires configured clients into a Pipeline. Both binaries build
// their pipeline here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/pathstore"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/dgallion1/docprompt/internal/upload"
)

// Components are the long-lived clients behind a Pipeline.
type Components struct {
	Pipeline  *pipeline.Pipeline
	Resolver  *upload.Chain
	Extract   *extract.Client   // nil in local mode
	Pathstore *pathstore.Client // nil when no sink is configured
}

// Build creates the upload chain, the extractor and, when configured, the
// pathstore client.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Components, error) {
	resolver, err := Resolver(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	c := &Components{Resolver: resolver}
	var ext pipeline.Extractor
	switch cfg.ExtractMode {
	case config.ModeLocal:
		ext = pipeline.LocalExtractor{Log: log}
	default:
		c.Extract = extract.NewClient(cfg.ExtractBaseURL, cfg.ExtractToken,
			extract.WithLogger(log),
			extract.WithModelVersion(cfg.ExtractModelVersion),
			extract.WithStats(extract.NewLatencyStats(cfg.StatsWindow)),
		)
		ext = pipeline.RemoteExtractor{Client: c.Extract}
	}

	c.Pipeline = pipeline.New(resolver, ext,
		pipeline.WithLogger(log),
		pipeline.WithAssembler(prompt.NewAssembler(log, prompt.WithWorkers(cfg.PromptWorkers))),
	)

	if cfg.PathstoreURL != "" {
		c.Pathstore = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
	}
	return c, nil
}

// Sink returns the pathstore publisher, or nil when none is configured.
func (c *Components) Sink(cfg config.Config, log *slog.Logger) pipeline.Sink {
	if c.Pathstore == nil {
		return nil
	}
	return pipeline.NewPathstoreSink(c.Pathstore, log,
		pipeline.WithSinkConcurrency(cfg.MaxConcurrentStore),
		pipeline.WithSequenceLinks(cfg.PathstoreLinkSequence),
	)
}

// Close releases idle connections.
func (c *Components) Close() {
	if c.Extract != nil {
		c.Extract.Close()
	}
	if c.Pathstore != nil {
		c.Pathstore.Close()
	}
}

// Resolver builds the upload strategy chain: remote URLs pass through, then
// S3, then each form host, then file URLs in local mode.
func Resolver(ctx context.Context, cfg config.Config, log *slog.Logger) (*upload.Chain, error) {
	providers := []upload.Provider{upload.Passthrough{}}
	if cfg.S3Bucket != "" {
		s3p, err := upload.NewS3Provider(ctx, upload.S3Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Prefix:        cfg.S3Prefix,
			PresignExpiry: cfg.S3PresignExpiry,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("s3 upload provider: %w", err)
		}
		providers = append(providers, s3p)
	}
	for _, f := range cfg.UploadForms {
		providers = append(providers, upload.NewFormProvider(f.Name, f.URL, upload.WithFormLogger(log)))
	}
	if cfg.ExtractMode == config.ModeLocal {
		providers = append(providers, upload.LocalFile{})
	}
	return upload.NewChain(log, providers...), nil
}
