// Package upload turns a document source into a URL the extraction service
// can fetch. Strategies are tried in order until one succeeds.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotApplicable is returned by a provider that does not handle the source kind.
	ErrNotApplicable = errors.New("provider does not handle this source")
	// ErrSourceNotFound is returned when a local source does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrAllProvidersFailed is returned when no strategy produced a URL.
	ErrAllProvidersFailed = errors.New("all upload providers failed")
)

// Provider resolves a source (URL or local path) to a fetchable URL.
type Provider interface {
	Name() string
	URL(ctx context.Context, source string) (string, error)
}

// IsRemote reports whether source is an absolute http(s) URL.
func IsRemote(source string) bool {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// Chain tries providers in order and stops at the first success.
type Chain struct {
	providers []Provider
	log       *slog.Logger
}

func NewChain(log *slog.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{providers: providers, log: log}
}

func (c *Chain) Name() string { return "chain" }

// Providers returns the configured strategy names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

func (c *Chain) URL(ctx context.Context, source string) (string, error) {
	if !IsRemote(source) {
		if _, err := os.Stat(localPath(source)); err != nil {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
	}

	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		u, err := p.URL(ctx, source)
		if err == nil {
			c.log.Info("source resolved", "provider", p.Name(), "url", u)
			return u, nil
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		c.log.Warn("upload provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: no provider handles %s", ErrAllProvidersFailed, source)
	}
	return "", fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// Passthrough returns remote URLs unchanged.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) URL(_ context.Context, source string) (string, error) {
	if !IsRemote(source) {
		return "", ErrNotApplicable
	}
	return strings.TrimSpace(source), nil
}

// LocalFile returns a file:// URL for a local path. Only the local extractor
// can read such URLs.
type LocalFile struct{}

func (LocalFile) Name() string { return "local_file" }

func (LocalFile) URL(_ context.Context, source string) (string, error) {
	if IsRemote(source) {
		return "", ErrNotApplicable
	}
	abs, err := filepath.Abs(localPath(source))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// localPath strips a file:// scheme if present.
func localPath(source string) string {
	s := strings.TrimSpace(source)
	if strings.HasPrefix(s, "file://") {
		if u, err := url.Parse(s); err == nil {
			return filepath.FromSlash(u.Path)
		}
	}
	return s
}
