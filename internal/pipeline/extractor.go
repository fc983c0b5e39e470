package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/parser"
)

// Extractor turns a document URL into structured text.
type Extractor interface {
	Extract(ctx context.Context, documentURL string, cfg RunConfig, progress func(extract.Status)) (string, error)
}

// RemoteExtractor submits the URL to the extraction service and waits for
// the result.
type RemoteExtractor struct {
	Client *extract.Client
}

func (e RemoteExtractor) Extract(ctx context.Context, documentURL string, cfg RunConfig, progress func(extract.Status)) (string, error) {
	task, err := e.Client.Submit(ctx, documentURL, cfg.TaskOptions)
	if err != nil {
		return "", err
	}
	return e.Client.Await(ctx, task, extract.AwaitOptions{
		MaxWait:      cfg.MaxWait(),
		PollInterval: cfg.PollInterval(),
		OnProgress:   progress,
	})
}

const (
	maxLocalDocument = 256 << 20
	fetchTimeout     = 60 * time.Second
)

// ErrDocumentTooLarge is returned when a local extraction source exceeds
// the size limit.
var ErrDocumentTooLarge = errors.New("document too large")

// LocalExtractor reads http(s) or file URLs itself and converts them with
// the built-in parsers. It needs no extraction service.
type LocalExtractor struct {
	HTTPClient *http.Client
	Log        *slog.Logger
}

func (e LocalExtractor) Extract(ctx context.Context, documentURL string, _ RunConfig, _ func(extract.Status)) (string, error) {
	u, err := url.Parse(strings.TrimSpace(documentURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", extract.ErrInvalidURL, err)
	}

	var (
		name string
		body io.ReadCloser
	)
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		name, body, err = e.fetch(ctx, u)
	case "file", "":
		p := filepath.FromSlash(u.Path)
		if u.Scheme == "" {
			p = documentURL
		}
		name = filepath.Base(p)
		body, err = os.Open(p)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", extract.ErrInvalidURL, u.Scheme)
	}
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxLocalDocument+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxLocalDocument {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrDocumentTooLarge, name, maxLocalDocument)
	}

	text, err := parser.ToMarkdown(bytes.NewReader(data), name)
	if err != nil {
		return "", err
	}
	e.logger().Info("extracted locally", "file", name, "bytes", len(data), "chars", len(text))
	return text, nil
}

func (e LocalExtractor) fetch(ctx context.Context, u *url.URL) (string, io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	hc := e.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return "", nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return "", nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}
	return remoteName(u, resp.Header.Get("Content-Type")), cancelOnClose{resp.Body, cancel}, nil
}

func (e LocalExtractor) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// cancelOnClose ties a request context to the lifetime of its body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

var contentTypeExt = map[string]string{
	"application/pdf": ".pdf",
	"text/html":       ".html",
	"text/markdown":   ".md",
	"text/plain":      ".txt",
	"text/csv":        ".csv",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// remoteName picks a filename whose extension selects the parser: the URL's
// own name when it is supported, else one derived from the content type.
func remoteName(u *url.URL, contentType string) string {
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "document"
	}
	if parser.IsSupportedExtension(name) {
		return name
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := contentTypeExt[mt]; ok {
			return strings.TrimSuffix(name, path.Ext(name)) + ext
		}
	}
	return name
}
