package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormProvider posts the file as multipart form data to a hosting endpoint.
// The reply is either a bare URL (temp.sh, 0x0.st) or JSON of the form
// {"success": true, "url"|"link": "..."} (file.io, a self-hosted upload server).
type FormProvider struct {
	name       string
	endpoint   string
	field      string
	fields     map[string]string
	headers    map[string]string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// FormOption configures a FormProvider.
type FormOption func(*FormProvider)

// WithField sets the multipart field carrying the file (default "file").
func WithField(name string) FormOption {
	return func(p *FormProvider) { p.field = name }
}

// WithFormValue adds an extra form field, e.g. expires=1d.
func WithFormValue(key, value string) FormOption {
	return func(p *FormProvider) { p.fields[key] = value }
}

func WithHeader(key, value string) FormOption {
	return func(p *FormProvider) { p.headers[key] = value }
}

func WithTimeout(d time.Duration) FormOption {
	return func(p *FormProvider) { p.timeout = d }
}

func WithFormHTTPClient(hc *http.Client) FormOption {
	return func(p *FormProvider) { p.httpClient = hc }
}

func WithFormLogger(log *slog.Logger) FormOption {
	return func(p *FormProvider) { p.log = log }
}

func NewFormProvider(name, endpoint string, opts ...FormOption) *FormProvider {
	p := &FormProvider{
		name:       name,
		endpoint:   endpoint,
		field:      "file",
		fields:     make(map[string]string),
		headers:    make(map[string]string),
		timeout:    10 * time.Minute,
		httpClient: &http.Client{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FormProvider) Name() string { return p.name }

type formReply struct {
	Success *bool  `json:"success"`
	URL     string `json:"url"`
	Link    string `json:"link"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (p *FormProvider) URL(ctx context.Context, source string) (string, error) {
	if IsRemote(source) {
		return "", ErrNotApplicable
	}
	local := localPath(source)
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Stream the body instead of buffering whole documents.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(p.writeForm(mw, f, filepath.Base(local)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))
	}

	u, err := parseReply(body)
	if err != nil {
		return "", err
	}
	p.log.Info("uploaded to form host", "provider", p.name, "url", u)
	return u, nil
}

func (p *FormProvider) writeForm(mw *multipart.Writer, f io.Reader, filename string) error {
	for k, v := range p.fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(p.field, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func parseReply(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "http") {
		if !IsRemote(text) {
			return "", fmt.Errorf("reply is not an absolute URL: %s", snippet(body))
		}
		return text, nil
	}

	var r formReply
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("unexpected reply: %s", snippet(body))
	}
	if r.Success != nil && !*r.Success {
		msg := r.Error
		if msg == "" {
			msg = r.Message
		}
		return "", fmt.Errorf("host rejected upload: %s", msg)
	}
	u := r.URL
	if u == "" {
		u = r.Link
	}
	if !IsRemote(u) {
		return "", fmt.Errorf("reply has no usable url: %s", snippet(body))
	}
	return u, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
