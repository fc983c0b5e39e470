package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultBaseURL is the public MinerU v4 API.
const DefaultBaseURL = "https://mineru.net/api/v4"

const (
	controlTimeout  = 30 * time.Second
	downloadTimeout = 60 * time.Second
	maxControlBody  = 1 << 20
	maxArchiveBytes = 256 << 20
)

// Client talks to an asynchronous document extraction service. One Client
// (and its connection pool) is shared by every concurrent pipeline run.
type Client struct {
	baseURL      string
	token        string
	modelVersion string
	httpClient   *http.Client
	log          *slog.Logger
	stats        *LatencyStats
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithStats(s *LatencyStats) Option {
	return func(c *Client) { c.stats = s }
}

func WithModelVersion(v string) Option {
	return func(c *Client) { c.modelVersion = v }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		modelVersion: "vlm",
		// Per-request deadlines come from contexts; this only guards against hung connections.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        slog.Default(),
		stats:      NewLatencyStats(time.Hour),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the rolling call latency tracker.
func (c *Client) Stats() *LatencyStats {
	return c.stats
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type submitRequest struct {
	URL           string `json:"url"`
	ModelVersion  string `json:"model_version"`
	IsOCR         bool   `json:"is_ocr"`
	EnableFormula bool   `json:"enable_formula"`
	EnableTable   bool   `json:"enable_table"`
	Language      string `json:"language"`
}

type taskData struct {
	TaskID          string    `json:"task_id"`
	State           State     `json:"state"`
	ExtractProgress *Progress `json:"extract_progress,omitempty"`
	FullZipURL      string    `json:"full_zip_url,omitempty"`
	ErrMsg          string    `json:"err_msg,omitempty"`
}

type apiResponse struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data taskData `json:"data"`
}

var windowsPathRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// ValidateURL accepts only absolute http(s) URLs. Filesystem paths and
// file:// URLs are rejected with ErrUnsupportedLocalPath.
func ValidateURL(raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return &SubmissionError{URL: raw, Err: ErrInvalidURL, Message: "empty URL"}
	}
	if windowsPathRe.MatchString(s) || filepath.IsAbs(s) || strings.HasPrefix(s, "~") || strings.HasPrefix(s, ".") {
		return &SubmissionError{URL: raw, Err: ErrUnsupportedLocalPath}
	}
	u, err := url.Parse(s)
	if err != nil {
		return &SubmissionError{URL: raw, Err: ErrInvalidURL, Message: err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return &SubmissionError{URL: raw, Err: ErrInvalidURL, Message: "missing host"}
		}
		return nil
	case "", "file":
		return &SubmissionError{URL: raw, Err: ErrUnsupportedLocalPath}
	default:
		return &SubmissionError{URL: raw, Err: ErrInvalidURL, Message: "unsupported scheme " + u.Scheme}
	}
}

// Submit creates an extraction task for documentURL.
func (c *Client) Submit(ctx context.Context, documentURL string, opts TaskOptions) (*Task, error) {
	if err := ValidateURL(documentURL); err != nil {
		return nil, err
	}
	body, err := json.Marshal(submitRequest{
		URL:           documentURL,
		ModelVersion:  c.modelVersion,
		IsOCR:         opts.OCR,
		EnableFormula: opts.Formula,
		EnableTable:   opts.Table,
		Language:      opts.Language,
	})
	if err != nil {
		return nil, &SubmissionError{URL: documentURL, Err: fmt.Errorf("marshal request: %w", err)}
	}

	status, respBody, err := c.call(ctx, OpSubmit, http.MethodPost, "/extract/task", body)
	if err != nil {
		return nil, &SubmissionError{URL: documentURL, Err: err}
	}
	if status != http.StatusOK {
		return nil, &SubmissionError{URL: documentURL, StatusCode: status, Message: string(respBody)}
	}
	var resp apiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &SubmissionError{URL: documentURL, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Code != 0 {
		return nil, &SubmissionError{URL: documentURL, StatusCode: status, Code: resp.Code, Message: resp.Msg}
	}
	if resp.Data.TaskID == "" {
		return nil, &SubmissionError{URL: documentURL, StatusCode: status, Message: "response has no task_id"}
	}

	task := &Task{
		ID:          resp.Data.TaskID,
		URL:         documentURL,
		SubmittedAt: time.Now(),
		State:       StateSubmitted,
	}
	c.log.Info("extraction task submitted", "task_id", task.ID, "url", documentURL)
	return task, nil
}

// Await polls task until it is done, failed, out of budget or ctx is cancelled.
//
// The first poll happens immediately; after each later sleep of
// opts.PollInterval the task is polled again unless opts.MaxWait has elapsed.
// A poll that fails in transport, gets a 408/429/5xx or an unreadable body is
// logged and retried on the next tick. Other 4xx replies and non-zero service
// codes end the wait with ErrExtractionFailed. Cancelling ctx returns
// ErrCancelled at once; a poll already in flight finishes in the background
// and its reply is dropped.
func (c *Client) Await(ctx context.Context, task *Task, opts AwaitOptions) (string, error) {
	if task == nil || task.ID == "" {
		return "", errors.New("await: task has no id")
	}
	if task.Terminal() {
		return "", fmt.Errorf("await: task %s already %s", task.ID, task.State)
	}
	opts = opts.withDefaults()
	log := c.log.With("task_id", task.ID)
	start := time.Now()

	timer := time.NewTimer(opts.PollInterval)
	defer timer.Stop()

	for first := true; ; first = false {
		if !first {
			select {
			case <-ctx.Done():
				return "", c.cancelled(task, ctx.Err())
			case <-timer.C:
			}
			if time.Since(start) >= opts.MaxWait {
				task.State = StateTimeout
				log.Warn("extraction timed out", "polls", task.Polls, "max_wait", opts.MaxWait)
				return "", &TaskError{Kind: ErrTimeout, TaskID: task.ID, Message: fmt.Sprintf("no terminal state after %s", opts.MaxWait)}
			}
		} else if ctx.Err() != nil {
			return "", c.cancelled(task, ctx.Err())
		}

		data, err := c.pollDetached(ctx, task.ID)
		task.Polls++
		if err != nil {
			if ctx.Err() != nil {
				return "", c.cancelled(task, ctx.Err())
			}
			var te *TaskError
			if errors.As(err, &te) {
				task.State = StateFailed
				log.Error("extraction poll rejected", "error", err)
				return "", te
			}
			log.Warn("extraction poll failed, will retry", "poll", task.Polls, "error", err)
			timer.Reset(opts.PollInterval)
			continue
		}

		if data.ExtractProgress != nil {
			task.Progress = data.ExtractProgress
		}

		switch data.State {
		case StateDone:
			log.Info("extraction done", "polls", task.Polls, "elapsed", time.Since(start))
			text, err := c.fetchResult(ctx, task, data.FullZipURL)
			if err != nil {
				return "", err
			}
			task.State = StateDone
			return text, nil

		case StateFailed:
			task.State = StateFailed
			msg := data.ErrMsg
			if msg == "" {
				msg = "service reported failure"
			}
			log.Error("extraction failed", "err_msg", msg)
			return "", &TaskError{Kind: ErrExtractionFailed, TaskID: task.ID, Message: msg}

		case StatePending, StateRunning:
			task.State = data.State
			if p := task.Progress; p != nil {
				log.Info("extraction in progress", "state", data.State, "pages", p.ExtractedPages, "total_pages", p.TotalPages)
			} else {
				log.Info("extraction in progress", "state", data.State)
			}

		default:
			log.Warn("unknown task state", "state", data.State)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(Status{
				TaskID:   task.ID,
				State:    data.State,
				Progress: task.Progress,
				Elapsed:  time.Since(start),
			})
		}
		timer.Reset(opts.PollInterval)
	}
}

// Extract submits documentURL and waits for its text.
func (c *Client) Extract(ctx context.Context, documentURL string, topts TaskOptions, aopts AwaitOptions) (string, error) {
	task, err := c.Submit(ctx, documentURL, topts)
	if err != nil {
		return "", err
	}
	return c.Await(ctx, task, aopts)
}

func (c *Client) cancelled(task *Task, cause error) error {
	task.State = StateCancelled
	c.log.Info("extraction wait cancelled", "task_id", task.ID, "polls", task.Polls)
	return &TaskError{Kind: ErrCancelled, TaskID: task.ID, Err: cause}
}

// pollDetached runs one status query outside ctx's cancellation so an
// in-flight request is never torn down; the caller stops waiting on cancel.
func (c *Client) pollDetached(ctx context.Context, taskID string) (taskData, error) {
	type result struct {
		data taskData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := c.fetchStatus(context.WithoutCancel(ctx), taskID)
		ch <- result{d, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return taskData{}, ctx.Err()
	}
}

// fetchStatus returns a *TaskError for replies that waiting cannot fix; any
// other error is transient.
func (c *Client) fetchStatus(ctx context.Context, taskID string) (taskData, error) {
	status, body, err := c.call(ctx, OpPoll, http.MethodGet, "/extract/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return taskData{}, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return taskData{}, &RetryableError{StatusCode: status, Message: string(body)}
	default:
		return taskData{}, &TaskError{Kind: ErrExtractionFailed, TaskID: taskID, Message: fmt.Sprintf("status %d: %s", status, truncate(string(body), 200))}
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return taskData{}, fmt.Errorf("decode poll response: %w", err)
	}
	if resp.Code != 0 {
		msg := resp.Msg
		if msg == "" {
			msg = fmt.Sprintf("service code %d", resp.Code)
		}
		return taskData{}, &TaskError{Kind: ErrExtractionFailed, TaskID: taskID, Message: msg}
	}
	return resp.Data, nil
}

func (c *Client) fetchResult(ctx context.Context, task *Task, zipURL string) (string, error) {
	if zipURL == "" {
		task.State = StateFailed
		return "", &TaskError{Kind: ErrCorruptResult, TaskID: task.ID, Message: "done without full_zip_url"}
	}
	data, err := c.download(ctx, zipURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", c.cancelled(task, ctx.Err())
		}
		task.State = StateFailed
		return "", &TaskError{Kind: ErrCorruptResult, TaskID: task.ID, Message: "download archive", Err: err}
	}

	name, text, err := textFromArchive(data)
	if err != nil {
		task.State = StateFailed
		kind := ErrCorruptResult
		if errors.Is(err, ErrNoContentInArchive) {
			kind = ErrNoContentInArchive
		}
		return "", &TaskError{Kind: kind, TaskID: task.ID, Err: err}
	}
	c.log.Info("extraction result read", "task_id", task.ID, "entry", name, "chars", len([]rune(text)))
	return text, nil
}

func (c *Client) download(ctx context.Context, zipURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	start := time.Now()
	data, err := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download: status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	}()
	c.stats.Record(OpDownload, time.Since(start), err != nil)
	return data, err
}

// call performs one control request with its own timeout and returns the
// status and body. Only transport failures are errors.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.stats.Record(op, time.Since(start), true)
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxControlBody))
	c.stats.Record(op, time.Since(start), err != nil || resp.StatusCode != http.StatusOK)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return resp.StatusCode, respBody, nil
}
