package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/docprompt/internal/chunker"
	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/pathstore"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

type fakeRunner struct {
	mu   sync.Mutex
	jobs map[string]*pipeline.Job
	err  error
}

func (f *fakeRunner) Submit(job *pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.jobs == nil {
		f.jobs = make(map[string]*pipeline.Job)
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeRunner) GetJob(id string) *pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeRunner) only(t *testing.T) *pipeline.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.jobs, 1)
	for _, j := range f.jobs {
		return j
	}
	return nil
}

type fakeDocs struct {
	children []pathstore.ListChildrenResponse
	nodes    map[string]*pathstore.NodeResponse
	deleted  []string
}

func (f *fakeDocs) ListChildren(_ context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error) {
	return f.children, nil
}

func (f *fakeDocs) GetNode(_ context.Context, key string) (*pathstore.NodeResponse, error) {
	return f.nodes[key], nil
}

func (f *fakeDocs) DeleteNode(_ context.Context, key string, recursive bool) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		APIKey:              testKey,
		ExtractMode:         config.ModeRemote,
		MaxUploadBytes:      1024,
		DefaultChunkSize:    1000,
		DefaultChunkOverlap: 200,
		DefaultTemplate:     "knowledge_extraction",
		Language:            "ch",
		EnableFormula:       true,
		EnableTable:         true,
	}
}

func newTestServer(runner JobRunner, docs DocumentStore, cfg config.Config) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(runner, docs, extract.NewLatencyStats(0), log, cfg)
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth_NoAuth(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid api key", decode(t, rec)["error"])
}

func TestCreateJob(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, testConfig())

	body := `{"source":"https://example.com/paper.pdf","config":{"chunk_size":500,"prompt_template":"QA-Generation","extra_context":{"domain":"bio"}}}`
	rec := do(t, srv, http.MethodPost, "/api/jobs", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode(t, rec)
	job := runner.only(t)
	assert.Equal(t, job.ID, out["job_id"])
	assert.Equal(t, "/api/jobs/"+job.ID, out["poll_url"])
	assert.Equal(t, "queued", out["status"])

	cfg := job.Config()
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, prompt.QAGeneration, cfg.PromptTemplate)
	assert.Equal(t, "bio", cfg.ExtraContext["domain"])
	assert.True(t, cfg.EnableCleaning)
	assert.Equal(t, "ch", cfg.TaskOptions.Language)
}

func TestCreateJob_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid request body"},
		{"no source", `{"source":"  "}`, "source is required"},
		{"local path", `{"source":"/etc/passwd"}`, "http(s) URL"},
		{"bad template", `{"source":"https://e.com/a.pdf","config":{"prompt_template":"poem"}}`, "unknown prompt template"},
		{"bad overlap", `{"source":"https://e.com/a.pdf","config":{"chunk_size":100,"chunk_overlap":100}}`, "invalid chunk config"},
		{"unknown field", `{"source":"https://e.com/a.pdf","config":{"chunks":5}}`, "invalid config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			srv := newTestServer(runner, nil, testConfig())
			rec := do(t, srv, http.MethodPost, "/api/jobs", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
			assert.Empty(t, runner.jobs)
		})
	}
}

func TestCreateJob_QueueFull(t *testing.T) {
	srv := newTestServer(&fakeRunner{err: pipeline.ErrQueueFull}, nil, testConfig())
	rec := do(t, srv, http.MethodPost, "/api/jobs", strings.NewReader(`{"source":"https://e.com/a.pdf"}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, testConfig())

	body, ct := multipartBody(t, "../../report.pdf", "%PDF-1.4 fake", map[string]string{
		"chunk_size": "400",
		"config":     `{"enable_cleaning":false}`,
	})
	rec := do(t, srv, http.MethodPost, "/api/jobs/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	job := runner.only(t)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(job.Source)) })
	assert.Equal(t, "report.pdf", job.Filename)
	assert.Equal(t, 400, job.Config().ChunkSize)
	assert.False(t, job.Config().EnableCleaning)

	data, err := os.ReadFile(job.Source)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))
}

func TestUpload_UnsupportedType(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())
	body, ct := multipartBody(t, "notes.csv", "a,b", nil)
	rec := do(t, srv, http.MethodPost, "/api/jobs/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unsupported file type")
}

func TestUpload_LocalModeAcceptsParserTypes(t *testing.T) {
	cfg := testConfig()
	cfg.ExtractMode = config.ModeLocal
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, cfg)

	body, ct := multipartBody(t, "notes.csv", "a,b\n1,2\n", nil)
	rec := do(t, srv, http.MethodPost, "/api/jobs/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := runner.only(t)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(job.Source)) })
	assert.Equal(t, "notes.csv", job.Filename)
}

func TestUpload_TooLarge(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())
	body, ct := multipartBody(t, "big.pdf", strings.Repeat("x", 2048), nil)
	rec := do(t, srv, http.MethodPost, "/api/jobs/upload", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpload_RunnerStopped(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrStopped}
	srv := newTestServer(runner, nil, testConfig())
	body, ct := multipartBody(t, "a.pdf", "x", nil)
	rec := do(t, srv, http.MethodPost, "/api/jobs/upload", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobStatusAndResult(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, testConfig())

	job := pipeline.NewJob("https://e.com/a.pdf", pipeline.DefaultRunConfig())
	require.NoError(t, runner.Submit(job))

	rec := do(t, srv, http.MethodGet, "/api/jobs/"+job.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	rec = do(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	res := &pipeline.Result{
		CleanedText: "# A\nbody",
		ContentHash: "abcdef0123456789ff",
		Chunks:      []chunker.Chunk{chunker.WholeText("# A\nbody")},
		Prompts:     []prompt.Record{prompt.RawRecord("# A\nbody", "chunk_0001")},
	}
	job.Complete(res, "abcdef0123456789")

	rec = do(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	result := out["result"].(map[string]any)
	assert.Equal(t, "# A\nbody", result["cleaned_text"])
	assert.Len(t, result["prompts"], 1)
	assert.Equal(t, "abcdef0123456789", out["job"].(map[string]any)["doc_id"])

	rec = do(t, srv, http.MethodGet, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResult_Failed(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, testConfig())

	job := pipeline.NewJob("https://e.com/a.pdf", pipeline.DefaultRunConfig())
	require.NoError(t, runner.Submit(job))
	job.AddError("stage extract: task t1: extraction timed out")
	job.SetStatus(pipeline.StatusFailed, pipeline.StageExtract)

	rec := do(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "extract", out["stage"])
	assert.Len(t, out["errors"], 1)
}

func TestExtractStats(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())
	rec := do(t, srv, http.MethodGet, "/api/stats/extract", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "stats")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bare := NewServer(&fakeRunner{}, nil, nil, log, testConfig())
	rec = do(t, bare, http.MethodGet, "/api/stats/extract", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocuments(t *testing.T) {
	docs := &fakeDocs{
		children: []pathstore.ListChildrenResponse{
			{Key: "docprompt/documents/abcdef0123456789/meta", Value: map[string]any{"prompts": 3}},
			{Key: "docprompt/documents/abcdef0123456789/prompts/prompt_0001", Value: map[string]any{}},
			{Key: "docprompt/other", Value: nil},
		},
		nodes: map[string]*pathstore.NodeResponse{
			"docprompt/documents/abcdef0123456789/meta": {Value: map[string]any{"prompts": float64(3)}},
		},
	}
	srv := newTestServer(&fakeRunner{}, docs, testConfig())

	rec := do(t, srv, http.MethodGet, "/api/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["documents"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "abcdef0123456789", list[0].(map[string]any)["doc_id"])

	rec = do(t, srv, http.MethodDelete, "/api/documents/abcdef0123456789", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["prompts"])
	assert.Equal(t, []string{"docprompt/documents/abcdef0123456789"}, docs.deleted)

	rec = do(t, srv, http.MethodDelete, "/api/documents/0000000000000000", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/documents/not-a-hash", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/documents?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocuments_NotConfigured(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, testConfig())
	rec := do(t, srv, http.MethodGet, "/api/documents", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":           "report.pdf",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\file.pdf`: "file.pdf",
		"..":                   "unnamed",
		"":                     "unnamed",
		"a..b.pdf":             "a_b.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
