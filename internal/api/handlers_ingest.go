package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/parser"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/dgallion1/docprompt/internal/upload"
	"github.com/go-chi/chi/v5"
)

const maxJSONBody = 1 << 20

// remoteExtensions are the file types the extraction service accepts.
var remoteExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".png": true, ".jpg": true, ".jpeg": true,
}

type createJobRequest struct {
	Source string          `json:"source"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		jsonError(w, "source is required", http.StatusBadRequest)
		return
	}
	if !upload.IsRemote(source) {
		jsonError(w, "source must be an http(s) URL; upload local files to /api/jobs/upload", http.StatusBadRequest)
		return
	}

	cfg, err := s.decodeRunConfig(req.Config)
	if err == nil {
		err = validateRunConfig(&cfg)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.submit(w, pipeline.NewJob(source, cfg))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !s.acceptsFile(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	cfg, err := s.decodeRunConfig(json.RawMessage(r.FormValue("config")))
	if err == nil {
		err = formOverrides(r, &cfg)
	}
	if err == nil {
		err = validateRunConfig(&cfg)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dir, err := os.MkdirTemp("", "docprompt-upload-*")
	if err != nil {
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	dst := filepath.Join(dir, filename)
	n, err := saveFile(dst, file, s.cfg.MaxUploadBytes+1)
	if err != nil {
		os.RemoveAll(dir)
		s.log.Error("saving upload failed", "filename", filename, "error", err)
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	if n > s.cfg.MaxUploadBytes {
		os.RemoveAll(dir)
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	job := pipeline.NewJob(dst, cfg)
	job.Filename = filename
	job.OnFinish(func() { os.RemoveAll(dir) })
	if !s.submit(w, job) {
		os.RemoveAll(dir)
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	switch snap.Status {
	case pipeline.StatusCompleted:
		res, _ := job.Result()
		writeJSON(w, http.StatusOK, map[string]any{"job": snap, "result": res})
	case pipeline.StatusFailed:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "job failed",
			"stage":  snap.Stage,
			"errors": snap.Progress.Errors,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "job not finished",
			"status": snap.Status,
		})
	}
}

// submit queues job and writes the 202 reply, or the error. It reports
// whether the job was accepted.
func (s *Server) submit(w http.ResponseWriter, job *pipeline.Job) bool {
	if err := s.jobs.Submit(job); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			code = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), code)
		return false
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     pipeline.StatusQueued,
		"poll_url":   "/api/jobs/" + job.ID,
		"result_url": "/api/jobs/" + job.ID + "/result",
	})
	return true
}

func (s *Server) acceptsFile(name string) bool {
	if s.cfg.ExtractMode == config.ModeLocal {
		return parser.IsSupportedExtension(name)
	}
	return remoteExtensions[strings.ToLower(filepath.Ext(name))]
}

// decodeRunConfig overlays raw JSON on the server defaults.
func (s *Server) decodeRunConfig(raw json.RawMessage) (pipeline.RunConfig, error) {
	cfg := s.defaults
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// formOverrides applies the flat multipart fields chunk_size, chunk_overlap
// and prompt_template.
func formOverrides(r *http.Request, cfg *pipeline.RunConfig) error {
	for field, dst := range map[string]*int{"chunk_size": &cfg.ChunkSize, "chunk_overlap": &cfg.ChunkOverlap} {
		v := r.FormValue(field)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer", field)
		}
		*dst = n
	}
	if v := r.FormValue("prompt_template"); v != "" {
		cfg.PromptTemplate = prompt.Kind(v)
	}
	return nil
}

func validateRunConfig(cfg *pipeline.RunConfig) error {
	kind, err := prompt.ParseKind(string(cfg.PromptTemplate))
	if err != nil {
		return err
	}
	cfg.PromptTemplate = kind
	if cfg.EnableSplitting {
		if err := cfg.ChunkConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func saveFile(dst string, src io.Reader, limit int64) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(src, limit))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" || name == "_" {
		name = "unnamed"
	}
	return name
}
