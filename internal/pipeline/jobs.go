package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a conversion job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusResolving  JobStatus = "resolving"
	StatusExtracting JobStatus = "extracting"
	StatusCleaning   JobStatus = "cleaning"
	StatusSplitting  JobStatus = "splitting"
	StatusPrompting  JobStatus = "prompting"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var stageStatus = map[Stage]JobStatus{
	StageConfigure: StatusQueued,
	StageResolve:   StatusResolving,
	StageExtract:   StatusExtracting,
	StageClean:     StatusCleaning,
	StageSplit:     StatusSplitting,
	StagePrompt:    StatusPrompting,
}

// Job tracks the state of a single document conversion.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Source   string `json:"source"`
	Filename string `json:"filename,omitempty"`

	Status JobStatus `json:"status"`
	Stage  Stage     `json:"stage"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	config  RunConfig
	result  *Result
	cleanup func()
	errors  []string
}

// Progress tracks processing progress.
type Progress struct {
	ExtractedPages int      `json:"extracted_pages"`
	TotalPages     int      `json:"total_pages"`
	Chunks         int      `json:"chunks"`
	Prompts        int      `json:"prompts"`
	Published      int      `json:"published"`
	Errors         []string `json:"errors"`
}

// NewJob creates a queued job for source.
func NewJob(source string, cfg RunConfig) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		config:    cfg,
	}
}

// Config returns the run configuration the job was queued with.
func (j *Job) Config() RunConfig {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.config
}

// OnFinish registers fn to run once the job reaches a terminal state, e.g.
// to remove an uploaded temp file.
func (j *Job) OnFinish(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleanup = fn
}

func (j *Job) finish() {
	j.mu.Lock()
	fn := j.cleanup
	j.cleanup = nil
	j.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs idle for longer than the TTL. Jobs still
// running are kept whatever their age.
func (s *JobStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, stage Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetPages records extraction page progress.
func (j *Job) SetPages(extracted, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ExtractedPages = extracted
	j.Progress.TotalPages = total
	j.UpdatedAt = time.Now()
}

// IncrPublished counts prompts handed to the sink.
func (j *Job) IncrPublished(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Published += n
	j.UpdatedAt = time.Now()
}

// Complete stores the result and marks the job completed.
func (j *Job) Complete(res *Result, docID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.DocID = docID
	j.ContentHash = res.ContentHash
	j.Progress.Chunks = len(res.Chunks)
	j.Progress.Prompts = len(res.Prompts)
	j.Status = StatusCompleted
	j.UpdatedAt = time.Now()
}

// Result returns the run result once the job has completed.
func (j *Job) Result() (*Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.Status == StatusCompleted
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	DocID       string    `json:"doc_id,omitempty"`
	Source      string    `json:"source"`
	Filename    string    `json:"filename,omitempty"`
	Status      JobStatus `json:"status"`
	Stage       Stage     `json:"stage,omitempty"`
	Progress    Progress  `json:"progress"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		Source:      j.Source,
		Filename:    j.Filename,
		Status:      j.Status,
		Stage:       j.Stage,
		Progress:    p,
		ContentHash: j.ContentHash,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
