// Package config loads service settings from DOCPROMPT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgallion1/docprompt/internal/chunker"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/spf13/viper"
)

// Extraction modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Extraction service
	ExtractMode         string
	ExtractBaseURL      string
	ExtractToken        string
	ExtractModelVersion string
	StatsWindow         time.Duration

	// Pathstore sink; disabled when the URL is empty.
	PathstoreURL          string
	PathstoreAPIKey       string
	PathstoreLinkSequence bool
	MaxConcurrentStore    int

	// Worker pool
	WorkerCount    int
	MaxQueueSize   int
	PromptWorkers  int
	JobTTL         time.Duration
	CleanupEvery   time.Duration
	MaxUploadBytes int64

	// Run defaults
	DefaultChunkSize    int
	DefaultChunkOverlap int
	DefaultTemplate     string
	MaxWaitSeconds      int
	PollIntervalSeconds int
	Language            string
	EnableOCR           bool
	EnableFormula       bool
	EnableTable         bool

	// Upload strategies
	UploadForms     []FormEndpoint
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Prefix        string
	S3PresignExpiry time.Duration

	LogLevel  string
	LogFormat string
}

// FormEndpoint is one multipart upload host, configured as name=url.
type FormEndpoint struct {
	Name string
	URL  string
}

// Load reads configuration from the environment.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("DOCPROMPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8090")
	v.SetDefault("api_key", "")

	v.SetDefault("extract_mode", ModeRemote)
	v.SetDefault("extract_base_url", "https://mineru.net/api/v4")
	v.SetDefault("extract_token", "")
	v.SetDefault("extract_model_version", "vlm")
	v.SetDefault("stats_window", "1h")

	v.SetDefault("pathstore_url", "")
	v.SetDefault("pathstore_api_key", "")
	v.SetDefault("pathstore_link_sequence", false)
	v.SetDefault("max_concurrent_store", 10)

	v.SetDefault("worker_count", 4)
	v.SetDefault("max_queue_size", 100)
	v.SetDefault("prompt_workers", 8)
	v.SetDefault("job_ttl", "1h")
	v.SetDefault("cleanup_interval", "5m")
	v.SetDefault("max_upload_bytes", 52428800) // 50MB

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("prompt_template", string(prompt.KnowledgeExtraction))
	v.SetDefault("max_wait_seconds", 600)
	v.SetDefault("poll_interval_seconds", 10)
	v.SetDefault("language", "ch")
	v.SetDefault("enable_ocr", false)
	v.SetDefault("enable_formula", true)
	v.SetDefault("enable_table", true)

	v.SetDefault("upload_forms", "")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_prefix", "uploads")
	v.SetDefault("s3_presign_expiry", "1h")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	port := v.GetString("port")
	// Hosting platforms set PORT; it applies unless DOCPROMPT_PORT is set.
	if p := os.Getenv("PORT"); p != "" && os.Getenv("DOCPROMPT_PORT") == "" {
		port = p
	}

	cfg := Config{
		Port:   port,
		APIKey: v.GetString("api_key"),

		ExtractMode:         strings.ToLower(v.GetString("extract_mode")),
		ExtractBaseURL:      v.GetString("extract_base_url"),
		ExtractToken:        v.GetString("extract_token"),
		ExtractModelVersion: v.GetString("extract_model_version"),
		StatsWindow:         v.GetDuration("stats_window"),

		PathstoreURL:          v.GetString("pathstore_url"),
		PathstoreAPIKey:       v.GetString("pathstore_api_key"),
		PathstoreLinkSequence: v.GetBool("pathstore_link_sequence"),
		MaxConcurrentStore:    v.GetInt("max_concurrent_store"),

		WorkerCount:    v.GetInt("worker_count"),
		MaxQueueSize:   v.GetInt("max_queue_size"),
		PromptWorkers:  v.GetInt("prompt_workers"),
		JobTTL:         v.GetDuration("job_ttl"),
		CleanupEvery:   v.GetDuration("cleanup_interval"),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),

		DefaultChunkSize:    v.GetInt("chunk_size"),
		DefaultChunkOverlap: v.GetInt("chunk_overlap"),
		DefaultTemplate:     v.GetString("prompt_template"),
		MaxWaitSeconds:      v.GetInt("max_wait_seconds"),
		PollIntervalSeconds: v.GetInt("poll_interval_seconds"),
		Language:            v.GetString("language"),
		EnableOCR:           v.GetBool("enable_ocr"),
		EnableFormula:       v.GetBool("enable_formula"),
		EnableTable:         v.GetBool("enable_table"),

		UploadForms:     parseForms(v.GetString("upload_forms")),
		S3Bucket:        v.GetString("s3_bucket"),
		S3Region:        v.GetString("s3_region"),
		S3Endpoint:      v.GetString("s3_endpoint"),
		S3AccessKey:     v.GetString("s3_access_key"),
		S3SecretKey:     v.GetString("s3_secret_key"),
		S3Prefix:        v.GetString("s3_prefix"),
		S3PresignExpiry: v.GetDuration("s3_presign_expiry"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: strings.ToLower(v.GetString("log_format")),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.PromptWorkers <= 0 {
		cfg.PromptWorkers = 8
	}
	if cfg.MaxConcurrentStore <= 0 {
		cfg.MaxConcurrentStore = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 5 * time.Minute
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = time.Hour
	}

	return cfg
}

// parseForms reads "name=url,name=url". An entry without a name is named
// after its host.
func parseForms(s string) []FormEndpoint {
	var out []FormEndpoint
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, u, ok := strings.Cut(entry, "=")
		if !ok {
			u = entry
			name = strings.TrimPrefix(strings.TrimPrefix(entry, "https://"), "http://")
			name, _, _ = strings.Cut(name, "/")
		}
		out = append(out, FormEndpoint{Name: strings.TrimSpace(name), URL: strings.TrimSpace(u)})
	}
	return out
}

// Validate checks the settings every binary needs.
func (c Config) Validate() error {
	switch c.ExtractMode {
	case ModeRemote:
		if c.ExtractToken == "" {
			return fmt.Errorf("DOCPROMPT_EXTRACT_TOKEN is required in %s mode", ModeRemote)
		}
	case ModeLocal:
	default:
		return fmt.Errorf("DOCPROMPT_EXTRACT_MODE must be %q or %q, got %q", ModeRemote, ModeLocal, c.ExtractMode)
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		return errors.New("DOCPROMPT_PATHSTORE_API_KEY is required when DOCPROMPT_PATHSTORE_URL is set")
	}
	if err := (chunker.Config{ChunkSize: c.DefaultChunkSize, ChunkOverlap: c.DefaultChunkOverlap}).Validate(); err != nil {
		return fmt.Errorf("chunk defaults: %w", err)
	}
	if _, err := prompt.ParseKind(c.DefaultTemplate); err != nil {
		return fmt.Errorf("DOCPROMPT_PROMPT_TEMPLATE: %w", err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("DOCPROMPT_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// ValidateServer adds the checks only the HTTP service needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("DOCPROMPT_API_KEY is required")
	}
	return nil
}

// RunConfig returns the per-document defaults. Call after Validate.
func (c Config) RunConfig() pipeline.RunConfig {
	rc := pipeline.DefaultRunConfig()
	rc.ChunkSize = c.DefaultChunkSize
	rc.ChunkOverlap = c.DefaultChunkOverlap
	if k, err := prompt.ParseKind(c.DefaultTemplate); err == nil {
		rc.PromptTemplate = k
	}
	rc.MaxWaitSeconds = c.MaxWaitSeconds
	rc.PollIntervalSeconds = c.PollIntervalSeconds
	rc.TaskOptions.Language = c.Language
	rc.TaskOptions.OCR = c.EnableOCR
	rc.TaskOptions.Formula = c.EnableFormula
	rc.TaskOptions.Table = c.EnableTable
	return rc
}

// OrchestratorConfig returns the worker pool settings.
func (c Config) OrchestratorConfig() pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		Workers:         c.WorkerCount,
		QueueSize:       c.MaxQueueSize,
		JobTTL:          c.JobTTL,
		CleanupInterval: c.CleanupEvery,
	}
}
