package pipeline

import (
	"time"

	"github.com/dgallion1/docprompt/internal/chunker"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/prompt"
)

// RunConfig holds the per-document options. Start from DefaultRunConfig;
// zero chunk size and zero durations are read as "use the default".
type RunConfig struct {
	ChunkSize            int         `json:"chunk_size"`
	ChunkOverlap         int         `json:"chunk_overlap"`
	EnableCleaning       bool        `json:"enable_cleaning"`
	EnableSplitting      bool        `json:"enable_splitting"`
	EnablePromptBuilding bool        `json:"enable_prompt_building"`
	PromptTemplate       prompt.Kind `json:"prompt_template"`
	MaxWaitSeconds       int         `json:"max_wait_seconds"`
	PollIntervalSeconds  int         `json:"poll_interval_seconds"`

	TaskDescription string              `json:"task_description,omitempty"`
	ExtraContext    map[string]string   `json:"extra_context,omitempty"`
	TaskOptions     extract.TaskOptions `json:"task_options"`
}

// DefaultRunConfig returns the documented defaults.
func DefaultRunConfig() RunConfig {
	cc := chunker.DefaultConfig()
	return RunConfig{
		ChunkSize:            cc.ChunkSize,
		ChunkOverlap:         cc.ChunkOverlap,
		EnableCleaning:       true,
		EnableSplitting:      true,
		EnablePromptBuilding: true,
		PromptTemplate:       prompt.KnowledgeExtraction,
		MaxWaitSeconds:       int(extract.DefaultMaxWait / time.Second),
		PollIntervalSeconds:  int(extract.DefaultPollInterval / time.Second),
		TaskOptions:          extract.DefaultTaskOptions(),
	}
}

func (c RunConfig) withDefaults() RunConfig {
	d := DefaultRunConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = d.PromptTemplate
	}
	if c.MaxWaitSeconds <= 0 {
		c.MaxWaitSeconds = d.MaxWaitSeconds
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = d.PollIntervalSeconds
	}
	if c.TaskOptions.Language == "" {
		c.TaskOptions.Language = d.TaskOptions.Language
	}
	return c
}

// ChunkConfig returns the splitter settings.
func (c RunConfig) ChunkConfig() chunker.Config {
	return chunker.Config{ChunkSize: c.ChunkSize, ChunkOverlap: c.ChunkOverlap}
}

// MaxWait is the extraction polling budget.
func (c RunConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// PollInterval is the pause between extraction polls.
func (c RunConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c RunConfig) request() prompt.Request {
	return prompt.Request{TaskDescription: c.TaskDescription, ExtraContext: c.ExtraContext}
}
