package extract

import (
	"time"
)

// State is an extraction task state. The service reports pending, running,
// done and failed; the rest are tracked by the client.
type State string

const (
	StateCreated   State = "created"
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Progress is the page counter reported while a task runs.
type Progress struct {
	ExtractedPages int `json:"extracted_pages"`
	TotalPages     int `json:"total_pages"`
}

// Task is a submitted extraction job. It is mutated only by Await.
type Task struct {
	ID          string    `json:"task_id"`
	URL         string    `json:"url"`
	SubmittedAt time.Time `json:"submitted_at"`
	State       State     `json:"state"`
	Progress    *Progress `json:"progress,omitempty"`
	Polls       int       `json:"polls"`
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	return t.State.Terminal()
}

// Status is what Await reports to observers after each successful poll.
type Status struct {
	TaskID   string
	State    State
	Progress *Progress
	Elapsed  time.Duration
}

// TaskOptions are the recognition switches sent with a submission.
type TaskOptions struct {
	OCR      bool   `json:"ocr" mapstructure:"ocr"`
	Formula  bool   `json:"formula" mapstructure:"formula"`
	Table    bool   `json:"table" mapstructure:"table"`
	Language string `json:"language" mapstructure:"language"`
}

// DefaultTaskOptions returns the options the service is normally driven with.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{
		OCR:      false,
		Formula:  true,
		Table:    true,
		Language: "ch",
	}
}

const (
	DefaultMaxWait      = 600 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// AwaitOptions bound the polling loop. Zero durations take the defaults.
type AwaitOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	OnProgress   func(Status)
}

func (o AwaitOptions) withDefaults() AwaitOptions {
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}
