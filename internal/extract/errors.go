package extract

import (
	"errors"
	"fmt"
	"strings"
)

// Submission failure causes.
var (
	ErrUnsupportedLocalPath = errors.New("local paths are not accepted, upload the file and pass its URL")
	ErrInvalidURL           = errors.New("document URL must be an absolute http(s) URL")
)

// Task failure kinds, matched with errors.Is against a *TaskError.
var (
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrTimeout            = errors.New("extraction timed out")
	ErrCorruptResult      = errors.New("corrupt extraction result")
	ErrNoContentInArchive = errors.New("no text entry in result archive")
	ErrCancelled          = errors.New("extraction cancelled")
)

// SubmissionError reports a task that could not be created. It is never retried.
type SubmissionError struct {
	URL        string
	StatusCode int    // HTTP status, 0 when no response was received
	Code       int    // service application code
	Message    string // service message
	Err        error
}

func (e *SubmissionError) Error() string {
	var sb strings.Builder
	sb.WriteString("submit extraction task")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d", e.StatusCode)
		if e.Code != 0 {
			fmt.Fprintf(&sb, ", code %d", e.Code)
		}
		sb.WriteString(")")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(truncate(e.Message, 200))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TaskError reports a submitted task that did not produce text.
// Kind is one of the Err* task sentinels; Err is the underlying cause, if any.
type TaskError struct {
	Kind    error
	TaskID  string
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	msg := fmt.Sprintf("task %s: %v", e.TaskID, e.Kind)
	if e.Message != "" {
		msg += ": " + truncate(e.Message, 200)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TaskError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTimeout reports whether err is a polling budget exhaustion. Callers may
// choose to resubmit in that case; the client never does.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Temporary is always true.
func (e *RetryableError) Temporary() bool { return true }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
