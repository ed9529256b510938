// Package trace records the steps of a test attempt so that a failed retry
// can be inspected afterwards. A nil *Recorder is valid and records nothing.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Step is one recorded step.
type Step struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Attachment is a file written next to the trace.
type Attachment struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Trace is the serialised form written to trace.json.
type Trace struct {
	Test        string       `json:"test"`
	Project     string       `json:"project"`
	Attempt     int          `json:"attempt"`
	Start       time.Time    `json:"start"`
	Steps       []Step       `json:"steps"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Recorder accumulates steps for one attempt. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	dir string
	t   Trace
}

// New creates a Recorder writing into dir.
func New(dir, test, project string, attempt int) *Recorder {
	return &Recorder{
		dir: dir,
		t: Trace{
			Test:    test,
			Project: project,
			Attempt: attempt,
			Start:   time.Now(),
		},
	}
}

// Step runs fn and records its duration and error.
func (r *Recorder) Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if r == nil {
		return fn(ctx)
	}
	start := time.Now()
	err := fn(ctx)
	s := Step{Name: name, Start: start, Duration: time.Since(start)}
	if err != nil {
		s.Error = err.Error()
	}
	r.mu.Lock()
	r.t.Steps = append(r.t.Steps, s)
	r.mu.Unlock()
	return err
}

// Attach writes data next to the trace and lists it in the trace.
func (r *Recorder) Attach(name string, data []byte) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("trace: mkdir: %w", err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("trace: attach: %w", err)
	}
	r.mu.Lock()
	r.t.Attachments = append(r.t.Attachments, Attachment{Name: name, Path: path})
	r.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the recorded trace.
func (r *Recorder) Snapshot() Trace {
	if r == nil {
		return Trace{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.t
	t.Steps = append([]Step(nil), r.t.Steps...)
	t.Attachments = append([]Attachment(nil), r.t.Attachments...)
	return t
}

// Save writes trace.json and returns its path.
func (r *Recorder) Save() (string, error) {
	if r == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("trace: marshal: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("trace: mkdir: %w", err)
	}
	path := filepath.Join(r.dir, "trace.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("trace: write: %w", err)
	}
	return path, nil
}
