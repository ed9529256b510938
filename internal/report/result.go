// Package report defines test results and the sinks they are delivered to.
package report

import "time"

// Status is the final state of a test case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusFlaky   Status = "flaky" // failed, then passed on retry
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one test case (descriptor × project).
type Result struct {
	RunID       string        `json:"run_id"`
	Suite       string        `json:"suite"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Project     string        `json:"project"`
	Path        string        `json:"path"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
	DiffPixels  int           `json:"diff_pixels,omitempty"`
	DiffRatio   float64       `json:"diff_ratio,omitempty"`
	Updated     bool          `json:"updated,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Artifacts   []string      `json:"artifacts,omitempty"`
	Trace       string        `json:"trace,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Flaky    int           `json:"flaky"`
	Skipped  int           `json:"skipped"`
}

// Add counts r in the summary.
func (s *Summary) Add(r Result) {
	switch r.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusFlaky:
		s.Flaky++
	case StatusSkipped:
		s.Skipped++
	}
}

// Total is the number of counted results.
func (s Summary) Total() int { return s.Passed + s.Failed + s.Flaky + s.Skipped }

// OK reports whether the run had no failures.
func (s Summary) OK() bool { return s.Failed == 0 }
