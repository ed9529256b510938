package report

import (
	"context"
	"log/slog"
)

// Sink is the output interface for results. Record is called once per test
// case; Finish once per run, after the last Record.
type Sink interface {
	Record(ctx context.Context, r Result) error
	Finish(ctx context.Context, s Summary) error
	Close() error
}

// Router fans results out to all configured sinks. One sink error does not
// block the others: errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) Record(ctx context.Context, res Result) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Record(ctx, res); err != nil {
			r.logger.Warn("report: record failed", "test", res.Title, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Finish(ctx context.Context, sum Summary) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Finish(ctx, sum); err != nil {
			r.logger.Warn("report: finish failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RecordFunc is called for each result.
type RecordFunc func(ctx context.Context, r Result) error

// FinishFunc is called once per run.
type FinishFunc func(ctx context.Context, s Summary) error

// Callback delivers results via Go function calls, for embedding snapdiff
// in another program or test.
type Callback struct {
	onRecord RecordFunc
	onFinish FinishFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onRecord RecordFunc, onFinish FinishFunc) *Callback {
	return &Callback{onRecord: onRecord, onFinish: onFinish}
}

func (c *Callback) Record(ctx context.Context, r Result) error {
	if c.onRecord != nil {
		return c.onRecord(ctx, r)
	}
	return nil
}

func (c *Callback) Finish(ctx context.Context, s Summary) error {
	if c.onFinish != nil {
		return c.onFinish(ctx, s)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
