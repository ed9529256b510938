// Package suite declares visual-regression tests and expands them into
// canonical descriptors. A suite is an ordered list of entries; each entry
// is either a single route or a comparison between two related routes.
package suite

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned when an entry fails construction-time validation.
var ErrInvalidEntry = errors.New("suite: invalid entry")

// StepsFunc runs custom interactions on the page before the screenshot.
type StepsFunc func(ctx context.Context, p Page) error

// Entry is a test declaration. The concrete types are RouteEntry and
// ComparisonEntry.
type Entry interface {
	// Validate reports whether the entry is well formed.
	Validate() error
	entry()
}

// RouteEntry screenshots a single route against its stored baseline.
type RouteEntry struct {
	Slug  string
	Steps StepsFunc
	Only  bool
}

// ComparisonEntry screenshots one of two related routes. Master is
// captured as the baseline in seed mode, Test is compared against it
// otherwise.
type ComparisonEntry struct {
	Master string
	Test   string
	Steps  StepsFunc
	Only   bool
}

func (RouteEntry) entry()      {}
func (ComparisonEntry) entry() {}

func (e RouteEntry) Validate() error {
	if e.Slug == "" {
		return fmt.Errorf("%w: route slug is empty", ErrInvalidEntry)
	}
	return nil
}

func (e ComparisonEntry) Validate() error {
	if e.Master == "" || e.Test == "" {
		return fmt.Errorf("%w: comparison needs both master and test slugs (master=%q test=%q)",
			ErrInvalidEntry, e.Master, e.Test)
	}
	return nil
}

// Option customises an entry built with Route or Compare.
type Option func(*options)

type options struct {
	steps StepsFunc
	only  bool
}

// WithSteps attaches interaction steps run before the screenshot.
func WithSteps(fn StepsFunc) Option { return func(o *options) { o.steps = fn } }

// Only focuses the run on this entry (and other focused entries).
func Only() Option { return func(o *options) { o.only = true } }

// Route builds a RouteEntry.
func Route(slug string, opts ...Option) RouteEntry {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return RouteEntry{Slug: slug, Steps: o.steps, Only: o.only}
}

// Compare builds a ComparisonEntry.
func Compare(master, test string, opts ...Option) ComparisonEntry {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return ComparisonEntry{Master: master, Test: test, Steps: o.steps, Only: o.only}
}

// Routes is shorthand for a list of plain route entries.
func Routes(slugs ...string) []Entry {
	out := make([]Entry, len(slugs))
	for i, s := range slugs {
		out[i] = Route(s)
	}
	return out
}
