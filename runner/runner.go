// Package runner drives a visual regression run: every descriptor is run
// once per project on a bounded worker pool, each attempt in a fresh
// isolated page, and results are delivered to a report sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pkg/idgen"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/snapdiff/internal/compare"
	"github.com/hazyhaar/snapdiff/internal/config"
	"github.com/hazyhaar/snapdiff/internal/report"
	"github.com/hazyhaar/snapdiff/suite"
)

var (
	// ErrOnlyForbidden is returned before anything runs when focused
	// entries exist and forbid-only is set.
	ErrOnlyForbidden = errors.New("runner: focused tests are forbidden")
	// ErrFailed is returned by Run when at least one test failed.
	ErrFailed = errors.New("runner: tests failed")
)

// NewRunID generates run identifiers: a UTC timestamp and a short random suffix.
var NewRunID = idgen.Timestamped(idgen.NanoID(6))

// Suite is a named list of descriptors, typically one suite file.
type Suite struct {
	Name        string
	Descriptors []suite.Descriptor
}

// Case is one descriptor run under one project.
type Case struct {
	Suite      string
	Descriptor suite.Descriptor
	Project    config.Project
}

// Title is the human-readable test name.
func (c Case) Title() string { return c.Descriptor.Description }

func (c Case) screenshotKey() compare.Key {
	return compare.Key{Project: c.Project.Dir(), Suite: c.Suite, File: c.Descriptor.Screenshot}
}

func (c Case) htmlKey() compare.Key {
	return compare.Key{Project: c.Project.Dir(), Suite: c.Suite, File: c.Descriptor.HTML}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithGrep keeps only tests whose title or slug matches re.
func WithGrep(re *regexp.Regexp) Option { return func(r *Runner) { r.grep = re } }

// WithProjects keeps only the named projects.
func WithProjects(names ...string) Option {
	return func(r *Runner) { r.projects = append(r.projects, names...) }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option { return func(r *Runner) { r.runID = id } }

// Runner executes cases. Create with New; a Runner may run several times
// (watch mode), each Run gets a new run ID unless one was set.
type Runner struct {
	cfg      *config.Config
	browser  Browser
	sink     report.Sink
	logger   *slog.Logger
	grep     *regexp.Regexp
	projects []string
	runID    string

	shots *compare.Matcher
	html  *compare.HTMLMatcher
}

// New creates a Runner. sink may be nil.
func New(cfg *config.Config, b Browser, sink report.Sink, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, browser: b, sink: sink}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.sink == nil {
		r.sink = report.NewRouter(r.logger)
	}
	update := cfg.UpdateSnapshots || cfg.Seed
	store := compare.Store{SnapshotDir: cfg.SnapshotDir, OutputDir: cfg.OutputDir}
	r.shots = compare.NewMatcher(store, compare.Options{
		MaxDiffPixelRatio: cfg.Expect.MaxDiffPixelRatio,
		Threshold:         cfg.Expect.Threshold,
		Timeout:           cfg.Expect.Timeout,
		Update:            update,
		Logger:            r.logger,
	})
	r.html = compare.NewHTMLMatcher(store, update)
	return r
}

// Cases expands suites into the cases to run, applying project and grep
// filters and focused entries.
func (r *Runner) Cases(suites []Suite) ([]Case, error) {
	projects, err := r.selectProjects()
	if err != nil {
		return nil, err
	}

	var focused []string
	for _, s := range suites {
		for _, d := range s.Descriptors {
			if d.Only {
				focused = append(focused, d.Slug)
			}
		}
	}
	if len(focused) > 0 && r.cfg.ForbidOnly {
		return nil, fmt.Errorf("%w: %s", ErrOnlyForbidden, strings.Join(focused, ", "))
	}

	var cases []Case
	for _, p := range projects {
		for _, s := range suites {
			for _, d := range s.Descriptors {
				if len(focused) > 0 && !d.Only {
					continue
				}
				if r.grep != nil && !r.grep.MatchString(d.Description) && !r.grep.MatchString(d.Slug) {
					continue
				}
				cases = append(cases, Case{Suite: s.Name, Descriptor: d, Project: p})
			}
		}
	}
	return cases, nil
}

func (r *Runner) selectProjects() ([]config.Project, error) {
	if len(r.projects) == 0 {
		return r.cfg.Projects, nil
	}
	byName := make(map[string]config.Project, len(r.cfg.Projects))
	for _, p := range r.cfg.Projects {
		byName[p.Name] = p
	}
	out := make([]config.Project, 0, len(r.projects))
	for _, name := range r.projects {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("runner: unknown project %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Run executes every case and returns the run summary. The error wraps
// ErrFailed when any test failed. Sink errors are logged, not returned.
func (r *Runner) Run(ctx context.Context, suites []Suite) (report.Summary, error) {
	cases, err := r.Cases(suites)
	if err != nil {
		return report.Summary{}, err
	}

	runID := r.runID
	if runID == "" {
		runID = NewRunID()
	}
	sum := report.Summary{RunID: runID, Started: time.Now()}
	log := r.logger.With("run", runID)
	log.Info("runner: run started", "tests", len(cases), "workers", r.cfg.Workers,
		"retries", r.cfg.Retries, "seed", r.cfg.Seed, "update", r.cfg.UpdateSnapshots)

	// Sinks still receive results of a cancelled run.
	sinkCtx := context.WithoutCancel(ctx)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(max(r.cfg.Workers, 1))
	for _, c := range cases {
		g.Go(func() error {
			res := r.runCase(ctx, log, c)
			res.RunID = runID

			mu.Lock()
			defer mu.Unlock()
			sum.Add(res)
			if err := r.sink.Record(sinkCtx, res); err != nil {
				log.Warn("runner: sink record failed", "test", res.Title, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	sum.Duration = time.Since(sum.Started)
	if err := r.sink.Finish(sinkCtx, sum); err != nil {
		log.Warn("runner: sink finish failed", "error", err)
	}
	log.Info("runner: run finished", "passed", sum.Passed, "failed", sum.Failed,
		"flaky", sum.Flaky, "skipped", sum.Skipped, "duration", sum.Duration)

	if !sum.OK() {
		return sum, fmt.Errorf("%w: %d of %d", ErrFailed, sum.Failed, sum.Total())
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("runner: run interrupted: %w", err)
	}
	return sum, nil
}

// runCase runs the attempts of one case and builds its result.
func (r *Runner) runCase(ctx context.Context, log *slog.Logger, c Case) (res report.Result) {
	d := c.Descriptor
	res = report.Result{
		Suite:   c.Suite,
		Title:   c.Title(),
		Slug:    d.Slug,
		Project: c.Project.Name,
		Path:    d.Target(r.cfg.Seed),
	}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		res.CompletedAt = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		res.Status = report.StatusSkipped
		res.Error = err.Error()
		return res
	}

	log = log.With("test", res.Title, "project", res.Project)
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		res.Attempts = attempt + 1
		rec := r.recorder(c, attempt)
		out, err := r.attempt(ctx, c, rec)
		if path, serr := rec.Save(); serr != nil {
			log.Warn("runner: save trace failed", "error", serr)
		} else if path != "" {
			res.Trace = path
		}
		res.Warnings = out.warnings
		res.Artifacts = out.artifacts
		res.DiffPixels = out.diffPixels
		res.DiffRatio = out.ratio
		res.Updated = out.updated

		if err == nil {
			res.Status = report.StatusPassed
			res.Error = ""
			if attempt > 0 {
				res.Status = report.StatusFlaky
			}
			log.Info("runner: test passed", "status", res.Status, "attempts", res.Attempts)
			return res
		}

		res.Status = report.StatusFailed
		res.Error = err.Error()
		log.Warn("runner: attempt failed", "attempt", attempt+1, "error", err)

		// The baseline was just written: a retry would compare against it.
		if errors.Is(err, compare.ErrMissingBaseline) || ctx.Err() != nil {
			break
		}
	}
	return res
}
