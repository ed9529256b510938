package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hazyhaar/snapdiff/internal/compare"
	"github.com/hazyhaar/snapdiff/internal/config"
	"github.com/hazyhaar/snapdiff/internal/trace"
)

// outcome collects what an attempt learned, pass or fail.
type outcome struct {
	warnings   []string
	artifacts  []string
	diffPixels int
	ratio      float64
	updated    bool
}

// recorder returns the trace recorder for an attempt, or nil when tracing
// is off for it. Retries write next to the first attempt with a -retryN suffix.
func (r *Runner) recorder(c Case, attempt int) *trace.Recorder {
	switch r.cfg.Trace {
	case config.TraceOn:
	case config.TraceOnFirstRetry:
		if attempt != 1 {
			return nil
		}
	default:
		return nil
	}
	dir := r.shots.Store().OutputPath(c.screenshotKey())
	if attempt > 0 {
		dir += "-retry" + strconv.Itoa(attempt)
	}
	return trace.New(dir, c.Title(), c.Project.Name, attempt)
}

// attempt runs the procedure once in a fresh page under the per-test deadline.
func (r *Runner) attempt(ctx context.Context, c Case, rec *trace.Recorder) (outcome, error) {
	var out outcome
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	page, err := r.browser.NewPage(ctx, c.Project)
	if err != nil {
		return out, asTimeout(ctx, "new page", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Debug("runner: close page", "error", err)
		}
	}()

	err = r.procedure(ctx, c, page, rec, &out)
	if err == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: test exceeded %s: %w", ErrTimeout, r.cfg.Timeout, err)
	}
	if rec != nil {
		// The attempt context may be gone; give the capture its own budget.
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if shot, serr := page.Screenshot(sctx, false); serr == nil {
			rec.Attach("failure.png", shot)
		}
		scancel()
	}
	return out, err
}

// procedure navigates to the case target, waits for the page and its
// images, runs the interaction steps and compares the screenshot.
func (r *Runner) procedure(ctx context.Context, c Case, page Page, rec *trace.Recorder, out *outcome) error {
	d := c.Descriptor

	target, err := resolve(r.cfg.BaseURL, d.Target(r.cfg.Seed))
	if err != nil {
		return err
	}
	if err := rec.Step(ctx, "navigate "+target, func(ctx context.Context) error {
		return asTimeout(ctx, "navigate", page.Navigate(ctx, target))
	}); err != nil {
		return err
	}

	var images []Image
	if err := rec.Step(ctx, "collect images", func(ctx context.Context) error {
		var err error
		images, err = page.VisibleImages(ctx)
		return asTimeout(ctx, "collect images", err)
	}); err != nil {
		return err
	}

	if err := rec.Step(ctx, "wait load", func(ctx context.Context) error {
		return asTimeout(ctx, "wait load", page.WaitLoad(ctx))
	}); err != nil {
		return err
	}
	if err := rec.Step(ctx, "wait domcontentloaded", func(ctx context.Context) error {
		return asTimeout(ctx, "wait domcontentloaded", page.WaitDOMContentLoaded(ctx))
	}); err != nil {
		return err
	}

	for i, img := range images {
		if err := rec.Step(ctx, "image ready "+img.Describe(), func(ctx context.Context) error {
			return r.imageReady(ctx, i, img)
		}); err != nil {
			return err
		}
	}

	if len(images) > 0 && r.cfg.Seed {
		if err := rec.Step(ctx, "seed settle", func(ctx context.Context) error {
			return asTimeout(ctx, "seed settle", page.Sleep(ctx, r.cfg.Expect.SeedSettle))
		}); err != nil {
			return err
		}
	}

	if d.Steps != nil {
		if err := rec.Step(ctx, "steps", func(ctx context.Context) error {
			if err := d.Steps(ctx, page); err != nil {
				return asTimeout(ctx, "steps", err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if err := rec.Step(ctx, "screenshot", func(ctx context.Context) error {
		return r.matchScreenshot(ctx, c, page, out)
	}); err != nil {
		return err
	}

	r.matchHTML(ctx, c, page, out)
	return nil
}

func (r *Runner) imageReady(ctx context.Context, i int, img Image) error {
	if err := img.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("%w: image %d (%s): scroll into view: %w", ErrImageNotReady, i, img.Describe(), err)
	}
	checks := []struct {
		what string
		cond func(context.Context) (bool, error)
	}{
		{"complete", img.Complete},
		{"naturalWidth != 0", func(ctx context.Context) (bool, error) {
			w, err := img.NaturalWidth(ctx)
			return w != 0, err
		}},
		{"visible", img.Visible},
		{"attached", img.Attached},
	}
	for _, ch := range checks {
		if err := expect(ctx, r.cfg.Expect.Timeout, ch.what, ch.cond); err != nil {
			return fmt.Errorf("%w: image %d (%s): %w", ErrImageNotReady, i, img.Describe(), err)
		}
	}
	return nil
}

func (r *Runner) matchScreenshot(ctx context.Context, c Case, page Page, out *outcome) error {
	o, err := r.shots.MatchScreenshot(ctx, c.screenshotKey(), func(ctx context.Context) ([]byte, error) {
		return page.Screenshot(ctx, true)
	})
	if err != nil {
		var mm *compare.MismatchError
		if errors.As(err, &mm) {
			out.diffPixels = mm.DiffPixels
			out.ratio = mm.Ratio
			out.artifacts = append(out.artifacts, mm.Artifacts...)
			return err
		}
		if errors.Is(err, compare.ErrMissingBaseline) {
			out.artifacts = append(out.artifacts, r.shots.Store().BaselinePath(c.screenshotKey()))
			return err
		}
		return asTimeout(ctx, "screenshot", err)
	}
	out.diffPixels = o.DiffPixels
	out.ratio = o.Ratio
	out.updated = o.Updated
	return nil
}

// matchHTML records HTML drift as a warning; it never fails the test.
func (r *Runner) matchHTML(ctx context.Context, c Case, page Page, out *outcome) {
	html, err := page.HTML(ctx)
	if err != nil {
		out.warnings = append(out.warnings, "html snapshot: "+err.Error())
		return
	}
	o, err := r.html.Match(c.htmlKey(), html)
	switch {
	case err != nil:
		out.warnings = append(out.warnings, "html snapshot: "+err.Error())
	case o.Drift:
		out.warnings = append(out.warnings, "html drift: "+filepath.ToSlash(o.DiffPath))
		out.artifacts = append(out.artifacts, o.DiffPath)
	}
}

// resolve joins a route path onto the base URL.
func resolve(base, path string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("runner: base url: %w", err)
	}
	p, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("runner: path %q: %w", path, err)
	}
	return b.ResolveReference(p).String(), nil
}
