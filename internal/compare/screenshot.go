package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/orisano/pixelmatch"
)

var (
	// ErrMismatch is wrapped by MismatchError.
	ErrMismatch = errors.New("compare: screenshot mismatch")
	// ErrMissingBaseline is returned when no baseline exists and the run is
	// not updating baselines. The captured screenshot is written as the new
	// baseline regardless.
	ErrMissingBaseline = errors.New("compare: missing baseline")
)

// MismatchError describes a screenshot that differs from its baseline by
// more than the allowed ratio.
type MismatchError struct {
	DiffPixels int
	Ratio      float64
	Allowed    float64
	// SizeMismatch is set when the images have different dimensions.
	SizeMismatch bool
	Expected     image.Rectangle
	Actual       image.Rectangle
	// Diff marks the differing pixels in red over a faded copy of the
	// baseline. Nil on a size mismatch.
	Diff      image.Image
	Artifacts []string
}

func (e *MismatchError) Error() string {
	if e.SizeMismatch {
		return fmt.Sprintf("compare: screenshot size %dx%d differs from baseline %dx%d",
			e.Actual.Dx(), e.Actual.Dy(), e.Expected.Dx(), e.Expected.Dy())
	}
	return fmt.Sprintf("compare: %d pixels (ratio %.4f) differ, allowed ratio %.4f",
		e.DiffPixels, e.Ratio, e.Allowed)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Options configures a Matcher.
type Options struct {
	// MaxDiffPixelRatio is the fraction of pixels allowed to differ. Default: 0.07.
	MaxDiffPixelRatio float64
	// Threshold is the per-pixel colour distance (0..1) below which pixels
	// count as equal. Default: 0.2.
	Threshold float64
	// Timeout bounds screenshot retries. Default: 10s.
	Timeout time.Duration
	// Interval between screenshot retries. Default: 250ms.
	Interval time.Duration
	// Update overwrites baselines that no longer match.
	Update bool
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxDiffPixelRatio <= 0 {
		o.MaxDiffPixelRatio = 0.07
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.2
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ShotFunc captures a PNG screenshot.
type ShotFunc func(ctx context.Context) ([]byte, error)

// Outcome reports a passed (or updated) comparison.
type Outcome struct {
	DiffPixels int
	Ratio      float64
	Updated    bool
	Baseline   string
}

// Matcher compares screenshots with baselines held in a Store.
type Matcher struct {
	store Store
	opts  Options
}

// NewMatcher creates a Matcher.
func NewMatcher(store Store, opts Options) *Matcher {
	opts.defaults()
	return &Matcher{store: store, opts: opts}
}

// Store returns the baseline store.
func (m *Matcher) Store() Store { return m.store }

// MatchScreenshot captures screenshots until one matches the baseline of key
// or the timeout elapses. Without a baseline, a stable capture (two
// consecutive identical screenshots) is written as the baseline.
func (m *Matcher) MatchScreenshot(ctx context.Context, key Key, shoot ShotFunc) (*Outcome, error) {
	log := m.opts.Logger

	data, err := m.store.ReadBaseline(key)
	if errors.Is(err, ErrMissingBaseline) {
		shot, err := m.stableShot(ctx, shoot)
		if err != nil {
			return nil, err
		}
		path, err := m.store.WriteBaseline(key, shot)
		if err != nil {
			return nil, err
		}
		log.Info("compare: baseline written", "path", path)
		if m.opts.Update {
			return &Outcome{Updated: true, Baseline: path}, nil
		}
		return nil, fmt.Errorf("%w: wrote %s, rerun to compare", ErrMissingBaseline, path)
	}
	if err != nil {
		return nil, err
	}

	expected, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compare: decode baseline %s: %w", m.store.BaselinePath(key), err)
	}

	if m.opts.Update {
		return m.update(ctx, key, expected, shoot)
	}

	rctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	var (
		lastShot []byte
		lastErr  *MismatchError
		fatal    error
		outcome  *Outcome
	)
	err = retry.Do(func() error {
		shot, err := shoot(rctx)
		if err != nil {
			fatal = err
			return retry.Unrecoverable(err)
		}
		actual, err := png.Decode(bytes.NewReader(shot))
		if err != nil {
			fatal = fmt.Errorf("compare: decode screenshot: %w", err)
			return retry.Unrecoverable(fatal)
		}
		res, err := m.diff(expected, actual)
		if err != nil {
			fatal = err
			return retry.Unrecoverable(err)
		}
		if res != nil {
			lastShot, lastErr = shot, res
			return res
		}
		outcome = &Outcome{Baseline: m.store.BaselinePath(key)}
		return nil
	},
		retry.Context(rctx),
		retry.Attempts(0),
		retry.Delay(m.opts.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if outcome != nil {
		return outcome, nil
	}
	if fatal != nil {
		return nil, fatal
	}
	if lastErr == nil {
		return nil, fmt.Errorf("compare: screenshot: %w", err)
	}

	lastErr.Artifacts = m.writeArtifacts(key, data, lastShot, lastErr.Diff)
	log.Warn("compare: screenshot mismatch",
		"baseline", m.store.BaselinePath(key), "ratio", lastErr.Ratio, "pixels", lastErr.DiffPixels)
	return nil, lastErr
}

func (m *Matcher) update(ctx context.Context, key Key, expected image.Image, shoot ShotFunc) (*Outcome, error) {
	shot, err := m.stableShot(ctx, shoot)
	if err != nil {
		return nil, err
	}
	actual, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("compare: decode screenshot: %w", err)
	}
	res, err := m.diff(expected, actual)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Outcome{Baseline: m.store.BaselinePath(key)}, nil
	}
	path, err := m.store.WriteBaseline(key, shot)
	if err != nil {
		return nil, err
	}
	m.opts.Logger.Info("compare: baseline updated", "path", path, "ratio", res.Ratio)
	return &Outcome{DiffPixels: res.DiffPixels, Ratio: res.Ratio, Updated: true, Baseline: path}, nil
}

// diff returns nil when actual is within tolerance of expected.
func (m *Matcher) diff(expected, actual image.Image) (*MismatchError, error) {
	eb, ab := expected.Bounds(), actual.Bounds()
	if eb.Dx() != ab.Dx() || eb.Dy() != ab.Dy() {
		return &MismatchError{
			Ratio:        1,
			Allowed:      m.opts.MaxDiffPixelRatio,
			SizeMismatch: true,
			Expected:     eb,
			Actual:       ab,
		}, nil
	}
	total := eb.Dx() * eb.Dy()
	if total == 0 {
		return nil, nil
	}
	var overlay image.Image
	n, err := pixelmatch.MatchPixel(expected, actual,
		pixelmatch.Threshold(m.opts.Threshold),
		pixelmatch.DiffColor(diffRed),
		pixelmatch.WriteTo(&overlay),
	)
	if err != nil {
		return nil, fmt.Errorf("compare: pixelmatch: %w", err)
	}
	ratio := float64(n) / float64(total)
	if ratio <= m.opts.MaxDiffPixelRatio {
		return nil, nil
	}
	return &MismatchError{DiffPixels: n, Ratio: ratio, Allowed: m.opts.MaxDiffPixelRatio, Diff: overlay}, nil
}

// stableShot captures until two consecutive screenshots are identical. When
// the timeout elapses first, the last capture is used.
func (m *Matcher) stableShot(ctx context.Context, shoot ShotFunc) ([]byte, error) {
	prev, err := shoot(ctx)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(m.opts.Timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.Interval):
		}
		cur, err := shoot(ctx)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(prev, cur) {
			return cur, nil
		}
		prev = cur
	}
	m.opts.Logger.Warn("compare: page did not settle, using last screenshot")
	return prev, nil
}

func (m *Matcher) writeArtifacts(key Key, expectedPNG, actualPNG []byte, diff image.Image) []string {
	var paths []string
	write := func(name string, data []byte) {
		p, err := m.store.WriteOutput(key, name, data)
		if err != nil {
			m.opts.Logger.Error("compare: write artifact failed", "name", name, "error", err)
			return
		}
		paths = append(paths, p)
	}
	write("expected.png", expectedPNG)
	write("actual.png", actualPNG)
	if diff != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, diff); err != nil {
			m.opts.Logger.Error("compare: encode diff failed", "error", err)
		} else {
			write("diff.png", buf.Bytes())
		}
	}
	return paths
}

var diffRed = color.RGBA{R: 255, A: 255}
