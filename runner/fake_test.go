package runner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/snapdiff/internal/config"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeBrowser hands out pages built by newPage, one per attempt.
type fakeBrowser struct {
	newPage func(n int) *fakePage

	mu     sync.Mutex
	pages  []*fakePage
	active atomic.Int32
	peak   atomic.Int32
}

func (b *fakeBrowser) NewPage(_ context.Context, p config.Project) (Page, error) {
	b.mu.Lock()
	page := b.newPage(len(b.pages))
	page.browser = b
	page.project = p
	b.pages = append(b.pages, page)
	b.mu.Unlock()

	n := b.active.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return page, nil
}

func (b *fakeBrowser) all() []*fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakePage(nil), b.pages...)
}

type fakePage struct {
	browser *fakeBrowser
	project config.Project

	shot      []byte
	html      string
	images    []Image
	navErr    error
	blockLoad bool
	navDelay  time.Duration

	mu     sync.Mutex
	calls  []string
	url    string
	slept  []time.Duration
	closed bool
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.calls = append(p.calls, "navigate")
	p.mu.Unlock()
	if p.navDelay > 0 {
		select {
		case <-time.After(p.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.navErr
}

func (p *fakePage) WaitLoad(ctx context.Context) error {
	p.record("load")
	if p.blockLoad {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePage) WaitDOMContentLoaded(context.Context) error {
	p.record("domcontentloaded")
	return nil
}

func (p *fakePage) VisibleImages(context.Context) ([]Image, error) {
	p.record("images")
	return p.images, nil
}

func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	p.record("screenshot")
	return p.shot, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.record("html")
	return p.html, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.browser.active.Add(-1)
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.record("click " + sel)
	return nil
}

func (p *fakePage) Fill(_ context.Context, sel, _ string) error {
	p.record("fill " + sel)
	return nil
}

func (p *fakePage) Hover(_ context.Context, sel string) error {
	p.record("hover " + sel)
	return nil
}

func (p *fakePage) Scroll(context.Context, float64, float64) error {
	p.record("scroll")
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, sel string) error {
	p.record("wait_visible " + sel)
	return nil
}

func (p *fakePage) Eval(context.Context, string) error {
	p.record("eval")
	return nil
}

func (p *fakePage) Sleep(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	p.slept = append(p.slept, d)
	p.mu.Unlock()
	return nil
}

// fakeImage becomes complete after readyAfter polls of Complete.
type fakeImage struct {
	name       string
	readyAfter int32
	width      int
	polls      atomic.Int32
	scrolled   atomic.Bool
}

func (i *fakeImage) Describe() string { return i.name }

func (i *fakeImage) ScrollIntoView(context.Context) error {
	i.scrolled.Store(true)
	return nil
}

func (i *fakeImage) Complete(context.Context) (bool, error) {
	if i.readyAfter < 0 {
		return false, errors.New("still loading")
	}
	return i.polls.Add(1) > i.readyAfter, nil
}

func (i *fakeImage) NaturalWidth(context.Context) (int, error) { return i.width, nil }
func (i *fakeImage) Visible(context.Context) (bool, error)     { return true, nil }
func (i *fakeImage) Attached(context.Context) (bool, error)    { return true, nil }
