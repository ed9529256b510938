package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapdiff/runner"
)

// Page adapts a Rod page to runner.Page. Every call binds the given context.
type Page struct {
	page      *rod.Page
	incognito *rod.Browser
	router    *rod.HijackRouter
	logger    *slog.Logger
}

var _ runner.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) WaitLoad(ctx context.Context) error {
	return p.page.Context(ctx).WaitLoad()
}

func (p *Page) WaitDOMContentLoaded(ctx context.Context) error {
	return p.page.Context(ctx).Wait(rod.Eval(`() => document.readyState !== "loading"`))
}

func (p *Page) VisibleImages(ctx context.Context) ([]runner.Image, error) {
	els, err := p.page.Context(ctx).Elements("img")
	if err != nil {
		return nil, fmt.Errorf("browser: query images: %w", err)
	}
	var out []runner.Image
	for i, el := range els {
		visible, err := el.Context(ctx).Visible()
		if err != nil {
			// Detached between query and check.
			continue
		}
		if !visible {
			continue
		}
		desc := fmt.Sprintf("img #%d", i)
		if src, err := el.Context(ctx).Attribute("src"); err == nil && src != nil {
			desc = fmt.Sprintf("img #%d src=%q", i, truncate(*src, 80))
		}
		out = append(out, &image{el: el, desc: desc})
	}
	return out, nil
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return html, nil
}

// Close closes the page and disposes of its incognito context.
func (p *Page) Close() error {
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.logger.Debug("browser: stop hijack router", "error", err)
		}
	}
	err := p.page.Close()
	if cerr := p.incognito.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("browser: close page: %w", err)
	}
	return nil
}

func (p *Page) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: element %q: %w", selector, err)
	}
	return el, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: fill %q: %w", selector, err)
	}
	return el.Input(value)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	_, err := p.page.Context(ctx).Eval(`(x, y) => window.scrollBy(x, y)`, dx, dy)
	return err
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

// Eval runs js as a function body.
func (p *Page) Eval(ctx context.Context, js string) error {
	if _, err := p.page.Context(ctx).Eval("async () => { " + js + "\n}"); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// image adapts a Rod element to runner.Image.
type image struct {
	el   *rod.Element
	desc string
}

func (i *image) Describe() string { return i.desc }

func (i *image) ScrollIntoView(ctx context.Context) error {
	return i.el.Context(ctx).ScrollIntoView()
}

func (i *image) Complete(ctx context.Context) (bool, error) {
	v, err := i.el.Context(ctx).Property("complete")
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (i *image) NaturalWidth(ctx context.Context) (int, error) {
	v, err := i.el.Context(ctx).Property("naturalWidth")
	if err != nil {
		return 0, err
	}
	return v.Int(), nil
}

func (i *image) Visible(ctx context.Context) (bool, error) {
	return i.el.Context(ctx).Visible()
}

func (i *image) Attached(ctx context.Context) (bool, error) {
	res, err := i.el.Context(ctx).Eval(`() => this.isConnected`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// truncate shortens s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
