package runner

import (
	"context"

	"github.com/hazyhaar/snapdiff/internal/config"
	"github.com/hazyhaar/snapdiff/suite"
)

// Browser opens isolated pages. Each page lives in its own browser context
// and is emulating the given project.
type Browser interface {
	NewPage(ctx context.Context, project config.Project) (Page, error)
}

// Page is a browser tab under test. It is also the handle passed to
// interaction steps.
type Page interface {
	suite.Page

	Navigate(ctx context.Context, url string) error
	// WaitLoad waits for the load event.
	WaitLoad(ctx context.Context) error
	// WaitDOMContentLoaded waits until the document is no longer loading.
	WaitDOMContentLoaded(ctx context.Context) error
	// VisibleImages returns the img elements currently visible, in document order.
	VisibleImages(ctx context.Context) ([]Image, error)
	// Screenshot captures a PNG, of the full scrollable page when fullPage is set.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Image is an img element.
type Image interface {
	// Describe returns a short identification for error messages.
	Describe() string
	ScrollIntoView(ctx context.Context) error
	Complete(ctx context.Context) (bool, error)
	NaturalWidth(ctx context.Context) (int, error)
	Visible(ctx context.Context) (bool, error)
	Attached(ctx context.Context) (bool, error)
}
