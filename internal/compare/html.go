package compare

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pmezard/go-difflib/difflib"
)

// HTMLOutcome reports an HTML snapshot comparison. Drift is informational:
// the screenshot decides pass or fail.
type HTMLOutcome struct {
	Written  bool
	Drift    bool
	DiffPath string
}

// HTMLMatcher keeps sanitised HTML baselines and reports content drift as a
// unified diff of their markdown renderings.
type HTMLMatcher struct {
	store  Store
	update bool
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewHTMLMatcher creates an HTMLMatcher. With update set, drifted baselines
// are overwritten.
func NewHTMLMatcher(store Store, update bool) *HTMLMatcher {
	return &HTMLMatcher{
		store:  store,
		update: update,
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Sanitize strips scripts, styles and event handlers so that per-request
// nonces and inline bundles do not churn the baseline.
func (h *HTMLMatcher) Sanitize(html string) string {
	return h.policy.Sanitize(html)
}

// Match stores or compares the HTML snapshot of key.
func (h *HTMLMatcher) Match(key Key, html string) (*HTMLOutcome, error) {
	clean := h.Sanitize(html)

	data, err := h.store.ReadBaseline(key)
	if errors.Is(err, ErrMissingBaseline) {
		if _, err := h.store.WriteBaseline(key, []byte(clean)); err != nil {
			return nil, err
		}
		return &HTMLOutcome{Written: true}, nil
	}
	if err != nil {
		return nil, err
	}

	diff, err := h.Diff(string(data), clean)
	if err != nil {
		return nil, err
	}
	if diff == "" {
		return &HTMLOutcome{}, nil
	}

	out := &HTMLOutcome{Drift: true}
	if h.update {
		if _, err := h.store.WriteBaseline(key, []byte(clean)); err != nil {
			return nil, err
		}
		out.Written = true
	}
	path, err := h.store.WriteOutput(key, "html.diff", []byte(diff))
	if err != nil {
		return nil, err
	}
	out.DiffPath = path
	return out, nil
}

// Diff returns a unified diff between the markdown renderings of two HTML
// documents, or "" when they render the same.
func (h *HTMLMatcher) Diff(expected, actual string) (string, error) {
	a, err := h.markdown(expected)
	if err != nil {
		return "", err
	}
	b, err := h.markdown(actual)
	if err != nil {
		return "", err
	}
	if a == b {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
}

func (h *HTMLMatcher) markdown(html string) (string, error) {
	md, err := h.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("compare: html to markdown: %w", err)
	}
	return strings.TrimSpace(md) + "\n", nil
}
