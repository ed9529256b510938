package suite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleSuite = `
name: components
tests:
  - buttons/primary
  - slug: buttons/menu
    steps:
      - {action: click, selector: "#open"}
      - {action: sleep, duration: 250ms}
  - slug: {master: card/v1, test: card/v2}
    only: true
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleSuite))
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "components" {
		t.Errorf("Name: got %q", f.Name)
	}
	entries := f.Suite()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	r, ok := entries[0].(RouteEntry)
	if !ok || r.Slug != "buttons/primary" || r.Steps != nil {
		t.Errorf("entry 0: got %#v", entries[0])
	}

	r, ok = entries[1].(RouteEntry)
	if !ok || r.Slug != "buttons/menu" || r.Steps == nil {
		t.Errorf("entry 1: got %#v", entries[1])
	}

	c, ok := entries[2].(ComparisonEntry)
	if !ok || c.Master != "card/v1" || c.Test != "card/v2" || !c.Only {
		t.Errorf("entry 2: got %#v", entries[2])
	}
}

func TestParse_StepsRunInOrder(t *testing.T) {
	f, err := Parse([]byte(sampleSuite))
	if err != nil {
		t.Fatal(err)
	}
	r := f.Suite()[1].(RouteEntry)

	p := &recordingPage{}
	if err := r.Steps(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	want := []string{"click #open", "sleep 250ms"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls: got %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, p.calls[i], want[i])
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty slug":       "tests:\n  - slug: ''\n",
		"missing slug":     "tests:\n  - only: true\n",
		"half comparison":  "tests:\n  - slug: {master: a}\n",
		"unknown action":   "tests:\n  - slug: a\n    steps: [{action: dance}]\n",
		"click w/o target": "tests:\n  - slug: a\n    steps: [{action: click}]\n",
		"sequence entry":   "tests:\n  - [a, b]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("got %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestLoadGlobs(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yaml", "tests: [b/one]\n")
	write("a.yaml", "name: alpha\ntests: [a/one, a/two]\n")

	files, err := LoadGlobs(filepath.Join(dir, "*.yaml"), filepath.Join(dir, "a.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Name != "alpha" || files[1].Name != "b" {
		t.Errorf("names: got %q, %q", files[0].Name, files[1].Name)
	}
	if len(files[0].Suite()) != 2 {
		t.Errorf("alpha entries: got %d", len(files[0].Suite()))
	}
	if files[1].Path() != filepath.Join(dir, "b.yaml") {
		t.Errorf("Path: got %q", files[1].Path())
	}
}

type recordingPage struct {
	calls []string
}

func (p *recordingPage) Click(_ context.Context, sel string) error {
	p.calls = append(p.calls, "click "+sel)
	return nil
}

func (p *recordingPage) Fill(_ context.Context, sel, v string) error {
	p.calls = append(p.calls, "fill "+sel+"="+v)
	return nil
}

func (p *recordingPage) Hover(_ context.Context, sel string) error {
	p.calls = append(p.calls, "hover "+sel)
	return nil
}

func (p *recordingPage) Scroll(context.Context, float64, float64) error {
	p.calls = append(p.calls, "scroll")
	return nil
}

func (p *recordingPage) WaitVisible(_ context.Context, sel string) error {
	p.calls = append(p.calls, "wait "+sel)
	return nil
}

func (p *recordingPage) Eval(_ context.Context, js string) error {
	p.calls = append(p.calls, "eval "+js)
	return nil
}

func (p *recordingPage) Sleep(_ context.Context, d time.Duration) error {
	p.calls = append(p.calls, "sleep "+d.String())
	return nil
}
