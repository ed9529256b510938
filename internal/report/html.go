package report

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

//go:embed report.html.tmpl
var reportTemplate string

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(f float64) string { return strconv.FormatFloat(f*100, 'f', 2, 64) + "%" },
}).Parse(reportTemplate))

// HTMLReport collects results and writes a self-contained report directory
// on Finish: index.html, results.json and copies of the artifacts under data/.
type HTMLReport struct {
	dir string

	mu      sync.Mutex
	results []Result
}

// NewHTMLReport creates a report sink writing into dir.
func NewHTMLReport(dir string) *HTMLReport {
	return &HTMLReport{dir: dir}
}

// Dir returns the report directory.
func (h *HTMLReport) Dir() string { return h.dir }

func (h *HTMLReport) Record(_ context.Context, r Result) error {
	h.mu.Lock()
	h.results = append(h.results, r)
	h.mu.Unlock()
	return nil
}

type reportEntry struct {
	Result
	Links []reportLink
}

type reportLink struct {
	Name  string
	Href  string
	Image bool
}

type reportPage struct {
	Summary Summary
	Entries []reportEntry
}

// ReportFile is the JSON document written next to index.html.
type ReportFile struct {
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

func (h *HTMLReport) Finish(_ context.Context, s Summary) error {
	// Each run starts a fresh report.
	h.mu.Lock()
	results := h.results
	h.results = nil
	h.mu.Unlock()

	// Failures first, then by title and project.
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := statusRank(results[i].Status), statusRank(results[j].Status)
		if ri != rj {
			return ri < rj
		}
		if results[i].Title != results[j].Title {
			return results[i].Title < results[j].Title
		}
		return results[i].Project < results[j].Project
	})

	if err := os.RemoveAll(h.dir); err != nil {
		return fmt.Errorf("report: clean: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(h.dir, "data"), 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}

	page := reportPage{Summary: s}
	for i, r := range results {
		e := reportEntry{Result: r}
		files := append([]string(nil), r.Artifacts...)
		if r.Trace != "" {
			files = append(files, r.Trace)
		}
		for _, src := range files {
			rel := filepath.Join("data", strconv.Itoa(i), filepath.Base(src))
			if err := copyFile(src, filepath.Join(h.dir, rel)); err != nil {
				continue
			}
			e.Links = append(e.Links, reportLink{
				Name:  filepath.Base(src),
				Href:  filepath.ToSlash(rel),
				Image: filepath.Ext(src) == ".png",
			})
		}
		page.Entries = append(page.Entries, e)
	}

	data, err := json.MarshalIndent(ReportFile{Summary: s, Results: results}, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, "results.json"), data, 0o644); err != nil {
		return fmt.Errorf("report: write results: %w", err)
	}

	f, err := os.Create(filepath.Join(h.dir, "index.html"))
	if err != nil {
		return fmt.Errorf("report: create index: %w", err)
	}
	defer f.Close()
	if err := reportTmpl.Execute(f, page); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

func (h *HTMLReport) Close() error { return nil }

func statusRank(s Status) int {
	switch s {
	case StatusFailed:
		return 0
	case StatusFlaky:
		return 1
	case StatusPassed:
		return 2
	}
	return 3
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
