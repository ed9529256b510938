package history

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pkg/dbopen"

	"github.com/hazyhaar/snapdiff/internal/report"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRecordAndRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	if err := s.BeginRun(ctx, "run-1", start); err != nil {
		t.Fatal(err)
	}
	res := report.Result{
		RunID: "run-1", Title: "Test for the primary component", Slug: "buttons/primary",
		Project: "Moto G4", Path: "/buttons/primary", Status: report.StatusFailed, Attempts: 2,
		Duration: 1500 * time.Millisecond, Error: "mismatch", DiffPixels: 12, DiffRatio: 0.12,
		Artifacts: []string{"out/diff.png"}, CompletedAt: start.Add(time.Second),
	}
	if err := s.Record(ctx, res); err != nil {
		t.Fatal(err)
	}
	// Re-recording the same case replaces it.
	res.Status = report.StatusFlaky
	if err := s.Record(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx, report.Summary{RunID: "run-1", Started: start, Duration: 2 * time.Second, Flaky: 1}); err != nil {
		t.Fatal(err)
	}

	sum, results, err := s.Run(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Flaky != 1 || sum.Duration != 2*time.Second || !sum.Started.Equal(start) {
		t.Errorf("summary: %+v", sum)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	got := results[0]
	if got.Status != report.StatusFlaky || got.DiffPixels != 12 || got.Duration != 1500*time.Millisecond {
		t.Errorf("result: %+v", got)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0] != "out/diff.png" {
		t.Errorf("artifacts: %v", got.Artifacts)
	}
}

func TestRecord_SameSlugInTwoSuites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	for _, suite := range []string{"buttons", "cards"} {
		if err := s.Record(ctx, report.Result{
			RunID: "run-1", Suite: suite, Title: "Test for the card component", Slug: "shared/card",
			Project: "Moto G4", Path: "/shared/card", Status: report.StatusPassed, Attempts: 1,
			CompletedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}
	_, results, err := s.Run(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want one per suite", len(results))
	}
	if results[0].Suite == results[1].Suite {
		t.Errorf("suites: %q and %q", results[0].Suite, results[1].Suite)
	}
}

func TestRun_NotFound(t *testing.T) {
	s := newStore(t)
	if _, _, err := s.Run(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRunsAndFlaky(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, status := range []report.Status{report.StatusFailed, report.StatusPassed, report.StatusFlaky} {
		id := []string{"a", "b", "c"}[i]
		at := base.Add(time.Duration(i) * time.Minute)
		if err := s.BeginRun(ctx, id, at); err != nil {
			t.Fatal(err)
		}
		if err := s.Record(ctx, report.Result{
			RunID: id, Title: "t", Slug: "nav/menu", Project: "Desktop Chrome", Path: "/nav/menu",
			Status: status, Attempts: 1, CompletedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Runs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Errorf("runs: %+v", runs)
	}

	flaky, err := s.Flaky(ctx, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(flaky) != 1 || flaky[0].Slug != "nav/menu" || flaky[0].Count != 2 {
		t.Errorf("flaky: %+v", flaky)
	}

	hist, err := s.TestHistory(ctx, "nav/menu", "Desktop Chrome", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 || hist[0].RunID != "c" {
		t.Errorf("history: %+v", hist)
	}
}
