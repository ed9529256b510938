package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOnChange_DebouncesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "*.yaml")}, Options{Debounce: 150 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.OnChange(ctx, func(changed []string) error {
			calls <- changed
			return nil
		})
	}()

	// Give the loop a moment to start selecting.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "buttons.yaml"), "tests: [a]")
	writeFile(t, filepath.Join(dir, "buttons.yaml"), "tests: [a, b]")
	writeFile(t, filepath.Join(dir, "nav.yaml"), "tests: [c]")

	select {
	case changed := <-calls:
		if len(changed) != 2 || filepath.Base(changed[0]) != "buttons.yaml" || filepath.Base(changed[1]) != "nav.yaml" {
			t.Errorf("changed: %v", changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case extra := <-calls:
		t.Errorf("burst fired twice, extra call with %v", extra)
	case <-time.After(400 * time.Millisecond):
	}

	if w.Version() != 1 {
		t.Errorf("Version: got %d, want 1", w.Version())
	}
	if s := w.Stats(); s.Reloads != 1 || s.Events < 2 {
		t.Errorf("Stats: %+v", s)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("OnChange: got %v, want context.Canceled", err)
	}
}

func TestOnChange_ActionErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapdiff.yaml")
	w, err := New([]string{path}, Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := make(chan struct{}, 4)
	n := 0
	go w.OnChange(ctx, func([]string) error {
		n++
		calls <- struct{}{}
		if n == 1 {
			return errors.New("run failed")
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 2; i++ {
		writeFile(t, path, "workers: 1")
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("change %d not reported", i+1)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.Version() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s := w.Stats(); s.Errors != 1 || s.Reloads != 1 {
		t.Errorf("Stats: %+v", s)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New([]string{filepath.Join(t.TempDir(), "missing", "*.yaml")}, Options{}); err == nil {
		t.Error("missing directory accepted")
	}
	if _, err := New([]string{"[bad"}, Options{}); err == nil {
		t.Error("malformed pattern accepted")
	}
}
