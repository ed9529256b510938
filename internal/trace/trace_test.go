package trace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "Test for the primary component", "Moto G4", 1)
	ctx := context.Background()

	if err := r.Step(ctx, "navigate", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("not visible")
	if err := r.Step(ctx, "images", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Step must return fn's error, got %v", err)
	}
	if err := r.Attach("failure.png", []byte("png")); err != nil {
		t.Fatal(err)
	}

	path, err := r.Save()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Trace
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Attempt != 1 || got.Project != "Moto G4" {
		t.Errorf("header: %+v", got)
	}
	if len(got.Steps) != 2 || got.Steps[0].Name != "navigate" || got.Steps[1].Error != "not visible" {
		t.Errorf("steps: %+v", got.Steps)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Name != "failure.png" {
		t.Errorf("attachments: %+v", got.Attachments)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	ran := false
	if err := r.Step(context.Background(), "x", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("nil recorder must still run the step")
	}
	if err := r.Attach("a", nil); err != nil {
		t.Fatal(err)
	}
	if p, err := r.Save(); p != "" || err != nil {
		t.Errorf("Save: got %q, %v", p, err)
	}
}
