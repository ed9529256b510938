package suite

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"unicode/utf8"
)

func TestExpand_RouteEntry(t *testing.T) {
	got, err := Expand(Routes("buttons/primary"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(got))
	}
	d := got[0]
	if d.Path != "/buttons/primary" {
		t.Errorf("Path: got %q, want %q", d.Path, "/buttons/primary")
	}
	if d.Screenshot != "buttons/primary.png" {
		t.Errorf("Screenshot: got %q", d.Screenshot)
	}
	if d.HTML != "buttons/primary.html" {
		t.Errorf("HTML: got %q", d.HTML)
	}
	if d.Component != "primary" {
		t.Errorf("Component: got %q, want %q", d.Component, "primary")
	}
	if d.Description != "Test for the primary component" {
		t.Errorf("Description: got %q", d.Description)
	}
	if d.Diff != nil {
		t.Errorf("Diff: got %+v, want nil", d.Diff)
	}
	if d.Target(true) != d.Path || d.Target(false) != d.Path {
		t.Error("route descriptor must navigate to Path in both modes")
	}
}

func TestExpand_BareStringProperties(t *testing.T) {
	for _, s := range []string{"home", "a/b", "forms/inputs/text", "x//y"} {
		got, err := Expand(Routes(s))
		if err != nil {
			t.Fatal(err)
		}
		d := got[0]
		if d.Path != "/"+s || d.Screenshot != s+".png" || d.HTML != s+".html" || d.Diff != nil {
			t.Errorf("%q: unexpected descriptor %+v", s, d)
		}
	}
}

func TestExpand_ComparisonEntry(t *testing.T) {
	got, err := Expand([]Entry{Compare("card/v1", "card/v2")})
	if err != nil {
		t.Fatal(err)
	}
	d := got[0]
	if d.Diff == nil {
		t.Fatal("Diff: got nil")
	}
	if d.Diff.Master != "/card/v1" || d.Diff.Test != "/card/v2" {
		t.Errorf("Diff: got %+v", *d.Diff)
	}
	if d.Slug != "1VS2" {
		t.Errorf("Slug: got %q, want %q", d.Slug, "1VS2")
	}
	// No "/" left in the synthetic slug, so the component falls back to it.
	if d.Component != "1VS2" {
		t.Errorf("Component: got %q, want %q", d.Component, "1VS2")
	}
	if d.Screenshot != "1VS2.png" {
		t.Errorf("Screenshot: got %q", d.Screenshot)
	}
	if d.Target(true) != "/card/v1" {
		t.Errorf("Target(seed): got %q", d.Target(true))
	}
	if d.Target(false) != "/card/v2" {
		t.Errorf("Target(compare): got %q", d.Target(false))
	}
}

func TestComparisonName(t *testing.T) {
	tests := []struct {
		master, test string
		want         string
	}{
		{"a/b/x", "a/b/y", "xVSy"},
		{"card/v1", "card/v2", "1VS2"},
		{"buttons/old", "buttons/new", "oldVSnew"},
		{"x", "y", "xVSy"},
		{"", "", "VS"},
		// Identical slugs: the last byte is never scanned, so it survives on both sides.
		{"a/b", "a/b", "bVSb"},
		{"abc", "abc", "cVSc"},
		// Differing only in the last byte.
		{"ab", "ac", "bVSc"},
		// One slug is a prefix of the other.
		{"a/b", "a/bc", "VSc"},
		{"a/bc", "a/b", "cVS"},
		// Multi-byte characters are compared whole.
		{"aé", "aé", "éVSé"},
		{"é", "è", "éVSè"},
		{"cartes/été", "cartes/étés", "VSs"},
	}
	for _, tt := range tests {
		got := ComparisonName(tt.master, tt.test)
		if got != tt.want {
			t.Errorf("ComparisonName(%q, %q) = %q, want %q", tt.master, tt.test, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("ComparisonName(%q, %q) = %q is not valid UTF-8", tt.master, tt.test, got)
		}
	}
}

func TestComponentName(t *testing.T) {
	tests := map[string]string{
		"buttons/primary": "primary",
		"a/b/c":           "b",
		"home":            "home",
		"a//b":            "a//b",
		"xVSy":            "xVSy",
	}
	for in, want := range tests {
		if got := ComponentName(in); got != want {
			t.Errorf("ComponentName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpand_PreservesOrder(t *testing.T) {
	entries := []Entry{Route("c"), Compare("a/1", "a/2"), Route("b")}
	got, err := Expand(entries)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "1VS2", "b"}
	for i, d := range got {
		if d.Slug != want[i] {
			t.Errorf("descriptor %d: got %q, want %q", i, d.Slug, want[i])
		}
	}
}

func TestExpand_Idempotent(t *testing.T) {
	entries := []Entry{Route("buttons/primary"), Compare("card/v1", "card/v2", Only())}
	a, err := Expand(entries)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Expand(entries)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("expansions differ:\n%+v\n%+v", a, b)
	}
	if a[1].Diff == b[1].Diff {
		t.Error("expansions share a DiffSlugs pointer")
	}
}

func TestExpand_StepsCarried(t *testing.T) {
	called := false
	fn := func(context.Context, Page) error { called = true; return nil }
	got, err := Expand([]Entry{Route("a/b", WithSteps(fn))})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Steps == nil {
		t.Fatal("Steps dropped")
	}
	got[0].Steps(context.Background(), nil)
	if !called {
		t.Error("carried Steps is not the supplied callback")
	}
}

func TestExpand_InvalidEntries(t *testing.T) {
	tests := []Entry{
		RouteEntry{},
		ComparisonEntry{Master: "a"},
		ComparisonEntry{Test: "b"},
		nil,
	}
	for _, e := range tests {
		if _, err := Expand([]Entry{Route("ok"), e}); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("Expand(%#v): got %v, want ErrInvalidEntry", e, err)
		}
	}
}
