package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a suite declared in YAML:
//
//	name: buttons
//	tests:
//	  - buttons/primary
//	  - slug: buttons/menu
//	    steps:
//	      - {action: click, selector: "#open"}
//	  - slug: {master: card/v1, test: card/v2}
type File struct {
	Name    string      `yaml:"name"`
	Entries []fileEntry `yaml:"tests"`

	path string
}

// Path returns the file the suite was loaded from.
func (f *File) Path() string { return f.path }

// Suite returns the validated entries of the file, in declaration order.
func (f *File) Suite() []Entry {
	out := make([]Entry, len(f.Entries))
	for i, e := range f.Entries {
		out[i] = e.entry
	}
	return out
}

type fileEntry struct {
	entry Entry
}

type diffNode struct {
	Master string `yaml:"master"`
	Test   string `yaml:"test"`
}

func (e *fileEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r := RouteEntry{Slug: node.Value}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		e.entry = r
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: %w: expected a slug or a mapping", node.Line, ErrInvalidEntry)
	}

	var raw struct {
		Slug  yaml.Node `yaml:"slug"`
		Steps []Step    `yaml:"steps"`
		Only  bool      `yaml:"only"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	steps, err := Steps(raw.Steps...)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	var entry Entry
	switch raw.Slug.Kind {
	case yaml.ScalarNode:
		entry = RouteEntry{Slug: raw.Slug.Value, Steps: steps, Only: raw.Only}
	case yaml.MappingNode:
		var d diffNode
		if err := raw.Slug.Decode(&d); err != nil {
			return err
		}
		entry = ComparisonEntry{Master: d.Master, Test: d.Test, Steps: steps, Only: raw.Only}
	default:
		return fmt.Errorf("line %d: %w: missing slug", node.Line, ErrInvalidEntry)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	e.entry = entry
	return nil
}

// Parse decodes a suite from YAML bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("suite: parse: %w", err)
	}
	return &f, nil
}

// LoadFile reads a YAML suite file. A missing name defaults to the file's
// base name without extension.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite: read: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// LoadGlobs loads every suite file matching the patterns, in pattern order
// and then lexical order within a pattern. Files matched twice load once.
func LoadGlobs(patterns ...string) ([]*File, error) {
	seen := make(map[string]bool)
	var files []*File
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("suite: glob %q: %w", p, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			f, err := LoadFile(m)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}
