package suite

import (
	"fmt"
	"strings"
)

// RootPath prefixes every slug to form the route path.
const RootPath = "/"

// DiffSlugs holds the root-prefixed paths of a comparison entry.
type DiffSlugs struct {
	Master string
	Test   string
}

// Descriptor is the canonical, immutable form of an entry.
type Descriptor struct {
	Slug        string
	Component   string
	Description string
	Path        string
	Screenshot  string
	HTML        string
	Steps       StepsFunc
	Diff        *DiffSlugs
	Only        bool
}

// Target returns the path to navigate to. Comparison descriptors go to the
// master route when seeding and to the test route otherwise.
func (d Descriptor) Target(seed bool) string {
	if d.Diff == nil {
		return d.Path
	}
	if seed {
		return d.Diff.Master
	}
	return d.Diff.Test
}

// Expand turns entries into descriptors, preserving order.
func Expand(entries []Entry) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(entries))
	for i, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: entry %d is nil", ErrInvalidEntry, i)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		switch e := e.(type) {
		case RouteEntry:
			out = append(out, newDescriptor(e.Slug, e.Steps, nil, e.Only))
		case ComparisonEntry:
			diff := &DiffSlugs{
				Master: RootPath + e.Master,
				Test:   RootPath + e.Test,
			}
			out = append(out, newDescriptor(ComparisonName(e.Master, e.Test), e.Steps, diff, e.Only))
		default:
			return nil, fmt.Errorf("%w: entry %d has unknown type %T", ErrInvalidEntry, i, e)
		}
	}
	return out, nil
}

func newDescriptor(slug string, steps StepsFunc, diff *DiffSlugs, only bool) Descriptor {
	component := ComponentName(slug)
	return Descriptor{
		Slug:        slug,
		Component:   component,
		Description: "Test for the " + component + " component",
		Path:        RootPath + slug,
		Screenshot:  slug + ".png",
		HTML:        slug + ".html",
		Steps:       steps,
		Diff:        diff,
		Only:        only,
	}
}

// ComponentName returns the second path segment of slug, or slug itself
// when there is none.
func ComponentName(slug string) string {
	parts := strings.Split(slug, "/")
	if len(parts) > 1 && parts[1] != "" {
		return parts[1]
	}
	return slug
}

// ComparisonName derives the synthetic slug of a comparison: the common
// leading part of both slugs is removed from each and the remainders are
// joined with "VS".
//
// The scan stops one short of the longer slug, so the last character of two
// slugs that are otherwise identical up to that point is never folded into
// the common part: ComparisonName("a/b", "a/b") is "bVSb".
func ComparisonName(master, test string) string {
	common := commonPrefix(master, test)
	m := strings.Replace(master, common, "", 1)
	t := strings.Replace(test, common, "", 1)
	return m + "VS" + t
}

// commonPrefix compares runes, so the prefix never ends inside a
// multi-byte character.
func commonPrefix(a, b string) string {
	ra, rb := []rune(a), []rune(b)
	n := max(len(ra), len(rb))
	var i int
	for i = 0; i < n-1; i++ {
		if i >= len(ra) || i >= len(rb) || ra[i] != rb[i] {
			break
		}
	}
	return string(ra[:i])
}
