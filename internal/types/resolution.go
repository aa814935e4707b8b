// Package types provides the records shared by the acquisition pipeline: candidates, tasks, manifest entries and archived artifacts.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is one fixed output quality tier. Its string form is the
// directory token used in the archive layout.
type Resolution string

const (
	// Res4K is the 3840x2160 tier
	Res4K Resolution = "4k"
	// Res2K is the 2560x1440 tier
	Res2K Resolution = "2k"
	// Res1K is the 1920x1080 tier
	Res1K Resolution = "1k"
)

// Box is a bounding box in pixels.
type Box struct {
	Width  int
	Height int
}

// Fits reports whether a w x h image is inside the box.
func (b Box) Fits(w, h int) bool {
	return w <= b.Width && h <= b.Height
}

func (b Box) String() string {
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// AllResolutions lists every tier, highest first.
func AllResolutions() []Resolution {
	return []Resolution{Res4K, Res2K, Res1K}
}

// Box returns the target box of the tier.
func (r Resolution) Box() Box {
	switch r {
	case Res4K:
		return Box{Width: 3840, Height: 2160}
	case Res2K:
		return Box{Width: 2560, Height: 1440}
	case Res1K:
		return Box{Width: 1920, Height: 1080}
	default:
		return Box{}
	}
}

// Rank orders tiers; a higher rank is a higher resolution. Unknown tiers rank 0.
func (r Resolution) Rank() int {
	switch r {
	case Res4K:
		return 3
	case Res2K:
		return 2
	case Res1K:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a known tier.
func (r Resolution) Valid() bool {
	return r.Rank() > 0
}

// ParseResolutions parses tier tokens, drops duplicates and returns them highest first.
func ParseResolutions(tokens []string) ([]Resolution, error) {
	seen := make(map[Resolution]bool, len(tokens))
	out := make([]Resolution, 0, len(tokens))
	for _, tok := range tokens {
		r := Resolution(strings.ToLower(strings.TrimSpace(tok)))
		if !r.Valid() {
			return nil, fmt.Errorf("unsupported resolution %q (expected 4k, 2k or 1k)", tok)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	SortResolutions(out)
	return out, nil
}

// SortResolutions sorts tiers highest first in place.
func SortResolutions(rs []Resolution) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Rank() > rs[j].Rank() })
}
