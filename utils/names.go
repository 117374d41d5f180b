package utils

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
)

var teamPalette = []string{
	"#ef4444", "#3b82f6", "#22c55e", "#f59e0b",
	"#a855f7", "#14b8a6", "#ec4899", "#f97316",
	"#6366f1", "#84cc16", "#06b6d4", "#e11d48",
}

// NormalizeName trims and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NameKey is the case-insensitive identity used for per-event name uniqueness.
func NameKey(name string) string {
	return cases.Fold().String(NormalizeName(name))
}

// EventSlug builds the readable path segment of a share link, e.g. "summer-cup-3f2a9c1d".
func EventSlug(name, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	base := slug.Make(name)
	if base == "" {
		return short
	}
	if len(base) > 60 {
		base = strings.TrimRight(base[:60], "-")
	}
	return fmt.Sprintf("%s-%s", base, short)
}

// PickTeamColor returns a palette color for the n-th team of an event.
func PickTeamColor(n int) string {
	if n < 0 {
		n = 0
	}
	return teamPalette[n%len(teamPalette)]
}
