// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package fieldpath models dotted document paths such as "array.status".
//
// A Path is an immutable value. Positional update markers ("$", "$[]",
// "$[name]") are kept as ordinary segments so callers can locate them;
// StripPositional removes them when a path is compared against a tracked
// field path.
package fieldpath

import (
	"strings"
)

// Path is a dotted document path split into segments.
type Path struct {
	segments []string
}

// Parse splits a dotted path. Empty segments are dropped.
func Parse(s string) Path {
	if s == "" {
		return Path{}
	}
	parts := strings.Split(s, ".")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return Path{segments: segs}
}

// FromSegments builds a path from already split segments.
func FromSegments(segs ...string) Path {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return Path{segments: out}
}

// String joins the segments with dots.
func (p Path) String() string {
	return strings.Join(p.segments, ".")
}

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// IsZero reports whether the path has no segments.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Last returns the final segment, or "" for the zero path.
func (p Path) Last() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its final segment.
func (p Path) Parent() Path {
	if len(p.segments) <= 1 {
		return Path{}
	}
	return Path{segments: p.segments[:len(p.segments)-1 : len(p.segments)-1]}
}

// Child appends segments, returning a new path.
func (p Path) Child(segs ...string) Path {
	out := make([]string, 0, len(p.segments)+len(segs))
	out = append(out, p.segments...)
	for _, s := range segs {
		out = append(out, Parse(s).segments...)
	}
	return Path{segments: out}
}

// Equal reports segment-wise equality.
func (p Path) Equal(q Path) bool {
	if len(p.segments) != len(q.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != q.segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is a segment-wise prefix of p. Every path
// has the zero path as a prefix, and every path is a prefix of itself.
func (p Path) HasPrefix(q Path) bool {
	if len(q.segments) > len(p.segments) {
		return false
	}
	for i := range q.segments {
		if p.segments[i] != q.segments[i] {
			return false
		}
	}
	return true
}

// TrimPrefix removes q from the front of p.
func (p Path) TrimPrefix(q Path) (Path, bool) {
	if !p.HasPrefix(q) {
		return p, false
	}
	rest := p.segments[len(q.segments):]
	return Path{segments: append([]string(nil), rest...)}, true
}

// Ancestors returns the strict prefixes of p, most specific first.
func (p Path) Ancestors() []Path {
	if len(p.segments) <= 1 {
		return nil
	}
	out := make([]Path, 0, len(p.segments)-1)
	for n := len(p.segments) - 1; n >= 1; n-- {
		out = append(out, Path{segments: p.segments[:n:n]})
	}
	return out
}

// Positional returns the index of the first positional segment, or -1.
func (p Path) Positional() int {
	for i, s := range p.segments {
		if IsPositional(s) {
			return i
		}
	}
	return -1
}

// IsPositional reports whether a segment is "$", "$[]" or "$[name]".
func IsPositional(seg string) bool {
	if seg == "$" {
		return true
	}
	return strings.HasPrefix(seg, "$[") && strings.HasSuffix(seg, "]")
}

// Identifier returns the array filter identifier of a "$[name]" segment.
// It returns "" for "$" and "$[]".
func Identifier(seg string) string {
	if !strings.HasPrefix(seg, "$[") || !strings.HasSuffix(seg, "]") {
		return ""
	}
	return seg[2 : len(seg)-1]
}

// StripPositional drops positional markers and numeric array indexes, so
// "array.$[elem].status" and "array.0.status" both become "array.status".
func StripPositional(s string) string {
	p := Parse(s)
	out := p.segments[:0:0]
	for _, seg := range p.segments {
		if IsPositional(seg) || isIndex(seg) {
			continue
		}
		out = append(out, seg)
	}
	return strings.Join(out, ".")
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
