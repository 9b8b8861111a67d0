/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval provides half-open time interval arithmetic. A Span covers
// [Start, End); two spans that merely touch at an endpoint do not overlap.
package interval

import "time"

// Span is a half-open [Start, End) time interval.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// IsValid reports whether the span covers at least one instant.
func (s Span) IsValid() bool {
	return s.Start.Before(s.End)
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Overlaps reports whether two spans share any instant.
// a starts before b ends AND b starts before a ends.
func Overlaps(a, b Span) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Clip returns the intersection of s with bound. ok is false when the
// intersection is empty.
func Clip(s, bound Span) (Span, bool) {
	out := Span{
		Start: MaxTime(s.Start, bound.Start),
		End:   MinTime(s.End, bound.End),
	}
	if !out.IsValid() {
		return Span{}, false
	}
	return out, true
}

// MaxTime returns the later of two instants.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinTime returns the earlier of two instants.
func MinTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
