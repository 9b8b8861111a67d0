/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package interval

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

func span(startHour, startMin, endHour, endMin int) Span {
	return Span{Start: at(startHour, startMin), End: at(endHour, endMin)}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a    Span
		b    Span
		want bool
	}{
		{"disjoint", span(8, 0, 9, 0), span(10, 0, 11, 0), false},
		{"touching endpoints", span(8, 0, 9, 0), span(9, 0, 10, 0), false},
		{"touching reversed", span(9, 0, 10, 0), span(8, 0, 9, 0), false},
		{"partial overlap", span(8, 0, 9, 30), span(9, 0, 10, 0), true},
		{"contained", span(8, 0, 12, 0), span(9, 0, 10, 0), true},
		{"identical", span(8, 0, 9, 0), span(8, 0, 9, 0), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			// Overlap is symmetric.
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tc.b, tc.a, got, tc.want)
			}
		})
	}
}

func TestClip(t *testing.T) {
	cases := []struct {
		name   string
		s      Span
		bound  Span
		want   Span
		wantOK bool
	}{
		{"inside bound", span(9, 0, 10, 0), span(8, 0, 20, 0), span(9, 0, 10, 0), true},
		{"clipped head", span(7, 0, 9, 0), span(8, 0, 20, 0), span(8, 0, 9, 0), true},
		{"clipped tail", span(19, 0, 21, 0), span(8, 0, 20, 0), span(19, 0, 20, 0), true},
		{"clipped both", span(7, 0, 21, 0), span(8, 0, 20, 0), span(8, 0, 20, 0), true},
		{"outside bound", span(5, 0, 7, 0), span(8, 0, 20, 0), Span{}, false},
		{"touching bound", span(6, 0, 8, 0), span(8, 0, 20, 0), Span{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Clip(tc.s, tc.bound)
			if ok != tc.wantOK {
				t.Fatalf("Clip(%v, %v) ok = %v, want %v", tc.s, tc.bound, ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("Clip(%v, %v) = %v, want %v", tc.s, tc.bound, got, tc.want)
			}
		})
	}
}

func TestSpanDuration(t *testing.T) {
	s := span(9, 0, 10, 30)
	if got := s.Duration(); got != 90*time.Minute {
		t.Fatalf("Duration() = %v, want %v", got, 90*time.Minute)
	}
}

func TestSpanContains(t *testing.T) {
	s := span(9, 0, 10, 0)
	if !s.Contains(at(9, 0)) {
		t.Fatalf("Contains(start) = false, want true")
	}
	if s.Contains(at(10, 0)) {
		t.Fatalf("Contains(end) = true, want false")
	}
	if !s.Contains(at(9, 30)) {
		t.Fatalf("Contains(middle) = false, want true")
	}
}
