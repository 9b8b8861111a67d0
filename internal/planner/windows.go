/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"sort"

	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

// FreeWindows returns the maximal uncovered intervals of the working day:
// [DayStart, DayEnd) minus the union of the block intervals, start-ascending.
// Blocks outside the day bound contribute nothing. Recomputing from the same
// block set yields identical output.
func FreeWindows(day DaySettings, blocks []Block) []interval.Span {
	bound := day.Span()

	covered := make([]interval.Span, 0, len(blocks))
	for _, b := range blocks {
		if s, ok := interval.Clip(b.Span, bound); ok {
			covered = append(covered, s)
		}
	}
	sort.Slice(covered, func(i, j int) bool {
		return covered[i].Start.Before(covered[j].Start)
	})

	var windows []interval.Span
	cursor := day.DayStart
	for _, s := range covered {
		if s.Start.After(cursor) {
			windows = append(windows, interval.Span{Start: cursor, End: s.Start})
		}
		// Contiguous or nested blocks never move the cursor backwards.
		if s.End.After(cursor) {
			cursor = s.End
		}
	}
	if cursor.Before(day.DayEnd) {
		windows = append(windows, interval.Span{Start: cursor, End: day.DayEnd})
	}
	return windows
}
