/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"testing"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

func span(startHour, startMin, endHour, endMin int) interval.Span {
	return interval.Span{Start: at(startHour, startMin), End: at(endHour, endMin)}
}

func workday() DaySettings {
	return DaySettings{DayStart: at(8, 0), DayEnd: at(20, 0)}
}

func fixedBlock(id string, s interval.Span) Block {
	return Block{ActivityID: id, Kind: KindFixed, Span: s}
}

func checkSpans(t *testing.T, got, want []interval.Span) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d windows %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("window[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFreeWindowsEmptyDay(t *testing.T) {
	got := FreeWindows(workday(), nil)
	checkSpans(t, got, []interval.Span{span(8, 0, 20, 0)})
}

func TestFreeWindowsAroundFixedBlocks(t *testing.T) {
	blocks := []Block{
		fixedBlock("training", span(10, 0, 11, 0)),
		fixedBlock("lecture", span(13, 0, 14, 30)),
	}
	got := FreeWindows(workday(), blocks)
	checkSpans(t, got, []interval.Span{
		span(8, 0, 10, 0),
		span(11, 0, 13, 0),
		span(14, 30, 20, 0),
	})
}

func TestFreeWindowsInputOrderDoesNotMatter(t *testing.T) {
	blocks := []Block{
		fixedBlock("lecture", span(13, 0, 14, 30)),
		fixedBlock("training", span(10, 0, 11, 0)),
	}
	got := FreeWindows(workday(), blocks)
	checkSpans(t, got, []interval.Span{
		span(8, 0, 10, 0),
		span(11, 0, 13, 0),
		span(14, 30, 20, 0),
	})
}

func TestFreeWindowsContiguousBlocksLeaveNoGap(t *testing.T) {
	blocks := []Block{
		fixedBlock("a", span(9, 0, 10, 0)),
		fixedBlock("b", span(10, 0, 11, 0)),
	}
	got := FreeWindows(workday(), blocks)
	checkSpans(t, got, []interval.Span{
		span(8, 0, 9, 0),
		span(11, 0, 20, 0),
	})
}

func TestFreeWindowsBlockAtDayEdges(t *testing.T) {
	blocks := []Block{
		fixedBlock("early", span(8, 0, 9, 0)),
		fixedBlock("late", span(19, 0, 20, 0)),
	}
	got := FreeWindows(workday(), blocks)
	checkSpans(t, got, []interval.Span{span(9, 0, 19, 0)})
}

func TestFreeWindowsClipsBlocksOutsideBound(t *testing.T) {
	blocks := []Block{
		fixedBlock("commute", span(7, 0, 8, 30)),
		fixedBlock("dinner", span(19, 30, 21, 0)),
		fixedBlock("sleep", span(22, 0, 23, 0)),
	}
	got := FreeWindows(workday(), blocks)
	checkSpans(t, got, []interval.Span{span(8, 30, 19, 30)})
}

func TestFreeWindowsFullyBookedDay(t *testing.T) {
	blocks := []Block{fixedBlock("marathon", span(8, 0, 20, 0))}
	got := FreeWindows(workday(), blocks)
	if len(got) != 0 {
		t.Fatalf("got %d windows %v, want none", len(got), got)
	}
}

func TestFreeWindowsRecomputationIsIdempotent(t *testing.T) {
	blocks := []Block{
		fixedBlock("training", span(10, 0, 11, 0)),
		fixedBlock("lecture", span(13, 0, 14, 30)),
	}
	first := FreeWindows(workday(), blocks)
	second := FreeWindows(workday(), blocks)
	checkSpans(t, second, first)
}
