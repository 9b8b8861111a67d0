/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"sort"

	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

// flexiblePlacement fits an activity into the free inventory within its
// eligibility window, splitting into chunks when allowed.
type flexiblePlacement struct {
	activity Activity
}

func (p flexiblePlacement) place(_ []Block, inventory []interval.Span) ([]Block, error) {
	a := p.activity
	elig := a.Eligibility()

	// Candidates are the free windows clipped to the eligibility window,
	// kept in start-ascending order.
	var candidates []interval.Span
	for _, w := range inventory {
		if c, ok := interval.Clip(w, elig); ok {
			candidates = append(candidates, c)
		}
	}

	if !a.CanSplit {
		return p.placeWhole(candidates)
	}
	return p.placeSplit(candidates)
}

// placeWhole takes the first candidate long enough for the full duration.
func (p flexiblePlacement) placeWhole(candidates []interval.Span) ([]Block, error) {
	a := p.activity
	for _, c := range candidates {
		if c.Duration() >= a.Duration {
			start := interval.MaxTime(c.Start, a.EarliestStart)
			return []Block{{
				ActivityID: a.ID,
				Kind:       KindFlexible,
				Span:       interval.Span{Start: start, End: start.Add(a.Duration)},
			}}, nil
		}
	}
	return nil, &UnplaceableError{
		ActivityID: a.ID,
		Reason:     "no free window in the eligibility range is long enough",
	}
}

// placeSplit greedily carves pieces out of the candidates until the full
// duration is consumed. Each piece takes min(candidate length, remaining);
// a piece shorter than the minimum chunk is accepted only when it exactly
// completes the duration. The carve is all-or-nothing: if the duration
// cannot be fully consumed, no blocks are emitted.
func (p flexiblePlacement) placeSplit(candidates []interval.Span) ([]Block, error) {
	a := p.activity

	remaining := a.Duration
	var pieces []interval.Span
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		length := c.Duration()
		if length > remaining {
			length = remaining
		}
		if length < a.MinChunk && length != remaining {
			continue
		}
		pieces = append(pieces, interval.Span{Start: c.Start, End: c.Start.Add(length)})
		remaining -= length
	}
	if remaining > 0 {
		return nil, &UnplaceableError{
			ActivityID: a.ID,
			Reason:     "eligible free windows cannot absorb the full duration in chunks of the minimum size",
		}
	}

	if len(pieces) == 1 {
		// A split that fit in one window carries no chunk markers.
		return []Block{{ActivityID: a.ID, Kind: KindFlexible, Span: pieces[0]}}, nil
	}

	sort.Slice(pieces, func(i, j int) bool {
		return pieces[i].Start.Before(pieces[j].Start)
	})
	blocks := make([]Block, 0, len(pieces))
	for i, piece := range pieces {
		blocks = append(blocks, Block{
			ActivityID: a.ID,
			Kind:       KindFlexible,
			Span:       piece,
			ChunkIndex: i + 1,
			ChunkCount: len(pieces),
		})
	}
	return blocks, nil
}

// byPriority orders flexible activities for the recomputation pass:
// descending importance, then ascending latest finish (earlier deadline
// first), then ascending id for determinism.
func byPriority(activities []Activity) []Activity {
	out := make([]Activity, len(activities))
	copy(out, activities)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		if !out[i].LatestFinish.Equal(out[j].LatestFinish) {
			return out[i].LatestFinish.Before(out[j].LatestFinish)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
