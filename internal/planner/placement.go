/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

// placer is the placement capability of an activity kind. It receives the
// blocks already committed in this pass and the free inventory derived from
// them, and returns the blocks the activity occupies. Fixed placement fails
// with *ConflictError, flexible placement with *UnplaceableError.
type placer interface {
	place(committed []Block, inventory []interval.Span) ([]Block, error)
}

// placerFor selects the placement variant for the activity kind.
func placerFor(a Activity) placer {
	if a.Kind == KindFixed {
		return fixedPlacement{a}
	}
	return flexiblePlacement{a}
}

// fixedPlacement materializes an activity at its declared start.
type fixedPlacement struct {
	activity Activity
}

func (p fixedPlacement) place(committed []Block, _ []interval.Span) ([]Block, error) {
	a := p.activity
	block := Block{
		ActivityID: a.ID,
		Kind:       KindFixed,
		Span:       interval.Span{Start: a.Start, End: a.Start.Add(a.Duration)},
	}
	for _, other := range committed {
		if other.ActivityID == a.ID {
			continue
		}
		if interval.Overlaps(block.Span, other.Span) {
			return nil, &ConflictError{ActivityID: a.ID, CollidesWith: other.ActivityID}
		}
	}
	return []Block{block}, nil
}
