/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner implements the day scheduling core: placing fixed and
// flexible activities into a bounded working day and deriving the free
// windows left over. The package is pure; persistence, transport, and clock
// reads live in the surrounding service.
package planner

import (
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

// Kind discriminates the two activity variants.
type Kind string

const (
	// KindFixed activities occupy a declared start instant.
	KindFixed Kind = "fixed"
	// KindFlexible activities are placed anywhere inside their eligibility
	// window, optionally split into chunks.
	KindFlexible Kind = "flexible"
)

// Activity is a declared intent to spend Duration of the working day.
// Fixed activities carry Start; flexible activities carry the eligibility
// window [EarliestStart, LatestFinish) plus split settings.
type Activity struct {
	ID         string
	Kind       Kind
	Duration   time.Duration
	Importance float64

	// Fixed only.
	Start time.Time

	// Flexible only.
	EarliestStart time.Time
	LatestFinish  time.Time
	CanSplit      bool
	MinChunk      time.Duration
}

// Validate checks the declared fields before any placement is attempted.
func (a Activity) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if a.Duration < time.Minute {
		return &ValidationError{Field: "duration", Reason: "must be at least one minute"}
	}
	if a.Importance < 0 {
		return &ValidationError{Field: "importance", Reason: "must not be negative"}
	}
	switch a.Kind {
	case KindFixed:
		if a.Start.IsZero() {
			return &ValidationError{Field: "start", Reason: "required for fixed activities"}
		}
	case KindFlexible:
		if a.EarliestStart.IsZero() {
			return &ValidationError{Field: "earliest_start", Reason: "required for flexible activities"}
		}
		if a.LatestFinish.IsZero() {
			return &ValidationError{Field: "latest_finish", Reason: "required for flexible activities"}
		}
		if !a.EarliestStart.Before(a.LatestFinish) {
			return &ValidationError{Field: "latest_finish", Reason: "must be after earliest_start"}
		}
		if a.CanSplit {
			if a.MinChunk < time.Minute {
				return &ValidationError{Field: "min_chunk", Reason: "must be at least one minute"}
			}
			if a.MinChunk > a.Duration {
				return &ValidationError{Field: "min_chunk", Reason: "must not exceed duration"}
			}
		}
	default:
		return &ValidationError{Field: "kind", Reason: "must be fixed or flexible"}
	}
	return nil
}

// Eligibility returns the window a flexible activity may occupy.
func (a Activity) Eligibility() interval.Span {
	return interval.Span{Start: a.EarliestStart, End: a.LatestFinish}
}

// Block is a committed placement of all or part of an activity. Split
// flexible placements tag each piece with ChunkIndex (1-based, in start
// order) and ChunkCount; unsplit placements leave both at zero.
type Block struct {
	ActivityID string
	Kind       Kind
	Span       interval.Span
	ChunkIndex int
	ChunkCount int
}

// DaySettings bound placement to the working day, [DayStart, DayEnd).
type DaySettings struct {
	DayStart time.Time
	DayEnd   time.Time
}

// Validate rejects bounds whose end does not follow their start.
func (d DaySettings) Validate() error {
	if !d.DayStart.Before(d.DayEnd) {
		return &InvalidRangeError{Start: d.DayStart, End: d.DayEnd}
	}
	return nil
}

// Span returns the day bound as an interval.
func (d DaySettings) Span() interval.Span {
	return interval.Span{Start: d.DayStart, End: d.DayEnd}
}

// Warning reports a non-fatal placement condition. Unplaceable flexible
// activities stay recorded without blocks; fixed blocks that spill outside
// the day bound are flagged but kept.
type Warning struct {
	ActivityID string
	Reason     string
}

// Schedule is the consistent aggregate produced by every successful
// operation: the day bound, the declared activities, the committed blocks
// sorted by start, the derived free windows, and the warnings collected
// during the latest recomputation.
type Schedule struct {
	Settings    DaySettings
	Activities  []Activity
	Blocks      []Block
	FreeWindows []interval.Span
	Warnings    []Warning
}

// BlocksFor returns the committed blocks belonging to one activity.
func (s Schedule) BlocksFor(id string) []Block {
	var out []Block
	for _, b := range s.Blocks {
		if b.ActivityID == id {
			out = append(out, b)
		}
	}
	return out
}
