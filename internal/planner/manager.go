/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/interval"
)

// Manager owns the schedule aggregate. Mutations are serialized and commit
// atomically: either a new consistent schedule replaces the old one, or the
// prior schedule is retained unchanged. Reads and previews run against a
// stable snapshot without blocking each other.
type Manager struct {
	mu       sync.RWMutex
	settings DaySettings
	// activities keep their creation order; recomputation ordering is
	// derived, never stored.
	activities []Activity
	blocks     []Block
	windows    []interval.Span
	warnings   []Warning
}

// NewManager creates a manager for the given day bound.
func NewManager(settings DaySettings) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{settings: settings}
	m.windows = FreeWindows(settings, nil)
	return m, nil
}

// Schedule returns a snapshot of the committed aggregate.
func (m *Manager) Schedule() Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Settings returns the committed day bound.
func (m *Manager) Settings() DaySettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Create adds a new activity and recomputes the schedule.
func (m *Manager) Create(a Activity) (Schedule, error) {
	if err := a.Validate(); err != nil {
		return Schedule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOfLocked(a.ID) >= 0 {
		return Schedule{}, &DuplicateIDError{ID: a.ID}
	}
	next := append(m.copyActivitiesLocked(), a)
	return m.commitLocked(m.settings, next)
}

// Update replaces the mutable fields of an existing activity, preserving
// its identifier and position, and recomputes the schedule.
func (m *Manager) Update(id string, a Activity) (Schedule, error) {
	a.ID = id
	if err := a.Validate(); err != nil {
		return Schedule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(id)
	if idx < 0 {
		return Schedule{}, &NotFoundError{ID: id}
	}
	next := m.copyActivitiesLocked()
	next[idx] = a
	return m.commitLocked(m.settings, next)
}

// Delete removes an activity and its blocks and recomputes the schedule.
func (m *Manager) Delete(id string) (Schedule, error) {
	return m.remove(id)
}

// Complete removes a finished activity from the active schedule. The
// activity is consumed, not rescheduled; its time merges back into the
// free windows.
func (m *Manager) Complete(id string) (Schedule, error) {
	return m.remove(id)
}

func (m *Manager) remove(id string) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(id)
	if idx < 0 {
		return Schedule{}, &NotFoundError{ID: id}
	}
	next := m.copyActivitiesLocked()
	next = append(next[:idx], next[idx+1:]...)
	return m.commitLocked(m.settings, next)
}

// Replace installs an entire candidate state at once. Activities are
// validated and replayed in slice order, so restoring a previously
// committed state reproduces its schedule exactly.
func (m *Manager) Replace(settings DaySettings, activities []Activity) (Schedule, error) {
	if err := settings.Validate(); err != nil {
		return Schedule{}, err
	}
	seen := make(map[string]struct{}, len(activities))
	for _, a := range activities {
		if err := a.Validate(); err != nil {
			return Schedule{}, err
		}
		if _, dup := seen[a.ID]; dup {
			return Schedule{}, &DuplicateIDError{ID: a.ID}
		}
		seen[a.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(settings, append([]Activity(nil), activities...))
}

// UpdateSettings replaces the provided day bounds; a nil field means
// unchanged. Blocks falling outside the new bound are not dropped: fixed
// placement re-runs and flags them, flexible placement re-clips to the new
// bound.
func (m *Manager) UpdateSettings(dayStart, dayEnd *time.Time) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.settings
	if dayStart != nil {
		next.DayStart = *dayStart
	}
	if dayEnd != nil {
		next.DayEnd = *dayEnd
	}
	if err := next.Validate(); err != nil {
		return Schedule{}, err
	}
	return m.commitLocked(next, m.copyActivitiesLocked())
}

// PreviewResult is the outcome of a non-committing placement query.
type PreviewResult struct {
	// Blocks the candidate would occupy; empty when unplaceable.
	Blocks []Block
	// FreeWindows is the unchanged committed inventory.
	FreeWindows []interval.Span
	// Warning is set when a flexible candidate cannot be placed.
	Warning *Warning
}

// Preview runs placement for a candidate activity against the committed
// inventory without mutating it. A fixed candidate that collides returns
// the ConflictError; a flexible candidate that does not fit returns a
// warning inside the result.
func (m *Manager) Preview(a Activity) (PreviewResult, error) {
	if err := a.Validate(); err != nil {
		return PreviewResult{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := PreviewResult{FreeWindows: copySpans(m.windows)}
	blocks, err := placerFor(a).place(m.blocks, m.windows)
	if err != nil {
		var unplaceable *UnplaceableError
		if errors.As(err, &unplaceable) {
			result.Warning = &Warning{ActivityID: unplaceable.ActivityID, Reason: unplaceable.Reason}
			return result, nil
		}
		return PreviewResult{}, err
	}
	result.Blocks = blocks
	return result, nil
}

// commitLocked derives blocks, windows, and warnings for the candidate
// state and installs it. On error nothing is installed and the prior
// committed schedule stays observable.
func (m *Manager) commitLocked(settings DaySettings, activities []Activity) (Schedule, error) {
	blocks, windows, warnings, err := derive(settings, activities)
	if err != nil {
		return Schedule{}, err
	}
	m.settings = settings
	m.activities = activities
	m.blocks = blocks
	m.windows = windows
	m.warnings = warnings
	return m.snapshotLocked(), nil
}

// derive runs the full placement pipeline: fixed pass, free windows,
// flexible pass in priority order (each placement shrinking the working
// inventory), final free windows.
func derive(settings DaySettings, activities []Activity) ([]Block, []interval.Span, []Warning, error) {
	var blocks []Block
	var warnings []Warning

	for _, a := range activities {
		if a.Kind != KindFixed {
			continue
		}
		placed, err := placerFor(a).place(blocks, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		blocks = append(blocks, placed...)
	}

	bound := settings.Span()
	for _, b := range blocks {
		if b.Span.Start.Before(bound.Start) || b.Span.End.After(bound.End) {
			warnings = append(warnings, Warning{
				ActivityID: b.ActivityID,
				Reason:     "extends outside the working day",
			})
		}
	}

	inventory := FreeWindows(settings, blocks)

	var flexibles []Activity
	for _, a := range activities {
		if a.Kind == KindFlexible {
			flexibles = append(flexibles, a)
		}
	}
	for _, a := range byPriority(flexibles) {
		placed, err := placerFor(a).place(blocks, inventory)
		if err != nil {
			var unplaceable *UnplaceableError
			if errors.As(err, &unplaceable) {
				warnings = append(warnings, Warning{ActivityID: unplaceable.ActivityID, Reason: unplaceable.Reason})
				continue
			}
			return nil, nil, nil, err
		}
		blocks = append(blocks, placed...)
		inventory = FreeWindows(settings, blocks)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Span.Start.Before(blocks[j].Span.Start)
	})
	return blocks, FreeWindows(settings, blocks), warnings, nil
}

func (m *Manager) indexOfLocked(id string) int {
	for i, a := range m.activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) copyActivitiesLocked() []Activity {
	out := make([]Activity, len(m.activities))
	copy(out, m.activities)
	return out
}

func (m *Manager) snapshotLocked() Schedule {
	return Schedule{
		Settings:    m.settings,
		Activities:  m.copyActivitiesLocked(),
		Blocks:      append([]Block(nil), m.blocks...),
		FreeWindows: copySpans(m.windows),
		Warnings:    append([]Warning(nil), m.warnings...),
	}
}

func copySpans(spans []interval.Span) []interval.Span {
	return append([]interval.Span(nil), spans...)
}
