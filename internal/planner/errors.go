/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed activity or settings specification.
// Detected before any placement attempt; the schedule is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateIDError reports a Create with an identifier already in use.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("activity %q already exists", e.ID)
}

// NotFoundError reports an operation against an unknown identifier.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("activity %q not found", e.ID)
}

// ConflictError reports a fixed activity whose block overlaps a committed
// block of another activity. Fatal: the triggering mutation is rolled back.
type ConflictError struct {
	ActivityID   string
	CollidesWith string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("activity %q collides with %q", e.ActivityID, e.CollidesWith)
}

// InvalidRangeError reports day bounds whose end does not follow the start.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("day_end %s must be after day_start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

// UnplaceableError reports a flexible activity that cannot fit any
// combination of eligible free windows under its split constraints.
// Non-fatal: callers record a Warning and keep the activity without blocks.
type UnplaceableError struct {
	ActivityID string
	Reason     string
}

func (e *UnplaceableError) Error() string {
	return fmt.Sprintf("activity %q cannot be placed: %s", e.ActivityID, e.Reason)
}
