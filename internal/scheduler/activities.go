/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
)

// CreateActivity places a new activity and commits the recomputed plan.
func (s *Service) CreateActivity(ctx context.Context, a planner.Activity) (planner.Schedule, error) {
	return s.mutate(ctx, "create", a.ID,
		func() (planner.Schedule, error) { return s.manager.Create(a) },
		func(tx *gorm.DB) error {
			var maxPos int
			if err := tx.Model(&models.Activity{}).Select("COALESCE(MAX(position), 0)").Scan(&maxPos).Error; err != nil {
				return err
			}
			row := rowFromActivity(a, maxPos+1)
			return tx.Create(&row).Error
		},
		events.EventActivityCreated, events.Payload{"id": a.ID, "kind": string(a.Kind)})
}

// UpdateActivity replaces the mutable fields of an activity, keeping its
// identity and replay position, and commits the recomputed plan.
func (s *Service) UpdateActivity(ctx context.Context, id string, a planner.Activity) (planner.Schedule, error) {
	a.ID = id
	return s.mutate(ctx, "update", id,
		func() (planner.Schedule, error) { return s.manager.Update(id, a) },
		func(tx *gorm.DB) error {
			var existing models.Activity
			if err := tx.First(&existing, "id = ?", id).Error; err != nil {
				return err
			}
			row := rowFromActivity(a, existing.Position)
			row.CreatedAt = existing.CreatedAt
			return tx.Save(&row).Error
		},
		events.EventActivityUpdated, events.Payload{"id": id})
}

// DeleteActivity removes an activity and its blocks.
func (s *Service) DeleteActivity(ctx context.Context, id string) (planner.Schedule, error) {
	return s.mutate(ctx, "delete", id,
		func() (planner.Schedule, error) { return s.manager.Delete(id) },
		func(tx *gorm.DB) error {
			return tx.Delete(&models.Activity{}, "id = ?", id).Error
		},
		events.EventActivityDeleted, events.Payload{"id": id})
}

// CompleteActivity consumes a finished activity. Its time merges back into
// the free windows; the completion instant travels on the event only. A nil
// completedAt means now.
func (s *Service) CompleteActivity(ctx context.Context, id string, completedAt *time.Time) (planner.Schedule, error) {
	at := time.Now().UTC()
	if completedAt != nil {
		at = completedAt.UTC()
	}
	return s.mutate(ctx, "complete", id,
		func() (planner.Schedule, error) { return s.manager.Complete(id) },
		func(tx *gorm.DB) error {
			return tx.Delete(&models.Activity{}, "id = ?", id).Error
		},
		events.EventActivityCompleted, events.Payload{"id": id, "completed_at": at.Format(time.RFC3339)})
}

// UpdateSettings moves the working-day bounds; nil fields stay unchanged.
func (s *Service) UpdateSettings(ctx context.Context, dayStart, dayEnd *time.Time) (planner.Schedule, error) {
	payload := events.Payload{}
	if dayStart != nil {
		payload["day_start"] = dayStart.UTC().Format(time.RFC3339)
	}
	if dayEnd != nil {
		payload["day_end"] = dayEnd.UTC().Format(time.RFC3339)
	}
	return s.mutate(ctx, "settings", "",
		func() (planner.Schedule, error) { return s.manager.UpdateSettings(dayStart, dayEnd) },
		func(tx *gorm.DB) error {
			updates := map[string]any{}
			if dayStart != nil {
				updates["day_start"] = dayStart.UTC()
			}
			if dayEnd != nil {
				updates["day_end"] = dayEnd.UTC()
			}
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&models.PlanSettings{}).Where("id = ?", settingsRowID).Updates(updates).Error
		},
		events.EventSettingsUpdated, payload)
}

// ImportedEvent is one externally sourced entry to pin into the day.
type ImportedEvent struct {
	ID    string
	Start time.Time
	End   time.Time
}

// ImportResult reports the outcome of an event import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ImportEvents pins externally sourced events into the plan as fixed
// activities. Failures are per event; the rest of the batch continues.
func (s *Service) ImportEvents(ctx context.Context, items []ImportedEvent) (*ImportResult, error) {
	result := &ImportResult{}
	for _, item := range items {
		if item.ID == "" || item.Start.IsZero() || item.End.IsZero() || !item.Start.Before(item.End) {
			result.Skipped++
			continue
		}
		a := planner.Activity{
			ID:         item.ID,
			Kind:       planner.KindFixed,
			Duration:   item.End.Sub(item.Start),
			Importance: 1,
			Start:      item.Start,
		}
		if _, err := s.CreateActivity(ctx, a); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))
			continue
		}
		result.Imported++
	}

	s.bus.Publish(events.EventScheduleImported, events.Payload{
		"imported": result.Imported,
		"skipped":  result.Skipped,
	})
	s.logger.Info().Int("imported", result.Imported).Int("skipped", result.Skipped).Msg("event import completed")
	return result, nil
}

func activityFromRow(row models.Activity) planner.Activity {
	a := planner.Activity{
		ID:         row.ID,
		Kind:       planner.Kind(row.Kind),
		Duration:   time.Duration(row.DurationMinutes) * time.Minute,
		Importance: row.Importance,
		CanSplit:   row.CanSplit,
		MinChunk:   time.Duration(row.MinChunkMinutes) * time.Minute,
	}
	if row.StartsAt != nil {
		a.Start = row.StartsAt.UTC()
	}
	if row.EarliestStart != nil {
		a.EarliestStart = row.EarliestStart.UTC()
	}
	if row.LatestFinish != nil {
		a.LatestFinish = row.LatestFinish.UTC()
	}
	return a
}

func rowFromActivity(a planner.Activity, position int) models.Activity {
	row := models.Activity{
		ID:   a.ID,
		Kind: string(a.Kind),
		// Round up so a restored activity never shrinks below what was
		// placed.
		DurationMinutes: int((a.Duration + time.Minute - 1) / time.Minute),
		Importance:      a.Importance,
		CanSplit:        a.CanSplit,
		MinChunkMinutes: int(a.MinChunk / time.Minute),
		Position:        position,
	}
	if a.Kind == planner.KindFixed {
		start := a.Start.UTC()
		row.StartsAt = &start
	} else {
		earliest := a.EarliestStart.UTC()
		latest := a.LatestFinish.UTC()
		row.EarliestStart = &earliest
		row.LatestFinish = &latest
	}
	return row
}
