/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler persists the day plan around the pure placement core.
// Every mutation runs through one path: apply against the in-memory
// manager, mirror the result to the database in a transaction, then emit
// metrics, cache invalidations, and events for the committed schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/cache"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
	"github.com/jonyboev-wq/calendarv2/internal/telemetry"
)

// settingsRowID is the fixed primary key of the singleton settings row.
const settingsRowID = 1

// Service orchestrates the persisted day plan.
type Service struct {
	db      *gorm.DB
	manager *planner.Manager
	bus     events.Broker
	cache   *cache.Cache
	runs    *state.Store
	logger  zerolog.Logger

	// mu serializes mutations so the manager and the database always
	// commit the same schedule.
	mu sync.Mutex
}

// New constructs the scheduler service and restores the persisted plan.
// The defaults seed the settings row when the database is fresh.
func New(db *gorm.DB, defaults planner.DaySettings, bus events.Broker, runs *state.Store, logger zerolog.Logger) (*Service, error) {
	if runs == nil {
		runs = state.NewStore(0)
	}
	s := &Service{
		db:     db,
		bus:    bus,
		runs:   runs,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	if err := s.restore(defaults); err != nil {
		return nil, err
	}
	return s, nil
}

// SetCache sets the cache instance for the scheduler.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// restore loads the settings row and replays the persisted activities in
// position order, then rewrites the materialized blocks to match.
func (s *Service) restore(defaults planner.DaySettings) error {
	var row models.PlanSettings
	err := s.db.First(&row, "id = ?", settingsRowID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.PlanSettings{ID: settingsRowID, DayStart: defaults.DayStart.UTC(), DayEnd: defaults.DayEnd.UTC()}
		if err := s.db.Create(&row).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	}
	settings := planner.DaySettings{DayStart: row.DayStart.UTC(), DayEnd: row.DayEnd.UTC()}

	var rows []models.Activity
	if err := s.db.Order("position ASC, created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return err
	}

	manager, err := planner.NewManager(settings)
	if err != nil {
		return err
	}
	activities := make([]planner.Activity, 0, len(rows))
	for _, r := range rows {
		activities = append(activities, activityFromRow(r))
	}
	sched, err := manager.Replace(settings, activities)
	if err != nil {
		return err
	}
	s.manager = manager

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return writeBlocks(tx, sched.Blocks)
	}); err != nil {
		return err
	}

	updatePlanGauges(sched)
	s.logger.Info().
		Int("activities", len(activities)).
		Int("blocks", len(sched.Blocks)).
		Int("warnings", len(sched.Warnings)).
		Msg("plan restored")
	return nil
}

// Schedule returns a snapshot of the committed plan.
func (s *Service) Schedule() planner.Schedule {
	return s.manager.Schedule()
}

// Settings returns the committed day bound.
func (s *Service) Settings() planner.DaySettings {
	return s.manager.Settings()
}

// Preview runs placement for a candidate activity without committing it.
func (s *Service) Preview(ctx context.Context, a planner.Activity) (planner.PreviewResult, error) {
	_, span := telemetry.StartSpan(ctx, "scheduler", "preview")
	defer span.End()

	result, err := s.manager.Preview(a)
	if err != nil {
		telemetry.RecordError(span, err)
		return planner.PreviewResult{}, err
	}
	return result, nil
}

// Runs returns the recorded recompute history, newest first.
func (s *Service) Runs() []state.Run {
	return s.runs.Recent()
}

// mutate is the single write path: apply the change on the manager, mirror
// activity rows and derived blocks in one transaction, then report. A failed
// transaction restores the prior in-memory state so both sides stay equal.
func (s *Service) mutate(ctx context.Context, op, activityID string, apply func() (planner.Schedule, error), persist func(tx *gorm.DB) error, eventType events.EventType, payload events.Payload) (planner.Schedule, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", op)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.manager.Schedule()
	started := time.Now()

	sched, err := apply()
	if err != nil {
		telemetry.RecordError(span, err)
		return planner.Schedule{}, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if persist != nil {
			if err := persist(tx); err != nil {
				return err
			}
		}
		return writeBlocks(tx, sched.Blocks)
	}); err != nil {
		if _, restoreErr := s.manager.Replace(prior.Settings, prior.Activities); restoreErr != nil {
			s.logger.Error().Err(restoreErr).Msg("failed to restore in-memory plan after persistence failure")
		}
		telemetry.RecordError(span, err)
		return planner.Schedule{}, err
	}

	s.afterCommit(ctx, op, activityID, prior, sched, time.Since(started))
	if eventType != "" {
		s.bus.Publish(eventType, payload)
	}
	s.bus.Publish(events.EventScheduleUpdated, events.Payload{
		"operation": op,
		"blocks":    len(sched.Blocks),
		"warnings":  len(sched.Warnings),
	})
	return sched, nil
}

func (s *Service) afterCommit(ctx context.Context, op, activityID string, prior, sched planner.Schedule, took time.Duration) {
	telemetry.PlanRecomputeDuration.Observe(took.Seconds())
	updatePlanGauges(sched)

	for _, w := range newWarnings(prior.Warnings, sched.Warnings) {
		telemetry.PlanUnplaceableTotal.Inc()
		s.bus.Publish(events.EventActivityUnplaceable, events.Payload{"id": w.ActivityID, "reason": w.Reason})
		s.logger.Warn().Str("activity", w.ActivityID).Str("reason", w.Reason).Msg("activity left unplaced")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSchedule(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("failed to invalidate schedule cache")
		}
	}

	s.runs.Add(state.Run{
		ID:          uuid.NewString(),
		Operation:   op,
		ActivityID:  activityID,
		At:          time.Now().UTC(),
		Duration:    took,
		Blocks:      len(sched.Blocks),
		FreeMinutes: int(freeTime(sched).Minutes()),
		Warnings:    len(sched.Warnings),
	})

	s.logger.Info().
		Str("operation", op).
		Str("activity", activityID).
		Int("blocks", len(sched.Blocks)).
		Int("warnings", len(sched.Warnings)).
		Dur("took", took).
		Msg("plan recomputed")
}

// writeBlocks rewrites the materialized block rows wholesale. Placement is
// derived state; diffing rows buys nothing.
func writeBlocks(tx *gorm.DB, blocks []planner.Block) error {
	if err := tx.Where("1 = 1").Delete(&models.Block{}).Error; err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}
	rows := make([]models.Block, 0, len(blocks))
	for _, b := range blocks {
		row := models.Block{
			ID:         uuid.NewString(),
			ActivityID: b.ActivityID,
			Kind:       string(b.Kind),
			StartsAt:   b.Span.Start.UTC(),
			EndsAt:     b.Span.End.UTC(),
		}
		if b.ChunkIndex > 0 {
			idx, cnt := b.ChunkIndex, b.ChunkCount
			row.ChunkIndex = &idx
			row.ChunkCount = &cnt
		}
		rows = append(rows, row)
	}
	return tx.Create(&rows).Error
}

func updatePlanGauges(sched planner.Schedule) {
	fixed, flexible := 0, 0
	for _, b := range sched.Blocks {
		if b.Kind == planner.KindFixed {
			fixed++
		} else {
			flexible++
		}
	}
	telemetry.PlanBlocks.WithLabelValues("fixed").Set(float64(fixed))
	telemetry.PlanBlocks.WithLabelValues("flexible").Set(float64(flexible))
	telemetry.PlanFreeMinutes.Set(freeTime(sched).Minutes())
	telemetry.PlanWarnings.Set(float64(len(sched.Warnings)))
}

func freeTime(sched planner.Schedule) time.Duration {
	var total time.Duration
	for _, w := range sched.FreeWindows {
		total += w.End.Sub(w.Start)
	}
	return total
}

// newWarnings returns the warnings in current that were not already present
// in prior, so repeated recomputes do not re-announce the same condition.
func newWarnings(prior, current []planner.Warning) []planner.Warning {
	seen := make(map[string]struct{}, len(prior))
	for _, w := range prior {
		seen[w.ActivityID+"|"+w.Reason] = struct{}{}
	}
	var fresh []planner.Warning
	for _, w := range current {
		if _, ok := seen[w.ActivityID+"|"+w.Reason]; !ok {
			fresh = append(fresh, w)
		}
	}
	return fresh
}
