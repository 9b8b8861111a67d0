/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	"github.com/jonyboev-wq/calendarv2/internal/telemetry"
)

// externalIDPrefix marks activities that mirror events pulled from the
// remote calendar.
const externalIDPrefix = "ext-"

// SyncService reconciles the plan with the external calendar: remote events
// become fixed commitments locally, placed flexible blocks are written back
// as remote events.
type SyncService struct {
	client    *Client
	scheduler *scheduler.Service
	bus       events.Broker
	logger    zerolog.Logger
	interval  time.Duration

	mu sync.Mutex
	// pushed tracks the last event written for each UID so unchanged
	// placements are not re-PUT every run.
	pushed map[string]Event
}

// NewSyncService constructs the sync service. interval drives Run; one-off
// syncs via SyncOnce work regardless.
func NewSyncService(client *Client, sched *scheduler.Service, bus events.Broker, interval time.Duration, logger zerolog.Logger) *SyncService {
	return &SyncService{
		client:    client,
		scheduler: sched,
		bus:       bus,
		logger:    logger.With().Str("component", "calendar_sync").Logger(),
		interval:  interval,
		pushed:    make(map[string]Event),
	}
}

// Run executes the sync loop until the context is cancelled.
func (s *SyncService) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info().Msg("calendar sync loop disabled")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("calendar sync loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("calendar sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("calendar sync failed")
			}
		}
	}
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Fetched  int
	Imported int
	Updated  int
	Removed  int
	Pushed   int
	Deleted  int
	Errors   []string
}

// SyncOnce runs a full reconciliation pass over the working day. Transport
// failure on the initial fetch aborts the run; individual event failures are
// collected and the rest of the pass continues.
func (s *SyncService) SyncOnce(ctx context.Context) (*SyncResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "calendar", "sync")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	result := &SyncResult{}

	bounds := s.scheduler.Settings()
	remote, err := s.client.FetchEvents(ctx, bounds.DayStart, bounds.DayEnd)
	if err != nil {
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		telemetry.RecordError(span, err)
		return nil, err
	}
	result.Fetched = len(remote)
	telemetry.SyncEventsTotal.WithLabelValues("pull").Add(float64(len(remote)))

	sched := s.scheduler.Schedule()
	foreign, managed := s.partitionRemote(remote, sched.Activities)

	s.reconcilePulled(ctx, foreign, sched.Activities, result)
	s.reconcilePushed(ctx, managed, result)

	duration := time.Since(started)
	telemetry.SyncDuration.Observe(duration.Seconds())
	status := "ok"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	telemetry.SyncRunsTotal.WithLabelValues(status).Inc()

	s.bus.Publish(events.EventSyncCompleted, events.Payload{
		"fetched":     result.Fetched,
		"imported":    result.Imported,
		"updated":     result.Updated,
		"removed":     result.Removed,
		"pushed":      result.Pushed,
		"deleted":     result.Deleted,
		"errors":      len(result.Errors),
		"duration_ms": duration.Milliseconds(),
	})

	s.logger.Info().
		Int("fetched", result.Fetched).
		Int("imported", result.Imported).
		Int("updated", result.Updated).
		Int("removed", result.Removed).
		Int("pushed", result.Pushed).
		Int("deleted", result.Deleted).
		Int("errors", len(result.Errors)).
		Dur("took", duration).
		Msg("calendar sync completed")
	return result, nil
}

// partitionRemote splits fetched events into foreign ones to import and
// managed ones this service wrote and may rewrite or delete. Events whose
// UID collides with a fixed local activity fall in neither set: importing
// would duplicate the id, deleting would destroy data we do not own.
func (s *SyncService) partitionRemote(remote []Event, activities []planner.Activity) (foreign, managed []Event) {
	byID := make(map[string]planner.Activity, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
	}

	for _, ev := range remote {
		_, pushedByUs := s.pushed[ev.UID]
		switch {
		case pushedByUs || managesEvent(ev, byID):
			managed = append(managed, ev)
		case !matchesActivity(ev.UID, byID):
			foreign = append(foreign, ev)
		}
	}
	return foreign, managed
}

// managesEvent reports whether the event is one of our own pushes: its UID
// resolves to a flexible activity (directly or as a chunk), or it carries
// the chunk markers only this service writes.
func managesEvent(ev Event, byID map[string]planner.Activity) bool {
	if a, ok := byID[ev.UID]; ok {
		return a.Kind == planner.KindFlexible
	}
	if idx := strings.LastIndex(ev.UID, "-"); idx > 0 {
		if a, ok := byID[ev.UID[:idx]]; ok {
			return a.Kind == planner.KindFlexible
		}
	}
	return ev.ChunkIndex > 0 || ev.ChunkCount > 0
}

func matchesActivity(uid string, byID map[string]planner.Activity) bool {
	if _, ok := byID[uid]; ok {
		return true
	}
	if idx := strings.LastIndex(uid, "-"); idx > 0 {
		if _, ok := byID[uid[:idx]]; ok {
			return true
		}
	}
	return false
}

// reconcilePulled upserts foreign events as external fixed activities and
// drops external activities whose source event disappeared from the feed.
func (s *SyncService) reconcilePulled(ctx context.Context, foreign []Event, activities []planner.Activity, result *SyncResult) {
	byID := make(map[string]planner.Activity, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
	}

	seen := make(map[string]struct{}, len(foreign))
	for _, ev := range foreign {
		id := externalIDPrefix + ev.UID
		seen[id] = struct{}{}

		if existing, ok := byID[id]; ok {
			if existing.Start.Equal(ev.Start) && existing.Duration == ev.Duration() {
				continue
			}
			next := existing
			next.Start = ev.Start
			next.Duration = ev.Duration()
			if _, err := s.scheduler.UpdateActivity(ctx, id, next); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("update %s: %v", id, err))
				continue
			}
			result.Updated++
			continue
		}

		a := planner.Activity{
			ID:         id,
			Kind:       planner.KindFixed,
			Duration:   ev.Duration(),
			Importance: 1,
			Start:      ev.Start,
		}
		if _, err := s.scheduler.CreateActivity(ctx, a); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("import %s: %v", id, err))
			continue
		}
		result.Imported++
	}

	// Only events starting inside the fetch window were returned, so only
	// external activities inside it can be declared gone.
	bounds := s.scheduler.Settings()
	for _, a := range activities {
		if !strings.HasPrefix(a.ID, externalIDPrefix) {
			continue
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		if a.Start.Before(bounds.DayStart) || !a.Start.Before(bounds.DayEnd) {
			continue
		}
		if _, err := s.scheduler.DeleteActivity(ctx, a.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", a.ID, err))
			continue
		}
		result.Removed++
	}
}

// reconcilePushed writes the committed flexible placements out and deletes
// remote events for placements that no longer exist.
func (s *SyncService) reconcilePushed(ctx context.Context, managed []Event, result *SyncResult) {
	// The managed events fetched from the server are the remote truth;
	// fold them in so a restart neither re-PUTs unchanged placements nor
	// forgets stale ones.
	for _, ev := range managed {
		if _, ok := s.pushed[ev.UID]; !ok {
			s.pushed[ev.UID] = ev
		}
	}

	sched := s.scheduler.Schedule()
	desired := make(map[string]Event)
	for _, b := range sched.Blocks {
		if b.Kind != planner.KindFlexible {
			continue
		}
		ev := EventFromBlock(b)
		desired[ev.UID] = ev
	}

	for uid, ev := range desired {
		if prev, ok := s.pushed[uid]; ok && prev.Start.Equal(ev.Start) && prev.End.Equal(ev.End) {
			continue
		}
		if err := s.client.PutEvent(ctx, ev); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("push %s: %v", uid, err))
			continue
		}
		s.pushed[uid] = ev
		result.Pushed++
		telemetry.SyncEventsTotal.WithLabelValues("push").Inc()
	}

	for uid := range s.pushed {
		if _, ok := desired[uid]; ok {
			continue
		}
		if err := s.client.DeleteEvent(ctx, uid); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", uid, err))
			continue
		}
		delete(s.pushed, uid)
		result.Deleted++
	}
}
