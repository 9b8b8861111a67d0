/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive keeps iCalendar snapshots of the committed plan in object
// storage so the day survives the process and can be fetched from anywhere.
package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	"github.com/jonyboev-wq/calendarv2/internal/storage"
	"github.com/jonyboev-wq/calendarv2/internal/telemetry"
)

const (
	archivePrefix = "archives/"
	latestKey     = archivePrefix + "latest.ics"

	defaultDebounce = 30 * time.Second
	defaultKeep     = 30
)

// Service writes the plan to the object store after mutations settle and
// serves the latest snapshot back.
type Service struct {
	store     storage.ObjectStore
	scheduler *scheduler.Service
	bus       events.Broker
	logger    zerolog.Logger
	debounce  time.Duration
	keep      int
}

// NewService creates an archive service. debounce collapses mutation bursts
// into one write; keep bounds how many timestamped snapshots are retained.
func NewService(store storage.ObjectStore, sched *scheduler.Service, bus events.Broker, debounce time.Duration, keep int, logger zerolog.Logger) *Service {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Service{
		store:     store,
		scheduler: sched,
		bus:       bus,
		logger:    logger.With().Str("component", "archive").Logger(),
		debounce:  debounce,
		keep:      keep,
	}
}

// Start watches for plan updates and archives once each burst settles.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Dur("debounce", s.debounce).Int("keep", s.keep).Msg("archive service starting")

	updated := s.bus.Subscribe(events.EventScheduleUpdated)
	defer s.bus.Unsubscribe(events.EventScheduleUpdated, updated)

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("archive service stopping")
			return

		case <-updated:
			// The window opens on the first update; later updates in the
			// burst ride the same timer.
			if !pending {
				timer.Reset(s.debounce)
				pending = true
			}

		case <-timer.C:
			pending = false
			if _, err := s.ArchiveNow(ctx); err != nil {
				s.logger.Error().Err(err).Msg("schedule archive failed")
			}
		}
	}
}

// ArchiveNow renders the committed schedule to ICS and stores it under a
// timestamped key plus the stable latest key. Returns the timestamped key.
func (s *Service) ArchiveNow(ctx context.Context) (string, error) {
	sched := s.scheduler.Schedule()
	data := calendar.EncodeCalendar("Day Plan", calendar.EventsFromBlocks(sched.Blocks))

	key := archivePrefix + time.Now().UTC().Format(time.RFC3339) + ".ics"
	if err := s.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("put archive %s: %w", key, err)
	}
	if err := s.store.Put(ctx, latestKey, data); err != nil {
		return "", fmt.Errorf("put latest archive: %w", err)
	}
	telemetry.ArchiveWritesTotal.Inc()

	if err := s.prune(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("archive retention pruning failed")
	}

	s.bus.Publish(events.EventArchiveSaved, events.Payload{
		"key":    key,
		"blocks": len(sched.Blocks),
		"bytes":  len(data),
	})
	s.logger.Info().Str("key", key).Int("blocks", len(sched.Blocks)).Msg("schedule archived")
	return key, nil
}

// Latest returns the most recent snapshot.
func (s *Service) Latest(ctx context.Context) ([]byte, error) {
	return s.store.Get(ctx, latestKey)
}

// prune deletes the oldest timestamped snapshots beyond the retention count.
// RFC3339 UTC keys sort chronologically as strings.
func (s *Service) prune(ctx context.Context) error {
	keys, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return err
	}

	var snapshots []string
	for _, key := range keys {
		if key == latestKey || !strings.HasSuffix(key, ".ics") {
			continue
		}
		snapshots = append(snapshots, key)
	}
	if len(snapshots) <= s.keep {
		return nil
	}

	sort.Strings(snapshots)
	for _, key := range snapshots[:len(snapshots)-s.keep] {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		s.logger.Debug().Str("key", key).Msg("old archive pruned")
	}
	return nil
}
