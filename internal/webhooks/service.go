/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks pushes plan events to registered HTTP receivers. Payloads
// are signed with the target's secret so receivers can verify origin.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
)

// Envelope is the JSON document posted to every target.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      events.Payload `json:"data,omitempty"`
}

// Service fans bus events out to webhook targets.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
	client *http.Client
}

// NewService creates the webhook delivery service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start subscribes to plan events and delivers them until the context is
// cancelled. Per-activity events are deliberately not forwarded: receivers
// that care about individual changes get the full picture from
// schedule.updated, which follows every mutation.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	scheduleUpdated := s.bus.Subscribe(events.EventScheduleUpdated)
	activityUnplaceable := s.bus.Subscribe(events.EventActivityUnplaceable)
	syncCompleted := s.bus.Subscribe(events.EventSyncCompleted)
	archiveSaved := s.bus.Subscribe(events.EventArchiveSaved)

	defer func() {
		s.bus.Unsubscribe(events.EventScheduleUpdated, scheduleUpdated)
		s.bus.Unsubscribe(events.EventActivityUnplaceable, activityUnplaceable)
		s.bus.Unsubscribe(events.EventSyncCompleted, syncCompleted)
		s.bus.Unsubscribe(events.EventArchiveSaved, archiveSaved)
	}()

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-scheduleUpdated:
			s.fanOut(ctx, events.EventScheduleUpdated, payload)

		case payload := <-activityUnplaceable:
			s.fanOut(ctx, events.EventActivityUnplaceable, payload)

		case payload := <-syncCompleted:
			s.fanOut(ctx, events.EventSyncCompleted, payload)

		case payload := <-archiveSaved:
			s.fanOut(ctx, events.EventArchiveSaved, payload)
		}
	}
}

// fanOut delivers one event to every active target subscribed to it.
func (s *Service) fanOut(ctx context.Context, eventType events.EventType, data events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhook targets")
		return
	}

	for _, target := range targets {
		if !targetWantsEvent(target, eventType) {
			continue
		}
		go s.deliver(ctx, target, eventType, data)
	}
}

// targetWantsEvent checks the target's event filter. An empty filter takes
// everything.
func targetWantsEvent(target models.WebhookTarget, eventType events.EventType) bool {
	if target.Events == "" {
		return true
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == string(eventType) {
			return true
		}
	}
	return false
}

// deliver posts one event to one target and records the attempt.
func (s *Service) deliver(ctx context.Context, target models.WebhookTarget, eventType events.EventType, data events.Payload) {
	body, err := json.Marshal(Envelope{
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("target", target.ID).Msg("failed to marshal webhook payload")
		return
	}

	started := time.Now()
	statusCode, deliveryErr := s.post(ctx, target, string(eventType), body)
	s.recordDelivery(target, string(eventType), statusCode, deliveryErr, time.Since(started))

	switch {
	case deliveryErr != nil:
		s.logger.Warn().Err(deliveryErr).Str("target", target.ID).Str("url", target.URL).Msg("webhook delivery failed")
	case statusCode >= 200 && statusCode < 300:
		s.logger.Debug().Str("target", target.ID).Str("event", string(eventType)).Int("status", statusCode).Msg("webhook delivered")
	default:
		s.logger.Warn().Str("target", target.ID).Str("event", string(eventType)).Int("status", statusCode).Msg("webhook returned error status")
	}
}

// post sends the signed request. A transport failure returns status 0.
func (s *Service) post(ctx context.Context, target models.WebhookTarget, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "calendarv2-webhook/1.0")
	req.Header.Set("X-Calendar-Event", eventType)
	req.Header.Set("X-Calendar-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if target.Secret != "" {
		req.Header.Set("X-Calendar-Signature", signPayload(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// signPayload creates an HMAC-SHA256 signature over the request body.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) recordDelivery(target models.WebhookTarget, eventType string, statusCode int, deliveryErr error, took time.Duration) {
	row := &models.WebhookDelivery{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      eventType,
		StatusCode: statusCode,
		DurationMS: took.Milliseconds(),
	}
	if deliveryErr != nil {
		row.Error = deliveryErr.Error()
	}

	if err := s.db.Create(row).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to record webhook delivery")
	}
}

// TestTarget posts a synthetic event so a receiver can be verified before it
// sees real traffic. The attempt is not recorded.
func (s *Service) TestTarget(ctx context.Context, target *models.WebhookTarget) error {
	body, err := json.Marshal(Envelope{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data:      events.Payload{"message": "webhook target verification"},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	statusCode, err := s.post(ctx, *target, "test", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", statusCode)
	}
	return nil
}

// Deliveries returns the most recent delivery attempts for a target, newest
// first.
func (s *Service) Deliveries(targetID string, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows []models.WebhookDelivery
	err := s.db.
		Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
