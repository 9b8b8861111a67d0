/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to mutation events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	// Plan mutations
	activityCreated := s.bus.Subscribe(events.EventActivityCreated)
	activityUpdated := s.bus.Subscribe(events.EventActivityUpdated)
	activityDeleted := s.bus.Subscribe(events.EventActivityDeleted)
	activityCompleted := s.bus.Subscribe(events.EventActivityCompleted)
	settingsUpdated := s.bus.Subscribe(events.EventSettingsUpdated)

	// Batch operations
	scheduleImported := s.bus.Subscribe(events.EventScheduleImported)
	syncCompleted := s.bus.Subscribe(events.EventSyncCompleted)
	archiveSaved := s.bus.Subscribe(events.EventArchiveSaved)

	// Audit-specific events
	apiKeyCreate := s.bus.Subscribe(events.EventAuditAPIKeyCreate)
	apiKeyRevoke := s.bus.Subscribe(events.EventAuditAPIKeyRevoke)

	defer func() {
		s.bus.Unsubscribe(events.EventActivityCreated, activityCreated)
		s.bus.Unsubscribe(events.EventActivityUpdated, activityUpdated)
		s.bus.Unsubscribe(events.EventActivityDeleted, activityDeleted)
		s.bus.Unsubscribe(events.EventActivityCompleted, activityCompleted)
		s.bus.Unsubscribe(events.EventSettingsUpdated, settingsUpdated)
		s.bus.Unsubscribe(events.EventScheduleImported, scheduleImported)
		s.bus.Unsubscribe(events.EventSyncCompleted, syncCompleted)
		s.bus.Unsubscribe(events.EventArchiveSaved, archiveSaved)
		s.bus.Unsubscribe(events.EventAuditAPIKeyCreate, apiKeyCreate)
		s.bus.Unsubscribe(events.EventAuditAPIKeyRevoke, apiKeyRevoke)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-activityCreated:
			s.logAuditEntry(ctx, models.AuditActionActivityCreate, "activity", payload)

		case payload := <-activityUpdated:
			s.logAuditEntry(ctx, models.AuditActionActivityUpdate, "activity", payload)

		case payload := <-activityDeleted:
			s.logAuditEntry(ctx, models.AuditActionActivityDelete, "activity", payload)

		case payload := <-activityCompleted:
			s.logAuditEntry(ctx, models.AuditActionActivityComplete, "activity", payload)

		case payload := <-settingsUpdated:
			s.logAuditEntry(ctx, models.AuditActionSettingsUpdate, "settings", payload)

		case payload := <-scheduleImported:
			s.logAuditEntry(ctx, models.AuditActionScheduleImport, "schedule", payload)

		case payload := <-syncCompleted:
			s.logAuditEntry(ctx, models.AuditActionSyncRun, "sync", payload)

		case payload := <-archiveSaved:
			s.logAuditEntry(ctx, models.AuditActionArchiveSave, "archive", payload)

		case payload := <-apiKeyCreate:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyCreate, "apikey", payload)

		case payload := <-apiKeyRevoke:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyRevoke, "apikey", payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, resourceType string, payload events.Payload) {
	entry := &models.AuditLog{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Action:       action,
		ResourceType: resourceType,
		Details:      make(map[string]any),
		CreatedAt:    time.Now(),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if userEmail, ok := payload["user_email"].(string); ok {
		entry.UserEmail = userEmail
	}
	if id, ok := payload["id"].(string); ok {
		entry.ResourceID = id
	}
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}
	if userAgent, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = userAgent
	}

	// Copy remaining fields to details
	for k, v := range payload {
		switch k {
		case "user_id", "user_email", "id", "ip_address", "user_agent":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID     *string
	Action     *models.AuditAction
	ResourceID *string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	// Count total
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Order by timestamp descending (most recent first)
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
