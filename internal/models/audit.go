/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for all recorded operations.
const (
	AuditActionActivityCreate   AuditAction = "activity.create"
	AuditActionActivityUpdate   AuditAction = "activity.update"
	AuditActionActivityDelete   AuditAction = "activity.delete"
	AuditActionActivityComplete AuditAction = "activity.complete"
	AuditActionSettingsUpdate   AuditAction = "settings.update"
	AuditActionScheduleImport   AuditAction = "schedule.import"
	AuditActionSyncRun          AuditAction = "sync.run"
	AuditActionArchiveSave      AuditAction = "archive.save"
	AuditActionAPIKeyCreate     AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke     AuditAction = "apikey.revoke"
)

// AuditLog records mutating operations for later review.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID       *string        `gorm:"type:uuid;index:idx_audit_user"` // NULL for system actions
	UserEmail    string         `gorm:"type:varchar(255)"`              // Denormalized for readability
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"`           // "activity", "settings", "apikey", etc.
	ResourceID   string         `gorm:"type:varchar(128)"`          // ID of the affected resource
	Details      map[string]any `gorm:"type:jsonb;serializer:json"` // Action-specific details
	IPAddress    string         `gorm:"type:varchar(45)"`           // IPv4 or IPv6
	UserAgent    string         `gorm:"type:varchar(512)"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
