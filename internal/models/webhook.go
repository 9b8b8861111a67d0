/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookTarget is a registered receiver for plan events. Events holds a
// comma-separated list of bus event types the target wants; empty subscribes
// to every delivered type.
type WebhookTarget struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	URL    string `gorm:"type:varchar(512);not null"`
	Events string `gorm:"type:varchar(255)"`
	// Secret signs outgoing payloads. It is returned once on create and
	// never listed afterwards.
	Secret    string `gorm:"type:varchar(255)"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// NewWebhookTarget mints an active target with a random signing secret.
func NewWebhookTarget(url, eventTypes string) *WebhookTarget {
	return &WebhookTarget{
		ID:     uuid.NewString(),
		URL:    url,
		Events: eventTypes,
		Secret: uuid.NewString(),
		Active: true,
	}
}

// WebhookDelivery records one delivery attempt against a target.
type WebhookDelivery struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TargetID   string `gorm:"type:uuid;index;not null"`
	Event      string `gorm:"type:varchar(64);not null"`
	StatusCode int
	Error      string `gorm:"type:text"`
	DurationMS int64
	CreatedAt  time.Time
}

// TableName returns the table name for GORM.
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
