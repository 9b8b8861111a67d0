package models

import (
	"time"
)

// RoleName enumerates the account roles.
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActivityKindFixed and ActivityKindFlexible are the persisted kind tags.
const (
	ActivityKindFixed    = "fixed"
	ActivityKindFlexible = "flexible"
)

// Activity is the persisted form of a declared activity. Kind-specific
// columns are nullable: fixed rows carry StartsAt, flexible rows carry the
// eligibility window and split settings.
type Activity struct {
	ID              string  `gorm:"primaryKey"`
	Kind            string  `gorm:"type:varchar(16);not null"`
	DurationMinutes int     `gorm:"not null"`
	Importance      float64 `gorm:"not null;default:1"`
	StartsAt        *time.Time
	EarliestStart   *time.Time
	LatestFinish    *time.Time
	CanSplit        bool
	MinChunkMinutes int
	// Position preserves creation order so replaying activities through the
	// placement pipeline after a restart is deterministic.
	Position  int `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Block is a committed placement derived from the activity set. Rows are
// rewritten wholesale inside the transaction of the mutation that produced
// them; they are never edited in place.
type Block struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	ActivityID string    `gorm:"index;not null"`
	Kind       string    `gorm:"type:varchar(16)"`
	StartsAt   time.Time `gorm:"index;not null"`
	EndsAt     time.Time `gorm:"not null"`
	ChunkIndex *int
	ChunkCount *int
	CreatedAt  time.Time
}

// PlanSettings stores the working-day bound.
// Uses singleton pattern with a fixed ID=1 row.
type PlanSettings struct {
	ID        int       `gorm:"primaryKey"`
	DayStart  time.Time `gorm:"not null"`
	DayEnd    time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (PlanSettings) TableName() string {
	return "plan_settings"
}
