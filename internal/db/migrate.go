/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/jonyboev-wq/calendarv2/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Plan state
		&models.Activity{},
		&models.Block{},
		&models.PlanSettings{},

		// Platform
		&models.User{},
		&models.APIKey{},
		&models.AuditLog{},
		&models.WebhookTarget{},
		&models.WebhookDelivery{},
	); err != nil {
		return err
	}

	if err := applyPostgresBlockOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyActivityKinds(database); err != nil {
		return err
	}
	if err := backfillActivityPositions(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresBlockOverlapGuard installs a trigger that rejects any pair of
// overlapping block rows. The planner never derives an overlapping pair, so a
// violation here means a bug or a hand-edited database.
func applyPostgresBlockOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_block_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'block end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM blocks b
    WHERE b.id <> NEW.id
      AND tstzrange(b.starts_at, b.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping blocks are not allowed (activity %)', NEW.activity_id
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_block_overlap ON blocks;

CREATE TRIGGER trg_prevent_block_overlap
BEFORE INSERT OR UPDATE OF activity_id, starts_at, ends_at
ON blocks
FOR EACH ROW
EXECUTE FUNCTION prevent_block_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres block overlap guard: %w", err)
	}

	return nil
}

func normalizeLegacyActivityKinds(database *gorm.DB) error {
	if err := database.Exec("UPDATE activities SET kind = ? WHERE LOWER(TRIM(kind)) = ?", models.ActivityKindFixed, "fixed").Error; err != nil {
		return fmt.Errorf("normalize legacy fixed activity kind: %w", err)
	}
	if err := database.Exec("UPDATE activities SET kind = ? WHERE LOWER(TRIM(kind)) IN ?", models.ActivityKindFlexible, []string{"flexible", "floating", "movable"}).Error; err != nil {
		return fmt.Errorf("normalize legacy flexible activity kind: %w", err)
	}
	return nil
}

// backfillActivityPositions assigns positions to rows created before the
// position column existed. Replay order falls back to creation time for them.
func backfillActivityPositions(database *gorm.DB) error {
	var next int
	if err := database.
		Model(&models.Activity{}).
		Select("COALESCE(MAX(position), 0)").
		Scan(&next).Error; err != nil {
		return fmt.Errorf("backfill activity positions max query: %w", err)
	}

	type row struct {
		ID string
	}
	var rows []row
	if err := database.
		Model(&models.Activity{}).
		Select("id").
		Where("position = 0").
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("backfill activity positions query: %w", err)
	}

	for _, r := range rows {
		next++
		database.Model(&models.Activity{}).
			Where("id = ?", r.ID).
			Update("position", next)
	}

	return nil
}
