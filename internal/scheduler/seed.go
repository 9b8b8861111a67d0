/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonyboev-wq/calendarv2/internal/planner"
)

// seedFile is the YAML shape accepted by SeedFromFile. Timestamps are
// RFC 3339.
type seedFile struct {
	DaySettings struct {
		DayStart string `yaml:"day_start"`
		DayEnd   string `yaml:"day_end"`
	} `yaml:"day_settings"`
	Activities []seedActivity `yaml:"activities"`
}

type seedActivity struct {
	ID              string  `yaml:"id"`
	Kind            string  `yaml:"kind"`
	DurationMinutes int     `yaml:"duration_minutes"`
	Importance      float64 `yaml:"importance"`
	Start           string  `yaml:"start"`
	EarliestStart   string  `yaml:"earliest_start"`
	LatestFinish    string  `yaml:"latest_finish"`
	CanSplit        bool    `yaml:"can_split"`
	MinChunkMinutes int     `yaml:"min_chunk_minutes"`
}

// SeedFromFile preloads day settings and activities from a YAML file. It is
// a no-op when the plan already holds activities, so restarts with a seed
// file configured do not duplicate anything.
func (s *Service) SeedFromFile(ctx context.Context, path string) error {
	if len(s.manager.Schedule().Activities) > 0 {
		s.logger.Debug().Str("path", path).Msg("plan not empty, skipping seed file")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	if seed.DaySettings.DayStart != "" || seed.DaySettings.DayEnd != "" {
		var dayStart, dayEnd *time.Time
		if seed.DaySettings.DayStart != "" {
			t, err := time.Parse(time.RFC3339, seed.DaySettings.DayStart)
			if err != nil {
				return fmt.Errorf("seed day_start: %w", err)
			}
			t = t.UTC()
			dayStart = &t
		}
		if seed.DaySettings.DayEnd != "" {
			t, err := time.Parse(time.RFC3339, seed.DaySettings.DayEnd)
			if err != nil {
				return fmt.Errorf("seed day_end: %w", err)
			}
			t = t.UTC()
			dayEnd = &t
		}
		if _, err := s.UpdateSettings(ctx, dayStart, dayEnd); err != nil {
			return fmt.Errorf("seed day settings: %w", err)
		}
	}

	created := 0
	for _, item := range seed.Activities {
		a, err := item.toActivity()
		if err != nil {
			return fmt.Errorf("seed activity %q: %w", item.ID, err)
		}
		if _, err := s.CreateActivity(ctx, a); err != nil {
			return fmt.Errorf("seed activity %q: %w", item.ID, err)
		}
		created++
	}

	s.logger.Info().Str("path", path).Int("activities", created).Msg("plan seeded")
	return nil
}

func (sa seedActivity) toActivity() (planner.Activity, error) {
	a := planner.Activity{
		ID:         sa.ID,
		Kind:       planner.Kind(sa.Kind),
		Duration:   time.Duration(sa.DurationMinutes) * time.Minute,
		Importance: sa.Importance,
		CanSplit:   sa.CanSplit,
		MinChunk:   time.Duration(sa.MinChunkMinutes) * time.Minute,
	}
	if a.Importance == 0 {
		a.Importance = 1
	}
	if a.CanSplit && sa.MinChunkMinutes == 0 {
		a.MinChunk = 30 * time.Minute
	}

	var err error
	parse := func(value string) (time.Time, error) {
		t, parseErr := time.Parse(time.RFC3339, value)
		if parseErr != nil {
			return time.Time{}, parseErr
		}
		return t.UTC(), nil
	}
	if sa.Start != "" {
		if a.Start, err = parse(sa.Start); err != nil {
			return planner.Activity{}, fmt.Errorf("start: %w", err)
		}
	}
	if sa.EarliestStart != "" {
		if a.EarliestStart, err = parse(sa.EarliestStart); err != nil {
			return planner.Activity{}, fmt.Errorf("earliest_start: %w", err)
		}
	}
	if sa.LatestFinish != "" {
		if a.LatestFinish, err = parse(sa.LatestFinish); err != nil {
			return planner.Activity{}, fmt.Errorf("latest_finish: %w", err)
		}
	}
	return a, nil
}
