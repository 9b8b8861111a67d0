/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	schedulerstate "github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the committed schedule as iCalendar",
	Long: `Render the current day plan to an ICS document.

The plan is restored from the database exactly as the server would
restore it on startup; no server needs to be running.

Examples:
  # Print the schedule to stdout
  calendarv2 export

  # Write the schedule to a file
  calendarv2 export -o today.ics
`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write ICS to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	dayStart, dayEnd, err := cfg.DayBoundsFor(time.Now())
	if err != nil {
		return fmt.Errorf("resolve day bounds: %w", err)
	}
	defaults := planner.DaySettings{DayStart: dayStart, DayEnd: dayEnd}

	sched, err := scheduler.New(database, defaults, events.NewBus(), schedulerstate.NewStore(0), logger)
	if err != nil {
		return fmt.Errorf("restore plan: %w", err)
	}

	plan := sched.Schedule()
	ics := calendar.EncodeCalendar("Day Plan", calendar.EventsFromBlocks(plan.Blocks))

	if exportOutput == "" {
		fmt.Print(string(ics))
		return nil
	}

	if err := os.WriteFile(exportOutput, ics, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOutput, err)
	}
	logger.Info().Str("path", exportOutput).Int("blocks", len(plan.Blocks)).Msg("schedule exported")
	return nil
}
