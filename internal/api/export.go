/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	"github.com/jonyboev-wq/calendarv2/internal/storage"
)

// handleScheduleExport renders the committed blocks as an ICS download.
// The rendered document is cached until the next mutation invalidates it.
func (a *API) handleScheduleExport(w http.ResponseWriter, r *http.Request) {
	var ics string
	if a.cache != nil {
		if cached, ok := a.cache.GetExport(r.Context()); ok {
			ics = cached
		}
	}

	if ics == "" {
		sched := a.scheduler.Schedule()
		ics = string(calendar.EncodeCalendar("Day Plan", calendar.EventsFromBlocks(sched.Blocks)))
		if a.cache != nil {
			if err := a.cache.SetExport(r.Context(), ics); err != nil {
				a.logger.Debug().Err(err).Msg("failed to cache export")
			}
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics))
}

// handleScheduleImport pins the events of an uploaded ICS document into the
// plan as fixed activities. Bad events are skipped; failed placements are
// reported per event.
func (a *API) handleScheduleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty_body")
		return
	}

	parsed := calendar.ParseEvents(string(body))
	items := make([]scheduler.ImportedEvent, 0, len(parsed))
	for _, ev := range parsed {
		items = append(items, scheduler.ImportedEvent{ID: ev.UID, Start: ev.Start, End: ev.End})
	}

	result, err := a.scheduler.ImportEvents(r.Context(), items)
	if err != nil {
		a.logger.Error().Err(err).Msg("schedule import failed")
		writeError(w, http.StatusInternalServerError, "import_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
	})
}

// handleSyncRun triggers one CalDAV reconciliation pass.
func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if a.syncSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "sync_not_configured")
		return
	}

	result, err := a.syncSvc.SyncOnce(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("calendar sync failed")
		writeError(w, http.StatusBadGateway, "sync_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fetched":  result.Fetched,
		"imported": result.Imported,
		"updated":  result.Updated,
		"removed":  result.Removed,
		"pushed":   result.Pushed,
		"deleted":  result.Deleted,
		"errors":   result.Errors,
	})
}

// handleArchiveLatest serves the most recent archived snapshot.
func (a *API) handleArchiveLatest(w http.ResponseWriter, r *http.Request) {
	if a.archiveSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "archive_not_configured")
		return
	}

	data, err := a.archiveSvc.Latest(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_archive")
			return
		}
		a.logger.Error().Err(err).Msg("failed to load latest archive")
		writeError(w, http.StatusInternalServerError, "archive_read_failed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="latest.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleArchiveNow writes a snapshot immediately, outside the debounce.
func (a *API) handleArchiveNow(w http.ResponseWriter, r *http.Request) {
	if a.archiveSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "archive_not_configured")
		return
	}

	key, err := a.archiveSvc.ArchiveNow(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("archive write failed")
		writeError(w, http.StatusInternalServerError, "archive_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}
