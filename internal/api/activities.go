/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonyboev-wq/calendarv2/internal/planner"
)

// activityRequest is the JSON body shared by create, update, and proposal
// calls. Importance and min_chunk_minutes are pointers so an omitted field
// can fall back to its default without losing an explicit zero.
type activityRequest struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	DurationMinutes int      `json:"duration_minutes"`
	Importance      *float64 `json:"importance"`
	Start           string   `json:"start"`
	EarliestStart   string   `json:"earliest_start"`
	LatestFinish    string   `json:"latest_finish"`
	CanSplit        bool     `json:"can_split"`
	MinChunkMinutes *int     `json:"min_chunk_minutes"`
}

func (req activityRequest) toActivity() (planner.Activity, error) {
	a := planner.Activity{
		ID:         req.ID,
		Kind:       planner.Kind(req.Kind),
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		Importance: 1,
		CanSplit:   req.CanSplit,
	}
	if req.Importance != nil {
		a.Importance = *req.Importance
	}
	if req.MinChunkMinutes != nil {
		a.MinChunk = time.Duration(*req.MinChunkMinutes) * time.Minute
	} else if req.CanSplit {
		a.MinChunk = 30 * time.Minute
	}

	if req.Start != "" {
		start, err := parseTimeField("start", req.Start)
		if err != nil {
			return planner.Activity{}, err
		}
		a.Start = start
	}
	if req.EarliestStart != "" {
		earliest, err := parseTimeField("earliest_start", req.EarliestStart)
		if err != nil {
			return planner.Activity{}, err
		}
		a.EarliestStart = earliest
	}
	if req.LatestFinish != "" {
		latest, err := parseTimeField("latest_finish", req.LatestFinish)
		if err != nil {
			return planner.Activity{}, err
		}
		a.LatestFinish = latest
	}
	return a, nil
}

func (a *API) handleActivityCreate(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	activity, err := req.toActivity()
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	sched, err := a.scheduler.CreateActivity(r.Context(), activity)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toScheduleResponse(sched))
}

func (a *API) handleActivityUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activityID")

	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.ID = id

	activity, err := req.toActivity()
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	sched, err := a.scheduler.UpdateActivity(r.Context(), id, activity)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

func (a *API) handleActivityDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activityID")

	sched, err := a.scheduler.DeleteActivity(r.Context(), id)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

type completeRequest struct {
	CompletionTime string `json:"completion_time"`
}

// handleActivityComplete removes a finished activity from the plan. The body
// is optional; an empty one stamps the completion with the current time.
func (a *API) handleActivityComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activityID")

	var req completeRequest
	if r.Body != nil {
		// An empty body is fine; anything present must decode.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	var completedAt *time.Time
	if req.CompletionTime != "" {
		t, err := parseTimeField("completion_time", req.CompletionTime)
		if err != nil {
			a.writePlannerError(w, err)
			return
		}
		completedAt = &t
	}

	sched, err := a.scheduler.CompleteActivity(r.Context(), id, completedAt)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

type settingsRequest struct {
	DayStart string `json:"day_start"`
	DayEnd   string `json:"day_end"`
}

// handleSettingsUpdate moves the working-day bounds. Omitted fields keep
// their committed value.
func (a *API) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var dayStart, dayEnd *time.Time
	if req.DayStart != "" {
		t, err := parseTimeField("day_start", req.DayStart)
		if err != nil {
			a.writePlannerError(w, err)
			return
		}
		dayStart = &t
	}
	if req.DayEnd != "" {
		t, err := parseTimeField("day_end", req.DayEnd)
		if err != nil {
			a.writePlannerError(w, err)
			return
		}
		dayEnd = &t
	}

	sched, err := a.scheduler.UpdateSettings(r.Context(), dayStart, dayEnd)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}
