/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/cache"
	"github.com/jonyboev-wq/calendarv2/internal/interval"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
)

// activityResponse is the JSON form of one declared activity.
type activityResponse struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	DurationMinutes int        `json:"duration_minutes"`
	Importance      float64    `json:"importance"`
	Start           *time.Time `json:"start,omitempty"`
	EarliestStart   *time.Time `json:"earliest_start,omitempty"`
	LatestFinish    *time.Time `json:"latest_finish,omitempty"`
	CanSplit        bool       `json:"can_split,omitempty"`
	MinChunkMinutes int        `json:"min_chunk_minutes,omitempty"`
}

// blockResponse is the JSON form of one committed placement. Chunk markers
// appear only on split placements.
type blockResponse struct {
	ActivityID string    `json:"activity_id"`
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
}

type windowResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type warningResponse struct {
	ActivityID string `json:"activity_id"`
	Reason     string `json:"reason"`
}

// scheduleResponse is the full plan payload returned by reads and by every
// successful mutation.
type scheduleResponse struct {
	DayStart    time.Time          `json:"day_start"`
	DayEnd      time.Time          `json:"day_end"`
	Activities  []activityResponse `json:"activities"`
	Blocks      []blockResponse    `json:"blocks"`
	FreeWindows []windowResponse   `json:"free_windows"`
	Warnings    []warningResponse  `json:"warnings"`
}

func toActivityResponse(a planner.Activity) activityResponse {
	resp := activityResponse{
		ID:              a.ID,
		Kind:            string(a.Kind),
		DurationMinutes: int(a.Duration / time.Minute),
		Importance:      a.Importance,
		CanSplit:        a.CanSplit,
		MinChunkMinutes: int(a.MinChunk / time.Minute),
	}
	if a.Kind == planner.KindFixed {
		start := a.Start
		resp.Start = &start
	} else {
		earliest, latest := a.EarliestStart, a.LatestFinish
		resp.EarliestStart = &earliest
		resp.LatestFinish = &latest
	}
	return resp
}

func toBlockResponses(blocks []planner.Block) []blockResponse {
	out := make([]blockResponse, len(blocks))
	for i, b := range blocks {
		out[i] = blockResponse{
			ActivityID: b.ActivityID,
			Kind:       string(b.Kind),
			Start:      b.Span.Start,
			End:        b.Span.End,
			ChunkIndex: b.ChunkIndex,
			ChunkCount: b.ChunkCount,
		}
	}
	return out
}

func toWindowResponses(windows []interval.Span) []windowResponse {
	out := make([]windowResponse, len(windows))
	for i, w := range windows {
		out[i] = windowResponse{Start: w.Start, End: w.End}
	}
	return out
}

func toWarningResponses(warnings []planner.Warning) []warningResponse {
	out := make([]warningResponse, len(warnings))
	for i, w := range warnings {
		out[i] = warningResponse{ActivityID: w.ActivityID, Reason: w.Reason}
	}
	return out
}

func toScheduleResponse(s planner.Schedule) scheduleResponse {
	activities := make([]activityResponse, len(s.Activities))
	for i, a := range s.Activities {
		activities[i] = toActivityResponse(a)
	}
	return scheduleResponse{
		DayStart:    s.Settings.DayStart,
		DayEnd:      s.Settings.DayEnd,
		Activities:  activities,
		Blocks:      toBlockResponses(s.Blocks),
		FreeWindows: toWindowResponses(s.FreeWindows),
		Warnings:    toWarningResponses(s.Warnings),
	}
}

// handleScheduleGet returns the committed plan, from cache when a prior read
// populated it. Mutations invalidate the snapshot, so a hit is never stale.
func (a *API) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if snapshot, ok := a.cache.GetSchedule(r.Context()); ok {
			writeJSON(w, http.StatusOK, fromCachedSchedule(snapshot))
			return
		}
	}

	resp := toScheduleResponse(a.scheduler.Schedule())

	if a.cache != nil {
		if err := a.cache.SetSchedule(r.Context(), toCachedSchedule(resp)); err != nil {
			a.logger.Debug().Err(err).Msg("failed to cache schedule")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProposalCreate runs placement for a hypothetical activity without
// committing anything. The response carries the candidate's blocks and the
// free windows of the plan as committed.
func (a *API) handleProposalCreate(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ID == "" {
		req.ID = "__proposal__"
	}

	candidate, err := req.toActivity()
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	result, err := a.scheduler.Preview(r.Context(), candidate)
	if err != nil {
		a.writePlannerError(w, err)
		return
	}

	resp := map[string]any{
		"id":           candidate.ID,
		"blocks":       toBlockResponses(result.Blocks),
		"free_windows": toWindowResponses(result.FreeWindows),
	}
	if result.Warning != nil {
		resp["warning"] = warningResponse{ActivityID: result.Warning.ActivityID, Reason: result.Warning.Reason}
	}
	writeJSON(w, http.StatusOK, resp)
}

// runResponse is the JSON form of one recorded recompute.
type runResponse struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	ActivityID  string    `json:"activity_id,omitempty"`
	At          time.Time `json:"at"`
	DurationMS  int64     `json:"duration_ms"`
	Blocks      int       `json:"blocks"`
	FreeMinutes int       `json:"free_minutes"`
	Warnings    int       `json:"warnings"`
}

func (a *API) handleScheduleRuns(w http.ResponseWriter, r *http.Request) {
	runs := a.scheduler.Runs()
	resp := make([]runResponse, len(runs))
	for i, run := range runs {
		resp[i] = runResponse{
			ID:          run.ID,
			Operation:   run.Operation,
			ActivityID:  run.ActivityID,
			At:          run.At,
			DurationMS:  run.Duration.Milliseconds(),
			Blocks:      run.Blocks,
			FreeMinutes: run.FreeMinutes,
			Warnings:    run.Warnings,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  resp,
		"total": len(resp),
	})
}

func toCachedSchedule(resp scheduleResponse) *cache.CachedSchedule {
	snapshot := &cache.CachedSchedule{
		DayStart:    resp.DayStart,
		DayEnd:      resp.DayEnd,
		Activities:  make([]cache.CachedActivity, len(resp.Activities)),
		Blocks:      make([]cache.CachedBlock, len(resp.Blocks)),
		FreeWindows: make([]cache.CachedWindow, len(resp.FreeWindows)),
		Warnings:    make([]cache.CachedWarning, len(resp.Warnings)),
		ComputedAt:  time.Now().UTC(),
	}
	for i, a := range resp.Activities {
		snapshot.Activities[i] = cache.CachedActivity{
			ID:              a.ID,
			Kind:            a.Kind,
			DurationMinutes: a.DurationMinutes,
			Importance:      a.Importance,
			Start:           a.Start,
			EarliestStart:   a.EarliestStart,
			LatestFinish:    a.LatestFinish,
			CanSplit:        a.CanSplit,
			MinChunkMinutes: a.MinChunkMinutes,
		}
	}
	for i, b := range resp.Blocks {
		snapshot.Blocks[i] = cache.CachedBlock{
			ActivityID: b.ActivityID,
			Kind:       b.Kind,
			Start:      b.Start,
			End:        b.End,
			ChunkIndex: b.ChunkIndex,
			ChunkCount: b.ChunkCount,
		}
	}
	for i, fw := range resp.FreeWindows {
		snapshot.FreeWindows[i] = cache.CachedWindow{Start: fw.Start, End: fw.End}
	}
	for i, warn := range resp.Warnings {
		snapshot.Warnings[i] = cache.CachedWarning{ActivityID: warn.ActivityID, Reason: warn.Reason}
	}
	return snapshot
}

func fromCachedSchedule(snapshot *cache.CachedSchedule) scheduleResponse {
	resp := scheduleResponse{
		DayStart:    snapshot.DayStart,
		DayEnd:      snapshot.DayEnd,
		Activities:  make([]activityResponse, len(snapshot.Activities)),
		Blocks:      make([]blockResponse, len(snapshot.Blocks)),
		FreeWindows: make([]windowResponse, len(snapshot.FreeWindows)),
		Warnings:    make([]warningResponse, len(snapshot.Warnings)),
	}
	for i, a := range snapshot.Activities {
		resp.Activities[i] = activityResponse{
			ID:              a.ID,
			Kind:            a.Kind,
			DurationMinutes: a.DurationMinutes,
			Importance:      a.Importance,
			Start:           a.Start,
			EarliestStart:   a.EarliestStart,
			LatestFinish:    a.LatestFinish,
			CanSplit:        a.CanSplit,
			MinChunkMinutes: a.MinChunkMinutes,
		}
	}
	for i, b := range snapshot.Blocks {
		resp.Blocks[i] = blockResponse{
			ActivityID: b.ActivityID,
			Kind:       b.Kind,
			Start:      b.Start,
			End:        b.End,
			ChunkIndex: b.ChunkIndex,
			ChunkCount: b.ChunkCount,
		}
	}
	for i, fw := range snapshot.FreeWindows {
		resp.FreeWindows[i] = windowResponse{Start: fw.Start, End: fw.End}
	}
	for i, warn := range snapshot.Warnings {
		resp.Warnings[i] = warningResponse{ActivityID: warn.ActivityID, Reason: warn.Reason}
	}
	return resp
}
