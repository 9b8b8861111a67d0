/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package e2e drives planning scenarios through the full HTTP API.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/jonyboev-wq/calendarv2/internal/api"
	"github.com/jonyboev-wq/calendarv2/internal/audit"
	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	schedulerstate "github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
)

// The tests plan one fixed day so wall-clock strings stay readable.
func at(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

type blockJSON struct {
	ActivityID string    `json:"activity_id"`
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ChunkIndex int       `json:"chunk_index"`
	ChunkCount int       `json:"chunk_count"`
}

type windowJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type warningJSON struct {
	ActivityID string `json:"activity_id"`
	Reason     string `json:"reason"`
}

type scheduleJSON struct {
	DayStart    time.Time     `json:"day_start"`
	DayEnd      time.Time     `json:"day_end"`
	Blocks      []blockJSON   `json:"blocks"`
	FreeWindows []windowJSON  `json:"free_windows"`
	Warnings    []warningJSON `json:"warnings"`
}

func TestDayPlanningWalkthrough(t *testing.T) {
	server := setupPlanner(t)
	defer server.Close()

	// Two fixed commitments split the day into three free windows.
	postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "training", "kind": "fixed", "duration_minutes": 60,
		"start": at(10, 0).Format(time.RFC3339),
	}, http.StatusCreated)
	sched := postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "lecture", "kind": "fixed", "duration_minutes": 90,
		"start": at(13, 0).Format(time.RFC3339),
	}, http.StatusCreated)

	wantWindows(t, sched.FreeWindows, [][2]time.Time{
		{at(8, 0), at(10, 0)},
		{at(11, 0), at(13, 0)},
		{at(14, 30), at(20, 0)},
	})

	// A two-hour unsplittable task squeezed into [09:00,12:00) cannot fit:
	// its windows clip to one hour each. The activity is kept with a
	// warning instead of being rejected.
	sched = postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "deep-work", "kind": "flexible", "duration_minutes": 120,
		"earliest_start": at(9, 0).Format(time.RFC3339),
		"latest_finish":  at(12, 0).Format(time.RFC3339),
		"can_split":      false,
	}, http.StatusCreated)

	if len(sched.Warnings) != 1 || sched.Warnings[0].ActivityID != "deep-work" {
		t.Fatalf("warnings = %+v, want one for deep-work", sched.Warnings)
	}
	if len(sched.Blocks) != 2 {
		t.Fatalf("blocks = %d, want the two fixed placements only", len(sched.Blocks))
	}

	// Widening the eligibility in a proposal shows the placement the task
	// would get, without touching the committed plan.
	var proposal struct {
		Blocks []blockJSON `json:"blocks"`
	}
	resp := doRequest(t, server, http.MethodPost, "/api/v1/proposals", map[string]any{
		"id": "deep-work", "kind": "flexible", "duration_minutes": 120,
		"earliest_start": at(6, 0).Format(time.RFC3339),
		"latest_finish":  at(18, 0).Format(time.RFC3339),
		"can_split":      false,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("proposal status = %d, want 200", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&proposal); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if len(proposal.Blocks) != 1 || !proposal.Blocks[0].Start.Equal(at(8, 0)) || !proposal.Blocks[0].End.Equal(at(10, 0)) {
		t.Fatalf("proposal blocks = %+v, want [08:00,10:00)", proposal.Blocks)
	}

	committed := getSchedule(t, server)
	if len(committed.Blocks) != 2 || len(committed.Warnings) != 1 {
		t.Fatalf("proposal mutated the plan: %+v", committed)
	}

	// Dropping the stuck task and completing training merges its slot back
	// into the morning window.
	sched = deleteActivity(t, server, "deep-work")
	if len(sched.Warnings) != 0 {
		t.Fatalf("warnings after delete = %+v, want none", sched.Warnings)
	}

	sched = postJSON(t, server, "/api/v1/activities/training/complete", map[string]any{}, http.StatusOK)
	if len(sched.Blocks) != 1 || sched.Blocks[0].ActivityID != "lecture" {
		t.Fatalf("blocks after completion = %+v, want lecture only", sched.Blocks)
	}
	wantWindows(t, sched.FreeWindows, [][2]time.Time{
		{at(8, 0), at(13, 0)},
		{at(14, 30), at(20, 0)},
	})
}

func TestSplitPlacementAndExportRoundTrip(t *testing.T) {
	server := setupPlanner(t)
	defer server.Close()

	postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "lunch", "kind": "fixed", "duration_minutes": 60,
		"start": at(12, 0).Format(time.RFC3339),
	}, http.StatusCreated)

	// Three hours of study around lunch must split into two chunks.
	sched := postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "study", "kind": "flexible", "duration_minutes": 180,
		"earliest_start":    at(10, 0).Format(time.RFC3339),
		"latest_finish":     at(15, 0).Format(time.RFC3339),
		"can_split":         true,
		"min_chunk_minutes": 45,
	}, http.StatusCreated)

	var study []blockJSON
	var total time.Duration
	for _, b := range sched.Blocks {
		if b.ActivityID == "study" {
			study = append(study, b)
			total += b.End.Sub(b.Start)
		}
	}
	if len(study) != 2 {
		t.Fatalf("study chunks = %d, want 2", len(study))
	}
	if total != 3*time.Hour {
		t.Fatalf("study total = %v, want 3h", total)
	}
	if study[0].ChunkIndex != 1 || study[0].ChunkCount != 2 || study[1].ChunkIndex != 2 {
		t.Fatalf("chunk markers = %+v", study)
	}

	// The exported calendar carries every block, chunk markers included.
	resp := doRequest(t, server, http.MethodGet, "/api/v1/schedule/export", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("export content type = %q", ct)
	}
	var ics bytes.Buffer
	if _, err := ics.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read export: %v", err)
	}
	body := ics.String()
	for _, want := range []string{"UID:lunch", "UID:study-1", "UID:study-2", "X-CHUNK-COUNT:2"} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q", want)
		}
	}

	// Importing that calendar into a fresh planner recreates the day as
	// fixed commitments.
	fresh := setupPlanner(t)
	defer fresh.Close()

	importResp := doRaw(t, fresh, http.MethodPost, "/api/v1/schedule/import", ics.Bytes(), "text/calendar")
	defer importResp.Body.Close()
	if importResp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d, want 200", importResp.StatusCode)
	}
	var report struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	if err := json.NewDecoder(importResp.Body).Decode(&report); err != nil {
		t.Fatalf("decode import report: %v", err)
	}
	if report.Imported != 3 {
		t.Fatalf("imported = %d, want 3", report.Imported)
	}

	imported := getSchedule(t, fresh)
	if len(imported.Blocks) != 3 {
		t.Fatalf("imported blocks = %d, want 3", len(imported.Blocks))
	}
	for _, b := range imported.Blocks {
		if b.Kind != "fixed" {
			t.Errorf("imported block %s kind = %q, want fixed", b.ActivityID, b.Kind)
		}
	}
}

func TestEventStreamDeliversScheduleUpdates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping websocket test in short mode")
	}

	server := setupPlanner(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, server.URL+"/api/v1/events?types=schedule.updated", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// Give the handler a moment to register its subscription.
	time.Sleep(100 * time.Millisecond)

	postJSON(t, server, "/api/v1/activities", map[string]any{
		"id": "standup", "kind": "fixed", "duration_minutes": 30,
		"start": at(9, 0).Format(time.RFC3339),
	}, http.StatusCreated)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		if frame.Type == "ping" {
			continue
		}
		if frame.Type != "schedule.updated" {
			t.Fatalf("event type = %q, want schedule.updated", frame.Type)
		}
		return
	}
}

// Helper functions

func setupPlanner(t *testing.T) *httptest.Server {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	defaults := planner.DaySettings{DayStart: at(8, 0), DayEnd: at(20, 0)}
	sched, err := scheduler.New(gdb, defaults, bus, schedulerstate.NewStore(0), zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	auditSvc := audit.NewService(gdb, bus, zerolog.Nop())

	a := api.New(gdb, nil, sched, auditSvc, bus, zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)

	return httptest.NewServer(r)
}

func doRequest(t *testing.T, server *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func doRaw(t *testing.T, server *httptest.Server, method, path string, body []byte, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func postJSON(t *testing.T, server *httptest.Server, path string, body any, wantStatus int) scheduleJSON {
	t.Helper()
	resp := doRequest(t, server, http.MethodPost, path, body)
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	var sched scheduleJSON
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return sched
}

func getSchedule(t *testing.T, server *httptest.Server) scheduleJSON {
	t.Helper()
	resp := doRequest(t, server, http.MethodGet, "/api/v1/schedule", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/v1/schedule status = %d", resp.StatusCode)
	}
	var sched scheduleJSON
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return sched
}

func deleteActivity(t *testing.T, server *httptest.Server, id string) scheduleJSON {
	t.Helper()
	resp := doRequest(t, server, http.MethodDelete, "/api/v1/activities/"+id, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE %s status = %d, want 200", id, resp.StatusCode)
	}
	var sched scheduleJSON
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return sched
}

func wantWindows(t *testing.T, got []windowJSON, want [][2]time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("free windows = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, span := range want {
		if !got[i].Start.Equal(span[0]) || !got[i].End.Equal(span[1]) {
			t.Errorf("window %d = [%s,%s), want [%s,%s)", i,
				got[i].Start.Format("15:04"), got[i].End.Format("15:04"),
				span[0].Format("15:04"), span[1].Format("15:04"))
		}
	}
}
