/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/api"
	"github.com/jonyboev-wq/calendarv2/internal/audit"
	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	schedulerstate "github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
)

// caldavServer is a minimal CalDAV endpoint: REPORT lists stored events as a
// multistatus, PUT upserts by path, DELETE removes.
type caldavServer struct {
	mu      sync.Mutex
	events  map[string]string
	puts    []string
	deletes []string
}

func newCalDAVServer() *caldavServer {
	return &caldavServer{events: make(map[string]string)}
}

func (f *caldavServer) seed(e calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.UID] = string(calendar.EncodeEvent(e))
}

func (f *caldavServer) has(uid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[uid]
	return ok
}

func (f *caldavServer) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *caldavServer) uidFromPath(path string) string {
	base := path[strings.LastIndex(path, "/")+1:]
	return strings.TrimSuffix(base, ".ics")
}

func (f *caldavServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case "REPORT":
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
		b.WriteString(`<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">`)
		for uid, ics := range f.events {
			b.WriteString(`<D:response><D:href>/cal/home/` + uid + `.ics</D:href>`)
			b.WriteString(`<D:propstat><D:status>HTTP/1.1 200 OK</D:status><D:prop><C:calendar-data>`)
			b.WriteString(xmlEscape(ics))
			b.WriteString(`</C:calendar-data></D:prop></D:propstat></D:response>`)
		}
		b.WriteString(`</D:multistatus>`)
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(b.String()))
	case http.MethodPut:
		uid := f.uidFromPath(r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_, existed := f.events[uid]
		f.events[uid] = string(body)
		f.puts = append(f.puts, uid)
		if existed {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
	case http.MethodDelete:
		uid := f.uidFromPath(r.URL.Path)
		if _, ok := f.events[uid]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.events, uid)
		f.deletes = append(f.deletes, uid)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

type syncReport struct {
	Fetched  int `json:"fetched"`
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
	Pushed   int `json:"pushed"`
	Deleted  int `json:"deleted"`
}

// TestCalDAVSyncReconciliation runs the planner API against a CalDAV
// endpoint: the first sync pulls a foreign event in as a fixed commitment
// and pushes the placed flexible block out, the second cleans up the remote
// event after its activity is deleted locally.
func TestCalDAVSyncReconciliation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	day := func(hour, min int) time.Time {
		return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
	}

	remote := newCalDAVServer()
	remote.seed(calendar.Event{
		UID:     "dentist",
		Summary: "Dentist",
		Start:   day(10, 0),
		End:     day(11, 0),
	})
	caldav := httptest.NewServer(remote)
	defer caldav.Close()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	defaults := planner.DaySettings{DayStart: day(8, 0), DayEnd: day(20, 0)}
	sched, err := scheduler.New(gdb, defaults, bus, schedulerstate.NewStore(0), zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	client, err := calendar.NewClient(calendar.ClientConfig{
		ServerURL:  caldav.URL + "/cal",
		CalendarID: "home",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("caldav client: %v", err)
	}
	syncSvc := calendar.NewSyncService(client, sched, bus, 0, zerolog.Nop())

	a := api.New(gdb, nil, sched, audit.NewService(gdb, bus, zerolog.Nop()), bus, zerolog.Nop())
	a.SetSyncService(syncSvc)
	r := chi.NewRouter()
	a.Routes(r)
	server := httptest.NewServer(r)
	defer server.Close()

	httpc := &http.Client{Timeout: 10 * time.Second}

	// An hour of writing, placed before the remote event is known.
	body, _ := json.Marshal(map[string]any{
		"id": "writing", "kind": "flexible", "duration_minutes": 60,
		"earliest_start": day(9, 0).Format(time.RFC3339),
		"latest_finish":  day(13, 0).Format(time.RFC3339),
	})
	resp, err := httpc.Post(server.URL+"/api/v1/activities", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create writing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create writing status = %d, want 201", resp.StatusCode)
	}

	report := runSync(t, httpc, server.URL)
	if report.Fetched != 1 || report.Imported != 1 || report.Pushed != 1 {
		t.Fatalf("first sync = %+v, want fetched 1 imported 1 pushed 1", report)
	}
	if !remote.has("writing") {
		t.Fatal("writing block was not pushed to the remote calendar")
	}

	// The dentist appointment now lives in the plan as an external fixed
	// commitment at its remote slot.
	sched2 := getSchedule(t, httpc, server.URL)
	var extBlock *blockInfo
	for i, b := range sched2.Blocks {
		if b.ActivityID == "ext-dentist" {
			extBlock = &sched2.Blocks[i]
		}
	}
	if extBlock == nil {
		t.Fatalf("ext-dentist missing from blocks: %+v", sched2.Blocks)
	}
	if extBlock.Kind != "fixed" || !extBlock.Start.Equal(day(10, 0)) || !extBlock.End.Equal(day(11, 0)) {
		t.Fatalf("ext-dentist block = %+v, want fixed [10:00,11:00)", extBlock)
	}

	// A second pass with nothing changed must be a no-op on both sides.
	report = runSync(t, httpc, server.URL)
	if report.Imported != 0 || report.Updated != 0 || report.Pushed != 0 || report.Deleted != 0 {
		t.Fatalf("steady-state sync = %+v, want no changes", report)
	}

	// Deleting the local activity removes its pushed event on the next run.
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/activities/writing", nil)
	resp, err = httpc.Do(req)
	if err != nil {
		t.Fatalf("delete writing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete writing status = %d, want 200", resp.StatusCode)
	}

	report = runSync(t, httpc, server.URL)
	if report.Deleted != 1 {
		t.Fatalf("cleanup sync = %+v, want deleted 1", report)
	}
	if remote.has("writing") {
		t.Fatal("writing event still present on the remote calendar")
	}
	if got := remote.deleted(); len(got) != 1 || got[0] != "writing" {
		t.Fatalf("remote deletes = %v, want [writing]", got)
	}
}

type blockInfo struct {
	ActivityID string    `json:"activity_id"`
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type scheduleInfo struct {
	Blocks []blockInfo `json:"blocks"`
}

func runSync(t *testing.T, httpc *http.Client, baseURL string) syncReport {
	t.Helper()
	resp, err := httpc.Post(baseURL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}
	var report syncReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode sync report: %v", err)
	}
	return report
}

func getSchedule(t *testing.T, httpc *http.Client, baseURL string) scheduleInfo {
	t.Helper()
	resp, err := httpc.Get(baseURL + "/api/v1/schedule")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200", resp.StatusCode)
	}
	var sched scheduleInfo
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return sched
}
