package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/audit"
	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
)

// testDay anchors every fixture to the same working day.
func testDay(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

type apiFixture struct {
	api       *API
	router    *chi.Mux
	db        *gorm.DB
	bus       *events.Bus
	scheduler *scheduler.Service
	auditSvc  *audit.Service
}

func newTestAPI(t *testing.T, jwtSecret []byte) *apiFixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	defaults := planner.DaySettings{DayStart: testDay(8, 0), DayEnd: testDay(18, 0)}
	sched, err := scheduler.New(gdb, defaults, bus, state.NewStore(0), zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	auditSvc := audit.NewService(gdb, bus, zerolog.Nop())

	a := New(gdb, jwtSecret, sched, auditSvc, bus, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	return &apiFixture{api: a, router: router, db: gdb, bus: bus, scheduler: sched, auditSvc: auditSvc}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeSchedule(t *testing.T, rr *httptest.ResponseRecorder) scheduleResponse {
	t.Helper()
	var resp scheduleResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func fixedBody(id string, start time.Time, minutes int) map[string]any {
	return map[string]any{
		"id":               id,
		"kind":             "fixed",
		"duration_minutes": minutes,
		"start":            start.Format(time.RFC3339),
	}
}

func flexibleBody(id string, minutes int, from, to time.Time) map[string]any {
	return map[string]any{
		"id":               id,
		"kind":             "flexible",
		"duration_minutes": minutes,
		"earliest_start":   from.Format(time.RFC3339),
		"latest_finish":    to.Format(time.RFC3339),
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestAPI(t, nil)

	rr := f.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestActivityCreateReturnsSchedule(t *testing.T) {
	f := newTestAPI(t, nil)

	rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body=%s)", rr.Code, rr.Body.String())
	}

	resp := decodeSchedule(t, rr)
	if len(resp.Activities) != 1 || len(resp.Blocks) != 1 {
		t.Fatalf("got %d activities, %d blocks; want 1 and 1", len(resp.Activities), len(resp.Blocks))
	}
	if resp.Activities[0].Importance != 1 {
		t.Errorf("importance = %v, want default 1", resp.Activities[0].Importance)
	}
	if !resp.Blocks[0].Start.Equal(testDay(9, 0)) || !resp.Blocks[0].End.Equal(testDay(9, 30)) {
		t.Errorf("block spans [%v, %v), want [09:00, 09:30)", resp.Blocks[0].Start, resp.Blocks[0].End)
	}
}

func TestActivityCreateDuplicateID(t *testing.T) {
	f := newTestAPI(t, nil)

	first := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create status = %d, want 201", first.Code)
	}

	second := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(14, 0), 30), nil)
	if second.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409", second.Code)
	}
	body := decodeError(t, second)
	if body["error"] != "duplicate_id" || body["id"] != "standup" {
		t.Errorf("error body = %v, want duplicate_id for standup", body)
	}
}

func TestActivityCreateValidationFailure(t *testing.T) {
	f := newTestAPI(t, nil)

	// A fixed activity without a start instant is malformed.
	rr := f.do(t, http.MethodPost, "/api/v1/activities", map[string]any{
		"id":               "broken",
		"kind":             "fixed",
		"duration_minutes": 30,
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	body := decodeError(t, rr)
	if body["error"] != "validation_failed" {
		t.Errorf("error = %v, want validation_failed", body["error"])
	}
	if body["detail"] == nil || body["detail"] == "" {
		t.Errorf("detail missing from validation response: %v", body)
	}
}

func TestFixedActivityConflict(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("seed create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("overlap", testDay(9, 15), 30), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	body := decodeError(t, rr)
	if body["error"] != "conflict" || body["id"] != "overlap" || body["collides_with"] != "standup" {
		t.Errorf("error body = %v, want conflict overlap/standup", body)
	}
}

func TestActivityUpdateMovesPlacement(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", flexibleBody("writing", 60, testDay(8, 0), testDay(12, 0)), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodPut, "/api/v1/activities/writing", flexibleBody("writing", 60, testDay(14, 0), testDay(16, 0)), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	resp := decodeSchedule(t, rr)
	if len(resp.Blocks) != 1 {
		t.Fatalf("%d blocks, want 1", len(resp.Blocks))
	}
	if !resp.Blocks[0].Start.Equal(testDay(14, 0)) {
		t.Errorf("block starts %v, want 14:00", resp.Blocks[0].Start)
	}
}

func TestActivityUpdateUnknownID(t *testing.T) {
	f := newTestAPI(t, nil)

	rr := f.do(t, http.MethodPut, "/api/v1/activities/ghost", flexibleBody("ghost", 60, testDay(8, 0), testDay(12, 0)), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if body := decodeError(t, rr); body["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", body["error"])
	}
}

func TestActivityDelete(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodDelete, "/api/v1/activities/standup", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rr.Code)
	}
	if resp := decodeSchedule(t, rr); len(resp.Blocks) != 0 {
		t.Errorf("%d blocks after delete, want 0", len(resp.Blocks))
	}

	again := f.do(t, http.MethodDelete, "/api/v1/activities/standup", nil, nil)
	if again.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.Code)
	}
}

func TestActivityCompleteCarriesInstant(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	completed := f.bus.Subscribe(events.EventActivityCompleted)
	defer f.bus.Unsubscribe(events.EventActivityCompleted, completed)

	rr := f.do(t, http.MethodPost, "/api/v1/activities/standup/complete", map[string]any{
		"completion_time": testDay(9, 31).Format(time.RFC3339),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	if resp := decodeSchedule(t, rr); len(resp.Activities) != 0 {
		t.Errorf("%d activities after completion, want 0", len(resp.Activities))
	}

	select {
	case payload := <-completed:
		if payload["completed_at"] != testDay(9, 31).Format(time.RFC3339) {
			t.Errorf("completed_at = %v, want %s", payload["completed_at"], testDay(9, 31).Format(time.RFC3339))
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event published")
	}
}

func TestActivityCompleteEmptyBody(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/api/v1/activities/standup/complete", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
}

func TestSettingsUpdateInvalidRange(t *testing.T) {
	f := newTestAPI(t, nil)

	rr := f.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"day_end": testDay(7, 0).Format(time.RFC3339),
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if body := decodeError(t, rr); body["error"] != "invalid_range" {
		t.Errorf("error = %v, want invalid_range", body["error"])
	}
}

func TestSettingsUpdateMovesBound(t *testing.T) {
	f := newTestAPI(t, nil)

	rr := f.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"day_end": testDay(20, 0).Format(time.RFC3339),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	resp := decodeSchedule(t, rr)
	if !resp.DayEnd.Equal(testDay(20, 0)) {
		t.Errorf("day_end = %v, want 20:00", resp.DayEnd)
	}
	if !resp.DayStart.Equal(testDay(8, 0)) {
		t.Errorf("day_start = %v, want unchanged 08:00", resp.DayStart)
	}
}

func TestUnplaceableWarningInSchedulePayload(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("allhands", testDay(9, 0), 180), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	// Only two one-hour gaps remain inside the window; four hours cannot fit.
	rr := f.do(t, http.MethodPost, "/api/v1/activities", flexibleBody("deep", 240, testDay(8, 0), testDay(13, 0)), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 with warning (body=%s)", rr.Code, rr.Body.String())
	}
	resp := decodeSchedule(t, rr)
	if len(resp.Warnings) != 1 || resp.Warnings[0].ActivityID != "deep" {
		t.Fatalf("warnings = %+v, want one for deep", resp.Warnings)
	}
	if len(resp.Blocks) != 1 {
		t.Errorf("%d blocks, want only the fixed one", len(resp.Blocks))
	}
}

func TestProposalLeavesPlanUntouched(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/api/v1/proposals", map[string]any{
		"kind":             "flexible",
		"duration_minutes": 60,
		"earliest_start":   testDay(8, 0).Format(time.RFC3339),
		"latest_finish":    testDay(12, 0).Format(time.RFC3339),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("proposal status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}

	var proposal struct {
		ID     string          `json:"id"`
		Blocks []blockResponse `json:"blocks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&proposal); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if proposal.ID != "__proposal__" {
		t.Errorf("proposal id = %q, want __proposal__", proposal.ID)
	}
	if len(proposal.Blocks) != 1 || !proposal.Blocks[0].Start.Equal(testDay(8, 0)) {
		t.Errorf("proposal blocks = %+v, want one starting 08:00", proposal.Blocks)
	}

	after := f.do(t, http.MethodGet, "/api/v1/schedule", nil, nil)
	if resp := decodeSchedule(t, after); len(resp.Activities) != 1 {
		t.Errorf("%d activities after proposal, want 1", len(resp.Activities))
	}
}

func TestScheduleRunsHistory(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/api/v1/activities/standup", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rr.Code)
	}

	rr := f.do(t, http.MethodGet, "/api/v1/schedule/runs", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("runs status = %d, want 200", rr.Code)
	}
	var resp struct {
		Runs  []runResponse `json:"runs"`
		Total int           `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	if resp.Runs[0].Operation != "delete" || resp.Runs[1].Operation != "create" {
		t.Errorf("run order = %s, %s; want delete, create", resp.Runs[0].Operation, resp.Runs[1].Operation)
	}
}

func TestScheduleGetSortsBlocksWithChunkMarkers(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("lunch", testDay(12, 0), 60), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}
	body := flexibleBody("study", 120, testDay(11, 0), testDay(15, 0))
	body["can_split"] = true
	body["min_chunk_minutes"] = 30
	if rr := f.do(t, http.MethodPost, "/api/v1/activities", body, nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	rr := f.do(t, http.MethodGet, "/api/v1/schedule", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200", rr.Code)
	}
	resp := decodeSchedule(t, rr)
	if len(resp.Blocks) != 3 {
		t.Fatalf("%d blocks, want 3 (one fixed, two chunks)", len(resp.Blocks))
	}
	for i := 1; i < len(resp.Blocks); i++ {
		if resp.Blocks[i].Start.Before(resp.Blocks[i-1].Start) {
			t.Errorf("blocks out of order at %d: %v before %v", i, resp.Blocks[i].Start, resp.Blocks[i-1].Start)
		}
	}
	var chunks []blockResponse
	for _, b := range resp.Blocks {
		if b.ActivityID == "study" {
			chunks = append(chunks, b)
		}
	}
	if len(chunks) != 2 {
		t.Fatalf("%d study chunks, want 2", len(chunks))
	}
	if chunks[0].ChunkIndex != 1 || chunks[0].ChunkCount != 2 || chunks[1].ChunkIndex != 2 {
		t.Errorf("chunk markers = %+v, want 1/2 then 2/2", chunks)
	}
}
