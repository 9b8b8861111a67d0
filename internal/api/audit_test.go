package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestAuditTrailRecordsMutations(t *testing.T) {
	f := newTestAPI(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.auditSvc.Start(ctx)
	// Give the loop a moment to subscribe before mutating.
	time.Sleep(50 * time.Millisecond)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}

	var entries []auditLogResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := f.do(t, http.MethodGet, "/api/v1/audit", nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("audit status = %d, want 200", rr.Code)
		}
		var resp struct {
			AuditLogs []auditLogResponse `json:"audit_logs"`
			Total     int64              `json:"total"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode audit response: %v", err)
		}
		if resp.Total >= 1 {
			entries = resp.AuditLogs
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(entries) == 0 {
		t.Fatal("no audit entries recorded for the mutation")
	}
	if entries[0].Action != "activity.create" {
		t.Errorf("action = %q, want activity.create", entries[0].Action)
	}
	if entries[0].ResourceID != "standup" {
		t.Errorf("resource_id = %q, want standup", entries[0].ResourceID)
	}
}

func TestAuditFilterByAction(t *testing.T) {
	f := newTestAPI(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.auditSvc.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/api/v1/activities/standup", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rr.Code)
	}

	// Wait until both mutations landed, then filter.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := f.do(t, http.MethodGet, "/api/v1/audit", nil, nil)
		var resp struct {
			Total int64 `json:"total"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode audit response: %v", err)
		}
		if resp.Total >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	rr := f.do(t, http.MethodGet, "/api/v1/audit?action=activity.delete", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("filtered audit status = %d, want 200", rr.Code)
	}
	var resp struct {
		AuditLogs []auditLogResponse `json:"audit_logs"`
		Total     int64              `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	if resp.Total != 1 || len(resp.AuditLogs) != 1 {
		t.Fatalf("filtered total = %d, want 1", resp.Total)
	}
	if resp.AuditLogs[0].Action != "activity.delete" {
		t.Errorf("action = %q, want activity.delete", resp.AuditLogs[0].Action)
	}
}
