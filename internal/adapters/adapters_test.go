package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsignal/responder/internal/models"
)

func testIntent(t models.ActionType, target string) Intent {
	conf := 0.8
	return Intent{
		IncidentID:  "inc-1",
		Type:        t,
		Target:      target,
		Description: "roll back",
		Incident: &models.Incident{
			ID:       "inc-1",
			Title:    "Pipeline deployment failed",
			Severity: models.SeverityCritical,
			Source:   models.SourceCIPipeline,
		},
		Decision: &models.Decision{
			RootCause:  "deployment rollout failed",
			Confidence: conf,
		},
	}
}

func TestTrackerAdapterCreatesTicket(t *testing.T) {
	var gotPayload map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"key": "OPS-42", "url": "http://tracker/OPS-42"})
	}))
	defer srv.Close()

	adapter := NewTrackerAdapter(srv.URL, "secret", time.Second)
	result, err := adapter.Execute(context.Background(), testIntent(models.ActionTicketCreate, "inc-1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result["ticket_key"] != "OPS-42" {
		t.Fatalf("result = %v", result)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotPayload["priority"] != "Highest" {
		t.Fatalf("priority = %v, want Highest for critical", gotPayload["priority"])
	}
	if gotPayload["summary"] != "[CRITICAL] Pipeline deployment failed" {
		t.Fatalf("summary = %v", gotPayload["summary"])
	}
}

func TestTrackerAdapterRejectsWrongType(t *testing.T) {
	adapter := NewTrackerAdapter("http://unused", "", time.Second)
	_, err := adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops"))
	if err == nil || models.IsTransient(err) {
		t.Fatalf("err = %v, want permanent type mismatch", err)
	}
}

func TestChatAdapterSeverityColor(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewChatAdapter(srv.URL, time.Second)
	if _, err := adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops")); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	attachments, _ := gotPayload["attachments"].([]any)
	if len(attachments) != 1 {
		t.Fatalf("attachments = %v", gotPayload)
	}
	attachment, _ := attachments[0].(map[string]any)
	if attachment["color"] != "#ff0000" {
		t.Fatalf("color = %v, want critical red", attachment["color"])
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	adapter := NewChatAdapter(srv.URL, time.Second)

	_, err := adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops"))
	if !models.IsTransient(err) {
		t.Fatalf("503 err = %v, want transient", err)
	}

	status = http.StatusTooManyRequests
	_, err = adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops"))
	if !models.IsTransient(err) {
		t.Fatalf("429 err = %v, want transient", err)
	}

	status = http.StatusForbidden
	_, err = adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops"))
	if err == nil || models.IsTransient(err) {
		t.Fatalf("403 err = %v, want permanent", err)
	}
}

func TestHTTPTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	adapter := NewChatAdapter(srv.URL, time.Second)
	_, err := adapter.Execute(context.Background(), testIntent(models.ActionNotify, "ops"))
	if !models.IsTransient(err) {
		t.Fatalf("err = %v, want transient transport failure", err)
	}
}

func TestUnconfiguredBaseURLIsPermanent(t *testing.T) {
	adapter := NewTrackerAdapter("", "", time.Second)
	_, err := adapter.Execute(context.Background(), testIntent(models.ActionTicketCreate, "inc-1"))
	if err == nil || models.IsTransient(err) {
		t.Fatalf("err = %v, want permanent configuration error", err)
	}
}

func TestReviewAdapterTargets(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"id": 7})
	}))
	defer srv.Close()

	adapter := NewReviewAdapter(srv.URL, "", "platform/monorepo", time.Second)

	if _, err := adapter.Execute(context.Background(), testIntent(models.ActionComment, "pr-42")); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if gotPath != "/repos/platform/monorepo/issues/42/comments" {
		t.Fatalf("comment path = %q", gotPath)
	}

	if _, err := adapter.Execute(context.Background(), testIntent(models.ActionLabel, "issue-7")); err != nil {
		t.Fatalf("label: %v", err)
	}
	if gotPath != "/repos/platform/monorepo/issues/7/labels" {
		t.Fatalf("label path = %q", gotPath)
	}

	if _, err := adapter.Execute(context.Background(), testIntent(models.ActionComment, "inc-1")); err == nil {
		t.Fatal("target without a pr/issue reference must fail")
	}
}

func TestPipelineAdapterRollback(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-9"})
	}))
	defer srv.Close()

	adapter := NewPipelineAdapter(srv.URL, "", time.Second)
	result, err := adapter.Execute(context.Background(), testIntent(models.ActionRollback, "prod"))
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if gotPath != "/api/v1/rollbacks" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotPayload["environment"] != "prod" || gotPayload["incident_id"] != "inc-1" {
		t.Fatalf("payload = %v", gotPayload)
	}
	if result["job_id"] != "job-9" {
		t.Fatalf("result = %v", result)
	}
}
