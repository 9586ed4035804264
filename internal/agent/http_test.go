package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAdapterSupersetResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := append(req.Messages, Message{Role: RoleAI, Content: "here you go"})
		json.NewEncoder(w).Encode(Reply{Messages: out})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	reply, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(reply.Messages) != 2 {
		t.Fatalf("len(reply.Messages) = %d, want 2", len(reply.Messages))
	}
	if reply.Messages[1].Content != "here you go" {
		t.Fatalf("new message = %q, want %q", reply.Messages[1].Content, "here you go")
	}
}

func TestHTTPAdapterBareTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"plain answer"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	reply, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	last := reply.Messages[len(reply.Messages)-1]
	if last.Role != RoleAI || last.Content != "plain answer" {
		t.Fatalf("last message = %+v, want ai/plain answer", last)
	}
}

func TestHTTPAdapterErrorStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	if _, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}}); err == nil {
		t.Fatalf("expected error for http 400")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (client errors are not retried)", calls)
	}
}

func TestHTTPAdapterRetriesTransientStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := append(req.Messages, Message{Role: RoleAI, Content: "recovered"})
		json.NewEncoder(w).Encode(Reply{Messages: out})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	a.backoffBase = time.Millisecond
	a.backoffCap = 2 * time.Millisecond
	reply, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	last := reply.Messages[len(reply.Messages)-1]
	if last.Content != "recovered" {
		t.Fatalf("last message = %q, want %q", last.Content, "recovered")
	}
}

func TestHTTPAdapterRetriesStopOnExhaustion(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "still overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	a.backoffBase = time.Millisecond
	a.backoffCap = 2 * time.Millisecond
	if _, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}}); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != a.maxAttempts {
		t.Fatalf("calls = %d, want %d", calls, a.maxAttempts)
	}
}

func TestHTTPAdapterEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	if _, err := a.Respond(context.Background(), Request{Messages: []Message{
		{Role: RoleHuman, Content: "hi"},
	}}); err == nil {
		t.Fatalf("expected error for response with no messages")
	}
}
