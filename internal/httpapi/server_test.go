package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aleksvoss/murmur/internal/agent"
	"github.com/aleksvoss/murmur/internal/config"
	"github.com/aleksvoss/murmur/internal/conversation"
	"github.com/aleksvoss/murmur/internal/observability"
	"github.com/aleksvoss/murmur/internal/speech"
	"github.com/aleksvoss/murmur/internal/turn"
)

type testServer struct {
	srv           *Server
	ts            *httptest.Server
	conversations *conversation.Manager
	store         conversation.Store
	hub           *Hub
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Config{
		ConversationIdleTimeout: 2 * time.Minute,
		TurnTimeout:             5 * time.Second,
		MaxAudioBytes:           1 << 20,
		HistoryLimit:            50,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	metrics := observability.NewMetricsWith("test_httpapi", prometheus.NewRegistry())
	conversations := conversation.NewManager(cfg.ConversationIdleTimeout)
	store := conversation.NewInMemoryStore(cfg.HistoryLimit)
	graph := turn.NewGraph(turn.Config{
		Transcriber: speech.NewMockTranscriber(),
		Agent:       agent.NewMockAdapter(),
		Synthesizer: speech.NewMockSynthesizer(),
		Metrics:     metrics,
	})

	hub := NewHub()
	srv := New(cfg, conversations, store, graph, speech.NewMockSynthesizer(), hub, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, ts: ts, conversations: conversations, store: store, hub: hub}
}

func (ts *testServer) createConversation(t *testing.T) string {
	t.Helper()
	res, err := http.Post(ts.ts.URL+"/v1/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("create conversation request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["conversationId"].(string)
	if id == "" {
		t.Fatalf("missing conversationId in create response: %+v", created)
	}
	return id
}

func TestCreateGetEndConversation(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createConversation(t)

	res, err := http.Get(ts.ts.URL + "/v1/conversations/" + id)
	if err != nil {
		t.Fatalf("get conversation request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got map[string]any
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got["status"] != "active" {
		t.Fatalf("status = %v, want active", got["status"])
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.ts.URL+"/v1/conversations/"+id, nil)
	endRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("end conversation request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	afterRes, err := http.Get(ts.ts.URL + "/v1/conversations/" + id)
	if err != nil {
		t.Fatalf("get after end request error = %v", err)
	}
	defer afterRes.Body.Close()
	if afterRes.StatusCode != http.StatusNotFound {
		t.Fatalf("get after end status = %d, want %d", afterRes.StatusCode, http.StatusNotFound)
	}
}

func TestGetUnknownConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.ts.URL + "/v1/conversations/bogus")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "conversation_not_found" {
		t.Fatalf("code = %v, want conversation_not_found", body["code"])
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var health map[string]any
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health["storeMode"] != "in-memory" {
		t.Fatalf("storeMode = %v, want in-memory", health["storeMode"])
	}

	readyRes, err := http.Get(ts.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer readyRes.Body.Close()
	if readyRes.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", readyRes.StatusCode, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestPerfStages(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createConversation(t)

	body, _ := json.Marshal(map[string]any{"message": "hello there"})
	turnRes, err := http.Post(ts.ts.URL+"/v1/conversations/"+id+"/turns", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit turn request error = %v", err)
	}
	turnRes.Body.Close()

	res, err := http.Get(ts.ts.URL + "/v1/perf/stages")
	if err != nil {
		t.Fatalf("GET /v1/perf/stages error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode perf snapshot: %v", err)
	}
	stages, ok := snap["stages"].([]any)
	if !ok || len(stages) == 0 {
		t.Fatalf("stages = %v, want at least one sampled stage", snap["stages"])
	}
}

func TestSpeechPreviewReturnsAudio(t *testing.T) {
	ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"text": "testing one two three"})
	res, err := http.Post(ts.ts.URL+"/v1/speech/preview", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("preview request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "audio/") {
		t.Fatalf("Content-Type = %q, want audio/*", ct)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		t.Fatalf("reading preview body: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("preview body is empty")
	}
}

func TestSpeechPreviewRejectsEmptyText(t *testing.T) {
	ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"text": ""})
	res, err := http.Post(ts.ts.URL+"/v1/speech/preview", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("preview request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("preview status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}
