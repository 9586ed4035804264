package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTranscribeServer(t *testing.T, wantFilename, text string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if header.Filename != wantFilename {
			t.Errorf("upload filename = %q, want %q", header.Filename, wantFilename)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"` + text + `"}`))
	})
	return httptest.NewServer(mux)
}

func TestOpenAITranscribeLabelsFormatViaFilename(t *testing.T) {
	srv := newTranscribeServer(t, "clip.webm", "hello world")
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	got, err := p.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "webm")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "hello world" {
		t.Fatalf("Transcribe() = %q, want %q", got, "hello world")
	}
}

func TestOpenAITranscribeWithoutCredential(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{})
	_, err := p.Transcribe(context.Background(), []byte{1, 2, 3}, "wav")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
}

func TestOpenAISynthesizeReturnsMP3(t *testing.T) {
	payload := []byte("fake-mp3-bytes")
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	data, mime, err := p.Synthesize(context.Background(), "say this")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if mime != "audio/mpeg" {
		t.Fatalf("mime = %q, want %q", mime, "audio/mpeg")
	}
	if string(data) != string(payload) {
		t.Fatalf("payload = %q, want %q", data, payload)
	}
}

func TestOpenAITranscribeRateLimitedClass(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := p.Transcribe(context.Background(), []byte{1, 2, 3}, "wav")
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if class := FailureClass(err); class != "rate_limited" {
		t.Fatalf("FailureClass() = %q, want %q", class, "rate_limited")
	}
}
