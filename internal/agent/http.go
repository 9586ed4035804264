package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aleksvoss/murmur/internal/reliability"
)

// HTTPAdapter forwards requests to any agent-compatible HTTP endpoint.
// Transient upstream failures (network errors, 429, 5xx) are retried with
// capped backoff; other failures surface immediately.
type HTTPAdapter struct {
	url    string
	client *http.Client

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxAttempts: 3,
		backoffBase: 200 * time.Millisecond,
		backoffCap:  2 * time.Second,
	}
}

func (a *HTTPAdapter) Respond(ctx context.Context, req Request) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, a.backoffBase, a.backoffCap)):
			}
		}

		reply, retryable, err := a.send(ctx, payload, req.Messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return Reply{}, err
		}
	}
	return Reply{}, lastErr
}

func (a *HTTPAdapter) send(ctx context.Context, payload []byte, history []Message) (Reply, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Reply{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("agent http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Reply{}, true, fmt.Errorf("read response: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err == nil && len(reply.Messages) > 0 {
		return reply, false, nil
	}

	// Fall back to loose shapes: a bare text object or a plain string body.
	text := ""
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = extractText(obj)
	} else {
		text = strings.TrimSpace(string(body))
	}
	if text == "" {
		return Reply{}, false, fmt.Errorf("agent response carried no messages")
	}
	out := append(append([]Message(nil), history...), Message{Role: RoleAI, Content: text})
	return Reply{Messages: out}, false, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "reply"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
