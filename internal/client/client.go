// Package client is the HTTP and websocket client for a murmur server, used
// by cmd/talk and the voice session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aleksvoss/murmur/internal/observability"
	"github.com/aleksvoss/murmur/internal/protocol"
)

// maxResponseBytes bounds reads of server responses. Turn responses carry
// base64 TTS clips, so the ceiling is well above the audio payload limit.
const maxResponseBytes = 64 << 20

// APIError is a non-2xx server response.
type APIError struct {
	Status  int
	Code    protocol.ErrorCode
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		// Per-call contexts carry the real deadlines; this is a backstop.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// CreateConversation registers a new conversation.
func (c *Client) CreateConversation(ctx context.Context) (*protocol.Conversation, error) {
	var out protocol.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/v1/conversations", nil, &out, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if out.ConversationID == "" {
		return nil, errors.New("create conversation: missing conversationId in response")
	}
	return &out, nil
}

// GetConversation fetches the snapshot plus message history.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*protocol.Conversation, error) {
	var out protocol.Conversation
	path := "/v1/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &out, nil
}

// SubmitTurn runs one turn and returns the turn's new messages plus the
// synthesized reply, if any.
func (c *Client) SubmitTurn(ctx context.Context, conversationID string, req protocol.TurnRequest) (*protocol.TurnResponse, error) {
	var out protocol.TurnResponse
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/turns"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out, http.StatusOK); err != nil {
		return nil, fmt.Errorf("submit turn: %w", err)
	}
	return &out, nil
}

// SubmitText runs a text-only turn.
func (c *Client) SubmitText(ctx context.Context, conversationID, text string) (*protocol.TurnResponse, error) {
	return c.SubmitTurn(ctx, conversationID, protocol.TurnRequest{Message: text})
}

// EndConversation removes the conversation and its history.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

// SpeechPreview synthesizes a clip without running a turn. Returns the raw
// audio and its MIME type.
func (c *Client) SpeechPreview(ctx context.Context, text string) ([]byte, string, error) {
	payload, err := json.Marshal(protocol.SpeechPreviewRequest{Text: text})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech/preview", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("speech preview: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("speech preview: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("speech preview: %w", apiError(res.StatusCode, body))
	}
	mimeType := res.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return body, mimeType, nil
}

// Voices fetches the synthesis voice catalog of the server's provider.
func (c *Client) Voices(ctx context.Context) (*protocol.VoiceCatalog, error) {
	var out protocol.VoiceCatalog
	if err := c.doJSON(ctx, http.MethodGet, "/v1/speech/voices", nil, &out, http.StatusOK); err != nil {
		return nil, fmt.Errorf("voices: %w", err)
	}
	return &out, nil
}

// PerfStages fetches the server's stage latency window.
func (c *Client) PerfStages(ctx context.Context) (*observability.TurnStageSnapshot, error) {
	var out observability.TurnStageSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/v1/perf/stages", nil, &out, http.StatusOK); err != nil {
		return nil, fmt.Errorf("perf stages: %w", err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, wantStatus int) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if res.StatusCode != wantStatus {
		return apiError(res.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func apiError(status int, body []byte) *APIError {
	var wire struct {
		Error string             `json:"error"`
		Code  protocol.ErrorCode `json:"code"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return &APIError{Status: status, Code: wire.Code, Message: wire.Error}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
