package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ErrorCode classifies API failures on the wire.
type ErrorCode string

const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeEmptyBody        ErrorCode = "empty_body"
	CodeNotFound         ErrorCode = "conversation_not_found"
	CodeConversationBusy ErrorCode = "conversation_busy"
	CodePayloadTooLarge  ErrorCode = "payload_too_large"
	CodeSynthesisFailed  ErrorCode = "synthesis_failed"
	CodeInternal         ErrorCode = "internal_error"
)

var (
	ErrEmptyTurn       = errors.New("turn carries neither message nor audioInput")
	ErrAmbiguousTurn   = errors.New("message and audioInput are mutually exclusive")
	ErrUnsupportedType = errors.New("unsupported event type")
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AudioPayload carries one encoded audio clip. AudioData rides as base64 in
// JSON; Size is the decoded byte count and must match the data.
type AudioPayload struct {
	AudioData []byte `json:"audioData"`
	MIMEType  string `json:"mimeType"`
	Size      int    `json:"size"`
}

func (a *AudioPayload) Validate() error {
	if a.MIMEType == "" {
		return errors.New("audio payload missing mimeType")
	}
	if a.Size != len(a.AudioData) {
		return fmt.Errorf("audio payload size %d does not match data length %d", a.Size, len(a.AudioData))
	}
	return nil
}

// TurnRequest submits one turn. Exactly one of Message and AudioInput is set.
type TurnRequest struct {
	Message    string        `json:"message,omitempty"`
	AudioInput *AudioPayload `json:"audioInput,omitempty"`
}

func (r *TurnRequest) Validate() error {
	if r.Message == "" && r.AudioInput == nil {
		return ErrEmptyTurn
	}
	if r.Message != "" && r.AudioInput != nil {
		return ErrAmbiguousTurn
	}
	if r.AudioInput != nil {
		return r.AudioInput.Validate()
	}
	return nil
}

// TurnResponse is the updated message list plus the optional synthesized clip.
type TurnResponse struct {
	TurnID     string        `json:"turnId"`
	Messages   []Message     `json:"messages"`
	TTSOutput  *AudioPayload `json:"ttsOutput,omitempty"`
	DurationMs float64       `json:"durationMs"`
}

// Conversation is the registry snapshot returned by the API. Messages is
// filled only on reads that include history.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	TurnCount      int       `json:"turnCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IdleTTLMs      int64     `json:"idleTtlMs,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
}

// SpeechPreviewRequest asks for a one-off synthesized clip.
type SpeechPreviewRequest struct {
	Text string `json:"text"`
}

func (r *SpeechPreviewRequest) Validate() error {
	if r.Text == "" {
		return errors.New("preview text is empty")
	}
	return nil
}

// VoiceInfo describes one selectable synthesis voice.
type VoiceInfo struct {
	Voice string `json:"voice"`
	Name  string `json:"name"`
}

// VoiceCatalog lists the voices of the synthesizer currently wired in.
type VoiceCatalog struct {
	Provider     string      `json:"provider"`
	DefaultVoice string      `json:"defaultVoice"`
	Voices       []VoiceInfo `json:"voices"`
}

// EventType identifies websocket payload variants.
type EventType string

const (
	TypeTurnEvent EventType = "turn_event"
)

// TurnEventName marks a point in a turn's progress.
type TurnEventName string

const (
	EventTurnStarted    TurnEventName = "turn_started"
	EventStageStarted   TurnEventName = "stage_started"
	EventStageCompleted TurnEventName = "stage_completed"
	EventTurnCompleted  TurnEventName = "turn_completed"
)

// StageStatus reports how a stage concluded.
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusDegraded StageStatus = "degraded"
	StatusSkipped  StageStatus = "skipped"
)

type Envelope struct {
	Type EventType `json:"type"`
}

// TurnEvent is pushed to event-stream subscribers at each stage boundary.
type TurnEvent struct {
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversationId"`
	TurnID         string        `json:"turnId"`
	Event          TurnEventName `json:"event"`
	Stage          string        `json:"stage,omitempty"`
	Status         StageStatus   `json:"status,omitempty"`
	Seq            int           `json:"seq"`
	DurationMs     float64       `json:"durationMs,omitempty"`
	TSMs           int64         `json:"tsMs"`
}

// ParseEvent decodes one event-stream frame.
func ParseEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurnEvent:
		var msg TurnEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || msg.TurnID == "" || msg.Event == "" {
			return nil, errors.New("invalid turn_event")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
