package voicesession

import (
	"time"

	"github.com/aleksvoss/murmur/internal/protocol"
)

// State names one resting or transient position of the session machine.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StatePlaying    State = "playing"
	StateError      State = "error"
)

// FailureKind classifies attempt-local failures surfaced on the event
// stream. Transcription and synthesis failures never appear here; the server
// absorbs those into the turn result.
type FailureKind string

const (
	FailurePermissionDenied  FailureKind = "permission_denied"
	FailurePayloadTooLarge   FailureKind = "payload_too_large"
	FailureEncoding          FailureKind = "encoding_failure"
	FailureSubmission        FailureKind = "submission_failure"
	FailureSubmissionTimeout FailureKind = "submission_timeout"
	FailurePlayback          FailureKind = "playback_failure"
)

// Failure is one attempt-local failure. The session has already returned to
// idle by the time it is observed.
type Failure struct {
	Kind   FailureKind
	Reason string
}

// EventType tags the variants carried by Event.
type EventType string

const (
	// EventState reports a state transition, in transition order.
	EventState EventType = "state"
	// EventLevel carries one amplitude sample from the capture or playback
	// meter. Level events are droppable and may be thinned under load.
	EventLevel EventType = "level"
	// EventRecordingDone reports the finalized recording before submission.
	EventRecordingDone EventType = "recording_done"
	// EventTurnResult carries the server's reply for the submitted turn.
	EventTurnResult EventType = "turn_result"
	// EventFailure reports an attempt-local failure.
	EventFailure EventType = "failure"
	// EventPlaybackPending reports that a synthesized reply is retained
	// until an ArmPlayback gesture unlocks audio output.
	EventPlaybackPending EventType = "playback_pending"
)

// Level sources.
const (
	LevelCapture  = "capture"
	LevelPlayback = "playback"
)

// Event is one occurrence on the session's stream. Which fields are set
// depends on Type.
type Event struct {
	Type EventType

	// EventState
	State State

	// EventLevel
	Level  float64
	Source string

	// EventRecordingDone
	Duration time.Duration
	// NoAudio flags a recording whose level never rose above zero. The
	// recording is submitted anyway; this is a hint, not a rejection.
	NoAudio bool

	// EventTurnResult
	TurnID    string
	Messages  []protocol.Message
	HasSpeech bool

	// EventFailure
	Failure *Failure
}
