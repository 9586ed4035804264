// Package voicesession drives the client half of a voice turn: microphone
// capture, turn submission, and reply playback, as one mutex-guarded state
// machine. Stale async completions are dropped via per-attempt generation
// tokens, so a superseded attempt can never touch the live state.
package voicesession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aleksvoss/murmur/internal/media"
	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/turn"
)

const (
	defaultSubmitTimeout   = 60 * time.Second
	defaultMaxPayloadBytes = 25 << 20
	defaultEventBuffer     = 128
)

// Submitter delivers one turn to the server.
type Submitter interface {
	SubmitTurn(ctx context.Context, conversationID string, req protocol.TurnRequest) (*protocol.TurnResponse, error)
}

// Config carries per-session settings. Zero values select the defaults.
type Config struct {
	ConversationID  string
	SubmitTimeout   time.Duration
	MaxPayloadBytes int
	EventBuffer     int
}

// Session is the push-to-talk state machine. All methods are safe for
// concurrent use; blocking work runs on goroutines that re-validate their
// generation token before applying results.
type Session struct {
	client  Submitter
	manager *media.Manager
	cfg     Config

	events    chan Event
	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	state    State
	gen      int64
	recorder *media.Recorder
	playback *media.Playback
	armed    bool
	pending  *protocol.AudioPayload
	played   map[string]struct{}
	closed   bool
}

func New(client Submitter, manager *media.Manager, cfg Config) *Session {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Session{
		client:    client,
		manager:   manager,
		cfg:       cfg,
		events:    make(chan Event, cfg.EventBuffer),
		runCtx:    runCtx,
		runCancel: runCancel,
		state:     StateIdle,
		played:    make(map[string]struct{}),
	}
}

// Events is the session's event stream. It is never closed; consumers stop
// reading when Done fires.
func (s *Session) Events() <-chan Event { return s.events }

// Done closes when the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.runCtx.Done() }

// State reports the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PressTalk starts a capture attempt. Accepted from idle and playing (ending
// the playback first); ignored everywhere else.
func (s *Session) PressTalk() {
	s.mu.Lock()
	if s.closed || (s.state != StateIdle && s.state != StatePlaying) {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.stopPlaybackLocked()
	s.setStateLocked(StateRequesting)
	s.mu.Unlock()

	go s.acquireAndRecord(gen)
}

func (s *Session) acquireAndRecord(gen int64) {
	rec, err := s.manager.AcquireMicrophone(s.runCtx)
	if err != nil {
		s.failAttempt(gen, FailurePermissionDenied, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		// The attempt was superseded while waiting for the device.
		_, _ = rec.Stop()
		return
	}
	s.recorder = rec
	s.setStateLocked(StateRecording)
	s.mu.Unlock()

	rec.StartLevelMonitor(func(level float64) {
		s.emitLevel(LevelCapture, level)
	})
}

// StopTalk finalizes the capture and submits the turn. A second press after
// the first is a no-op: the machine has already left recording.
func (s *Session) StopTalk() {
	s.mu.Lock()
	if s.closed || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	rec := s.recorder
	s.recorder = nil
	gen := s.gen
	s.stopPlaybackLocked()
	s.setStateLocked(StateProcessing)
	s.mu.Unlock()

	// Halts buffering and the level monitor before encoding starts.
	clip, err := rec.Stop()
	if err != nil {
		s.failAttempt(gen, FailureEncoding, err.Error())
		return
	}
	if len(clip.Data) > s.cfg.MaxPayloadBytes {
		s.failAttempt(gen, FailurePayloadTooLarge,
			fmt.Sprintf("recording is %d bytes, the limit is %d", len(clip.Data), s.cfg.MaxPayloadBytes))
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.emitLocked(Event{
		Type:     EventRecordingDone,
		Duration: clip.Duration,
		NoAudio:  clip.Peak == 0,
	})
	s.mu.Unlock()

	go s.submitRequest(gen, protocol.TurnRequest{AudioInput: &protocol.AudioPayload{
		AudioData: clip.Data,
		MIMEType:  clip.MIMEType,
		Size:      len(clip.Data),
	}})
}

// SubmitText runs a text-only turn through the same processing and playback
// path as a recording. Accepted from idle and playing.
func (s *Session) SubmitText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.closed || (s.state != StateIdle && s.state != StatePlaying) {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.stopPlaybackLocked()
	s.setStateLocked(StateProcessing)
	s.mu.Unlock()

	go s.submitRequest(gen, protocol.TurnRequest{Message: text})
}

func (s *Session) submitRequest(gen int64, req protocol.TurnRequest) {
	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.SubmitTimeout)
	defer cancel()

	resp, err := s.client.SubmitTurn(ctx, s.cfg.ConversationID, req)
	if err != nil {
		kind := FailureSubmission
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FailureSubmissionTimeout
		}
		s.failAttempt(gen, kind, err.Error())
		return
	}
	s.deliver(gen, resp)
}

func (s *Session) deliver(gen int64, resp *protocol.TurnResponse) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		// A result that outlived its attempt is discarded.
		s.mu.Unlock()
		return
	}
	s.emitLocked(Event{
		Type:      EventTurnResult,
		TurnID:    resp.TurnID,
		Messages:  resp.Messages,
		HasSpeech: resp.TTSOutput != nil,
	})

	out := resp.TTSOutput
	if out == nil {
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return
	}
	fp := fingerprint(out)
	if _, seen := s.played[fp]; seen {
		// The same synthesis delivered again plays at most once.
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return
	}
	if !s.armed {
		s.pending = out
		s.emitLocked(Event{Type: EventPlaybackPending})
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return
	}
	s.played[fp] = struct{}{}
	s.setStateLocked(StatePlaying)
	s.mu.Unlock()

	s.startPlayback(gen, out)
}

// ArmPlayback records the user gesture that unlocks audio output. A reply
// retained while unarmed plays now if the session is idle; an attempt in
// flight supersedes it.
func (s *Session) ArmPlayback() {
	s.mu.Lock()
	s.armed = true
	if s.closed || s.pending == nil || s.state != StateIdle {
		if s.state != StateIdle {
			s.pending = nil
		}
		s.mu.Unlock()
		return
	}
	out := s.pending
	s.pending = nil
	fp := fingerprint(out)
	if _, seen := s.played[fp]; seen {
		s.mu.Unlock()
		return
	}
	s.played[fp] = struct{}{}
	s.gen++
	gen := s.gen
	s.setStateLocked(StatePlaying)
	s.mu.Unlock()

	s.startPlayback(gen, out)
}

func (s *Session) startPlayback(gen int64, out *protocol.AudioPayload) {
	pb, err := s.manager.Play(s.runCtx, out.AudioData, out.MIMEType)
	if err != nil {
		s.failAttempt(gen, FailurePlayback, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		pb.StopVisualization()
		pb.Stop()
		return
	}
	s.playback = pb
	s.mu.Unlock()

	pb.StartVisualization(func(level float64) {
		s.emitLevel(LevelPlayback, level)
	})
	go s.watchPlayback(gen, pb)
}

func (s *Session) watchPlayback(gen int64, pb *media.Playback) {
	<-pb.Done()
	pb.StopVisualization()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen || s.playback != pb {
		return
	}
	s.playback = nil
	if err := pb.Err(); err != nil {
		s.gen++
		s.setStateLocked(StateError)
		s.emitLocked(Event{Type: EventFailure, Failure: &Failure{Kind: FailurePlayback, Reason: err.Error()}})
		s.setStateLocked(StateIdle)
		return
	}
	s.setStateLocked(StateIdle)
}

// Close releases the microphone and playback from any state. The machine
// accepts no further operations.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	rec := s.recorder
	s.recorder = nil
	pb := s.playback
	s.playback = nil
	s.pending = nil
	s.mu.Unlock()

	if rec != nil {
		_, _ = rec.Stop()
	}
	if pb != nil {
		pb.StopVisualization()
		pb.Stop()
	}
	s.runCancel()
}

// failAttempt surfaces one attempt-local failure and returns the machine to
// idle. A stale generation means the attempt was already superseded.
func (s *Session) failAttempt(gen int64, kind FailureKind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return
	}
	s.gen++
	s.setStateLocked(StateError)
	s.emitLocked(Event{Type: EventFailure, Failure: &Failure{Kind: kind, Reason: reason}})
	s.setStateLocked(StateIdle)
}

// stopPlaybackLocked tears down the active playback, if any, before the
// machine moves on. Safe under the session mutex: Playback.Stop waits only
// for the playback goroutine, which never takes it.
func (s *Session) stopPlaybackLocked() {
	if s.playback == nil {
		return
	}
	pb := s.playback
	s.playback = nil
	pb.StopVisualization()
	pb.Stop()
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.emitLocked(Event{Type: EventState, State: st})
}

// emitLocked delivers one ordered event. The buffer is sized so a live
// consumer never fills it; with no consumer left, dropping beats blocking.
func (s *Session) emitLocked(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// emitLevel delivers one droppable meter sample without taking the mutex.
func (s *Session) emitLevel(source string, level float64) {
	select {
	case s.events <- Event{Type: EventLevel, Source: source, Level: level}:
	default:
	}
}

func fingerprint(p *protocol.AudioPayload) string {
	a := turn.Audio{Data: p.AudioData, MIMEType: p.MIMEType, Size: p.Size}
	return a.Fingerprint()
}
