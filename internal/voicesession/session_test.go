package voicesession

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aleksvoss/murmur/internal/audio"
	"github.com/aleksvoss/murmur/internal/media"
	"github.com/aleksvoss/murmur/internal/protocol"
)

type stubSubmitter struct {
	mu      sync.Mutex
	reqs    []protocol.TurnRequest
	convs   []string
	respond func(ctx context.Context, conversationID string, req protocol.TurnRequest) (*protocol.TurnResponse, error)
}

func (s *stubSubmitter) SubmitTurn(ctx context.Context, conversationID string, req protocol.TurnRequest) (*protocol.TurnResponse, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.convs = append(s.convs, conversationID)
	s.mu.Unlock()
	if s.respond != nil {
		return s.respond(ctx, conversationID, req)
	}
	return textReply(), nil
}

func (s *stubSubmitter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *stubSubmitter) req(i int) protocol.TurnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[i]
}

func textReply() *protocol.TurnResponse {
	return &protocol.TurnResponse{
		TurnID: "turn-1",
		Messages: []protocol.Message{
			{Role: protocol.RoleHuman, Content: "simulated voice input"},
			{Role: protocol.RoleAI, Content: "stub reply"},
		},
	}
}

func speechReply(tts *protocol.AudioPayload) *protocol.TurnResponse {
	resp := textReply()
	resp.TTSOutput = tts
	return resp
}

func ttsPayload(data []byte, mime string) *protocol.AudioPayload {
	return &protocol.AudioPayload{AudioData: data, MIMEType: mime, Size: len(data)}
}

func loudPCM(d time.Duration) []byte {
	return audio.SinePCM16LE(440, d, media.CaptureSampleRate, 0.8)
}

func newTestSession(t *testing.T, devices *media.FakeDevices, sub *stubSubmitter, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{ConversationID: "conv-1", SubmitTimeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	sess := New(sub, media.NewManager(devices), cfg)
	t.Cleanup(sess.Close)
	return sess
}

// nextSignal returns the next non-level event.
func nextSignal(t *testing.T, sess *Session) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Type == EventLevel {
				continue
			}
			return ev
		case <-deadline:
			t.Fatalf("timed out waiting for a session event")
		}
	}
}

func expectState(t *testing.T, sess *Session, want State) {
	t.Helper()
	ev := nextSignal(t, sess)
	if ev.Type != EventState || ev.State != want {
		t.Fatalf("event = %+v, want state %q", ev, want)
	}
}

func expectFailure(t *testing.T, sess *Session, want FailureKind) {
	t.Helper()
	ev := nextSignal(t, sess)
	if ev.Type != EventFailure || ev.Failure == nil || ev.Failure.Kind != want {
		t.Fatalf("event = %+v, want failure %q", ev, want)
	}
}

func pollUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFullVoiceTurn(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(200 * time.Millisecond), CaptureHold: true}
	tts := ttsPayload([]byte("fake-mp3-bytes"), "audio/mpeg")
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(tts), nil
	}}
	sess := newTestSession(t, devices, sub, nil)
	sess.ArmPlayback()

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)

	sess.StopTalk()
	expectState(t, sess, StateProcessing)

	done := nextSignal(t, sess)
	if done.Type != EventRecordingDone {
		t.Fatalf("event = %+v, want recording_done", done)
	}
	if done.NoAudio {
		t.Fatalf("recording_done flagged NoAudio for a loud clip")
	}
	if done.Duration != 200*time.Millisecond {
		t.Fatalf("recording duration = %v, want %v", done.Duration, 200*time.Millisecond)
	}

	result := nextSignal(t, sess)
	if result.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", result)
	}
	if !result.HasSpeech || len(result.Messages) != 2 {
		t.Fatalf("turn_result = %+v, want two messages with speech", result)
	}

	expectState(t, sess, StatePlaying)
	expectState(t, sess, StateIdle)

	if sub.calls() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.calls())
	}
	req := sub.req(0)
	if req.Message != "" || req.AudioInput == nil {
		t.Fatalf("request = %+v, want audio input only", req)
	}
	if req.AudioInput.MIMEType != "audio/wav" {
		t.Fatalf("submitted MIME type = %q, want %q", req.AudioInput.MIMEType, "audio/wav")
	}
	if req.AudioInput.Size != len(req.AudioInput.AudioData) {
		t.Fatalf("submitted size = %d, data length %d", req.AudioInput.Size, len(req.AudioInput.AudioData))
	}

	players := devices.Players()
	if len(players) != 1 {
		t.Fatalf("players = %d, want 1", len(players))
	}
	if !bytes.Equal(players[0].Written(), tts.AudioData) {
		t.Fatalf("player received %d bytes, want %d", len(players[0].Written()), len(tts.AudioData))
	}
	if players[0].MIMEType != "audio/mpeg" {
		t.Fatalf("player MIME type = %q, want %q", players[0].MIMEType, "audio/mpeg")
	}
}

func TestStopTwiceSubmitsOnce(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)

	sess.StopTalk()
	sess.StopTalk()

	expectState(t, sess, StateProcessing)
	for {
		ev := nextSignal(t, sess)
		if ev.Type == EventState && ev.State == StateIdle {
			break
		}
	}
	if sub.calls() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.calls())
	}
}

func TestPressTalkIgnoredWhileProcessing(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	release := make(chan struct{})
	sub := &stubSubmitter{respond: func(ctx context.Context, _ string, _ protocol.TurnRequest) (*protocol.TurnResponse, error) {
		select {
		case <-release:
			return textReply(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)

	sess.PressTalk()
	if got := sess.State(); got != StateProcessing {
		t.Fatalf("state after PressTalk in processing = %q, want %q", got, StateProcessing)
	}

	close(release)
	result := nextSignal(t, sess)
	if result.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", result)
	}
	expectState(t, sess, StateIdle)
	if got := devices.OpenCaptures(); got != 0 {
		t.Fatalf("open captures = %d, want 0", got)
	}
}

func TestDuplicateReplyPlaysOnce(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	tts := ttsPayload([]byte("fake-mp3-bytes"), "audio/mpeg")
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(tts), nil
	}}
	sess := newTestSession(t, devices, sub, nil)
	sess.ArmPlayback()

	runTurn := func() Event {
		sess.PressTalk()
		expectState(t, sess, StateRequesting)
		expectState(t, sess, StateRecording)
		sess.StopTalk()
		expectState(t, sess, StateProcessing)
		ev := nextSignal(t, sess)
		if ev.Type != EventRecordingDone {
			t.Fatalf("event = %+v, want recording_done", ev)
		}
		ev = nextSignal(t, sess)
		if ev.Type != EventTurnResult {
			t.Fatalf("event = %+v, want turn_result", ev)
		}
		return nextSignal(t, sess)
	}

	first := runTurn()
	if first.Type != EventState || first.State != StatePlaying {
		t.Fatalf("first turn event = %+v, want playing", first)
	}
	expectState(t, sess, StateIdle)

	second := runTurn()
	if second.Type != EventState || second.State != StateIdle {
		t.Fatalf("second turn event = %+v, want idle without playback", second)
	}
	if got := len(devices.Players()); got != 1 {
		t.Fatalf("players = %d, want 1", got)
	}
}

func TestUnarmedReplyIsRetained(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	tts := ttsPayload([]byte("fake-mp3-bytes"), "audio/mpeg")
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(tts), nil
	}}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)
	if ev := nextSignal(t, sess); ev.Type != EventRecordingDone {
		t.Fatalf("event = %+v, want recording_done", ev)
	}
	if ev := nextSignal(t, sess); ev.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", ev)
	}
	if ev := nextSignal(t, sess); ev.Type != EventPlaybackPending {
		t.Fatalf("event = %+v, want playback_pending", ev)
	}
	expectState(t, sess, StateIdle)
	if got := len(devices.Players()); got != 0 {
		t.Fatalf("players before arming = %d, want 0", got)
	}

	sess.ArmPlayback()
	expectState(t, sess, StatePlaying)
	expectState(t, sess, StateIdle)

	players := devices.Players()
	if len(players) != 1 {
		t.Fatalf("players after arming = %d, want 1", len(players))
	}
	if !bytes.Equal(players[0].Written(), tts.AudioData) {
		t.Fatalf("player received %d bytes, want %d", len(players[0].Written()), len(tts.AudioData))
	}
}

func TestPermissionDenied(t *testing.T) {
	devices := &media.FakeDevices{CaptureErr: errors.New("input device refused")}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateError)
	expectFailure(t, sess, FailurePermissionDenied)
	expectState(t, sess, StateIdle)

	if sub.calls() != 0 {
		t.Fatalf("submissions = %d, want 0", sub.calls())
	}
}

func TestSubmissionTimeout(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	sub := &stubSubmitter{respond: func(ctx context.Context, _ string, _ protocol.TurnRequest) (*protocol.TurnResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	sess := newTestSession(t, devices, sub, func(cfg *Config) {
		cfg.SubmitTimeout = 80 * time.Millisecond
	})

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)
	if ev := nextSignal(t, sess); ev.Type != EventRecordingDone {
		t.Fatalf("event = %+v, want recording_done", ev)
	}
	expectState(t, sess, StateError)
	expectFailure(t, sess, FailureSubmissionTimeout)
	expectState(t, sess, StateIdle)
}

func TestPayloadTooLarge(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, func(cfg *Config) {
		cfg.MaxPayloadBytes = 64
	})

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)
	expectState(t, sess, StateError)
	expectFailure(t, sess, FailurePayloadTooLarge)
	expectState(t, sess, StateIdle)

	if sub.calls() != 0 {
		t.Fatalf("submissions = %d, want 0", sub.calls())
	}
}

func TestSilentRecordingIsHintedAndSubmitted(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: make([]byte, 3200), CaptureHold: true}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)

	done := nextSignal(t, sess)
	if done.Type != EventRecordingDone || !done.NoAudio {
		t.Fatalf("event = %+v, want recording_done with NoAudio", done)
	}
	if ev := nextSignal(t, sess); ev.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", ev)
	}
	expectState(t, sess, StateIdle)

	if sub.calls() != 1 {
		t.Fatalf("submissions = %d, want 1: silent recordings are still submitted", sub.calls())
	}
}

func TestPressTalkDuringPlaybackStopsIt(t *testing.T) {
	devices := &media.FakeDevices{
		CapturePCM:   loudPCM(100 * time.Millisecond),
		CaptureHold:  true,
		PlaybackHold: true,
	}
	tts := ttsPayload([]byte("fake-mp3-bytes"), "audio/mpeg")
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(tts), nil
	}}
	sess := newTestSession(t, devices, sub, nil)
	sess.ArmPlayback()

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	expectState(t, sess, StateProcessing)
	if ev := nextSignal(t, sess); ev.Type != EventRecordingDone {
		t.Fatalf("event = %+v, want recording_done", ev)
	}
	if ev := nextSignal(t, sess); ev.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", ev)
	}
	expectState(t, sess, StatePlaying)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)

	players := devices.Players()
	if len(players) != 1 || !players[0].Killed() {
		t.Fatalf("previous playback was not stopped before the new recording")
	}
}

func TestCloseDuringRecordingReleasesMicrophone(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(100 * time.Millisecond), CaptureHold: true}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)

	sess.Close()
	select {
	case <-sess.Done():
	default:
		t.Fatalf("Done() still open after Close()")
	}
	pollUntil(t, "the capture to close", func() bool { return devices.OpenCaptures() == 0 })
	if sub.calls() != 0 {
		t.Fatalf("submissions = %d, want 0 after Close during recording", sub.calls())
	}
}

func TestCloseDuringPlaybackReleasesPlayer(t *testing.T) {
	devices := &media.FakeDevices{
		CapturePCM:   loudPCM(100 * time.Millisecond),
		CaptureHold:  true,
		PlaybackHold: true,
	}
	tts := ttsPayload([]byte("fake-mp3-bytes"), "audio/mpeg")
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(tts), nil
	}}
	sess := newTestSession(t, devices, sub, nil)
	sess.ArmPlayback()

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()
	for {
		ev := nextSignal(t, sess)
		if ev.Type == EventState && ev.State == StatePlaying {
			break
		}
	}

	sess.Close()
	pollUntil(t, "the playback to stop", func() bool { return devices.ActivePlaybacks() == 0 })
	if got := devices.OpenCaptures(); got != 0 {
		t.Fatalf("open captures = %d, want 0", got)
	}
}

func TestTextTurn(t *testing.T) {
	devices := &media.FakeDevices{}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.SubmitText("hello there")
	expectState(t, sess, StateProcessing)
	result := nextSignal(t, sess)
	if result.Type != EventTurnResult {
		t.Fatalf("event = %+v, want turn_result", result)
	}
	if result.HasSpeech {
		t.Fatalf("turn_result reports speech for a text-only reply")
	}
	expectState(t, sess, StateIdle)

	if sub.calls() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.calls())
	}
	req := sub.req(0)
	if req.Message != "hello there" || req.AudioInput != nil {
		t.Fatalf("request = %+v, want text only", req)
	}
	sub.mu.Lock()
	conv := sub.convs[0]
	sub.mu.Unlock()
	if conv != "conv-1" {
		t.Fatalf("conversation id = %q, want %q", conv, "conv-1")
	}
}

func TestCaptureLevelsFlow(t *testing.T) {
	devices := &media.FakeDevices{CapturePCM: loudPCM(500 * time.Millisecond), CaptureHold: true}
	sub := &stubSubmitter{}
	sess := newTestSession(t, devices, sub, nil)

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Type == EventLevel && ev.Source == LevelCapture && ev.Level > 0.1 {
				return
			}
		case <-deadline:
			t.Fatalf("no capture level above 0.1 observed")
		}
	}
}

func TestPlaybackLevelsFlow(t *testing.T) {
	pcm := loudPCM(time.Second)
	wav, err := audio.EncodeWAVPCM16LE(pcm, media.CaptureSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	devices := &media.FakeDevices{
		CapturePCM:   loudPCM(100 * time.Millisecond),
		CaptureHold:  true,
		PlaybackHold: true,
	}
	sub := &stubSubmitter{respond: func(context.Context, string, protocol.TurnRequest) (*protocol.TurnResponse, error) {
		return speechReply(ttsPayload(wav, "audio/wav")), nil
	}}
	sess := newTestSession(t, devices, sub, nil)
	sess.ArmPlayback()

	sess.PressTalk()
	expectState(t, sess, StateRequesting)
	expectState(t, sess, StateRecording)
	sess.StopTalk()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Type == EventLevel && ev.Source == LevelPlayback && ev.Level > 0.1 {
				return
			}
		case <-deadline:
			t.Fatalf("no playback level above 0.1 observed")
		}
	}
}
