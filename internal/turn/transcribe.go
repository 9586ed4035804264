package turn

import (
	"context"
	"strings"

	"github.com/aleksvoss/murmur/internal/speech"
)

// transcribe consumes AudioInput. Absent input passes through untouched
// (text-only turns); any failure is absorbed as a human-authored apology so
// the agent and synthesize stages still run.
func (g *Graph) transcribe(ctx context.Context, state State) (State, Status) {
	if state.AudioInput == nil {
		return state, StatusSkipped
	}

	in := state.AudioInput
	next := state.Clone()
	next.AudioInput = nil

	if len(in.Data) < minAudioBytes {
		g.observeIndicator("audio_malformed")
		next.Messages = append(next.Messages, Message{Role: RoleHuman, Content: transcriptionApology})
		return next, StatusDegraded
	}

	transcript, err := g.transcribeCandidates(ctx, in.Data)
	if err != nil {
		g.observeIndicator("apology_transcription")
		if g.metrics != nil {
			g.metrics.ProviderFailures.WithLabelValues("stt", speech.FailureClass(err)).Inc()
		}
		next.Messages = append(next.Messages, Message{Role: RoleHuman, Content: transcriptionApology})
		return next, StatusDegraded
	}

	next.Messages = append(next.Messages, Message{Role: RoleHuman, Content: transcript})
	return next, StatusOK
}

// transcribeCandidates walks the ordered format list with the same bytes; the
// first accepted label wins. There is no backoff: a rejected container is not
// a transient condition. A provider success with empty text ends the chain,
// because the container was accepted and other labels cannot do better.
func (g *Graph) transcribeCandidates(ctx context.Context, data []byte) (string, error) {
	cand := &speech.CandidateError{}
	for _, format := range g.formats {
		text, err := g.transcriber.Transcribe(ctx, data, format)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				g.observeAttempt(format, "ok")
				return text, nil
			}
			g.observeAttempt(format, "empty")
			cand.Attempts = append(cand.Attempts, speech.CandidateAttempt{Format: format, Err: speech.ErrEmptyTranscript})
			break
		}

		g.observeAttempt(format, "error")
		cand.Attempts = append(cand.Attempts, speech.CandidateAttempt{Format: format, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return "", cand
}

func (g *Graph) observeAttempt(format, result string) {
	if g.metrics != nil {
		g.metrics.TranscriptionAttempts.WithLabelValues(format, result).Inc()
	}
}

func (g *Graph) observeIndicator(name string) {
	if g.metrics != nil {
		g.metrics.ObserveIndicator(name)
	}
}
