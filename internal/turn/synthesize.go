package turn

import (
	"context"

	"github.com/aleksvoss/murmur/internal/speech"
)

// synthesize operates only on the last message, and only when it is
// ai-authored with non-empty text after sanitization. Failure leaves
// TTSOutput absent; a text-only result is an acceptable terminal outcome.
func (g *Graph) synthesize(ctx context.Context, state State) (State, Status) {
	last, ok := state.LastMessage()
	if !ok || last.Role != RoleAI {
		g.observeIndicator("tts_skipped")
		return state, StatusSkipped
	}

	text := speech.SanitizeForSpeech(last.Content)
	if text == "" {
		g.observeIndicator("tts_skipped")
		return state, StatusSkipped
	}

	data, mimeType, err := g.synthesizer.Synthesize(ctx, text)
	if err == nil && len(data) == 0 {
		err = speech.ErrEmptyAudio
	}
	if err != nil {
		g.observeIndicator("tts_failed")
		if g.metrics != nil {
			g.metrics.ProviderFailures.WithLabelValues("tts", speech.FailureClass(err)).Inc()
		}
		return state, StatusDegraded
	}

	next := state.Clone()
	next.TTSOutput = &Audio{Data: data, MIMEType: mimeType, Size: len(data)}
	return next, StatusOK
}
