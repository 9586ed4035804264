package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aleksvoss/murmur/internal/audio"
)

// MockTranscriber is a local fallback transcriber used when OpenAI is not
// configured.
type MockTranscriber struct {
	Text string
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{Text: "simulated voice input"}
}

func (m *MockTranscriber) Transcribe(_ context.Context, audioBytes []byte, _ string) (string, error) {
	if len(audioBytes) == 0 {
		return "", errors.New("mock transcriber: empty audio")
	}
	return m.Text, nil
}

// MockSynthesizer emits a short WAV tone scaled to the text length, so the
// playback and visualization paths run end to end with no credentials.
type MockSynthesizer struct {
	Freq float64
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{Freq: 440}
}

func (m *MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", ErrEmptyAudio
	}
	d := 350*time.Millisecond + 90*time.Millisecond*time.Duration(len(strings.Fields(text)))
	if d > 2500*time.Millisecond {
		d = 2500 * time.Millisecond
	}
	pcm := audio.SinePCM16LE(m.Freq, d, audio.DefaultSampleRate, 0.4)
	wav, err := audio.EncodeWAVPCM16LE(pcm, audio.DefaultSampleRate)
	if err != nil {
		return nil, "", err
	}
	return wav, "audio/wav", nil
}

func (m *MockSynthesizer) Voices() []Voice {
	return []Voice{{ID: "tone", Name: fmt.Sprintf("Reference sine tone (%.0f Hz)", m.Freq)}}
}

func (m *MockSynthesizer) DefaultVoice() string { return "tone" }
