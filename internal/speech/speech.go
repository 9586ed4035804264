package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aleksvoss/murmur/internal/reliability"
)

// Transcriber converts one audio clip into plain text. The format argument is
// a candidate container label (file extension, e.g. "wav"); the bytes are
// passed unchanged for every candidate.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer converts plain text into one audio clip, returning the payload
// and its declared MIME type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Voice is one selectable synthesis voice.
type Voice struct {
	ID   string
	Name string
}

// VoiceLister is implemented by synthesizers that can enumerate their voices.
type VoiceLister interface {
	Voices() []Voice
	DefaultVoice() string
}

// Formats is the ordered candidate list tried against the transcriber. The
// first label that the provider accepts wins; there is no backoff because a
// rejected container is not a transient condition.
var Formats = []string{"wav", "webm", "mp3", "m4a", "ogg"}

var (
	ErrNoCredential    = errors.New("speech: missing API credential")
	ErrEmptyAudio      = errors.New("speech: provider returned empty audio")
	ErrEmptyTranscript = errors.New("speech: provider returned empty transcript")
)

// CandidateAttempt records one failed transcription candidate.
type CandidateAttempt struct {
	Format string
	Err    error
}

// CandidateError aggregates the failures of an exhausted candidate chain.
type CandidateError struct {
	Attempts []CandidateAttempt
}

func (e *CandidateError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Format, a.Err))
	}
	return "speech: all transcription candidates failed: " + strings.Join(parts, "; ")
}

func (e *CandidateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// FailureClass maps a provider error to a coarse metrics label.
func FailureClass(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrNoCredential) {
		return "auth"
	}
	if errors.Is(err, ErrEmptyAudio) || errors.Is(err, ErrEmptyTranscript) {
		return "empty"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.StatusClass(apiErr.HTTPStatusCode)
	}
	return "other"
}
