package app

import (
	"fmt"
	"strings"

	"github.com/aleksvoss/murmur/internal/config"
	"github.com/aleksvoss/murmur/internal/speech"
)

type speechSetup struct {
	transcriber      speech.Transcriber
	synthesizer      speech.Synthesizer
	resolvedProvider string
	detail           string
}

func resolveSpeechProviders(cfg config.Config) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func() (speechSetup, bool) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return speechSetup{}, false
		}
		p := speech.NewOpenAI(speech.OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			TranscribeModel: cfg.TranscribeModel,
			TTSModel:        cfg.TTSModel,
			Voice:           cfg.TTSVoice,
		})
		return speechSetup{
			transcriber:      p,
			synthesizer:      p,
			resolvedProvider: "openai",
			detail:           fmt.Sprintf("openai (%s + %s/%s)", cfg.TranscribeModel, cfg.TTSModel, cfg.TTSVoice),
		}, true
	}

	mockSetup := func(detail string) speechSetup {
		return speechSetup{
			transcriber:      speech.NewMockTranscriber(),
			synthesizer:      speech.NewMockSynthesizer(),
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch mode {
	case "openai":
		if setup, ok := tryOpenAI(); ok {
			return setup, nil
		}
		return speechSetup{}, fmt.Errorf("SPEECH_PROVIDER=openai but OPENAI_API_KEY is not set")
	case "mock":
		return mockSetup("mock"), nil
	case "auto":
		if setup, ok := tryOpenAI(); ok {
			return setup, nil
		}
		return mockSetup("mock (no openai key)"), nil
	default:
		return speechSetup{}, fmt.Errorf("invalid SPEECH_PROVIDER: %q (expected auto|openai|mock)", cfg.SpeechProvider)
	}
}
