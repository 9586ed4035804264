package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig carries the environment-provided provider settings.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	TTSModel        string
	Voice           string
}

// OpenAI implements Transcriber and Synthesizer against the OpenAI audio
// endpoints. The credential is checked per call, not at construction, so a
// missing key degrades the owning stage instead of failing startup.
type OpenAI struct {
	client          *openai.Client
	apiKey          string
	transcribeModel string
	ttsModel        string
	voice           string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	p := &OpenAI{
		client:          openai.NewClientWithConfig(clientCfg),
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		ttsModel:        cfg.TTSModel,
		voice:           cfg.Voice,
	}
	if p.transcribeModel == "" {
		p.transcribeModel = openai.Whisper1
	}
	if p.ttsModel == "" {
		p.ttsModel = string(openai.TTSModel1)
	}
	if p.voice == "" {
		p.voice = string(openai.VoiceAlloy)
	}
	return p
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if o.apiKey == "" {
		return "", ErrNoCredential
	}
	if format == "" {
		format = "wav"
	}
	// The upload filename is the only place the candidate label travels; the
	// audio bytes are identical across candidates.
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.transcribeModel,
		FilePath: "clip." + format,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe as %s: %w", format, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if o.apiKey == "" {
		return nil, "", ErrNoCredential
	}
	res, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create speech: %w", err)
	}
	defer res.Close()

	data, err := io.ReadAll(res)
	if err != nil {
		return nil, "", fmt.Errorf("read speech payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyAudio
	}
	return data, "audio/mpeg", nil
}

// Voices lists the voices the OpenAI speech endpoint accepts. The catalog is
// fixed by the provider, not discoverable, so it is declared here.
func (o *OpenAI) Voices() []Voice {
	return []Voice{
		{ID: string(openai.VoiceAlloy), Name: "Alloy (neutral, balanced)"},
		{ID: string(openai.VoiceEcho), Name: "Echo (male, calm)"},
		{ID: string(openai.VoiceFable), Name: "Fable (expressive, British)"},
		{ID: string(openai.VoiceOnyx), Name: "Onyx (male, deep)"},
		{ID: string(openai.VoiceNova), Name: "Nova (female, energetic)"},
		{ID: string(openai.VoiceShimmer), Name: "Shimmer (female, soft)"},
	}
}

func (o *OpenAI) DefaultVoice() string { return o.voice }
