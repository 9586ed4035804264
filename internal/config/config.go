package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice turn service.
type Config struct {
	BindAddr                string
	ShutdownTimeout         time.Duration
	ConversationIdleTimeout time.Duration
	TurnTimeout             time.Duration
	MetricsNamespace        string

	AllowAnyOrigin bool

	MaxAudioBytes int
	HistoryLimit  int

	SpeechProvider  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	TranscribeModel string
	TTSModel        string
	TTSVoice        string

	AgentProvider     string
	AgentHTTPURL      string
	AgentModel        string
	AgentMaxTokens    int
	AgentSystemPrompt string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8036"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "murmur"),
		AllowAnyOrigin:   false,
		// OpenAI audio endpoints cap uploads at 25 MiB; mirror that here so
		// oversized clips are rejected before they reach a provider.
		MaxAudioBytes:  25 << 20,
		HistoryLimit:   200,
		SpeechProvider: envOrDefault("SPEECH_PROVIDER", "auto"),
		OpenAIAPIKey:   stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:  stringsTrimSpace("OPENAI_BASE_URL"),
		// Whisper for transcription, the standard-latency TTS tier for speech.
		TranscribeModel:         envOrDefault("TRANSCRIBE_MODEL", "whisper-1"),
		TTSModel:                envOrDefault("TTS_MODEL", "tts-1"),
		TTSVoice:                envOrDefault("TTS_VOICE", "alloy"),
		AgentProvider:           envOrDefault("AGENT_PROVIDER", "auto"),
		AgentHTTPURL:            stringsTrimSpace("AGENT_HTTP_URL"),
		AgentModel:              envOrDefault("AGENT_MODEL", "gpt-4o-mini"),
		AgentMaxTokens:          512,
		AgentSystemPrompt:       envOrDefault("AGENT_SYSTEM_PROMPT", "You are a concise voice assistant. Answer in a couple of spoken sentences."),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		ConversationIdleTimeout: 10 * time.Minute,
		TurnTimeout:             90 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationIdleTimeout, err = durationFromEnv("APP_CONVERSATION_IDLE_TIMEOUT", cfg.ConversationIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("APP_TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioBytes, err = intFromEnv("APP_MAX_AUDIO_BYTES", cfg.MaxAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("APP_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxTokens, err = intFromEnv("AGENT_MAX_TOKENS", cfg.AgentMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConversationIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CONVERSATION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.TurnTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_TURN_TIMEOUT must be at least 1s")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_AUDIO_BYTES must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_LIMIT must be positive")
	}
	if cfg.AgentMaxTokens <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
