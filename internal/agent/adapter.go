package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one conversation entry exchanged with the reasoning backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Request carries the full ordered history plus run configuration.
type Request struct {
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
	MaxTokens int       `json:"maxTokens,omitempty"`
}

// Reply is the agent's output. Adapters return the full superset list; the
// shared prefix is sliced off by the caller.
type Reply struct {
	Messages []Message `json:"messages"`
}

// Adapter bridges the turn pipeline with the reasoning backend.
type Adapter interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Config controls adapter construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	HTTPURL       string
	Model         string
	MaxTokens     int
	SystemPrompt  string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("agent OpenAI API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	// An explicit endpoint is the most specific configuration, then a key.
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return NewOpenAIAdapter(cfg)
	}
	return NewMockAdapter()
}

// ResolveMode reports which backend NewAdapter picks for cfg. Used for
// startup logging only.
func ResolveMode(cfg Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode != "" && mode != "auto" {
		return mode
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return "http"
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return "openai"
	}
	return "mock"
}
