package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aleksvoss/murmur/internal/reliability"
)

// OpenAIAdapter answers through the chat completions endpoint.
type OpenAIAdapter struct {
	client       *openai.Client
	model        string
	maxTokens    int
	systemPrompt string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	a := &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
	}
	if a.model == "" {
		a.model = openai.GPT4oMini
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 512
	}
	return a
}

func (a *OpenAIAdapter) Respond(ctx context.Context, req Request) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.systemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAI {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, errors.New("chat completion returned empty text")
	}

	out := append(append([]Message(nil), req.Messages...), Message{Role: RoleAI, Content: text})
	return Reply{Messages: out}, nil
}

// FailureClass maps an adapter error to a coarse metrics label.
func FailureClass(err error) string {
	if err == nil {
		return "none"
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
