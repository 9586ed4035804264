package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aleksvoss/murmur/internal/agent"
	"github.com/aleksvoss/murmur/internal/config"
	"github.com/aleksvoss/murmur/internal/conversation"
	"github.com/aleksvoss/murmur/internal/httpapi"
	"github.com/aleksvoss/murmur/internal/observability"
	"github.com/aleksvoss/murmur/internal/speech"
	"github.com/aleksvoss/murmur/internal/turn"
)

type SpeechInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Conversations *conversation.Manager
	Store         conversation.Store
	Graph         *turn.Graph
	Hub           *httpapi.Hub
	Metrics       *observability.Metrics
	Speech        SpeechInfo
	AgentMode     string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := conversation.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	agentCfg := agent.Config{
		Mode:          cfg.AgentProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		HTTPURL:       cfg.AgentHTTPURL,
		Model:         cfg.AgentModel,
		MaxTokens:     cfg.AgentMaxTokens,
		SystemPrompt:  cfg.AgentSystemPrompt,
	}
	adapter, err := agent.NewAdapter(agentCfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("agent adapter init failed: %w", err)
	}

	speechSetup, err := resolveSpeechProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// Ensure API handlers report the backend that is actually active.
	cfg.SpeechProvider = speechSetup.resolvedProvider

	conversations := conversation.NewManager(cfg.ConversationIdleTimeout)
	hub := httpapi.NewHub()
	conversations.SetRemoveHook(func(c conversation.Conversation) {
		hub.CloseConversation(c.ID)
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Clear(clearCtx, c.ID)
		metrics.ActiveConversations.Set(float64(conversations.ActiveCount()))
	})

	graph := turn.NewGraph(turn.Config{
		Transcriber: speechSetup.transcriber,
		Agent:       adapter,
		Synthesizer: speechSetup.synthesizer,
		Metrics:     metrics,
		Formats:     speech.Formats,
	})

	api := httpapi.New(cfg, conversations, store, graph, speechSetup.synthesizer, hub, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Conversations: conversations,
		Store:         store,
		Graph:         graph,
		Hub:           hub,
		Metrics:       metrics,
		Speech: SpeechInfo{
			Provider: speechSetup.resolvedProvider,
			Detail:   speechSetup.detail,
		},
		AgentMode: agent.ResolveMode(agentCfg),
		Cleanup:   cleanup,
	}, nil
}
