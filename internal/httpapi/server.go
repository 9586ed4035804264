package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aleksvoss/murmur/internal/config"
	"github.com/aleksvoss/murmur/internal/conversation"
	"github.com/aleksvoss/murmur/internal/observability"
	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/speech"
	"github.com/aleksvoss/murmur/internal/turn"
)

type Server struct {
	cfg           config.Config
	conversations *conversation.Manager
	store         conversation.Store
	graph         *turn.Graph
	synthesizer   speech.Synthesizer
	hub           *Hub
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, conversations *conversation.Manager, store conversation.Store, graph *turn.Graph, synthesizer speech.Synthesizer, hub *Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:           cfg,
		conversations: conversations,
		store:         store,
		graph:         graph,
		synthesizer:   synthesizer,
		hub:           hub,
		metrics:       metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot watch a user's turns if
				// murmur is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Delete("/v1/conversations/{id}", s.handleEndConversation)
	r.Post("/v1/conversations/{id}/turns", s.handleSubmitTurn)
	r.Get("/v1/conversations/{id}/events", s.handleEvents)
	r.Post("/v1/speech/preview", s.handleSpeechPreview)
	r.Get("/v1/speech/voices", s.handleListVoices)
	r.Get("/v1/perf/stages", s.handlePerfStages)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"storeMode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"storeMode":           s.storeMode(),
		"activeConversations": s.conversations.ActiveCount(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, _ *http.Request) {
	c := s.conversations.Create()
	s.metrics.ActiveConversations.Set(float64(s.conversations.ActiveCount()))

	respondJSON(w, http.StatusCreated, protocol.Conversation{
		ConversationID: c.ID,
		Status:         string(c.Status),
		TurnCount:      c.TurnCount,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		IdleTTLMs:      s.cfg.ConversationIdleTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.conversations.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
		return
	}

	history, err := s.store.History(r.Context(), id, s.cfg.HistoryLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "history load failed")
		return
	}

	respondJSON(w, http.StatusOK, protocol.Conversation{
		ConversationID: c.ID,
		Status:         string(c.Status),
		TurnCount:      c.TurnCount,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		IdleTTLMs:      s.cfg.ConversationIdleTimeout.Milliseconds(),
		Messages:       wireMessages(history),
	})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.conversations.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
		return
	}
	s.metrics.ActiveConversations.Set(float64(s.conversations.ActiveCount()))

	respondJSON(w, http.StatusOK, protocol.Conversation{
		ConversationID: c.ID,
		Status:         string(c.Status),
		TurnCount:      c.TurnCount,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

func wireMessages(records []conversation.MessageRecord) []protocol.Message {
	out := make([]protocol.Message, 0, len(records))
	for _, r := range records {
		out = append(out, protocol.Message{Role: protocol.Role(r.Role), Content: r.Content})
	}
	return out
}

type errorResponse struct {
	Error string             `json:"error"`
	Code  protocol.ErrorCode `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code protocol.ErrorCode, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
