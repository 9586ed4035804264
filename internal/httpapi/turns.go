package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aleksvoss/murmur/internal/conversation"
	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/turn"
)

// persistTimeout bounds the history write after a turn. It deliberately does
// not inherit the request context: a client that disconnects mid-turn must
// not lose the history the turn produced.
const persistTimeout = 10 * time.Second

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Base64 inflates audio by one third; double the ceiling bounds the raw
	// body without rejecting a clip that itself fits.
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxAudioBytes)*2)

	var req protocol.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, protocol.CodePayloadTooLarge, "request body exceeds the audio payload ceiling")
			return
		}
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, protocol.CodeEmptyBody, "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if req.AudioInput != nil {
		if req.AudioInput.Size > s.cfg.MaxAudioBytes {
			respondError(w, http.StatusRequestEntityTooLarge, protocol.CodePayloadTooLarge,
				fmt.Sprintf("audio payload of %d bytes exceeds the %d byte limit", req.AudioInput.Size, s.cfg.MaxAudioBytes))
			return
		}
		s.metrics.AudioPayloadBytes.Observe(float64(req.AudioInput.Size))
	}

	turnID, err := s.conversations.BeginTurn(id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		respondError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
		return
	case errors.Is(err, conversation.ErrBusy):
		respondError(w, http.StatusConflict, protocol.CodeConversationBusy, "a turn is already in flight for this conversation")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, err.Error())
		return
	}
	defer s.conversations.CompleteTurn(id, turnID)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	history, err := s.store.History(ctx, id, s.cfg.HistoryLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "history load failed")
		return
	}

	state := turn.State{Messages: historyMessages(history)}
	if req.Message != "" {
		state.Messages = append(state.Messages, turn.Message{Role: turn.RoleHuman, Content: req.Message})
	}
	if req.AudioInput != nil {
		state.AudioInput = &turn.Audio{
			Data:     req.AudioInput.AudioData,
			MIMEType: req.AudioInput.MIMEType,
			Size:     req.AudioInput.Size,
		}
	}

	start := time.Now()
	out := s.graph.Run(ctx, state, newTurnReporter(s.hub, id, turnID))

	// Everything past the stored history is this turn's contribution,
	// including the submitted text or transcript.
	added := out.Messages[min(len(history), len(out.Messages)):]
	if err := s.persistTurn(id, added); err != nil {
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "history persist failed")
		return
	}

	resp := protocol.TurnResponse{
		TurnID:     turnID,
		Messages:   turnMessagesToWire(added),
		DurationMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if out.TTSOutput != nil {
		resp.TTSOutput = &protocol.AudioPayload{
			AudioData: out.TTSOutput.Data,
			MIMEType:  out.TTSOutput.MIMEType,
			Size:      out.TTSOutput.Size,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) persistTurn(conversationID string, added []turn.Message) error {
	if len(added) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	records := make([]conversation.MessageRecord, 0, len(added))
	for _, m := range added {
		records = append(records, conversation.MessageRecord{Role: string(m.Role), Content: m.Content})
	}
	return s.store.Append(ctx, conversationID, records)
}

func historyMessages(records []conversation.MessageRecord) []turn.Message {
	out := make([]turn.Message, 0, len(records))
	for _, r := range records {
		role := turn.RoleAI
		if r.Role == string(turn.RoleHuman) {
			role = turn.RoleHuman
		}
		out = append(out, turn.Message{Role: role, Content: r.Content})
	}
	return out
}

func turnMessagesToWire(msgs []turn.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.Message{Role: protocol.Role(m.Role), Content: m.Content})
	}
	return out
}
