package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/speech"
)

const previewTimeout = 30 * time.Second

// handleSpeechPreview synthesizes one clip outside any conversation. The
// response body is the raw audio, not JSON.
func (s *Server) handleSpeechPreview(w http.ResponseWriter, r *http.Request) {
	var req protocol.SpeechPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}

	text := speech.SanitizeForSpeech(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, protocol.CodeBadRequest, "nothing speakable left after sanitization")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), previewTimeout)
	defer cancel()

	data, mimeType, err := s.synthesizer.Synthesize(ctx, text)
	if err == nil && len(data) == 0 {
		err = speech.ErrEmptyAudio
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, protocol.CodeSynthesisFailed, err.Error())
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
