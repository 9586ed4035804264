package httpapi

import (
	"net/http"

	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/speech"
)

// handleListVoices reports the synthesis voices of whatever provider is
// actually wired in, so clients can show a picker without knowing the
// server's configuration.
func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	catalog := protocol.VoiceCatalog{
		Provider: s.providerName(),
		Voices:   []protocol.VoiceInfo{},
	}
	if lister, ok := s.synthesizer.(speech.VoiceLister); ok {
		catalog.DefaultVoice = lister.DefaultVoice()
		for _, v := range lister.Voices() {
			catalog.Voices = append(catalog.Voices, protocol.VoiceInfo{Voice: v.ID, Name: v.Name})
		}
	}
	respondJSON(w, http.StatusOK, catalog)
}

func (s *Server) providerName() string {
	switch s.synthesizer.(type) {
	case *speech.MockSynthesizer:
		return "mock"
	case *speech.OpenAI:
		return "openai"
	default:
		return "custom"
	}
}
