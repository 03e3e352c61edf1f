package kernel

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

// handleUpdateSettings merges the update over the current config so partial
// payloads work: a masked or empty API key keeps the existing secret.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := s.settings.GetConfig()

	update := *current
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.settings.UpdateConfig(r.Context(), &update); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
