package kernel

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.convStore.ListConversations(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Title == "" {
		body.Title = "New conversation"
	}

	conv, err := s.convStore.CreateConversation(r.Context(), body.Title)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(r.PathValue("id"))
	conv, err := s.convStore.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(r.PathValue("id"))
	if err := s.convStore.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(r.PathValue("id"))
	limit := bindLimit(r, 0)

	msgs, err := s.convStore.GetMessages(r.Context(), id, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// bindLimit extracts an optional ?limit= query parameter, falling back to
// def when absent or unparseable.
func bindLimit(r *http.Request, def int) int {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		return def
	}
	if limit <= 0 {
		return def
	}
	return limit
}
