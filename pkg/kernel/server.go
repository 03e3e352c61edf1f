package kernel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/routers"

	"github.com/sonika-ai/conductor/internal/config"
	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/services"
)

// Server exposes the bot and its supporting services over HTTP. All request
// bodies are validated against the embedded OpenAPI contract before any
// handler runs.
type Server struct {
	logger    *slog.Logger
	bot       *services.Bot
	eventBus  *services.EventBus
	settings  *config.SettingsStore
	convStore *services.ConversationStore
	tracer    *services.TraceCollector
	tools     *domain.ToolRegistry
	apiRouter routers.Router
}

// NewServer wires the HTTP surface.
func NewServer(
	logger *slog.Logger,
	bot *services.Bot,
	eventBus *services.EventBus,
	settings *config.SettingsStore,
	convStore *services.ConversationStore,
	tracer *services.TraceCollector,
	tools *domain.ToolRegistry,
) (*Server, error) {
	apiRouter, err := loadRouter()
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:    logger,
		bot:       bot,
		eventBus:  eventBus,
		settings:  settings,
		convStore: convStore,
		tracer:    tracer,
		tools:     tools,
		apiRouter: apiRouter,
	}, nil
}

// Handler returns the http.Handler for the server. SSE endpoints bypass the
// OpenAPI validation layer; everything else is validated first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// SSE streams are long-lived and have no body to validate.
		if r.Method == "GET" && r.URL.Path == "/v1/events" {
			s.handleBroadcastSSE(w, r)
			return
		}
		if r.Method == "GET" && isConversationEventsPath(r.URL.Path) {
			s.handleConversationSSE(w, r)
			return
		}

		if err := s.validateRequest(r); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// isConversationEventsPath checks if an URL path matches /v1/conversations/{id}/events
func isConversationEventsPath(path string) bool {
	const prefix = "/v1/conversations/"
	const suffix = "/events"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return false
	}
	middle := path[len(prefix) : len(path)-len(suffix)]
	return len(middle) > 0 && !strings.Contains(middle, "/")
}

// --- Chat ---

type chatRequestBody struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Logs           []string `json:"logs,omitempty"`
	Purpose        string   `json:"purpose,omitempty"`
	Personality    string   `json:"personality,omitempty"`
	Limitations    string   `json:"limitations,omitempty"`
	DynamicInfo    string   `json:"dynamic_info,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	result := s.bot.GetResponse(r.Context(), services.TurnRequest{
		ConversationID: domain.ConversationID(body.ConversationID),
		Message:        body.Message,
		Logs:           body.Logs,
		Purpose:        body.Purpose,
		Personality:    body.Personality,
		Limitations:    body.Limitations,
		DynamicInfo:    body.DynamicInfo,
	})

	s.respondJSON(w, http.StatusOK, result)
}

// --- Traces ---

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := bindLimit(r, 50)
	traces := s.tracer.ListTraces(limit)
	s.respondJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trace, err := s.tracer.GetTrace(domain.TraceID(id))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, trace)
}

// --- Tools ---

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Descriptors()})
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
