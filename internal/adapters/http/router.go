package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/metrics"
)

const (
	serviceName       = "api"
	maxRequestBody    = 64 << 10
	backpressureWait  = 250 * time.Millisecond
	maxQuestionLength = 4000
)

type Router struct {
	cfg       config.Config
	answerer  ports.QuestionAnswerer
	readiness ports.IndexReadiness
	sessions  *SessionStore
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
}

// NewRouter builds the HTTP surface. httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	answerer ports.QuestionAnswerer,
	readiness ports.IndexReadiness,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		answerer:  answerer,
		readiness: readiness,
		sessions:  NewSessionStore(cfg.ChatHistoryTurns, cfg.ChatMaxSessions),
		metrics:   httpMetrics,
		logger:    slog.Default(),
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/ask", rt.ask)
	api.HandleFunc("/v1/chat", rt.chat)
	api.HandleFunc("/v1/chat/history", rt.chatHistory)

	var onReject rejectFunc
	if rt.metrics != nil {
		onReject = func(reason string) { rt.metrics.RecordRejected(serviceName, reason) }
	}
	var guarded http.Handler = api
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, backpressureWait, onReject)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/readyz", rt.readyz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	if rt.readiness != nil && !rt.readiness.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "indexes not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer        string          `json:"answer"`
	Outcome       domain.Outcome  `json:"outcome"`
	Intent        domain.Intent   `json:"intent"`
	SearchQueries []string        `json:"search_queries,omitempty"`
	Sources       []domain.Source `json:"sources,omitempty"`
}

func newAskResponse(result *domain.PipelineResult) askResponse {
	return askResponse{
		Answer:        result.Answer,
		Outcome:       result.Outcome,
		Intent:        result.Intent,
		SearchQueries: result.SearchQueries,
		Sources:       result.Sources,
	}
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	question, ok := validateQuestion(w, req.Question)
	if !ok {
		return
	}

	result, err := rt.answerer.Ask(r.Context(), question)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAskResponse(result))
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	askResponse
	SessionID string     `json:"session_id"`
	History   []ChatTurn `json:"history"`
}

// chat answers one message and records it in the session history. History
// is returned to the caller but never sent to the pipeline.
func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	question, ok := validateQuestion(w, req.Message)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := rt.answerer.Ask(r.Context(), question)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	history := rt.sessions.Append(sessionID, ChatTurn{
		Question: question,
		Answer:   result.Answer,
		Outcome:  result.Outcome,
		At:       time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, chatResponse{
		askResponse: newAskResponse(result),
		SessionID:   sessionID,
		History:     history,
	})
}

func (rt *Router) chatHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	history, ok := rt.sessions.History(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "history": history})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	if domain.IsKind(err, domain.ErrIndexNotLoaded) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(err)})
}

func validateQuestion(w http.ResponseWriter, raw string) (string, bool) {
	question := strings.TrimSpace(raw)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return "", false
	}
	if len([]rune(question)) > maxQuestionLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is too long"})
		return "", false
	}
	return question, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
